package loader

import (
	"sort"
	"strings"

	"github.com/teranos/gbvm/errors"
)

// Report summarises one LoadPackage run.
type Report struct {
	Folder string
	// Compiled lists scripts rebuilt from source.
	Compiled []string
	// Reused lists scripts whose persisted artifacts were fresh.
	Reused []string
	// Failed holds per-script load failures. Siblings still load.
	Failed map[string]error
	// Warnings holds dropped schedule directives.
	Warnings map[string]error
	// Provisioned is set when the dependency manifest was installed.
	Provisioned bool
}

func newReport(folder string) *Report {
	return &Report{
		Folder:   folder,
		Failed:   make(map[string]error),
		Warnings: make(map[string]error),
	}
}

// Loaded returns every script with an artifact after the run
func (r *Report) Loaded() []string {
	names := append(append([]string{}, r.Compiled...), r.Reused...)
	sort.Strings(names)
	return names
}

// Err combines the per-script failures, or returns nil when every script loaded
func (r *Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	sort.Strings(names)

	err := errors.Newf("%d script(s) failed to load: %s", len(names), strings.Join(names, ", "))
	for _, name := range names {
		err = errors.WithDetailf(err, "%s: %v", name, r.Failed[name])
	}
	return err
}

func (r *Report) fail(name string, err error) {
	if r != nil {
		r.Failed[name] = err
	}
}

func (r *Report) warn(name string, err error) {
	if r != nil {
		r.Warnings[name] = err
	}
}
