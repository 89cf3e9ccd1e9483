// Package deps prepares a dialog folder's installed dependencies before
// its first compile: it writes the gbdialog.toml manifest and runs the
// configured installer when the modules directory is missing.
package deps

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

const (
	// ManifestFile is the manifest written into every dialog folder.
	ManifestFile = "gbdialog.toml"
	// ModulesDir is the installed-dependency directory. Its absence
	// triggers installation.
	ModulesDir = "node_modules"
)

// Manifest describes a dialog folder's package.
type Manifest struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
	Author      string `toml:"author"`
	License     string `toml:"license"`
	// Engine is a version constraint on the gbvm release that may run
	// the folder's scripts.
	Engine       string            `toml:"engine,omitempty"`
	Dependencies map[string]string `toml:"dependencies"`
}

// DefaultManifest returns the manifest written for botID when the folder
// has none.
func DefaultManifest(botID string) Manifest {
	return Manifest{
		Name:         botID + ".gbdialog",
		Version:      "1.0.0",
		Description:  botID + " transpiled .gbdialog",
		Author:       botID + " owner.",
		License:      "ISC",
		Dependencies: map[string]string{},
	}
}

// Validate checks the manifest version, the dependency constraints and,
// when engineVersion is a release version, the engine constraint.
func (m Manifest) Validate(engineVersion string) error {
	if m.Name == "" {
		return errors.NewInvalidRequestError("manifest name is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return errors.Wrapf(err, "manifest version %q", m.Version)
	}

	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := semver.NewConstraint(m.Dependencies[name]); err != nil {
			return errors.Wrapf(err, "dependency %s constraint %q", name, m.Dependencies[name])
		}
	}

	if m.Engine == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(m.Engine)
	if err != nil {
		return errors.Wrapf(err, "engine constraint %q", m.Engine)
	}
	running, err := semver.NewVersion(engineVersion)
	if err != nil {
		// development builds carry no release version
		return nil
	}
	if !constraint.Check(running) {
		return errors.Newf("%s requires gbvm %s, but running %s", m.Name, m.Engine, engineVersion)
	}
	return nil
}

// ReadManifest reads folder's manifest.
func ReadManifest(folder string) (Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(filepath.Join(folder, ManifestFile), &m); err != nil {
		return Manifest{}, errors.Wrapf(err, "read %s", ManifestFile)
	}
	return m, nil
}

// WriteManifest writes m into folder.
func WriteManifest(folder string, m Manifest) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return errors.Wrapf(err, "encode %s", ManifestFile)
	}
	if err := os.WriteFile(filepath.Join(folder, ManifestFile), buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", ManifestFile)
	}
	return nil
}

// Installer prepares a dialog folder's dependencies.
type Installer struct {
	// Command is run in the folder when ModulesDir is missing, for
	// example "npm install --no-audit". Empty only creates the directory.
	Command string
	// EngineVersion is checked against the manifest engine constraint.
	EngineVersion string

	log *zap.SugaredLogger
}

// NewInstaller creates an installer.
func NewInstaller(command, engineVersion string, log *zap.SugaredLogger) *Installer {
	return &Installer{
		Command:       command,
		EngineVersion: engineVersion,
		log:           logger.OrNop(log).Named("deps"),
	}
}

// Ensure makes folder ready for botID's scripts. It reports whether an
// installation ran. An existing manifest is kept as the user left it.
func (i *Installer) Ensure(ctx context.Context, folder, botID string) (bool, error) {
	if _, err := os.Stat(filepath.Join(folder, ModulesDir)); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "stat %s", ModulesDir)
	}

	m, err := ReadManifest(folder)
	if err != nil {
		if !os.IsNotExist(errors.UnwrapAll(err)) {
			return false, err
		}
		m = DefaultManifest(botID)
		if err := WriteManifest(folder, m); err != nil {
			return false, err
		}
	}
	if err := m.Validate(i.EngineVersion); err != nil {
		return false, errors.WithHintf(err, "fix %s in %s", ManifestFile, folder)
	}

	i.log.Infow("Installing dialog dependencies",
		logger.FieldBot, botID,
		logger.FieldFolder, folder,
		"dependencies", len(m.Dependencies),
	)

	if i.Command == "" {
		if err := os.MkdirAll(filepath.Join(folder, ModulesDir), 0o755); err != nil {
			return false, errors.Wrapf(err, "create %s", ModulesDir)
		}
		return true, nil
	}

	args, err := shellquote.Split(i.Command)
	if err != nil {
		return false, errors.Wrapf(err, "parse installer command %q", i.Command)
	}
	if len(args) == 0 {
		return false, errors.NewInvalidRequestError("installer command is empty")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = folder
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, errors.WithDetail(errors.Wrapf(err, "run %s", args[0]), string(out))
	}

	i.log.Debugw("Installer finished", logger.FieldFolder, folder, "output_bytes", len(out))
	return true, nil
}
