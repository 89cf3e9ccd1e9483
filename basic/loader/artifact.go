package loader

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dop251/goja"
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"

	"github.com/teranos/gbvm/basic/transpile"
)

// Artifact file suffixes, appended to the editable .vbs copy's path.
const (
	IntermediateSuffix = ".compiled"
	LineMapSuffix      = ".map"
	AssembledSuffix    = ".js"
)

// Freshness grace windows.
const (
	// DefaultWindow tolerates timestamp noise between a .vbs copy and its artifacts.
	DefaultWindow = 30 * time.Second
	// DocumentWindow tolerates timestamp noise between an authored document and its .vbs copy.
	DocumentWindow = 3 * time.Second
)

// Document is an authored source discovered in a package folder.
type Document struct {
	Name    string // main script name
	Path    string
	ModTime time.Time
}

// Artifact is a compiled script ready for execution.
type Artifact struct {
	Name         string
	SourcePath   string // the .vbs the artifact was compiled from
	Intermediate string
	Code         string // assembled script
	LineMap      transpile.LineMap
	CompiledAt   time.Time
	Fingerprint  string
	Program      *goja.Program
}

// SourceLine maps a line of the assembled script back to the authored line.
func (a *Artifact) SourceLine(assembled int) (int, bool) {
	return a.LineMap.Source(assembled)
}

// IsStale reports whether an artifact written at artifact must be rebuilt
// from a source modified at source.
func IsStale(source, artifact time.Time, window time.Duration) bool {
	return source.Sub(artifact) > window
}

// MainName derives the script name from a file name: whitespace and dashes
// are dropped, everything from the first dot is cut, and the rest lowercased.
func MainName(filename string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, filename)
	name, _, _ = strings.Cut(name, ".")
	return strings.ToLower(name)
}

// Fingerprint identifies assembled script text.
func Fingerprint(code string) string {
	sum := blake3.Sum256([]byte(code))
	return base58.Encode(sum[:])
}

// Cache maps script names to artifacts. It is shared by the loader, which
// writes it, and every dispatcher reading it.
type Cache struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{artifacts: make(map[string]*Artifact)}
}

// Get returns the artifact for name
func (c *Cache) Get(name string) (*Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.artifacts[cacheKey(name)]
	return a, ok
}

// Put stores a under its name, replacing any previous artifact
func (c *Cache) Put(a *Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[cacheKey(a.Name)] = a
}

// Delete drops the artifact for name
func (c *Cache) Delete(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.artifacts, cacheKey(name))
}

// Names returns the cached script names in order
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.artifacts))
	for name := range c.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Artifact implements the dispatcher's lookup.
func (c *Cache) Artifact(name string) (*Artifact, bool) {
	return c.Get(name)
}

func cacheKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
