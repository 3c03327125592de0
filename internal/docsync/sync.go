package docsync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"phaseline/internal/config"
	"phaseline/internal/domain"
)

// Phase document names under a project's specs directory.
const (
	DocRequirements = "requirements.md"
	DocDesign       = "design.md"
	DocTasks        = "tasks.md"
	DocProject      = "project.md"
	DocOverview     = "overview.md"
)

// PhaseDocs maps each phase to its specification document. The execute phase
// works from tasks.md; it has no document of its own.
var PhaseDocs = map[string]string{
	domain.PhaseRequirements: DocRequirements,
	domain.PhaseDesign:       DocDesign,
	domain.PhaseTasks:        DocTasks,
}

// Syncer mirrors entity-store state into a human-readable document tree.
// The store stays authoritative; every method here is best effort and the
// whole mirror can be switched off, turning each method into a no-op.
type Syncer struct {
	Enabled      bool
	SpecsRoot    string
	TrackingRoot string
	LegacyRoots  []string
	Now          func() time.Time
}

func New(cfg *config.Config) *Syncer {
	s := &Syncer{Now: time.Now}
	if cfg == nil {
		return s
	}
	s.Enabled = cfg.Docs.Enabled
	s.SpecsRoot = cfg.Docs.SpecsRoot
	s.TrackingRoot = cfg.Docs.TrackingRoot
	s.LegacyRoots = cfg.Docs.LegacyRoots
	return s
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Slug derives the directory name for a project from its human-chosen name.
func Slug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// resolver is one strategy for locating an existing document. Strategies are
// tried in a fixed order; the first hit wins and the document is overwritten
// in place there, so a document started by a human in a legacy location is
// never silently duplicated under the primary root.
type resolver struct {
	name    string
	resolve func(slug, doc string) string
}

func (s *Syncer) resolvers() []resolver {
	rs := []resolver{
		{name: "primary", resolve: func(slug, doc string) string {
			return filepath.Join(s.SpecsRoot, slug, doc)
		}},
	}
	for _, root := range s.LegacyRoots {
		root := root
		rs = append(rs, resolver{name: "legacy:" + root, resolve: func(slug, doc string) string {
			return filepath.Join(root, slug, doc)
		}})
	}
	// Old flat layout: specs/<slug>-<doc> with no per-project directory.
	rs = append(rs, resolver{name: "flat", resolve: func(slug, doc string) string {
		return filepath.Join(s.SpecsRoot, slug+"-"+doc)
	}})
	return rs
}

// Resolve returns the path an existing spec document lives at, or false when
// no candidate location has it.
func (s *Syncer) Resolve(projectName, doc string) (string, bool) {
	slug := Slug(projectName)
	for _, r := range s.resolvers() {
		path := r.resolve(slug, doc)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// WriteSpecDoc writes a spec document, overwriting it wherever it already
// exists; only when no candidate location has the document is it created
// under the primary root.
func (s *Syncer) WriteSpecDoc(projectName, doc, content string) (string, error) {
	if !s.Enabled {
		return "", nil
	}
	path, found := s.Resolve(projectName, doc)
	if !found {
		path = filepath.Join(s.SpecsRoot, Slug(projectName), doc)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// trackingDir is process-owned output; it is never searched through the
// legacy resolvers.
func (s *Syncer) trackingDir(projectName string, parts ...string) string {
	elems := append([]string{s.TrackingRoot, Slug(projectName)}, parts...)
	return filepath.Join(elems...)
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func phaseTitle(phase string) string {
	if phase == "" {
		return ""
	}
	return strings.ToUpper(phase[:1]) + phase[1:]
}

func handoffDocName(phase, next string) string {
	return fmt.Sprintf("%s-to-%s.md", phase, next)
}
