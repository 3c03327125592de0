package docsync

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"phaseline/internal/domain"
)

// phaseGuidance is the fixed instructional text written into a handoff
// document for the actor picking up the next phase.
var phaseGuidance = map[string]string{
	domain.PhaseDesign: "Read requirements.md before drafting design.md. Every requirement reference " +
		"in the deliverables below should map to a design section.",
	domain.PhaseTasks: "Break design.md into tasks with explicit dependencies. Tag each task with the " +
		"phase it serves and keep requirement references attached.",
	domain.PhaseExecute: "Work tasks in dependency order. Report progress per task so the tracking " +
		"log stays current, and checkpoint before any long interruption.",
	domain.PhaseComplete: "All phases are closed. Review the handoff history for a full narrative of " +
		"the delivery.",
}

var docTemplates = map[string]string{
	DocRequirements: `# Requirements

## User Stories

As a [user type], I want [capability], so that [benefit].

## Acceptance Criteria

WHEN [trigger] THEN [observable outcome].
`,
	DocDesign: `# Design

## Architecture

[Describe the architecture and the main components.]

## Decisions

[List the decisions taken and the alternatives rejected.]
`,
	DocTasks: `# Tasks

[List the implementation tasks with dependencies.]
`,
}

// InitProject lays down the project's document skeleton: a metadata
// document plus placeholder phase documents in the specs mirror, and the
// overview in the tracking tree. Existing documents are left untouched.
func (s *Syncer) InitProject(p domain.Project) error {
	if !s.Enabled {
		return nil
	}
	meta := fmt.Sprintf("# %s\n\n%s\n\n- Status: %s\n- Phase: %s\n- Created: %s\n",
		p.Name, p.Description, p.Status, p.CurrentPhase, p.CreatedAt)
	if _, err := s.WriteSpecDoc(p.Name, DocProject, meta); err != nil {
		return err
	}
	for _, doc := range []string{DocRequirements, DocDesign, DocTasks} {
		if _, found := s.Resolve(p.Name, doc); found {
			continue
		}
		if _, err := s.WriteSpecDoc(p.Name, doc, docTemplates[doc]); err != nil {
			return err
		}
	}
	overviewPath := s.trackingDir(p.Name, DocOverview)
	if _, err := os.Stat(overviewPath); err == nil {
		return nil
	}
	return writeFile(overviewPath, s.renderOverview(p))
}

func (s *Syncer) renderOverview(p domain.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s — Overview\n\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", p.Description)
	}
	fmt.Fprintf(&b, "Current phase: %s\n\n## Phases\n\n", p.CurrentPhase)
	for _, phase := range domain.PhaseOrder {
		mark := " "
		if phaseIndex(phase) < phaseIndex(p.CurrentPhase) || p.Status == domain.ProjectCompleted {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, phaseTitle(phase))
	}
	return b.String()
}

func phaseIndex(phase string) int {
	for i, p := range domain.PhaseOrder {
		if p == phase {
			return i
		}
	}
	return len(domain.PhaseOrder)
}

// UpdateOverview ticks the completed phase off the checklist and moves the
// current-phase marker, both via targeted substitution; the rest of the
// overview (including human edits) is preserved. A missing overview is
// regenerated from the project snapshot instead.
func (s *Syncer) UpdateOverview(p domain.Project, completedPhase, nextPhase string) error {
	if !s.Enabled {
		return nil
	}
	path := s.trackingDir(p.Name, DocOverview)
	content, err := readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// p is the pre-handoff snapshot; fold the transition in
			// before rendering.
			if nextPhase == domain.PhaseComplete {
				p.Status = domain.ProjectCompleted
			}
			p.CurrentPhase = currentPhaseAfter(p, nextPhase)
			return writeFile(path, s.renderOverview(p))
		}
		return err
	}
	content = strings.Replace(content,
		fmt.Sprintf("- [ ] %s", phaseTitle(completedPhase)),
		fmt.Sprintf("- [x] %s", phaseTitle(completedPhase)), 1)
	marker := "Current phase: "
	if idx := strings.Index(content, marker); idx >= 0 {
		end := strings.IndexByte(content[idx:], '\n')
		if end < 0 {
			end = len(content) - idx
		}
		replacement := marker + nextPhase
		if nextPhase == domain.PhaseComplete {
			replacement = marker + "complete"
		}
		content = content[:idx] + replacement + content[idx+end:]
	}
	return writeFile(path, content)
}

func currentPhaseAfter(p domain.Project, nextPhase string) string {
	if nextPhase == domain.PhaseComplete {
		return p.CurrentPhase
	}
	return nextPhase
}

// WriteHandoff produces the fixed-name handoff artifact for a completed
// phase: deliverables, free-text notes and guidance for the next phase.
func (s *Syncer) WriteHandoff(p domain.Project, phase, nextPhase string, deliverables domain.ContextMap, notes string) error {
	if !s.Enabled {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Handoff: %s → %s\n\n", phaseTitle(phase), phaseTitle(nextPhase))
	fmt.Fprintf(&b, "Project: %s\nDate: %s\n\n", p.Name, s.now().UTC().Format(time.RFC3339))
	b.WriteString("## Deliverables\n\n")
	if len(deliverables) == 0 {
		b.WriteString("None recorded.\n")
	} else {
		out, err := yaml.Marshal(map[string]any(deliverables))
		if err != nil {
			return fmt.Errorf("render deliverables: %w", err)
		}
		b.WriteString("```yaml\n")
		b.Write(out)
		b.WriteString("```\n")
	}
	b.WriteString("\n## Notes\n\n")
	if notes == "" {
		b.WriteString("None.\n")
	} else {
		b.WriteString(notes + "\n")
	}
	if guidance, ok := phaseGuidance[nextPhase]; ok {
		fmt.Fprintf(&b, "\n## Next: %s\n\n%s\n", phaseTitle(nextPhase), guidance)
	}
	path := s.trackingDir(p.Name, "handoffs", handoffDocName(phase, nextPhase))
	return writeFile(path, b.String())
}

// AppendTaskProgress appends a progress entry to the task's tracking log.
func (s *Syncer) AppendTaskProgress(p domain.Project, t domain.Task, fromStatus, note string) error {
	if !s.Enabled {
		return nil
	}
	path := s.trackingDir(p.Name, "tasks", t.ID+".md")
	var b strings.Builder
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(&b, "# %s\n\nPhase: %s\n\n", t.Title, t.Phase)
	}
	fmt.Fprintf(&b, "- %s: %s → %s", s.now().UTC().Format(time.RFC3339), fromStatus, t.Status)
	if note != "" {
		fmt.Fprintf(&b, " — %s", note)
	}
	b.WriteString("\n")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// History concatenates the overview, each existing phase document and every
// handoff document into one ordered narrative.
func (s *Syncer) History(p domain.Project) (string, error) {
	if !s.Enabled {
		return "", nil
	}
	var parts []string
	if content, err := readFile(s.trackingDir(p.Name, DocOverview)); err == nil {
		parts = append(parts, content)
	}
	for _, phase := range domain.PhaseOrder {
		doc, ok := PhaseDocs[phase]
		if !ok {
			continue
		}
		if path, found := s.Resolve(p.Name, doc); found {
			if content, err := readFile(path); err == nil {
				parts = append(parts, content)
			}
		}
	}
	handoffDir := s.trackingDir(p.Name, "handoffs")
	entries, err := os.ReadDir(handoffDir)
	if err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
				names = append(names, e.Name())
			}
		}
		sort.Slice(names, func(i, j int) bool {
			return handoffOrder(names[i]) < handoffOrder(names[j])
		})
		for _, name := range names {
			if content, err := readFile(filepath.Join(handoffDir, name)); err == nil {
				parts = append(parts, content)
			}
		}
	}
	return strings.Join(parts, "\n---\n\n"), nil
}

func handoffOrder(name string) int {
	for i, phase := range domain.PhaseOrder {
		if strings.HasPrefix(name, phase+"-to-") {
			return i
		}
	}
	return len(domain.PhaseOrder)
}

// Reconcile re-mirrors the overview and metadata document from the store
// snapshot. It exists because the mirror is not transactional with the
// store: a crash between a commit and its document write leaves the two out
// of sync until this runs.
func (s *Syncer) Reconcile(p domain.Project) error {
	if !s.Enabled {
		return nil
	}
	meta := fmt.Sprintf("# %s\n\n%s\n\n- Status: %s\n- Phase: %s\n- Created: %s\n",
		p.Name, p.Description, p.Status, p.CurrentPhase, p.CreatedAt)
	if _, err := s.WriteSpecDoc(p.Name, DocProject, meta); err != nil {
		return err
	}
	return writeFile(s.trackingDir(p.Name, DocOverview), s.renderOverview(p))
}
