package docsync

import (
	"strings"
	"testing"
)

func TestCheckCompletenessPlaceholderMarker(t *testing.T) {
	content := `# Requirements

## User Stories

As a [user type], I want [capability], so that [benefit].
`
	complete, reason := CheckCompleteness(content)
	if complete {
		t.Fatal("template with placeholders marked complete")
	}
	if !strings.Contains(reason, "placeholder") || !strings.Contains(reason, "line 5") {
		t.Fatalf("unexpected reason: %q", reason)
	}
}

func TestCheckCompletenessShortContent(t *testing.T) {
	content := `# Design

## Architecture

Small.
`
	complete, reason := CheckCompleteness(content)
	if complete {
		t.Fatal("near-empty document marked complete")
	}
	if !strings.Contains(reason, "characters of content") {
		t.Fatalf("unexpected reason: %q", reason)
	}
}

func TestCheckCompletenessHeadingsDoNotCount(t *testing.T) {
	content := strings.Repeat("# A very long heading line that should not count as content\n", 10)
	if complete, _ := CheckCompleteness(content); complete {
		t.Fatal("headings alone counted as content")
	}
}

func TestCheckCompletenessRealContent(t *testing.T) {
	content := `# Requirements

## User Stories

As a release manager, I want phase handoffs to snapshot completed work,
so that an interrupted delivery can resume exactly where it stopped.

## Acceptance Criteria

WHEN the execute phase is handed off THEN the project is marked completed.
`
	complete, reason := CheckCompleteness(content)
	if !complete {
		t.Fatalf("real document marked incomplete: %q", reason)
	}
}

func TestCheckDocumentMissingFile(t *testing.T) {
	s := newTestSyncer(t)
	complete, reason, err := s.CheckDocument("My Demo Project", DocRequirements)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if complete {
		t.Fatal("missing document marked complete")
	}
	if !strings.Contains(reason, "does not exist") {
		t.Fatalf("unexpected reason: %q", reason)
	}
}

func TestTemplatesFailCompleteness(t *testing.T) {
	// Freshly initialized documents must read as incomplete until filled in.
	s := newTestSyncer(t)
	p := testProject()
	if err := s.InitProject(p); err != nil {
		t.Fatal(err)
	}
	for _, doc := range []string{DocRequirements, DocDesign, DocTasks} {
		complete, _, err := s.CheckDocument(p.Name, doc)
		if err != nil {
			t.Fatalf("check %s: %v", doc, err)
		}
		if complete {
			t.Fatalf("template %s marked complete", doc)
		}
	}
}
