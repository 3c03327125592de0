package docsync

import (
	"fmt"
	"strings"
)

// placeholderMarkers are fragments that only appear in unfilled templates.
var placeholderMarkers = []string{
	"[TODO",
	"[TBD",
	"[Describe",
	"[List ",
	"[Add ",
	"As a [user",
	"WHEN [",
	"THEN [",
	"[acceptance criteria",
	"[user story",
	"_to be written_",
}

// minContentLength is the smallest non-heading character count a document
// can have and still count as real content.
const minContentLength = 80

// CheckCompleteness decides whether a document still looks like an unfilled
// template. Two independent signals: any known placeholder marker present,
// or total content length excluding heading lines below the minimum. Either
// one marks the document incomplete, with the reason spelled out.
func CheckCompleteness(content string) (bool, string) {
	for _, marker := range placeholderMarkers {
		if idx := strings.Index(content, marker); idx >= 0 {
			line := 1 + strings.Count(content[:idx], "\n")
			return false, fmt.Sprintf("placeholder %q still present (line %d)", marker, line)
		}
	}
	var bodyLen int
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		bodyLen += len(trimmed)
	}
	if bodyLen < minContentLength {
		return false, fmt.Sprintf("only %d characters of content outside headings (minimum %d)", bodyLen, minContentLength)
	}
	return true, ""
}

// CheckDocument reads a project's spec document and evaluates its
// completeness; a missing document is incomplete by definition.
func (s *Syncer) CheckDocument(projectName, doc string) (bool, string, error) {
	path, found := s.Resolve(projectName, doc)
	if !found {
		return false, fmt.Sprintf("document %s does not exist", doc), nil
	}
	content, err := readFile(path)
	if err != nil {
		return false, "", err
	}
	complete, reason := CheckCompleteness(content)
	return complete, reason, nil
}
