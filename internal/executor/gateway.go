// Package executor defines the gateway through which the engine invokes
// opaque backend workers, and a subprocess adapter that runs them as
// external commands with a wall-clock timeout.
package executor

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Status is the outcome of one backend invocation.
type Status string

const (
	// StatusSuccess means the backend ran the unit content to completion.
	StatusSuccess Status = "success"
	// StatusFailure means the backend reported failure or exited nonzero.
	StatusFailure Status = "failure"
	// StatusTimeout means the invocation exceeded its wall-clock budget.
	StatusTimeout Status = "timeout"
)

// Request describes one dispatch-unit invocation.
type Request struct {
	// UnitID identifies the dispatch unit, usually its root task id.
	UnitID string
	// BackendKind selects which configured backend runs the content.
	BackendKind string
	// Workdir is the directory the backend runs in.
	Workdir string
	// Content is the bundled task content, in listed order for units
	// with children.
	Content string
	// DependencyContext carries outputs and findings from completed
	// dependencies and prior review cycles.
	DependencyContext string
	// ChildCount is the number of bundled sub-tasks, zero for a
	// standalone task. Lets the gateway report partial completion.
	ChildCount int
}

// Result is what a backend reports back.
type Result struct {
	Status Status
	// Output is the backend's textual output, also used for marker
	// extraction.
	Output string
	// FilesChanged lists paths the backend claims to have touched.
	FilesChanged []string
	// CompletedChildren is how many leading bundled sub-tasks finished
	// before a failure. On success it equals the bundle size.
	CompletedChildren int
}

// Gateway is the single abstraction behind which all backend kinds live.
// Implementations must honor context cancellation and never panic on
// backend misbehavior.
type Gateway interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// -----------------------------------------------------------------------------
// Output markers
// -----------------------------------------------------------------------------

var (
	filesChangedPattern      = regexp.MustCompile(`(?s)<files_changed>\s*(.*?)\s*</files_changed>`)
	completedChildrenPattern = regexp.MustCompile(`<completed_children>\s*(\d+)\s*</completed_children>`)
	haltPattern              = regexp.MustCompile(`<halt>`)
)

// ParseFilesChanged extracts the file change list from backend output.
// The backend emits one path per line inside a <files_changed> block.
func ParseFilesChanged(output string) []string {
	m := filesChangedPattern.FindStringSubmatch(output)
	if m == nil {
		return nil
	}
	var files []string
	for _, line := range strings.Split(m[1], "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files
}

// ParseCompletedChildren extracts how many bundled sub-tasks the backend
// reports as finished. Returns -1 when the marker is absent.
func ParseCompletedChildren(output string) int {
	m := completedChildrenPattern.FindStringSubmatch(output)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// HasHaltMarker reports whether the backend embedded an explicit halt
// signal in its output. The orchestration loop stops on it.
func HasHaltMarker(output string) bool {
	return haltPattern.MatchString(output)
}
