package types

import (
	"fmt"
	"regexp"
	"strings"
)

// ProjectRootID is the sentinel ID of the synthetic project root. It is
// accepted only as an exact match; it must never appear as an infix or
// suffix of any other task ID.
const ProjectRootID = "__PROJECT_ROOT__"

// TempIDPrefix marks identifiers minted by tracking overlays before
// persistence. The store rejects permanent IDs carrying this prefix.
const TempIDPrefix = "temp-"

// Canonical task IDs: a root task is one uppercase segment ("ABCD");
// a subtask appends "-" and another segment ("ABCD-EFGH-IJKL").
var taskIDPattern = regexp.MustCompile(`^[A-Z]+(-[A-Z]+)*$`)

// uuidPattern matches the 8-4-4-4-12 hex format used for context slices.
var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// IsValidTaskID reports whether id is the project root sentinel or a
// canonical task ID.
func IsValidTaskID(id string) bool {
	if id == ProjectRootID {
		return true
	}
	return taskIDPattern.MatchString(id)
}

// IsTempID reports whether id was minted by a tracking overlay.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// IsValidSliceID reports whether id is an 8-4-4-4-12 hex identifier.
func IsValidSliceID(id string) bool {
	return uuidPattern.MatchString(id)
}

// ValidateTaskID rejects IDs that are neither canonical nor the sentinel,
// and IDs that embed the sentinel anywhere but as the whole string.
func ValidateTaskID(id string) error {
	if id == ProjectRootID {
		return nil
	}
	if strings.Contains(id, ProjectRootID) {
		return fmt.Errorf("id %q embeds the project root sentinel", id)
	}
	if IsTempID(id) {
		return fmt.Errorf("id %q has the temporary-id prefix %q", id, TempIDPrefix)
	}
	if !taskIDPattern.MatchString(id) {
		return fmt.Errorf("id %q is not a canonical task id (want %s)", id, taskIDPattern.String())
	}
	return nil
}

// ParentIDOf derives the parent ID encoded in a hierarchical task ID.
// Returns ProjectRootID for single-segment IDs, and ok=false for the
// sentinel itself.
func ParentIDOf(id string) (parent string, ok bool) {
	if id == ProjectRootID {
		return "", false
	}
	idx := strings.LastIndexByte(id, '-')
	if idx < 0 {
		return ProjectRootID, true
	}
	return id[:idx], true
}

// IDDepth returns the number of segments in a canonical ID: 0 for the
// project root, 1 for top-level tasks, and so on.
func IDDepth(id string) int {
	if id == ProjectRootID {
		return 0
	}
	return strings.Count(id, "-") + 1
}
