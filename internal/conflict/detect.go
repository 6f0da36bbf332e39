// Package conflict detects and reconciles near-simultaneous edits to a
// room's shared buffer: line-level detection, change classification, a
// three-way auto-merge, and the per-record resolution workflow.
package conflict

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/protocol"
)

// ChangeType summarizes what kind of divergence a conflict represents.
// Used for display, not for merge correctness.
type ChangeType string

const (
	ChangeAddition     ChangeType = "addition"
	ChangeDeletion     ChangeType = "deletion"
	ChangeModification ChangeType = "modification"
	ChangeComplex      ChangeType = "complex"
	ChangeIdentical    ChangeType = "identical"
)

// Significance thresholds: a conflict crossing any of these is flagged
// urgent for the UI.
const (
	significantAdded    = 2
	significantRemoved  = 2
	significantModified = 3
	significantCharDiff = 50
)

// State of a Record.
type State string

const (
	StatePending  State = "pending"
	StateResolved State = "resolved"
)

// Resolution kinds the main changer may pick.
const (
	ResolutionForce     = "force"
	ResolutionShare     = "share"
	ResolutionAIResolve = "ai_resolve"
)

// Record is one detected conflict between two participants' edits to
// the same baseline.
type Record struct {
	ID     string
	RoomID string

	// Participant A is the last editor whose change already holds the
	// buffer; participant B is the main changer whose later-arriving
	// edit triggered detection.
	UserA, NameA string
	UserB, NameB string
	CodeA, CodeB string
	Baseline     string

	Lines       []protocol.ConflictLine
	ChangeType  ChangeType
	Significant bool

	State      State
	Resolution string
	DetectedAt time.Time
}

// MainChanger is the participant whose edit is treated as authoritative
// pending resolution.
func (r *Record) MainChanger() string { return r.UserB }

// Summary renders the record as a human-readable chat line for the
// "share" resolution.
func (r *Record) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conflict between %s and %s (%s, %d lines):", r.NameA, r.NameB, r.ChangeType, len(r.Lines))
	for _, l := range r.Lines {
		fmt.Fprintf(&b, "\nline %d: %q vs %q", l.LineNumber, l.VersionA, l.VersionB)
	}
	return b.String()
}

// Detect compares two divergent edits against their shared baseline.
// A line conflicts iff both sides changed it away from the baseline and
// disagree with each other. Returns nil when nothing conflicts.
func Detect(original, codeA, codeB, userA, userB string) *Record {
	origLines := strings.Split(original, "\n")
	aLines := strings.Split(codeA, "\n")
	bLines := strings.Split(codeB, "\n")

	max := len(origLines)
	if len(aLines) > max {
		max = len(aLines)
	}
	if len(bLines) > max {
		max = len(bLines)
	}

	var lines []protocol.ConflictLine
	for i := 0; i < max; i++ {
		o := lineAt(origLines, i)
		a := lineAt(aLines, i)
		b := lineAt(bLines, i)
		if a != o && b != o && a != b {
			lines = append(lines, protocol.ConflictLine{
				LineNumber: i + 1,
				Original:   o,
				VersionA:   a,
				VersionB:   b,
			})
		}
	}
	if lines == nil {
		return nil
	}

	changeType, significant := classify(original, codeA, codeB)
	return &Record{
		ID:          uuid.NewString(),
		UserA:       userA,
		UserB:       userB,
		CodeA:       codeA,
		CodeB:       codeB,
		Baseline:    original,
		Lines:       lines,
		ChangeType:  changeType,
		Significant: significant,
		State:       StatePending,
		DetectedAt:  time.Now(),
	}
}

// classify counts per-index added/removed/modified lines for the two
// candidate versions against the baseline and derives a coarse change
// type plus the urgency flag.
func classify(original, codeA, codeB string) (ChangeType, bool) {
	origLines := strings.Split(original, "\n")
	aLines := strings.Split(codeA, "\n")
	bLines := strings.Split(codeB, "\n")

	max := len(origLines)
	if len(aLines) > max {
		max = len(aLines)
	}
	if len(bLines) > max {
		max = len(bLines)
	}

	var added, removed, modified int
	for i := 0; i < max; i++ {
		o := lineAt(origLines, i)
		a := lineAt(aLines, i)
		b := lineAt(bLines, i)
		switch {
		case o == "" && (a != "" || b != ""):
			added++
		case o != "" && a == "" && b == "":
			removed++
		case a != o || b != o:
			modified++
		}
	}

	var changeType ChangeType
	switch {
	case added == 0 && removed == 0 && modified == 0:
		changeType = ChangeIdentical
	case removed == 0 && modified == 0:
		changeType = ChangeAddition
	case added == 0 && modified == 0:
		changeType = ChangeDeletion
	case added == 0 && removed == 0:
		changeType = ChangeModification
	default:
		changeType = ChangeComplex
	}

	charDiff := len(codeA) - len(codeB)
	if charDiff < 0 {
		charDiff = -charDiff
	}
	significant := added > significantAdded ||
		removed > significantRemoved ||
		modified > significantModified ||
		charDiff > significantCharDiff

	return changeType, significant
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}
