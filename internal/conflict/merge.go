package conflict

import (
	"fmt"
	"strings"
)

const (
	markerA   = "<<<<<<<"
	markerSep = "======="
	markerB   = ">>>>>>>"
)

// Merge computes a three-way, line-granular merge of two edits over a
// shared baseline. Lines only one side touched are taken verbatim;
// lines both sides changed differently become a conflict-marked block
// naming each author.
func Merge(original, codeA, codeB, userA, userB string) string {
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

	out := make([]string, 0, max)
	for i := 0; i < max; i++ {
		o := lineAt(origLines, i)
		a := lineAt(aLines, i)
		b := lineAt(bLines, i)

		switch {
		case a == b:
			out = append(out, a)
		case a == o:
			out = append(out, b)
		case b == o:
			out = append(out, a)
		default:
			out = append(out,
				fmt.Sprintf("%s %s", markerA, userA),
				a,
				markerSep,
				b,
				fmt.Sprintf("%s %s", markerB, userB),
			)
		}
	}
	return strings.Join(out, "\n")
}

// HasConflictMarkers reports whether code still contains any of the
// three marker tokens, i.e. an unresolved merge.
func HasConflictMarkers(code string) bool {
	return strings.Contains(code, markerA) ||
		strings.Contains(code, markerSep) ||
		strings.Contains(code, markerB)
}
