package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LineRange is a span of lines in one file, 1-indexed inclusive.
//
// Ranges come from unified-diff hunk headers: for a hunk
// `@@ -a,b +c,d @@` the new-file side [c, c+d) is the overlap key. A
// pure deletion (d=0) registers as the zero-width range (c, c), which
// overlaps any range containing line c.
type LineRange struct {
	Path  string `json:"path"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Overlaps reports whether two ranges intersect on the same file.
func (r LineRange) Overlaps(other LineRange) bool {
	if r.Path != other.Path {
		return false
	}
	return !(r.End < other.Start || r.Start > other.End)
}

// Equal reports whether two ranges cover exactly the same span.
func (r LineRange) Equal(other LineRange) bool {
	return r.Path == other.Path && r.Start == other.Start && r.End == other.End
}

// String renders the range as name:start-end.
func (r LineRange) String() string {
	return fmt.Sprintf("%s:%d-%d", baseName(r.Path), r.Start, r.End)
}

// hunkHeaderRe matches unified-diff hunk headers. Counts default to 1
// when omitted, per the format.
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Hunk describes one parsed hunk header.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
}

// ParseHunks extracts the hunk headers from a unified diff.
func ParseHunks(unified string) []Hunk {
	var hunks []Hunk
	for _, line := range strings.Split(unified, "\n") {
		h, ok := parseHunkHeader(line)
		if ok {
			hunks = append(hunks, h)
		}
	}
	return hunks
}

func parseHunkHeader(line string) (Hunk, bool) {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return Hunk{}, false
	}
	h := Hunk{
		OldStart: atoiDefault(m[1], 0),
		OldCount: atoiDefault(m[2], 1),
		NewStart: atoiDefault(m[3], 0),
		NewCount: atoiDefault(m[4], 1),
	}
	return h, true
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Range returns the hunk's new-file span as a LineRange for the given
// path. Insertions and edits cover [NewStart, NewStart+NewCount-1]; a
// pure deletion collapses to the zero-width range at NewStart.
func (h Hunk) Range(path string) LineRange {
	end := h.NewStart + h.NewCount - 1
	if h.NewCount == 0 {
		end = h.NewStart
	}
	return LineRange{Path: path, Start: h.NewStart, End: end}
}

// Ranges extracts the overlap-key line ranges from a FileDiff. Hunks with
// zero added lines still register a range at the hunk's location, because
// insertion and deletion points can still conflict.
func (f *FileDiff) Ranges() []LineRange {
	hunks := ParseHunks(f.UnifiedDiff)
	ranges := make([]LineRange, 0, len(hunks))
	for _, h := range hunks {
		ranges = append(ranges, h.Range(f.Path))
	}
	return ranges
}

// FormatRanges renders ranges as "file.md:10-20, file.md:30-35".
func FormatRanges(ranges []LineRange) string {
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}
