package diff

import (
	"log"
	"strings"
)

// Apply patches original content with a unified diff and returns the
// result.
//
// This is a direct interpreter of unified-diff hunks: original lines are
// copied up to each hunk's old-side start, `-` lines advance past
// originals, `+` lines emit new text, and context lines copy one original
// each. It is intentionally permissive on context mismatches — the live
// document is re-read per apply, so drifted hunks log and continue rather
// than abort.
func Apply(original, unified string) string {
	originalLines := splitLines(original)
	var out []string
	i := 0 // current line in original

	for _, line := range strings.Split(unified, "\n") {
		if h, ok := parseHunkHeader(line); ok {
			target := h.OldStart - 1
			if h.OldCount == 0 {
				// A zero-length old range sits after line OldStart, so
				// the copy runs through it.
				target = h.OldStart
			}
			if target > len(originalLines) {
				log.Printf("diff: hunk start %d beyond end of file (%d lines)", h.OldStart, len(originalLines))
				target = len(originalLines)
			}
			for i < target {
				out = append(out, originalLines[i])
				i++
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			// File headers, not content.
		case strings.HasPrefix(line, "+"):
			out = append(out, line[1:]+"\n")
		case strings.HasPrefix(line, "-"):
			if i < len(originalLines) {
				i++
			} else {
				log.Printf("diff: removal past end of file, ignoring")
			}
		case strings.HasPrefix(line, " "):
			if i < len(originalLines) {
				out = append(out, originalLines[i])
				i++
			} else {
				log.Printf("diff: context past end of file, ignoring")
			}
		}
	}

	// Trailing originals after the last hunk.
	for i < len(originalLines) {
		out = append(out, originalLines[i])
		i++
	}

	return strings.Join(out, "")
}
