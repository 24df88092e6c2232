// Package chunker splits document text into retrieval-sized pieces.
package chunker

import "strings"

// Piece is one chunk of the input with its byte offsets into the
// original text. End is exclusive.
type Piece struct {
	Text  string
	Start int
	End   int
}

// Split breaks text into pieces of at most targetSize bytes, preferring
// paragraph boundaries. Consecutive pieces share an overlap: the
// trailing words of the previous piece, up to overlap bytes, are
// prepended to the next. Offsets always refer to the core text, not
// the prepended overlap.
//
// The returned bool reports whether any single word exceeded targetSize
// and had to be cut mid-word.
//
// Split is deterministic: identical input bytes produce identical
// pieces.
func Split(text string, targetSize, overlap int) ([]Piece, bool) {
	if targetSize <= 0 {
		targetSize = 800
	}
	if overlap < 0 || overlap >= targetSize {
		overlap = 0
	}

	paras := paragraphSpans(text)
	if len(paras) == 0 {
		return nil, false
	}

	var (
		pieces   []Piece
		oversize bool
	)

	// Greedy paragraph accumulation. A paragraph longer than targetSize
	// is flushed and hard-split on word boundaries.
	var cur []span
	curLen := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		start := cur[0].start
		end := cur[len(cur)-1].end
		var b strings.Builder
		for i, s := range cur {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(text[s.start:s.end])
		}
		pieces = append(pieces, Piece{Text: b.String(), Start: start, End: end})
		cur = nil
		curLen = 0
	}

	for _, p := range paras {
		plen := p.end - p.start
		if plen > targetSize {
			flush()
			sub, cut := splitWords(text, p, targetSize)
			oversize = oversize || cut
			pieces = append(pieces, sub...)
			continue
		}
		// +2 for the paragraph separator when joining.
		if curLen > 0 && curLen+2+plen > targetSize {
			flush()
		}
		cur = append(cur, p)
		if curLen > 0 {
			curLen += 2
		}
		curLen += plen
	}
	flush()

	if overlap > 0 {
		applyOverlap(pieces, overlap)
	}
	return pieces, oversize
}

type span struct {
	start, end int
}

// paragraphSpans returns the offsets of non-blank paragraphs, where a
// paragraph break is one or more blank lines.
func paragraphSpans(text string) []span {
	var spans []span
	pos := 0
	for pos < len(text) {
		idx := strings.Index(text[pos:], "\n\n")
		var end int
		if idx < 0 {
			end = len(text)
		} else {
			end = pos + idx
		}
		s, e := trimSpan(text, pos, end)
		if e > s {
			spans = append(spans, span{start: s, end: e})
		}
		if idx < 0 {
			break
		}
		pos = end + 2
	}
	return spans
}

// trimSpan narrows [start, end) past leading and trailing whitespace.
func trimSpan(text string, start, end int) (int, int) {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	return start, end
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// splitWords hard-splits an oversize paragraph on word boundaries.
// A single word longer than targetSize is cut mid-word; the second
// return reports whether that happened.
func splitWords(text string, p span, targetSize int) ([]Piece, bool) {
	var (
		pieces []Piece
		cut    bool
	)

	start := p.start
	for start < p.end {
		for start < p.end && isSpace(text[start]) {
			start++
		}
		if start >= p.end {
			break
		}

		end := start + targetSize
		if end >= p.end {
			end = p.end
		} else {
			// Back up to the last word boundary inside the window.
			ws := end
			for ws > start && !isSpace(text[ws]) {
				ws--
			}
			if ws == start {
				cut = true // single word longer than the target
			} else {
				end = ws
			}
		}

		s, e := trimSpan(text, start, end)
		if e > s {
			pieces = append(pieces, Piece{Text: text[s:e], Start: s, End: e})
		}
		start = end
	}
	return pieces, cut
}

// applyOverlap prepends a word-aligned tail of each piece to its
// successor, spending at most overlap bytes.
func applyOverlap(pieces []Piece, overlap int) {
	for i := 1; i < len(pieces); i++ {
		tail := wordTail(pieces[i-1].Text, overlap)
		if tail == "" {
			continue
		}
		pieces[i].Text = tail + " " + pieces[i].Text
	}
}

// wordTail returns the longest whole-word suffix of s no longer than
// budget bytes.
func wordTail(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	cutAt := len(s) - budget
	if isSpace(s[cutAt-1]) {
		return strings.TrimSpace(s[cutAt:])
	}
	idx := strings.IndexAny(s[cutAt:], " \t\n")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(s[cutAt+idx:])
}
