package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"github.com/atelier-labs/corpusd/internal/domain"
)

// readPDFPages opens a PDF and feeds extracted page text to fn, one
// page at a time so large documents never sit in memory whole. Pages
// that yield no text are skipped. fn receives 1-based page numbers.
func readPDFPages(path string, fn func(page int, text string) error) error {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrUnreadableFile, path, err)
	}

	for page := 1; page <= ctx.PageCount; page++ {
		r, err := pdfcpu.ExtractPageContent(ctx, page)
		if err != nil {
			return fmt.Errorf("%w: %s page %d: %v", domain.ErrUnreadableFile, path, page, err)
		}
		if r == nil {
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("%w: %s page %d: %v", domain.ErrUnreadableFile, path, page, err)
		}
		text := decodeContentText(raw)
		if strings.TrimSpace(text) == "" {
			continue
		}
		if err := fn(page, text); err != nil {
			return err
		}
	}
	return nil
}

// decodeContentText pulls the text-showing operands (Tj, TJ, ', ")
// out of a decoded PDF content stream. Glyph bytes are interpreted as
// Latin-1, which covers simply-encoded fonts; composite CID fonts are
// out of scope for a local corpus tool.
func decodeContentText(stream []byte) string {
	var (
		out     strings.Builder
		pending []string
		i       = 0
	)

	flushText := func() {
		for _, s := range pending {
			out.WriteString(s)
		}
		pending = pending[:0]
	}

	newline := func() {
		if out.Len() > 0 && !strings.HasSuffix(out.String(), "\n") {
			out.WriteByte('\n')
		}
	}

	for i < len(stream) {
		c := stream[i]
		switch {
		case c == '%':
			for i < len(stream) && stream[i] != '\n' {
				i++
			}
		case c == '(':
			s, next := parseLiteralString(stream, i)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < len(stream) && stream[i+1] == '<':
			i += 2
		case c == '<':
			s, next := parseHexString(stream, i)
			pending = append(pending, s)
			i = next
		case isPDFDelimiter(c) || isPDFWhitespace(c):
			i++
		default:
			start := i
			for i < len(stream) && !isPDFDelimiter(stream[i]) && !isPDFWhitespace(stream[i]) {
				i++
			}
			switch op := string(stream[start:i]); op {
			case "Tj", "TJ":
				flushText()
			case "'", "\"":
				newline()
				flushText()
			case "Td", "TD", "T*", "ET":
				pending = pending[:0]
				newline()
			case "BT":
				pending = pending[:0]
			default:
				// Strings seen before a non-text operator were
				// operands of something else.
				if len(op) > 0 && (op[0] < '0' || op[0] > '9') && op[0] != '-' && op[0] != '.' {
					pending = pending[:0]
				}
			}
		}
	}
	flushText()
	return out.String()
}

// parseLiteralString reads a ( ... ) string starting at open. Returns
// the decoded text and the index past the closing paren.
func parseLiteralString(b []byte, open int) (string, int) {
	var sb strings.Builder
	depth := 1
	i := open + 1
	for i < len(b) && depth > 0 {
		c := b[i]
		switch c {
		case '\\':
			if i+1 >= len(b) {
				i++
				continue
			}
			i++
			switch e := b[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
				// ignore
			case '(', ')', '\\':
				sb.WriteByte(e)
			case '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					code := int(e - '0')
					for n := 0; n < 2 && i+1 < len(b) && b[i+1] >= '0' && b[i+1] <= '7'; n++ {
						i++
						code = code*8 + int(b[i]-'0')
					}
					sb.WriteRune(rune(code & 0xFF))
				} else {
					sb.WriteByte(e)
				}
			}
			i++
		case '(':
			depth++
			sb.WriteByte(c)
			i++
		case ')':
			depth--
			if depth > 0 {
				sb.WriteByte(c)
			}
			i++
		default:
			sb.WriteRune(rune(c)) // Latin-1 byte to rune
			i++
		}
	}
	return sb.String(), i
}

// parseHexString reads a < ... > hex string starting at open.
func parseHexString(b []byte, open int) (string, int) {
	var digits []byte
	i := open + 1
	for i < len(b) && b[i] != '>' {
		c := b[i]
		if isHexDigit(c) {
			digits = append(digits, c)
		}
		i++
	}
	if i < len(b) {
		i++ // consume '>'
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	var sb strings.Builder
	for j := 0; j+1 < len(digits); j += 2 {
		sb.WriteRune(rune(hexVal(digits[j])<<4 | hexVal(digits[j+1])))
	}
	return sb.String(), i
}

func isPDFWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/':
		return true
	}
	return false
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return int(c-'A') + 10
	}
}
