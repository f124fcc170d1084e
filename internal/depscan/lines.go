package depscan

import (
	"fmt"
	"strings"
)

type logicalLine struct {
	number int
	indent int
	text   string
}

// logicalLines joins physical lines the way the Python tokenizer does: inside
// brackets and after a trailing backslash. String literal bodies and comments are
// dropped, so an import written inside a docstring is never reported.
func logicalLines(src string) ([]logicalLine, error) {
	src = strings.ReplaceAll(src, "\r\n", "\n")

	var (
		lines   []logicalLine
		buf     strings.Builder
		depth   int
		lineNo  = 1
		start   = 1
		indent  = 0
		atStart = true
	)

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text != "" {
			lines = append(lines, logicalLine{number: start, indent: indent, text: text})
		}
		buf.Reset()
		atStart = true
	}

	for i := 0; i < len(src); i++ {
		c := src[i]

		if atStart {
			j := i
			for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\f') {
				j++
			}
			indent = j - i
			start = lineNo
			atStart = false
			i = j
			if i >= len(src) {
				break
			}
			c = src[i]
		}

		switch {
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			i--
		case c == '\\':
			if i+1 < len(src) && src[i+1] == '\n' {
				i++
				lineNo++
				buf.WriteByte(' ')
				continue
			}
			buf.WriteByte(c)
		case c == '\'' || c == '"':
			end, newlines, err := skipString(src, i)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			lineNo += newlines
			buf.WriteString(`""`)
			i = end
		case c == '(' || c == '[' || c == '{':
			depth++
			buf.WriteByte(c)
		case c == ')' || c == ']' || c == '}':
			if depth == 0 {
				return nil, fmt.Errorf("line %d: unmatched %q: %w", lineNo, c, ErrSyntax)
			}
			depth--
			buf.WriteByte(c)
		case c == '\n':
			lineNo++
			if depth > 0 {
				buf.WriteByte(' ')
				continue
			}
			flush()
		default:
			buf.WriteByte(c)
		}
	}

	if depth > 0 {
		return nil, fmt.Errorf("unclosed bracket at end of file: %w", ErrSyntax)
	}
	flush()
	return lines, nil
}

// skipString returns the index of the closing quote of the literal that opens at
// src[i], and how many newlines it spans.
func skipString(src string, i int) (int, int, error) {
	quote := src[i]
	triple := i+2 < len(src) && src[i+1] == quote && src[i+2] == quote
	newlines := 0

	j := i + 1
	if triple {
		j = i + 3
	}
	for j < len(src) {
		switch c := src[j]; {
		case c == '\\':
			if j+1 < len(src) && src[j+1] == '\n' {
				newlines++
			}
			j += 2
			continue
		case c == '\n':
			if !triple {
				return 0, 0, fmt.Errorf("unterminated string: %w", ErrSyntax)
			}
			newlines++
		case c == quote:
			if !triple {
				return j, newlines, nil
			}
			if j+2 < len(src) && src[j+1] == quote && src[j+2] == quote {
				return j + 2, newlines, nil
			}
		}
		j++
	}
	return 0, 0, fmt.Errorf("unterminated string: %w", ErrSyntax)
}
