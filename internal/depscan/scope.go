package depscan

import "strings"

var compoundKeywords = []string{
	"if", "elif", "else", "try", "except", "finally", "with", "for", "while",
	"async with", "async for",
}

type scope struct {
	indent int
	local  bool
}

// scopeStack follows indentation to tell module scope apart from def and class
// bodies.
type scopeStack []scope

// enter closes every block the line dedents out of and reports whether the line
// sits inside a def or class body. A def or class header counts as local.
func (s *scopeStack) enter(line logicalLine) bool {
	for n := len(*s); n > 0 && (*s)[n-1].indent >= line.indent; n = len(*s) {
		*s = (*s)[:n-1]
	}
	local := len(*s) > 0 && (*s)[len(*s)-1].local
	if isDefinition(line.text) {
		*s = append(*s, scope{indent: line.indent, local: true})
		return true
	}
	if _, ok := headerColon(line.text); ok {
		*s = append(*s, scope{indent: line.indent, local: local})
	}
	return local
}

func isDefinition(text string) bool {
	for _, kw := range []string{"def", "async def", "class"} {
		if hasKeyword(text, kw) {
			return true
		}
	}
	return false
}

// blockBody strips a compound statement header, leaving any statements written
// on the same line after the colon.
func blockBody(text string) string {
	if i, ok := headerColon(text); ok {
		return text[i+1:]
	}
	return text
}

// headerColon returns the index of the colon that ends a compound statement
// header.
func headerColon(text string) (int, bool) {
	compound := false
	for _, kw := range compoundKeywords {
		if hasKeyword(text, kw) {
			compound = true
			break
		}
	}
	if !compound {
		return 0, false
	}
	depth := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ':':
			if depth == 0 && (i+1 == len(text) || text[i+1] != '=') {
				return i, true
			}
		}
	}
	return 0, false
}

func hasKeyword(text, kw string) bool {
	if !strings.HasPrefix(text, kw) {
		return false
	}
	if len(text) == len(kw) {
		return true
	}
	switch text[len(kw)] {
	case ' ', '\t', ':', '(', '[', '{', '"', '\'':
		return true
	}
	return false
}
