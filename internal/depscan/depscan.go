// Package depscan derives an advisory dependency manifest from Python source by
// reading its module scope import statements. It never executes the source.
package depscan

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"taskrunner/pkg/common"
)

var ErrSyntax = errors.New("unparseable python source")

var (
	importStmt = regexp.MustCompile(`^import\s+(.+)$`)
	fromStmt   = regexp.MustCompile(`^from\s+(\S+)\s+import\s+\S`)
	dottedName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Manifest holds root module names in first-seen order, without duplicates.
type Manifest []string

// String renders the manifest as newline separated text.
func (m Manifest) String() string {
	return strings.Join(m, "\n")
}

// Extract returns the root modules imported at module scope. Imports under
// module level if/try/with/for/while blocks run at load time and are included;
// imports inside def and class bodies are not. Relative imports are skipped.
// Source that cannot be tokenized, or an import statement that is malformed,
// yields ErrSyntax.
func Extract(source []byte) (Manifest, error) {
	lines, err := logicalLines(string(source))
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var manifest Manifest
	add := func(module string) {
		root := strings.SplitN(module, ".", 2)[0]
		if !seen[root] {
			seen[root] = true
			manifest = append(manifest, root)
		}
	}

	var scopes scopeStack
	for _, line := range lines {
		if scopes.enter(line) {
			continue
		}
		for _, stmt := range strings.Split(blockBody(line.text), ";") {
			stmt = strings.TrimSpace(stmt)
			modules, err := importedModules(stmt)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line.number, err)
			}
			for _, module := range modules {
				add(module)
			}
		}
	}
	return manifest, nil
}

// Detect returns the manifest text for a script artifact. Anything that is not
// a .py file, or does not parse, gets an empty manifest.
func Detect(fileName string, source []byte) string {
	if !strings.HasSuffix(fileName, "."+common.ARTIFACT_EXT_SCRIPT) {
		return ""
	}
	manifest, err := Extract(source)
	if err != nil {
		return ""
	}
	return manifest.String()
}

// Requirements splits manifest text back into entries, dropping blanks and comments.
func Requirements(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func importedModules(stmt string) ([]string, error) {
	if m := fromStmt.FindStringSubmatch(stmt); m != nil {
		module := m[1]
		if strings.HasPrefix(module, ".") {
			return nil, nil
		}
		if !dottedName.MatchString(module) {
			return nil, fmt.Errorf("bad module %q: %w", module, ErrSyntax)
		}
		return []string{module}, nil
	}
	if stmt == "from" || strings.HasPrefix(stmt, "from ") {
		return nil, fmt.Errorf("incomplete from-import: %w", ErrSyntax)
	}

	m := importStmt.FindStringSubmatch(stmt)
	if m == nil {
		if stmt == "import" {
			return nil, fmt.Errorf("empty import: %w", ErrSyntax)
		}
		return nil, nil
	}

	var modules []string
	for _, clause := range strings.Split(m[1], ",") {
		fields := strings.Fields(clause)
		switch {
		case len(fields) == 1:
		case len(fields) == 3 && fields[1] == "as":
		default:
			return nil, fmt.Errorf("bad import clause %q: %w", strings.TrimSpace(clause), ErrSyntax)
		}
		if !dottedName.MatchString(fields[0]) {
			return nil, fmt.Errorf("bad module %q: %w", fields[0], ErrSyntax)
		}
		modules = append(modules, fields[0])
	}
	return modules, nil
}
