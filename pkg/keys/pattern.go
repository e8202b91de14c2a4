package keys

import (
	"regexp"
	"strings"
)

// patternEscaper escapes the regex metacharacters the glob dialect treats
// as literals. "*" is handled separately as the only wildcard.
var patternEscaper = strings.NewReplacer(
	`$`, `\$`,
	`^`, `\^`,
	`?`, `\?`,
	`.`, `\.`,
	`(`, `\(`,
	`)`, `\)`,
	`[`, `\[`,
	`]`, `\]`,
)

// PatternToRegexp translates a glob pattern into a regular expression
// source string.
//
// Anchoring rules: a bare pattern without leading or trailing "*" is
// anchored on both ends; a leading "*" anchors only the end; a trailing
// "*" anchors only the start. "*" expands to "any sequence".
func PatternToRegexp(pattern string) string {
	anchorStart := false
	anchorEnd := false
	if pattern != "*" {
		anchorStart = !strings.HasPrefix(pattern, "*")
		anchorEnd = !strings.HasSuffix(pattern, "*")
	}

	expr := strings.ReplaceAll(patternEscaper.Replace(pattern), "*", ".*")
	if anchorStart {
		expr = "^" + expr
	}
	if anchorEnd {
		expr += "$"
	}
	return expr
}

// Matcher is a compiled glob pattern.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// CompileMatcher compiles a glob pattern into a Matcher.
func CompileMatcher(pattern string) (*Matcher, error) {
	re, err := regexp.Compile(PatternToRegexp(pattern))
	if err != nil {
		return nil, err
	}
	return &Matcher{pattern: pattern, re: re}, nil
}

// Match reports whether s matches the pattern.
func (m *Matcher) Match(s string) bool {
	return m.re.MatchString(s)
}

// Pattern returns the original glob pattern.
func (m *Matcher) Pattern() string {
	return m.pattern
}
