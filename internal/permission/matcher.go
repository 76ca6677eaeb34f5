package permission

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
)

// Glob semantics for rule patterns: '*' matches any run of characters
// (path separators included, so "rm *" covers "rm -rf /"), '?' matches
// exactly one character. Matches are anchored at both ends.

var (
	globCacheMu sync.Mutex
	globCache   = map[string]*regexp.Regexp{}
)

func compileGlob(pattern string) *regexp.Regexp {
	globCacheMu.Lock()
	defer globCacheMu.Unlock()
	if re, ok := globCache[pattern]; ok {
		return re
	}

	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		// A pattern that cannot compile matches nothing.
		re = regexp.MustCompile(`$^`)
	}
	globCache[pattern] = re
	return re
}

// GlobMatch reports whether value matches the glob pattern.
func GlobMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	return compileGlob(pattern).MatchString(value)
}

// fileTools match rules against the resolved file path.
var fileTools = map[string]bool{
	"Read":      true,
	"Edit":      true,
	"Create":    true,
	"MultiEdit": true,
}

// MatchTarget extracts the string a rule pattern is applied to for a given
// tool invocation: the command for Execute, the file path for file tools.
// For unknown tools there is no target, so only pattern "*" matches.
func MatchTarget(toolName string, toolInput json.RawMessage) (string, bool) {
	var input map[string]interface{}
	if len(toolInput) > 0 {
		_ = json.Unmarshal(toolInput, &input)
	}

	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := input[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}

	switch {
	case toolName == "Execute":
		return str("command"), true
	case fileTools[toolName]:
		return str("file_path", "path"), true
	default:
		return "", false
	}
}

// RuleMatches reports whether a rule applies to a tool invocation.
func RuleMatches(rule *Rule, toolName string, toolInput json.RawMessage) bool {
	if rule.ToolName != toolName && rule.ToolName != "*" {
		return false
	}
	target, hasTarget := MatchTarget(toolName, toolInput)
	if !hasTarget {
		return rule.Pattern == "*"
	}
	return GlobMatch(rule.Pattern, target)
}
