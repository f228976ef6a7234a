// Package templates expands {{PLACEHOLDER}} variables in configured strings
// such as the installer's post-install command.
package templates

import (
	"regexp"
	"sort"
	"strings"
)

// Placeholder names understood by the installer.
const (
	HookPath   = "HOOK_PATH"
	HookType   = "HOOK_TYPE"
	HookName   = "HOOK_NAME"
	EndpointID = "ENDPOINT_ID"
)

// Data holds variables for placeholder substitution.
type Data map[string]string

var placeholderPattern = regexp.MustCompile(`\{\{([A-Z_]+)\}\}`)

// Expand replaces every {{KEY}} in tmpl with data[KEY].
// Unknown placeholders are left untouched.
//
// Example:
//
//	Expand("chmod 0755 {{HOOK_PATH}}", Data{"HOOK_PATH": "/hooks/a"})
//	// "chmod 0755 /hooks/a"
func Expand(tmpl string, data Data) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := strings.TrimSuffix(strings.TrimPrefix(m, "{{"), "}}")
		if v, ok := data[key]; ok {
			return v
		}
		return m
	})
}

// ExpandAll applies Expand to each element of parts.
func ExpandAll(parts []string, data Data) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = Expand(p, data)
	}
	return out
}

// Unknown returns the sorted placeholder names in tmpl that are not in allowed.
func Unknown(tmpl string, allowed []string) []string {
	known := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		known[a] = true
	}

	seen := make(map[string]bool)
	var unknown []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		name := m[1]
		if !known[name] && !seen[name] {
			seen[name] = true
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// InstallerPlaceholders lists every placeholder the installer supplies.
func InstallerPlaceholders() []string {
	return []string{HookPath, HookType, HookName, EndpointID}
}
