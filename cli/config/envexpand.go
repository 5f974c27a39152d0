// Package config loads waypoint.yaml, the defaults file for waypoint CLI flags.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envRef matches $${...} escapes, ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\$\{|\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} references with environment
// values. Unset variables without a default expand to "". A default also
// applies when the variable is set but empty. $${ is a literal ${.
func ExpandEnv(input string) string {
	var b strings.Builder
	last := 0
	for _, m := range envRef.FindAllStringSubmatchIndex(input, -1) {
		b.WriteString(input[last:m[0]])
		last = m[1]

		if input[m[0]:m[1]] == "$${" {
			b.WriteString("${")
			continue
		}
		name := input[m[2]:m[3]]
		if v, ok := os.LookupEnv(name); ok && v != "" {
			b.WriteString(v)
			continue
		}
		if m[4] >= 0 {
			b.WriteString(input[m[4]:m[5]])
		}
	}
	b.WriteString(input[last:])
	return b.String()
}
