// Package shell quotes strings for POSIX sh command lines.
package shell

import "strings"

// safe holds characters that never need quoting.
const safe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789@%_-+=:,./"

// Quote returns s in a form sh reads back as exactly s.
// Strings made only of safe characters are returned unchanged; everything
// else is wrapped in single quotes, with embedded quotes written as '\''.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.Trim(s, safe) == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Join quotes each word and joins them with single spaces.
func Join(words ...string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = Quote(w)
	}
	return strings.Join(quoted, " ")
}

// DoubleQuote wraps s in double quotes, escaping backslashes and quotes.
// Variable references such as $PATH are left for the shell to expand.
func DoubleQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
