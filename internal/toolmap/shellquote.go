package toolmap

import (
	"regexp"
	"strings"
)

var bareTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_\-./=:@]+$`)

// shellQuote returns s unmodified if it only contains characters safe to
// place bare on a shell command line; otherwise it wraps s in single quotes,
// escaping any embedded single quote as '\''.
func shellQuote(s string) string {
	if s != "" && bareTokenPattern.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellQuoteJoin shell-quotes each token and joins them with a single space.
func shellQuoteJoin(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = shellQuote(t)
	}
	return strings.Join(quoted, " ")
}
