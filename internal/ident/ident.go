// Package ident handles quoting of SQL identifiers as users write them.
//
// PostgreSQL stores relation and attribute names unquoted in its own
// catalogs, so user input like `"Orders"` must be stripped before it can be
// compared against catalog names.
package ident

// quoteChars is the set of quote characters recognized around identifiers.
// PostgreSQL only uses the double quote; the set exists so additional
// dialect quoting (backticks, brackets) can be added without touching
// callers.
var quoteChars = []byte{'"'}

// IsQuoted reports whether s is wrapped in a recognized quote character.
func IsQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	for _, q := range quoteChars {
		if s[0] == q && s[len(s)-1] == q {
			return true
		}
	}
	return false
}

// Unquote strips the surrounding quote characters from s if it is quoted,
// and returns s unchanged otherwise.
func Unquote(s string) string {
	if IsQuoted(s) {
		return s[1 : len(s)-1]
	}
	return s
}
