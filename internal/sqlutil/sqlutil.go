// Package sqlutil holds the identifier-quoting and literal-escaping
// helpers shared by the table abstraction (DDL emission) and the query
// compiler (SQL generation), so that "the compiler never emits
// user-supplied strings unescaped" (spec §4.3) holds in exactly one place.
package sqlutil

import (
	"fmt"
	"strconv"
	"strings"
)

// QuoteIdent double-quotes a SQL identifier the PostgreSQL way, doubling
// any embedded double quote. Every column and table name the compiler
// emits goes through this function — never through raw string
// concatenation.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes a "table.column"-shaped reference, qualifying
// each part independently.
func QuoteQualified(table, column string) string {
	if table == "" {
		return QuoteIdent(column)
	}
	return QuoteIdent(table) + "." + QuoteIdent(column)
}

// EscapeString escapes a string literal for inclusion between single
// quotes, handling the characters that matter for the engines the
// service targets (backslash, quote).
func EscapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString("''")
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Literal renders a Go value as a statically-typed SQL literal. Only the
// types the query language's ValueOperand variant can hold are accepted;
// anything else is a programmer error, not a user-triggerable one.
func Literal(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + EscapeString(t) + "'"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = Literal(e)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return fmt.Sprintf("'%s'", EscapeString(fmt.Sprintf("%v", t)))
	}
}
