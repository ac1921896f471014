// SPDX-License-Identifier: Apache-2.0

// Package pgquote provides small helpers for safely embedding arbitrary
// text inside generated Postgres SQL, alongside github.com/lib/pq's
// QuoteIdentifier and QuoteLiteral.
package pgquote

import (
	"fmt"
	"strconv"
	"strings"
)

// DollarQuote wraps value in a dollar-quoted string tagged with tag,
// picking the first numeric suffix ("", "0", "1", ...) such that the
// resulting delimiter does not occur anywhere inside value. This is used
// to safely nest arbitrary SQL or text inside `DO $tag$ ... $tag$` blocks
// emitted by the revision and ACL-guard generators.
func DollarQuote(tag, value string) string {
	for n := -1; ; n++ {
		suffix := ""
		if n >= 0 {
			suffix = strconv.Itoa(n)
		}
		delim := "$" + tag + suffix + "$"
		if !strings.Contains(value, delim) {
			return delim + value + delim
		}
	}
}

// Identifier quotes name for use as a SQL identifier, e.g. a schema or
// table name, doubling embedded double quotes per the standard escaping rule.
func Identifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedIdentifier joins schema and name into a quoted,
// schema-qualified identifier.
func QualifiedIdentifier(schema, name string) string {
	return fmt.Sprintf("%s.%s", Identifier(schema), Identifier(name))
}

// NormalizeApplication lower-cases application and replaces '-' with '_'
// so it is a valid unquoted Postgres identifier fragment.
func NormalizeApplication(application string) string {
	lowered := strings.ToLower(application)
	return strings.ReplaceAll(lowered, "-", "_")
}
