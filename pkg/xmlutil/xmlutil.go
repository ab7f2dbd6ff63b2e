// Package xmlutil escapes untrusted text before it is embedded in
// XML-delimited prompt templates.
package xmlutil

import "strings"

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape replaces the five XML metacharacters so that user content cannot
// close or open tags inside a prompt template.
func Escape(s string) string {
	return escaper.Replace(s)
}
