// Package textutil normalises free-text customer input before it is compared or stored.
package textutil

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps only digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanText strips markup, applies NFKC and collapses whitespace runs.
func CleanText(value string) string {
	value = strictPolicy.Sanitize(value)
	value = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`, "&lt;", "<", "&gt;", ">").Replace(value)
	value = norm.NFKC.String(value)
	return strings.Join(strings.FieldsFunc(value, unicode.IsSpace), " ")
}

// FoldKey returns a case-insensitive comparison key for set deduplication.
func FoldKey(value string) string {
	return strings.ToLower(CleanText(value))
}
