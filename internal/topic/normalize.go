// Package topic normalizes user-supplied topic names so that storage,
// subscriptions and scraping all agree on one canonical form.
package topic

import (
	"regexp"
	"strings"
)

var (
	punctuation  = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	whitespace   = regexp.MustCompile(`\s+`)
	spacedHyphen = regexp.MustCompile(`\s*-\s*`)
	edgeHyphens  = regexp.MustCompile(`(^-+)|(-+$)`)
)

// Normalize canonicalizes a topic name: lowercase, punctuation stripped
// (hyphens kept for compound words), whitespace collapsed, Unicode letters
// preserved. The result never contains a colon, which keeps the
// "<topic>:<entry_id>" notification payload unambiguous.
//
//	"Bitcoin"                -> "bitcoin"
//	"AI, Machine Learning"   -> "ai machine learning"
//	"machine - learning"     -> "machine-learning"
//	"比特币"                  -> "比特币"
func Normalize(name string) string {
	s := strings.ToLower(name)
	s = punctuation.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	s = spacedHyphen.ReplaceAllString(s, "-")
	s = edgeHyphens.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
