package scrape

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Text content with whitespace runs collapsed and ends trimmed.
func cleanText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// Absolute form of href relative to base, without the fragment. Empty when
// href can't be parsed or isn't http(s).
func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

// Dynamic profile key for a label with no canonical mapping. Every space maps
// to an underscore, so "Member Since *" -> "member_since_" and runs of spaces
// are kept: "Years  Experience" -> "years__experience".
func fieldKey(label string) string {
	key := strings.ReplaceAll(label, "*", "")
	key = cases.Lower(language.Und).String(key)
	return strings.ReplaceAll(key, " ", "_")
}
