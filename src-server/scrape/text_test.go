package scrape

import (
	"net/url"
	"testing"
)

func TestFieldKey(t *testing.T) {
	for in, want := range map[string]string{
		"Member Since":      "member_since",
		"Member Since *":    "member_since_",
		"Years  Experience": "years__experience",
		"Favorite  Tools *": "favorite__tools_",
		"*Required Field":   "required_field",
		"Certifications":    "certifications",
		"ÉQUIPE Préférée":   "équipe_préférée",
		" spaced *":         "_spaced_",
	} {
		if got := fieldKey(in); got != want {
			t.Errorf("fieldKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveURL(t *testing.T) {
	base, err := url.Parse("https://example.org/event-1/Attendees?elp=1")
	if err != nil {
		t.Fatal(err)
	}
	for href, want := range map[string]string{
		"/Sys/PublicProfile/5":          "https://example.org/Sys/PublicProfile/5",
		"?elp=2":                        "https://example.org/event-1/Attendees?elp=2",
		"http://other.example/x#frag":   "http://other.example/x",
		"mailto:someone@example.org":    "",
		"javascript:void(0)":            "",
		" https://example.org/a?elp=3 ": "https://example.org/a?elp=3",
	} {
		if got := resolveURL(base, href); got != want {
			t.Errorf("resolveURL(%q) = %q, want %q", href, got, want)
		}
	}
}
