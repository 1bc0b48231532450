package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const MembershipLevelKey = "membership_level"

// Label classification, evaluated top to bottom, first substring match wins.
// New site labels go here, not into the extraction code.
var profileLabelRules = []struct {
	patterns []string
	key      string
	// keep the first value seen; later matching labels are ignored
	keepFirst bool
}{
	{patterns: []string{"first name"}, key: "first_name"},
	{patterns: []string{"last name"}, key: "last_name"},
	{patterns: []string{"company"}, key: "company"},
	{patterns: []string{"job function", "title"}, key: "job_title"},
	{patterns: []string{"work e-mail", "home e-mail"}, key: "email", keepFirst: true},
	{patterns: []string{"mobile phone", "phone"}, key: "phone"},
	{patterns: []string{"business type"}, key: "business_type"},
	{patterns: []string{"city"}, key: "city"},
}

const (
	profileFormSelector     = `div[id*="memberProfile_MemberForm"]`
	fieldContainerSelector  = `div.fieldContainer`
	fieldLabelSelector      = `span[id*="titleLabel"]`
	fieldValueSelector      = `span[id*="TextBoxLabel"], span[id*="DropDownLabel"]`
	mailtoSelector          = `a[href^="mailto:"]`
	membershipLevelSelector = `span[id*="membershipDetails"]`
)

// Canonical key for a profile label, or a dynamic key derived from the label
// when no rule matches.
func ClassifyLabel(label string) (key string, keepFirst bool) {
	lower := strings.ToLower(label)
	for _, rule := range profileLabelRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.key, rule.keepFirst
			}
		}
	}
	return fieldKey(label), false
}

// Labeled fields of a member profile page, keyed by canonical or dynamic key.
// Containers without both a label and a value are skipped.
func ExtractProfileFields(doc *goquery.Document) map[string]string {
	fields := make(map[string]string)

	doc.Find(profileFormSelector).First().
		Find(fieldContainerSelector).
		Each(func(_ int, container *goquery.Selection) {
			// trimmed only, inner spacing is part of the dynamic key
			label := strings.TrimSpace(container.Find(fieldLabelSelector).First().Text())
			valueSpan := container.Find(fieldValueSelector).First()
			if label == "" || valueSpan.Length() == 0 {
				return
			}
			value := fieldValue(valueSpan)
			if value == "" {
				return
			}

			key, keepFirst := ClassifyLabel(label)
			if key == "" {
				return
			}
			if _, exists := fields[key]; exists && keepFirst {
				return
			}
			fields[key] = value
		})

	if level := cleanText(doc.Find(membershipLevelSelector).First()); level != "" {
		fields[MembershipLevelKey] = level
	}
	return fields
}

// Displayed text of a value span, except e-mail values where the mailto
// target wins over whatever is displayed.
func fieldValue(span *goquery.Selection) string {
	if href, ok := span.Find(mailtoSelector).First().Attr("href"); ok {
		addr := strings.TrimPrefix(href, "mailto:")
		addr, _, _ = strings.Cut(addr, "?")
		if addr = strings.TrimSpace(addr); addr != "" {
			return addr
		}
	}
	return cleanText(span)
}
