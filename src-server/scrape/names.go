package scrape

import "strings"

type Name struct {
	First string
	Last  string
}

// Split a full name into first/last. In order:
//   - "Last, First" when there's a comma (split on the first one)
//   - "First Rest Of Name" when there's a space (split on the first one)
//   - otherwise the whole thing is the first name
func ParseName(fullName string) Name {
	if last, first, ok := strings.Cut(fullName, ","); ok {
		return Name{First: strings.TrimSpace(first), Last: strings.TrimSpace(last)}
	}
	if first, last, ok := strings.Cut(fullName, " "); ok {
		return Name{First: strings.TrimSpace(first), Last: strings.TrimSpace(last)}
	}
	return Name{First: strings.TrimSpace(fullName)}
}
