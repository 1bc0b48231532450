package scrape

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// One listing row before name parsing.
type RawAttendee struct {
	Date        string
	FullName    string
	RawName     string
	ProfileURL  string
	IsAnonymous bool
	GuestCount  int
}

var (
	headerTokens = map[string]struct{}{
		"date":       {},
		"registered": {},
		"name":       {},
		"attendee":   {},
	}
	guestPattern = regexp.MustCompile(`(?i)plus\s+(\d+)\s+guest`)
)

const anonymousMarker = "anonymous user"

// Attendee rows from every table on a listing page. Cell 0 is the registration
// date, cell 1 the name (optionally linking to a profile). Header rows and rows
// with a blank date or name are skipped.
func ExtractRows(doc *goquery.Document, pageURL string) []RawAttendee {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	rows := make([]RawAttendee, 0)
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := tr.ChildrenFiltered("td, th")
			if cells.Length() < 2 {
				return
			}
			if row, ok := extractRow(cells.Eq(0), cells.Eq(1), base); ok {
				rows = append(rows, row)
			}
		})
	})
	return rows
}

func extractRow(dateCell, nameCell *goquery.Selection, base *url.URL) (RawAttendee, bool) {
	date := cleanText(dateCell)
	name := cleanText(nameCell)
	if date == "" || name == "" || isHeaderToken(date) || isHeaderToken(name) {
		return RawAttendee{}, false
	}

	row := RawAttendee{
		Date:        date,
		RawName:     name,
		IsAnonymous: strings.Contains(strings.ToLower(name), anonymousMarker),
	}
	if href, ok := nameCell.Find("a[href]").First().Attr("href"); ok {
		row.ProfileURL = resolveURL(base, href)
	}
	if m := guestPattern.FindStringSubmatch(name); m != nil {
		row.GuestCount, _ = strconv.Atoi(m[1])
	}
	fullName, _, _ := strings.Cut(name, "-")
	row.FullName = strings.TrimSpace(fullName)
	return row, true
}

func isHeaderToken(s string) bool {
	_, ok := headerTokens[strings.ToLower(s)]
	return ok
}
