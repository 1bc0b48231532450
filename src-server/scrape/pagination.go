package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Query parameter the source site uses to number listing pages (?elp=2).
const PaginationParam = "elp"

var ErrSeedUnreachable = errors.New("seed page unreachable")

type Crawler struct {
	fetcher Fetcher
}

func NewCrawler(fetcher Fetcher) *Crawler {
	return &Crawler{fetcher: fetcher}
}

// Pages of a listing together with the parsed seed, so callers don't need to
// fetch the seed page a second time.
type Listing struct {
	Pages []string
	Seed  *goquery.Document
}

// Every page of a listing, seed first. The whole set is read off the seed page:
// the site repeats links to all pages on every page, so no next-link chain is
// followed. A listing that only links "next" would be under-discovered.
func (c *Crawler) Discover(ctx context.Context, listingURL string) (Listing, error) {
	doc, err := c.fetcher.Fetch(ctx, listingURL)
	if err != nil {
		return Listing{}, fmt.Errorf("%w: %w", ErrSeedUnreachable, err)
	}
	return Listing{Pages: PaginationLinks(doc, listingURL), Seed: doc}, nil
}

func (c *Crawler) DiscoverPages(ctx context.Context, listingURL string) ([]string, error) {
	listing, err := c.Discover(ctx, listingURL)
	if err != nil {
		return nil, err
	}
	return listing.Pages, nil
}

// Links carrying the pagination parameter, resolved against listingURL and
// deduplicated in document order, with listingURL itself first.
func PaginationLinks(doc *goquery.Document, listingURL string) []string {
	base, err := url.Parse(listingURL)
	if err != nil {
		base = nil
	}

	pages := []string{listingURL}
	seen := map[string]struct{}{listingURL: {}}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs := resolveURL(base, href)
		if abs == "" {
			return
		}
		u, err := url.Parse(abs)
		if err != nil || !u.Query().Has(PaginationParam) {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		pages = append(pages, abs)
	})
	return pages
}
