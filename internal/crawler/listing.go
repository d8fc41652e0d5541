package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Listing is the parsed content of one listing page.
type Listing struct {
	Entries []ListingEntry
	// NextURL is empty when the page carries no next-page link.
	NextURL string
}

// ParseListing extracts poem entries in page order and the next-page link.
// Items without a title link, href or title text are ignored.
func ParseListing(body []byte, origin *url.URL, cfg Config) (Listing, error) {
	cfg = cfg.withDefaults()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Listing{}, fmt.Errorf("parse listing page: %w", err)
	}

	var listing Listing
	doc.Find(cfg.ListingItemSelector).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(cfg.TitleLinkSelector).First()
		if link.Length() == 0 {
			return
		}
		href := strings.TrimSpace(link.AttrOr("href", ""))
		title := strings.TrimSpace(link.Text())
		if href == "" || title == "" {
			return
		}
		resolved, err := ResolveURL(origin, href)
		if err != nil {
			return
		}
		listing.Entries = append(listing.Entries, ListingEntry{Title: title, URL: resolved})
	})

	next := doc.Find("a[href]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), cfg.NextPageText)
	}).First()
	if next.Length() > 0 {
		href := strings.TrimSpace(next.AttrOr("href", ""))
		if href != "" {
			resolved, err := ResolveURL(origin, href)
			if err != nil {
				return Listing{}, fmt.Errorf("resolve next page link: %w", err)
			}
			listing.NextURL = resolved
		}
	}
	return listing, nil
}
