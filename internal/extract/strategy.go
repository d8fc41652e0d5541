package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/poem-crawler/internal/textnorm"
)

// Strategy pulls ordered text units out of a parsed poem page. An empty
// result means the strategy did not apply and the next one should be tried.
type Strategy interface {
	Name() string
	Units(doc *goquery.Document) []string
}

// Region locates the content region of a page. The first element matching
// Selector is used; nested matches further down the page (sidebars, related
// poems) are ignored.
type Region struct {
	Selector string
}

func (r Region) find(doc *goquery.Document) *goquery.Selection {
	if r.Selector == "" {
		return nil
	}
	sel := doc.Find(r.Selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return sel
}

// Paragraphs returns one unit per <p> inside the region.
type Paragraphs struct {
	Region Region
}

// Name implements Strategy.
func (p Paragraphs) Name() string {
	return "paragraphs(" + p.Region.Selector + ")"
}

// Units implements Strategy. Paragraphs that normalize to nothing are dropped.
func (p Paragraphs) Units(doc *goquery.Document) []string {
	region := p.Region.find(doc)
	if region == nil {
		return nil
	}
	var units []string
	region.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if norm := textnorm.Normalize(text); norm != "" {
			units = append(units, norm)
		}
	})
	return units
}

// Text returns the whole region text as a single unit. It covers pages where
// the poem is laid out with <br/> tags instead of paragraphs.
type Text struct {
	Region Region
}

// Name implements Strategy.
func (t Text) Name() string {
	return "text(" + t.Region.Selector + ")"
}

// Units implements Strategy.
func (t Text) Units(doc *goquery.Document) []string {
	region := t.Region.find(doc)
	if region == nil {
		return nil
	}
	norm := textnorm.Normalize(strings.TrimSpace(region.Text()))
	if norm == "" {
		return nil
	}
	return []string{norm}
}
