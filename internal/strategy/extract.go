package strategy

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var titleSelectors = []string{"h1", `[data-testid*="title"]`, ".listing-title"}

var priceSelectors = []string{`[class*="price"]`, `[data-testid*="price"]`}

// ParseListing pulls the vehicle title and displayed price from a listing page.
// Empty strings mean the field was not found.
func ParseListing(html string) (title, price string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", err
	}

	for _, sel := range titleSelectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			title = text
			break
		}
	}
	if title == "" {
		if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
			title = strings.TrimSpace(og)
		}
	}

	for _, sel := range priceSelectors {
		found := false
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if ParsePrice(s.Text()) > 0 {
				price = nonDigits.ReplaceAllString(s.Text(), "")
				found = true
				return false
			}
			return true
		})
		if found {
			break
		}
	}

	return title, price, nil
}

// TelLinks returns the targets of tel: anchors, which some listings expose
// once the contact is revealed
func TelLinks(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find(`a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		out = append(out, strings.TrimPrefix(href, "tel:"))
	})
	return out
}
