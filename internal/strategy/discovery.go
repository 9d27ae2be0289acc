package strategy

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lead-scanner/internal/logging"
)

// maxPages bounds pagination regardless of how the source behaves
const maxPages = 50

// FetchFunc returns the HTML of a page
type FetchFunc func(ctx context.Context, pageURL string) (string, error)

// Discoverer finds candidate listing URLs on a search results page and the
// pages after it
type Discoverer struct {
	Pattern    *regexp.Regexp
	TotalPages int
	Now        func() time.Time
}

// NewDiscoverer compiles the listing URL pattern
func NewDiscoverer(pattern string, totalPages int) (*Discoverer, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid listing pattern: %w", err)
	}
	if totalPages <= 0 {
		totalPages = 1
	}
	return &Discoverer{Pattern: re, TotalPages: totalPages, Now: time.Now}, nil
}

// StartingPage rotates the first page visited backwards through totalPages,
// one step per day of the year, so consecutive daily runs see different stock
func StartingPage(now time.Time, totalPages int) int {
	if totalPages <= 1 {
		return 1
	}
	return totalPages - now.YearDay()%totalPages
}

// PageOrder lists pages from start to totalPages, then wraps to 1
func PageOrder(start, totalPages int) []int {
	if totalPages < 1 {
		totalPages = 1
	}
	if start < 1 || start > totalPages {
		start = 1
	}
	order := make([]int, 0, totalPages)
	for p := start; p <= totalPages; p++ {
		order = append(order, p)
	}
	for p := 1; p < start; p++ {
		order = append(order, p)
	}
	return order
}

// PageURL sets the page query parameter on the search URL
func PageURL(source string, page int) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Discover walks result pages until limit candidates are found, a page adds
// nothing new, or the page budget runs out. Failing to load the first page is
// an error; later page failures end pagination with what was found.
func (d *Discoverer) Discover(ctx context.Context, source string, limit int, fetch FetchFunc) ([]string, error) {
	base, err := url.Parse(source)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid source url %q", source)
	}

	logger := logging.FromContext(ctx)
	seen := make(map[string]struct{})
	found := make([]string, 0, limit)

	pages := PageOrder(StartingPage(d.Now(), d.TotalPages), d.TotalPages)
	if len(pages) > maxPages {
		pages = pages[:maxPages]
	}

	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		pageURL, err := PageURL(source, page)
		if err != nil {
			return nil, err
		}

		html, err := fetch(ctx, pageURL)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			logger.WithError(err).WithField("page", page).Debug("Stopping pagination after page failure")
			break
		}

		added := 0
		for _, listing := range d.ExtractListingURLs(html, base) {
			if _, dup := seen[listing]; dup {
				continue
			}
			seen[listing] = struct{}{}
			found = append(found, listing)
			added++
			if len(found) >= limit {
				return found, nil
			}
		}

		logger.WithFields(map[string]interface{}{
			"page":  page,
			"added": added,
			"total": len(found),
		}).Debug("Scanned results page")

		if added == 0 {
			break
		}
	}

	return found, nil
}

// ExtractListingURLs returns absolute listing URLs found in anchors and in
// the raw markup, in document order, without duplicates
func (d *Discoverer) ExtractListingURLs(html string, base *url.URL) []string {
	seen := make(map[string]struct{})
	paths := make(map[string]struct{})
	var out []string

	add := func(raw string, pathOnly bool) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		abs.RawQuery = ""
		if !d.Pattern.MatchString(abs.Path) {
			return
		}
		// a bare path already seen on an absolute link belongs to that link
		if _, ok := paths[abs.Path]; ok && pathOnly {
			return
		}
		paths[abs.Path] = struct{}{}
		s := abs.String()
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			add(href, false)
		})
	}

	// listings rendered by client-side data blobs never become anchors
	for _, match := range d.Pattern.FindAllString(html, -1) {
		add(match, true)
	}

	return out
}
