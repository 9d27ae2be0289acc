package strategy

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartingPage(t *testing.T) {
	jan1 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	jan11 := time.Date(2026, 1, 11, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 10, StartingPage(jan1, 11))
	assert.Equal(t, 11, StartingPage(jan11, 11))
	assert.Equal(t, 1, StartingPage(jan1, 1))

	for day := 0; day < 366; day++ {
		p := StartingPage(jan1.AddDate(0, 0, day), 11)
		assert.GreaterOrEqual(t, p, 1)
		assert.LessOrEqual(t, p, 11)
	}
}

func TestPageOrder(t *testing.T) {
	assert.Equal(t, []int{10, 11, 1, 2, 3, 4, 5, 6, 7, 8, 9}, PageOrder(10, 11))
	assert.Equal(t, []int{1, 2, 3}, PageOrder(1, 3))
	assert.Equal(t, []int{1, 2, 3}, PageOrder(7, 3))
}

func TestPageURL(t *testing.T) {
	got, err := PageURL("https://cars.example/search?make=nissan", 3)
	require.NoError(t, err)
	assert.Equal(t, "https://cars.example/search?make=nissan&page=3", got)

	got, err = PageURL("https://cars.example/search?page=9", 2)
	require.NoError(t, err)
	assert.Equal(t, "https://cars.example/search?page=2", got)
}

func TestExtractListingURLs(t *testing.T) {
	d, err := NewDiscoverer(`/listing/\d+`, 1)
	require.NoError(t, err)
	base, _ := url.Parse("https://cars.example/search?page=1")

	html := `<html><body>
		<a href="/listing/5?ref=grid#top">Nissan</a>
		<a href="/listing/5">Nissan again</a>
		<a href="https://other.example/listing/6">Mirror</a>
		<a href="/about">About</a>
		<script>window.__DATA__ = {"items":[{"url":"/listing/7"}]}</script>
	</body></html>`

	assert.Equal(t, []string{
		"https://cars.example/listing/5",
		"https://other.example/listing/6",
		"https://cars.example/listing/7",
	}, d.ExtractListingURLs(html, base))
}

func TestNewDiscoverer_InvalidPattern(t *testing.T) {
	_, err := NewDiscoverer(`(`, 1)
	assert.Error(t, err)
}

func listingPage(paths ...string) string {
	html := "<html><body>"
	for _, p := range paths {
		html += `<a href="` + p + `">car</a>`
	}
	return html + "</body></html>"
}

// pagedDiscoverer starts on page 1 of 3
func pagedDiscoverer(t *testing.T) *Discoverer {
	t.Helper()
	d, err := NewDiscoverer(`^/listing/\d+$`, 3)
	require.NoError(t, err)
	d.Now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }
	require.Equal(t, 1, StartingPage(d.Now(), 3))
	return d
}

type fakePages struct {
	pages   map[string]string
	errs    map[string]error
	fetched []string
}

func (f *fakePages) fetch(_ context.Context, pageURL string) (string, error) {
	f.fetched = append(f.fetched, pageURL)
	if err, ok := f.errs[pageURL]; ok {
		return "", err
	}
	return f.pages[pageURL], nil
}

const searchURL = "https://cars.example/search"

func TestDiscover_WalksPagesInOrder(t *testing.T) {
	d := pagedDiscoverer(t)
	f := &fakePages{pages: map[string]string{
		searchURL + "?page=1": listingPage("/listing/1", "/listing/2"),
		searchURL + "?page=2": listingPage("/listing/2", "/listing/3"),
		searchURL + "?page=3": listingPage("/listing/4"),
	}}

	got, err := d.Discover(context.Background(), searchURL, 10, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://cars.example/listing/1",
		"https://cars.example/listing/2",
		"https://cars.example/listing/3",
		"https://cars.example/listing/4",
	}, got)
}

func TestDiscover_StopsAtLimit(t *testing.T) {
	d := pagedDiscoverer(t)
	f := &fakePages{pages: map[string]string{
		searchURL + "?page=1": listingPage("/listing/1", "/listing/2"),
		searchURL + "?page=2": listingPage("/listing/3", "/listing/4"),
	}}

	got, err := d.Discover(context.Background(), searchURL, 3, f.fetch)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Len(t, f.fetched, 2)
}

func TestDiscover_StopsWhenPageAddsNothing(t *testing.T) {
	d := pagedDiscoverer(t)
	f := &fakePages{pages: map[string]string{
		searchURL + "?page=1": listingPage("/listing/1", "/listing/2"),
		searchURL + "?page=2": listingPage("/listing/1", "/listing/2"),
		searchURL + "?page=3": listingPage("/listing/9"),
	}}

	got, err := d.Discover(context.Background(), searchURL, 10, f.fetch)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Len(t, f.fetched, 2)
}

func TestDiscover_FirstPageFailure(t *testing.T) {
	d := pagedDiscoverer(t)
	f := &fakePages{errs: map[string]error{searchURL + "?page=1": errors.New("connection refused")}}

	got, err := d.Discover(context.Background(), searchURL, 10, f.fetch)
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestDiscover_LaterPageFailureKeepsResults(t *testing.T) {
	d := pagedDiscoverer(t)
	f := &fakePages{
		pages: map[string]string{searchURL + "?page=1": listingPage("/listing/1")},
		errs:  map[string]error{searchURL + "?page=2": errors.New("timeout")},
	}

	got, err := d.Discover(context.Background(), searchURL, 10, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cars.example/listing/1"}, got)
}

func TestDiscover_RejectsRelativeSource(t *testing.T) {
	d := pagedDiscoverer(t)
	_, err := d.Discover(context.Background(), "/search", 10, (&fakePages{}).fetch)
	assert.Error(t, err)
}
