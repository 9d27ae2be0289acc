package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/types"
)

type fakeListing struct {
	html       string
	revealable bool
	revealed   string
	// afterReveal replaces html once the reveal control is clicked
	afterReveal string
}

type fakeSession struct {
	pages   map[string]*fakeListing
	current *fakeListing
	clicked bool
	closed  bool
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	page, ok := s.pages[url]
	if !ok {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", url)
	}
	s.current, s.clicked = page, false
	return nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	if s.current == nil {
		return "", errors.New("no page")
	}
	if s.clicked && s.current.afterReveal != "" {
		return s.current.afterReveal, nil
	}
	return s.current.html, nil
}

func (s *fakeSession) ClickReveal(context.Context) (bool, error) {
	if s.current == nil || !s.current.revealable {
		return false, nil
	}
	s.clicked = true
	return true, nil
}

func (s *fakeSession) RevealedText(context.Context) (string, error) {
	if !s.clicked {
		return "", nil
	}
	return s.current.revealed, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func newTestBrowserStrategy(t *testing.T, session *fakeSession) *BrowserStrategy {
	t.Helper()
	return NewBrowserStrategy(BrowserConfig{Cap: 10}, fixedDiscoverer(t), func(context.Context) (BrowserSession, error) {
		return session, nil
	})
}

func TestBrowserStrategy_RevealsPhones(t *testing.T) {
	session := &fakeSession{pages: map[string]*fakeListing{
		searchURL + "?page=1": {html: listingPage("/listing/1", "/listing/2", "/listing/3", "/listing/4")},
		"https://cars.example/listing/1": {
			html:       `<h1>Nissan Patrol</h1><span class="price">AED 185,000</span><button>Call</button>`,
			revealable: true,
			revealed:   "Seller: Ahmed +971 50 123 4567",
		},
		"https://cars.example/listing/2": {
			html:        `<h1>Toyota Prado</h1><span class="price">AED 140,000</span><button>Show phone</button>`,
			revealable:  true,
			afterReveal: `<h1>Toyota Prado</h1><a href="tel:055-765-4321">055-765-4321</a>`,
		},
		"https://cars.example/listing/3": {
			html:       `<h1>Lexus LX</h1><span class="price">AED 300,000</span><button>Call</button>`,
			revealable: true,
			revealed:   "+971501234567",
		},
		"https://cars.example/listing/4": {
			html: `<h1>Kia Rio</h1><span class="price">AED 30,000</span>`,
		},
	}}
	s := newTestBrowserStrategy(t, session)
	progress := newRecorder()
	sink := storage.NewMemoryLeadSink()

	err := s.Execute(context.Background(), &Run{JobID: "job-1", SourceURL: searchURL, TargetLeadCount: 20, Progress: progress, Sink: sink})
	require.NoError(t, err)

	status, total, processed, successful := progress.snapshot()
	assert.Equal(t, types.JobFinished, status)
	assert.Equal(t, 4, total)
	assert.Equal(t, 4, processed)
	assert.Equal(t, 3, successful)
	assert.Equal(t, "completed: 3 new leads from 4 listings", progress.lastLog())
	assert.True(t, session.closed)

	leads := sink.Leads()
	require.Len(t, leads, 3)
	assert.Equal(t, "+971501234567", *leads[0].PhoneNumber)
	assert.Equal(t, "0557654321", *leads[1].PhoneNumber)
	assert.Nil(t, leads[2].PhoneNumber)
	assert.Equal(t, "Kia Rio", leads[2].VehicleTitle)
}

func TestBrowserStrategy_CandidateFailureIsCounted(t *testing.T) {
	session := &fakeSession{pages: map[string]*fakeListing{
		searchURL + "?page=1":            {html: listingPage("/listing/1", "/listing/2")},
		"https://cars.example/listing/1": {html: `<h1>Mazda 6</h1><span class="price">AED 45,000</span>`},
	}}
	s := newTestBrowserStrategy(t, session)
	progress := newRecorder()

	err := s.Execute(context.Background(), &Run{JobID: "job-1", SourceURL: searchURL, Progress: progress, Sink: storage.NewMemoryLeadSink()})
	require.NoError(t, err)

	status, total, processed, successful := progress.snapshot()
	assert.Equal(t, types.JobFinished, status)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 1, successful)
}

func TestBrowserStrategy_LaunchFailure(t *testing.T) {
	s := NewBrowserStrategy(BrowserConfig{}, fixedDiscoverer(t), func(context.Context) (BrowserSession, error) {
		return nil, errors.New("chrome not found")
	})

	err := s.Execute(context.Background(), &Run{JobID: "job-1", SourceURL: searchURL, Progress: newRecorder(), Sink: storage.NewMemoryLeadSink()})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryStrategy))
	assert.Equal(t, "failed to start browser", apperrors.Categorize(err).Message)
}

func TestBrowserStrategy_SearchPageFailure(t *testing.T) {
	session := &fakeSession{pages: map[string]*fakeListing{}}
	s := newTestBrowserStrategy(t, session)

	err := s.Execute(context.Background(), &Run{JobID: "job-1", SourceURL: searchURL, Progress: newRecorder(), Sink: storage.NewMemoryLeadSink()})
	require.Error(t, err)
	assert.Equal(t, "failed to load listing search page", apperrors.Categorize(err).Message)
	assert.True(t, session.closed)
}
