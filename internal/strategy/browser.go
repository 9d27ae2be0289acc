package strategy

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
)

// BrowserSession is one headless browser tab reused across candidates
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	// ClickReveal clicks the control that reveals the seller's contact.
	// It reports false when no such control exists on the page.
	ClickReveal(ctx context.Context) (bool, error)
	// RevealedText returns visible text where a revealed phone number can appear
	RevealedText(ctx context.Context) (string, error)
	Close() error
}

// SessionFactory opens a browser session
type SessionFactory func(ctx context.Context) (BrowserSession, error)

// BrowserConfig configures BrowserStrategy
type BrowserConfig struct {
	Cap            int
	SettleDelay    time.Duration // wait after navigation and after the reveal click
	CandidateDelay time.Duration // inter-candidate pause is randomized in [d, 2d)
}

// BrowserStrategy drives a headless browser and recovers phone numbers on a
// best-effort basis
type BrowserStrategy struct {
	open       SessionFactory
	discoverer *Discoverer
	cfg        BrowserConfig
	jitter     func(time.Duration) time.Duration
}

// NewBrowserStrategy creates the browser automation strategy
func NewBrowserStrategy(cfg BrowserConfig, discoverer *Discoverer, open SessionFactory) *BrowserStrategy {
	if cfg.Cap <= 0 {
		cfg.Cap = 10
	}
	return &BrowserStrategy{
		open:       open,
		discoverer: discoverer,
		cfg:        cfg,
		jitter: func(d time.Duration) time.Duration {
			if d <= 0 {
				return 0
			}
			return d + time.Duration(rand.Int63n(int64(d))) // #nosec G404 - pacing only
		},
	}
}

// Name implements Strategy
func (s *BrowserStrategy) Name() string { return NameBrowser }

// Detached implements Strategy
func (s *BrowserStrategy) Detached() bool { return false }

// Execute discovers up to Cap listings and visits each in the same session
func (s *BrowserStrategy) Execute(ctx context.Context, run *Run) error {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":    run.JobID,
		"strategy": NameBrowser,
	})
	ctx = logging.WithLogger(ctx, logger)

	session, err := s.open(ctx)
	if err != nil {
		return apperrors.NewStrategyError(NameBrowser, "failed to start browser", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.WithError(err).Debug("Browser session close failed")
		}
	}()

	limit := s.cfg.Cap
	if run.TargetLeadCount > 0 && run.TargetLeadCount < limit {
		limit = run.TargetLeadCount
	}

	candidates, err := s.discoverer.Discover(ctx, run.SourceURL, limit, func(ctx context.Context, pageURL string) (string, error) {
		return s.load(ctx, session, pageURL)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewStrategyError(NameBrowser, "failed to load listing search page", err)
	}
	if len(candidates) == 0 {
		return apperrors.NewStrategyError(NameBrowser, "no candidate listings found", nil)
	}

	run.Progress.Begin(ctx, len(candidates), fmt.Sprintf("found %d candidate listings", len(candidates)))

	leads := 0
	for i, listingURL := range candidates {
		if i > 0 {
			if err := sleep(ctx, s.jitter(s.cfg.CandidateDelay)); err != nil {
				return err
			}
		}

		verdict, err := s.evaluate(ctx, session, run, listingURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.WithError(apperrors.NewCandidateError(listingURL, err)).Trace("Candidate failed")
			run.Progress.Advance(ctx, false, fmt.Sprintf("processed %d/%d: failed", i+1, len(candidates)))
			continue
		}

		accepted := verdict == VerdictAccepted
		if accepted {
			leads++
		}
		run.Progress.Advance(ctx, accepted, fmt.Sprintf("processed %d/%d: %s", i+1, len(candidates), verdict))
	}

	run.Progress.Finish(ctx, types.JobFinished,
		fmt.Sprintf("completed: %d new leads from %d listings", leads, len(candidates)))
	return nil
}

func (s *BrowserStrategy) load(ctx context.Context, session BrowserSession, pageURL string) (string, error) {
	if err := session.Navigate(ctx, pageURL); err != nil {
		return "", err
	}
	if err := sleep(ctx, s.cfg.SettleDelay); err != nil {
		return "", err
	}
	return session.HTML(ctx)
}

func (s *BrowserStrategy) evaluate(ctx context.Context, session BrowserSession, run *Run, listingURL string) (Verdict, error) {
	html, err := s.load(ctx, session, listingURL)
	if err != nil {
		return "", err
	}

	title, price, err := ParseListing(html)
	if err != nil {
		return "", err
	}
	if title == "" {
		return "", fmt.Errorf("no title in listing markup")
	}

	candidate := models.LeadCandidate{Title: title, Price: price, ListingURL: listingURL}
	candidate.PhoneNumber = s.revealPhone(ctx, session)

	return Accept(ctx, run.Sink, run.JobID, candidate)
}

// revealPhone never fails the candidate; a missing phone just yields ""
func (s *BrowserStrategy) revealPhone(ctx context.Context, session BrowserSession) string {
	logger := logging.FromContext(ctx)

	clicked, err := session.ClickReveal(ctx)
	if err != nil {
		logger.WithError(err).Trace("Reveal click failed")
		return ""
	}
	if !clicked {
		logger.Trace("No reveal control on listing")
		return ""
	}
	if err := sleep(ctx, s.cfg.SettleDelay); err != nil {
		return ""
	}

	text, err := session.RevealedText(ctx)
	if err != nil {
		logger.WithError(err).Trace("Reading revealed contact failed")
		return ""
	}
	if phone := FindPhone(text); phone != "" {
		return phone
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return ""
	}
	for _, tel := range TelLinks(html) {
		if phone := FindPhone(tel); phone != "" {
			return phone
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// revealLabels are the button captions of the contact reveal control
var revealLabels = []string{"call", "show phone", "show number", "اتصل"}

// IsRevealLabel reports whether a control caption looks like a reveal button
func IsRevealLabel(caption string) bool {
	c := strings.ToLower(strings.TrimSpace(caption))
	if c == "" {
		return false
	}
	for _, label := range revealLabels {
		if strings.Contains(c, label) {
			return true
		}
	}
	return false
}

// RevealLabels returns the captions IsRevealLabel looks for
func RevealLabels() []string {
	out := make([]string, len(revealLabels))
	copy(out, revealLabels)
	return out
}
