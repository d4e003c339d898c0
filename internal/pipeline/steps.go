package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nao1215/shopwalk/internal/model"
)

// QueryPlaceholder is replaced by the URL-escaped query in search templates.
const QueryPlaceholder = "{query}"

// ErrNoPlaceholder is returned when a search template lacks QueryPlaceholder.
var ErrNoPlaceholder = errors.New("search URL template has no " + QueryPlaceholder + " placeholder")

// Navigator is the part of a browser page the steps drive.
type Navigator interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error

	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)

	// Title returns the current page title.
	Title(ctx context.Context) (string, error)
}

// BuildSearchURL substitutes the escaped query into the template.
func BuildSearchURL(template, query string) (string, error) {
	if !strings.Contains(template, QueryPlaceholder) {
		return "", ErrNoPlaceholder
	}
	return strings.ReplaceAll(template, QueryPlaceholder, url.QueryEscape(query)), nil
}

// LandingStep opens the site's entry page.
type LandingStep struct {
	nav        Navigator
	landingURL string
}

// NewLandingStep creates a LandingStep.
func NewLandingStep(nav Navigator, landingURL string) *LandingStep {
	return &LandingStep{nav: nav, landingURL: landingURL}
}

// Name returns the step name.
func (s *LandingStep) Name() string {
	return "landing"
}

// Do navigates to the landing page.
func (s *LandingStep) Do(ctx context.Context, record *model.SessionRecord) error {
	record.LandingURL = s.landingURL
	if err := s.nav.Navigate(ctx, s.landingURL); err != nil {
		return fmt.Errorf("failed to open landing page: %w", err)
	}
	return nil
}

// SearchStep navigates from the landing page to the results page.
type SearchStep struct {
	nav      Navigator
	template string
}

// NewSearchStep creates a SearchStep for a search URL template containing
// QueryPlaceholder.
func NewSearchStep(nav Navigator, template string) *SearchStep {
	return &SearchStep{nav: nav, template: template}
}

// Name returns the step name.
func (s *SearchStep) Name() string {
	return "search"
}

// Do navigates to the search results for the record's query.
func (s *SearchStep) Do(ctx context.Context, record *model.SessionRecord) error {
	searchURL, err := BuildSearchURL(s.template, record.Query)
	if err != nil {
		return err
	}
	record.SearchURL = searchURL
	if err := s.nav.Navigate(ctx, searchURL); err != nil {
		return fmt.Errorf("failed to open search results: %w", err)
	}
	return nil
}

// CaptureStep records where the page ended up.
// Product-list parsing is left to downstream tooling.
type CaptureStep struct {
	nav Navigator
}

// NewCaptureStep creates a CaptureStep.
func NewCaptureStep(nav Navigator) *CaptureStep {
	return &CaptureStep{nav: nav}
}

// Name returns the step name.
func (s *CaptureStep) Name() string {
	return "capture"
}

// Do reads the final URL and title.
func (s *CaptureStep) Do(ctx context.Context, record *model.SessionRecord) error {
	loc, err := s.nav.Location(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page location: %w", err)
	}
	record.FinalURL = loc

	title, err := s.nav.Title(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page title: %w", err)
	}
	record.Title = title
	return nil
}

// SessionSteps returns the standard step sequence for one session.
func SessionSteps(nav Navigator, landingURL, searchTemplate string) []Step {
	return []Step{
		NewLandingStep(nav, landingURL),
		NewSearchStep(nav, searchTemplate),
		NewCaptureStep(nav),
	}
}
