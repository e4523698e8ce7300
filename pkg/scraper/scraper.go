// Package scraper builds per-boat booking calendars from the charter
// company's vessel overview page.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Defaults match the published calendar repository.
const (
	DefaultURL        = "https://jibe.sanjuansailing.com/a-vesseloverview.asp"
	DefaultRawBaseURL = "https://raw.githubusercontent.com/sjs-calendar/ical/main/output"
	DefaultOutputDir  = "output"
	IndexFile         = "index.html"
)

// Config controls one scrape.
type Config struct {
	URL        string
	RawBaseURL string
	OutputDir  string
	// Month is any time within the month the booking grid covers.
	Month   time.Time
	Timeout time.Duration
	Logger  *zap.Logger
}

// Result summarizes a completed scrape.
type Result struct {
	Boats     []Boat
	Calendars []CalendarLink
}

// Scraper fetches and converts the overview page.
type Scraper struct {
	cfg    Config
	client *resty.Client
	logger *zap.Logger
}

func New(cfg Config) *Scraper {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.RawBaseURL == "" {
		cfg.RawBaseURL = DefaultRawBaseURL
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.Month.IsZero() {
		cfg.Month = time.Now().UTC()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "sjscal/1.0")

	return &Scraper{cfg: cfg, client: client, logger: cfg.Logger}
}

// Fetch downloads the overview page. Any status other than 200 is an error.
func (s *Scraper) Fetch(ctx context.Context) (string, error) {
	ctx, span := otel.Tracer("sjscal/scraper").Start(ctx, "scraper.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url.full", s.cfg.URL))

	s.logger.Info("Fetching the webpage", zap.String("url", s.cfg.URL))
	res, err := s.client.R().SetContext(ctx).Get(s.cfg.URL)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("fetch %s: %w", s.cfg.URL, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode()))
	if res.StatusCode() != 200 {
		s.logger.Error("Failed to fetch the page", zap.Int("status", res.StatusCode()))
		err := fmt.Errorf("fetch %s: unexpected status %s", s.cfg.URL, res.Status())
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	s.logger.Info("Page fetched successfully", zap.Int("bytes", len(res.Body())))
	return res.String(), nil
}

// Run fetches the page, parses it and writes one calendar per boat plus the
// index. A page without boats is not an error; nothing is written.
func (s *Scraper) Run(ctx context.Context) (*Result, error) {
	s.logger.Info("Starting the scraping process")
	html, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	boats, err := ParseBoats(html, s.logger)
	if err != nil {
		return nil, err
	}
	if len(boats) == 0 {
		s.logger.Warn("No boats found, nothing written")
		return &Result{}, nil
	}

	if err := os.MkdirAll(s.cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	links, err := WriteCalendars(s.cfg.OutputDir, boats, s.cfg.Month, s.cfg.RawBaseURL, s.logger)
	if err != nil {
		return nil, err
	}
	if err := WriteIndex(s.cfg.OutputDir, links); err != nil {
		return nil, err
	}
	s.logger.Info("Scraping process completed", zap.Int("boats", len(boats)), zap.String("output", s.cfg.OutputDir))
	return &Result{Boats: boats, Calendars: links}, nil
}

// ParseMonth reads a YYYY-MM month; empty means the month containing now.
func ParseMonth(value string, now time.Time) (time.Time, error) {
	if value == "" {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return time.Time{}, errors.New("month must be formatted YYYY-MM")
	}
	return t, nil
}
