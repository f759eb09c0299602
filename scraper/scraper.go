// Package scraper collects events from external sources.
package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"

	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/metrics"
)

var (
	ErrSourceUnreachable = errors.New("source unreachable")
	ErrParseFailure      = errors.New("parse failure")
)

type ScrapeError struct {
	Source string
	Kind   error
	Err    error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("%v: %v: %v", e.Source, e.Kind, e.Err)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

func (e *ScrapeError) Is(target error) bool {
	return target == e.Kind
}

func Unreachable(source string, err error) *ScrapeError {
	return &ScrapeError{Source: source, Kind: ErrSourceUnreachable, Err: err}
}

func ParseFailure(source string, err error) *ScrapeError {
	return &ScrapeError{Source: source, Kind: ErrParseFailure, Err: err}
}

type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]event.Event, error)
}

type Manager struct {
	sources []Source
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewManager(m *metrics.Metrics, log *logger.Logger, sources ...Source) *Manager {
	return &Manager{
		sources: sources,
		metrics: m,
		log:     log.WithComponent("scraper"),
	}
}

func (m *Manager) Register(source Source) {
	m.sources = append(m.sources, source)
}

func (m *Manager) Sources() []Source {
	return m.sources
}

// Scrape fetches every source concurrently. Failed sources are logged and left out; an error is
// returned only when no source succeeded.
func (m *Manager) Scrape(ctx context.Context) ([]event.Event, error) {
	if len(m.sources) == 0 {
		return nil, Unreachable("scraper", errors.New("no sources configured"))
	}
	results := make([][]event.Event, len(m.sources))
	var (
		mu       sync.Mutex
		failures []error
	)
	p := pool.New().WithContext(ctx)
	for i, source := range m.sources {
		i, source := i, source
		p.Go(func(ctx context.Context) error {
			events, err := source.Fetch(ctx)
			if err != nil {
				err = classify(source.Name(), err)
				m.countError(source.Name())
				m.log.WithSource(source.Name()).Error().Err(err).Msg("source failed")
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return nil
			}
			results[i] = m.validate(source.Name(), events)
			m.log.WithSource(source.Name()).Info().Int("count", len(results[i])).Msg("fetched events")
			return nil
		})
	}
	_ = p.Wait()

	if len(failures) == len(m.sources) {
		messages := make([]string, 0, len(failures))
		for _, f := range failures {
			messages = append(messages, f.Error())
		}
		kind := ErrSourceUnreachable
		var first *ScrapeError
		if errors.As(failures[0], &first) {
			kind = first.Kind
		}
		return nil, &ScrapeError{Source: "all", Kind: kind, Err: errors.New(strings.Join(messages, "; "))}
	}
	var merged []event.Event
	for _, events := range results {
		merged = append(merged, events...)
	}
	return merged, nil
}

// validate drops records that cannot be stored and normalizes dates.
func (m *Manager) validate(source string, events []event.Event) []event.Event {
	valid := make([]event.Event, 0, len(events))
	for _, e := range events {
		err := check(e)
		if err != nil {
			m.countError(source)
			m.log.WithSource(source).Warn().Err(ParseFailure(source, err)).Str("id", e.Id).Msg("record dropped")
			continue
		}
		e.StartDate = event.Date(e.StartDate)
		if e.EndDate != nil {
			end := event.Date(*e.EndDate)
			e.EndDate = &end
		}
		if len(e.Source) == 0 {
			e.Source = source
		}
		valid = append(valid, e)
	}
	return valid
}

func check(e event.Event) error {
	switch {
	case len(strings.TrimSpace(e.Id)) == 0:
		return errors.New("missing id")
	case e.StartDate.IsZero():
		return errors.New("missing start date")
	case e.Name == nil || len(strings.TrimSpace(*e.Name)) == 0:
		return errors.New("missing name")
	case e.EndDate != nil && event.Date(*e.EndDate).Before(event.Date(e.StartDate)):
		return errors.New("end date before start date")
	}
	return nil
}

func classify(source string, err error) error {
	var scrapeErr *ScrapeError
	if errors.As(err, &scrapeErr) {
		return err
	}
	return Unreachable(source, err)
}

func (m *Manager) countError(source string) {
	if m.metrics == nil {
		return
	}
	m.metrics.ScrapeErrors.WithLabelValues(source).Inc()
}
