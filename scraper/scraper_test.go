package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/metrics"
)

type fakeSource struct {
	name   string
	events []event.Event
	err    error
}

func (s fakeSource) Name() string {
	return s.name
}

func (s fakeSource) Fetch(context.Context) ([]event.Event, error) {
	return s.events, s.err
}

func validEvent(id string) event.Event {
	return event.Event{
		Id:        id,
		StartDate: time.Date(2024, 5, 1, 19, 30, 0, 0, time.UTC),
		Name:      event.StringPtr("name " + id),
	}
}

func TestManager__Scrape__Merges_Sources(t *testing.T) {
	m := NewManager(nil, logger.Nop(),
		fakeSource{name: "a", events: []event.Event{validEvent("a1"), validEvent("a2")}},
		fakeSource{name: "b", events: []event.Event{validEvent("b1")}},
	)

	events, err := m.Scrape(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, len(events))
	assert.Equal(t, "a1", events[0].Id)
	assert.Equal(t, "a", events[0].Source)
	assert.Equal(t, event.NewDate(2024, 5, 1), events[0].StartDate)
	assert.Equal(t, "b", events[2].Source)
}

func TestManager__Scrape__Partial_Failure(t *testing.T) {
	reg := metrics.New()
	m := NewManager(reg, logger.Nop(),
		fakeSource{name: "a", err: errors.New("dial tcp: timeout")},
		fakeSource{name: "b", events: []event.Event{validEvent("b1")}},
	)

	events, err := m.Scrape(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, len(events))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.ScrapeErrors.WithLabelValues("a")))
}

func TestManager__Scrape__All_Sources_Failed(t *testing.T) {
	m := NewManager(nil, logger.Nop(),
		fakeSource{name: "a", err: errors.New("dial tcp: timeout")},
		fakeSource{name: "b", err: ParseFailure("b", errors.New("bad xml"))},
	)

	_, err := m.Scrape(context.Background())

	require.Error(t, err)
	var scrapeErr *ScrapeError
	require.True(t, errors.As(err, &scrapeErr))
	assert.Equal(t, "all", scrapeErr.Source)
}

func TestManager__Scrape__No_Sources(t *testing.T) {
	_, err := NewManager(nil, logger.Nop()).Scrape(context.Background())
	assert.True(t, errors.Is(err, ErrSourceUnreachable))
}

func TestManager__Scrape__Invalid_Records_Dropped(t *testing.T) {
	noName := validEvent("x1")
	noName.Name = nil
	noDate := validEvent("x2")
	noDate.StartDate = time.Time{}
	noId := validEvent("")
	badRange := validEvent("x3")
	end := event.NewDate(2024, 4, 1)
	badRange.EndDate = &end

	m := NewManager(nil, logger.Nop(), fakeSource{name: "a", events: []event.Event{
		noName, noDate, noId, badRange, validEvent("ok"),
	}})

	events, err := m.Scrape(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, len(events))
	assert.Equal(t, "ok", events[0].Id)
}

func TestScrapeError__Kinds(t *testing.T) {
	err := errors.Wrap(Unreachable("rss", errors.New("503")), "fetch")

	assert.True(t, errors.Is(err, ErrSourceUnreachable))
	assert.False(t, errors.Is(err, ErrParseFailure))
	assert.True(t, errors.Is(ParseFailure("rss", errors.New("x")), ErrParseFailure))
}
