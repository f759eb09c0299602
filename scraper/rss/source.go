package rss

import (
	"context"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/pkg/errors"

	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/scraper"
)

// Event module prefix, see http://web.resource.org/rss/1.0/modules/event/
const eventPrefix = "ev"

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

type Feed struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Topic    string `mapstructure:"topic"`
	Source   string `mapstructure:"source"`
	TimeZone string `mapstructure:"timezone"`
}

type Source struct {
	feed     Feed
	location *time.Location
	parser   *gofeed.Parser
	log      *logger.Logger
}

func New(feed Feed, location *time.Location, log *logger.Logger) *Source {
	if location == nil {
		location = time.UTC
	}
	return &Source{
		feed:     feed,
		location: location,
		parser:   gofeed.NewParser(),
		log:      log.WithSource(feed.Name),
	}
}

func (s *Source) Name() string {
	return s.feed.Name
}

func (s *Source) Fetch(ctx context.Context) ([]event.Event, error) {
	s.log.Debug().Str("url", s.feed.URL).Msg("fetching feed")
	feed, err := s.parser.ParseURLWithContext(s.feed.URL, ctx)
	if err != nil {
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, scraper.ParseFailure(s.feed.Name, err)
		}
		return nil, scraper.Unreachable(s.feed.Name, err)
	}
	events := make([]event.Event, 0, len(feed.Items))
	for _, item := range feed.Items {
		events = append(events, s.toEvent(item))
	}
	return events, nil
}

func (s *Source) toEvent(item *gofeed.Item) event.Event {
	e := event.Event{
		Id:     item.GUID,
		Topic:  s.feed.Topic,
		Source: s.feed.Source,
		Status: "scheduled",
	}
	if len(e.Id) == 0 {
		e.Id = item.Link
	}
	if title := strings.TrimSpace(item.Title); len(title) > 0 {
		e.Name = &title
	}
	if description := cleanText(item.Description); len(description) > 0 {
		e.Description = &description
	}
	if len(item.Link) > 0 {
		link := item.Link
		e.URL = &link
	}
	if image := imageURL(item); len(image) > 0 {
		e.ImageURL = &image
	}

	values := eventValues(item.Extensions)
	if start, ok := s.parseTimestamp(values["startdate"]); ok {
		e.StartDate = event.Date(start)
		e.StartTime = timeOfDay(start)
	} else if item.PublishedParsed != nil {
		e.StartDate = event.Date(item.PublishedParsed.In(s.location))
	}
	if end, ok := s.parseTimestamp(values["enddate"]); ok {
		endDate := event.Date(end)
		e.EndDate = &endDate
		e.EndTime = timeOfDay(end)
	}
	e.Location = values["location"]
	e.Cost = values["cost"]
	if status := values["status"]; len(status) > 0 {
		e.Status = status
	}
	if kind := values["type"]; len(kind) > 0 {
		e.Other = &kind
	}
	return e
}

func eventValues(extensions ext.Extensions) map[string]string {
	values := make(map[string]string)
	for name, list := range extensions[eventPrefix] {
		if len(list) > 0 {
			values[name] = strings.TrimSpace(list[0].Value)
		}
	}
	return values
}

// parseTimestamp reads a time in the feed location. Values without a zone are local to the feed.
func (s *Source) parseTimestamp(value string) (time.Time, bool) {
	if len(value) == 0 {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, value, s.location)
		if err == nil {
			return t.In(s.location), true
		}
	}
	return time.Time{}, false
}

func timeOfDay(t time.Time) *event.TimeOfDay {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return nil
	}
	tod := event.NewTimeOfDay(t.Hour(), t.Minute())
	return &tod
}

func imageURL(item *gofeed.Item) string {
	if item.Image != nil && len(item.Image.URL) > 0 {
		return item.Image.URL
	}
	for _, enclosure := range item.Enclosures {
		if strings.HasPrefix(enclosure.Type, "image/") {
			return enclosure.URL
		}
	}
	return ""
}

// cleanText removes HTML tags and extra whitespace
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "<br>", " ")
	text = strings.ReplaceAll(text, "<br/>", " ")
	text = strings.ReplaceAll(text, "<br />", " ")
	text = strings.ReplaceAll(text, "</p>", " ")
	var result strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(result.String()), " ")
}
