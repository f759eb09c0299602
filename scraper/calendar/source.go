package calendar

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	calendarApi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/scraper"
	"event-notifier-bot/timezone"
)

const (
	// Calendar API maximum
	pageSize     = 2500
	listTimeout  = time.Minute
	statusOnline = "online"
)

type Calendar struct {
	Name       string `mapstructure:"name"`
	CalendarId string `mapstructure:"calendar_id"`
	Topic      string `mapstructure:"topic"`
	Source     string `mapstructure:"source"`
}

type Source struct {
	calendar Calendar
	api      *calendarApi.Service
	zones    *timezone.Cache
	window   time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// New lists events of a public calendar from now until now+window.
func New(ctx context.Context, c Calendar, apiKey string, window time.Duration, zones *timezone.Cache, log *logger.Logger, opts ...option.ClientOption) (*Source, error) {
	if len(apiKey) > 0 {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	service, err := calendarApi.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create calendar service")
	}
	return &Source{
		calendar: c,
		api:      service,
		zones:    zones,
		window:   window,
		now:      time.Now,
		log:      log.WithSource(c.Name),
	}, nil
}

func (s *Source) Name() string {
	return s.calendar.Name
}

func (s *Source) Fetch(ctx context.Context) ([]event.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	now := s.now()
	var events []event.Event
	err := s.api.Events.List(s.calendar.CalendarId).
		Context(ctx).
		SingleEvents(true).
		ShowDeleted(true).
		OrderBy("startTime").
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.Add(s.window).Format(time.RFC3339)).
		MaxResults(pageSize).
		Pages(ctx, func(page *calendarApi.Events) error {
			location := s.zones.GetOr(page.TimeZone, time.UTC)
			for _, item := range page.Items {
				e, ok := s.toEvent(item, location)
				if !ok {
					s.log.Debug().Str("id", item.Id).Msg("calendar item without start skipped")
					continue
				}
				events = append(events, e)
			}
			return nil
		})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
			return nil, scraper.ParseFailure(s.calendar.Name, err)
		}
		return nil, scraper.Unreachable(s.calendar.Name, err)
	}
	return events, nil
}

func (s *Source) toEvent(item *calendarApi.Event, location *time.Location) (event.Event, bool) {
	if item.Start == nil {
		return event.Event{}, false
	}
	e := event.Event{
		Id:       item.Id,
		Topic:    s.calendar.Topic,
		Source:   s.calendar.Source,
		Location: strings.TrimSpace(item.Location),
		Status:   item.Status,
	}
	if summary := strings.TrimSpace(item.Summary); len(summary) > 0 {
		e.Name = &summary
	}
	if description := strings.TrimSpace(item.Description); len(description) > 0 {
		e.Description = &description
	}
	if len(item.HtmlLink) > 0 {
		link := item.HtmlLink
		e.URL = &link
	}
	if len(e.Location) == 0 && len(item.HangoutLink) > 0 {
		e.Status = statusOnline
		link := item.HangoutLink
		e.URL = &link
	}

	start, startTime, ok := s.dateTime(item.Start, location)
	if !ok {
		return event.Event{}, false
	}
	e.StartDate, e.StartTime = start, startTime
	if item.End != nil {
		end, endTime, ok := s.dateTime(item.End, location)
		if ok && endTime == nil {
			// all-day end dates are exclusive
			end = end.AddDate(0, 0, -1)
		}
		if ok && end.After(start) {
			e.EndDate = &end
		}
		if ok {
			e.EndTime = endTime
		}
	}
	return e, true
}

func (s *Source) dateTime(dt *calendarApi.EventDateTime, location *time.Location) (time.Time, *event.TimeOfDay, bool) {
	if len(dt.DateTime) > 0 {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, nil, false
		}
		if len(dt.TimeZone) > 0 {
			location = s.zones.GetOr(dt.TimeZone, location)
		}
		t = t.In(location)
		tod := event.NewTimeOfDay(t.Hour(), t.Minute())
		return event.Date(t), &tod, true
	}
	if len(dt.Date) > 0 {
		d, err := event.ParseDate(dt.Date)
		if err != nil {
			return time.Time{}, nil, false
		}
		return d, nil, true
	}
	return time.Time{}, nil, false
}
