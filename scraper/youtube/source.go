package youtube

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/api/option"
	ytApi "google.golang.org/api/youtube/v3"

	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/scraper"
)

const (
	searchTimeout = time.Second * 5
	// YouTube API maximum
	searchMaxResults  = 50
	liveEventType     = "live"
	upcomingEventType = "upcoming"
	videoType         = "video"
	videoURLFormat    = "https://youtube.com/watch?v=%v"
	statusOnline      = "online"
)

var (
	snippetPart        = []string{"snippet"}
	streamDetailsParts = []string{"snippet", "liveStreamingDetails"}
)

type Channel struct {
	Id    string `mapstructure:"id"`
	Topic string `mapstructure:"topic"`
}

type Config struct {
	Name     string    `mapstructure:"name"`
	APIKey   string    `mapstructure:"api_key"`
	Channels []Channel `mapstructure:"channels"`
	Source   string    `mapstructure:"source"`
}

// Source lists live and upcoming streams of channels as online events.
type Source struct {
	config   Config
	yt       *ytApi.Service
	location *time.Location
	log      *logger.Logger
}

func New(ctx context.Context, config Config, location *time.Location, log *logger.Logger, opts ...option.ClientOption) (*Source, error) {
	if len(config.APIKey) > 0 {
		opts = append(opts, option.WithAPIKey(config.APIKey))
	}
	service, err := ytApi.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create youtube service")
	}
	if location == nil {
		location = time.UTC
	}
	return &Source{config: config, yt: service, location: location, log: log.WithSource(config.Name)}, nil
}

func (s *Source) Name() string {
	return s.config.Name
}

// Fetch fails only when every channel failed.
func (s *Source) Fetch(ctx context.Context) ([]event.Event, error) {
	var (
		events  []event.Event
		lastErr error
		failed  int
	)
	for _, channel := range s.config.Channels {
		streams, err := s.channelStreams(ctx, channel)
		if err != nil {
			failed++
			lastErr = err
			s.log.Error().Err(err).Str("channel", channel.Id).Msg("unable to search streams")
			continue
		}
		events = append(events, streams...)
	}
	if failed > 0 && failed == len(s.config.Channels) {
		return nil, scraper.Unreachable(s.config.Name, lastErr)
	}
	return events, nil
}

func (s *Source) channelStreams(ctx context.Context, channel Channel) ([]event.Event, error) {
	var ids []string
	for _, eventType := range []string{liveEventType, upcomingEventType} {
		response, err := s.searchVideos(ctx, channel.Id, eventType)
		if err != nil {
			return nil, errors.Wrapf(err, "error during search for %v streams", eventType)
		}
		for _, item := range response.Items {
			if item.Id != nil && len(item.Id.VideoId) > 0 {
				ids = append(ids, item.Id.VideoId)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	videos, err := s.getVideos(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "error during search for stream details")
	}
	events := make([]event.Event, 0, len(videos))
	for _, video := range videos {
		e, err := s.toEvent(video, channel)
		if err != nil {
			s.log.Warn().Err(err).Str("video", video.Id).Msg("stream skipped")
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *Source) searchVideos(ctx context.Context, channelId string, eventType string) (*ytApi.SearchListResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	return s.yt.Search.
		List(snippetPart).
		Context(ctx).
		ChannelId(channelId).
		EventType(eventType).
		Type(videoType).
		MaxResults(searchMaxResults).
		Do()
}

func (s *Source) getVideos(ctx context.Context, ids []string) ([]*ytApi.Video, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	response, err := s.yt.Videos.List(streamDetailsParts).Context(ctx).Id(ids...).Do()
	if err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (s *Source) toEvent(video *ytApi.Video, channel Channel) (event.Event, error) {
	if video.Snippet == nil || video.LiveStreamingDetails == nil {
		return event.Event{}, errors.New("video is not a stream")
	}
	startText := video.LiveStreamingDetails.ScheduledStartTime
	if len(video.LiveStreamingDetails.ActualStartTime) > 0 {
		startText = video.LiveStreamingDetails.ActualStartTime
	}
	start, err := time.Parse(time.RFC3339Nano, startText)
	if err != nil {
		return event.Event{}, errors.Wrapf(err, "unable to parse time %v", startText)
	}
	start = start.In(s.location)
	startTime := event.NewTimeOfDay(start.Hour(), start.Minute())
	title := strings.TrimSpace(video.Snippet.Title)
	link := fmt.Sprintf(videoURLFormat, video.Id)
	e := event.Event{
		Id:        video.Id,
		StartDate: event.Date(start),
		StartTime: &startTime,
		Name:      &title,
		URL:       &link,
		Status:    statusOnline,
		Topic:     channel.Topic,
		Source:    s.config.Source,
	}
	if description := strings.TrimSpace(video.Snippet.Description); len(description) > 0 {
		e.Description = &description
	}
	if channelTitle := video.Snippet.ChannelTitle; len(channelTitle) > 0 {
		e.Other = &channelTitle
	}
	if thumbnails := video.Snippet.Thumbnails; thumbnails != nil && thumbnails.High != nil {
		image := thumbnails.High.Url
		e.ImageURL = &image
	}
	if end := video.LiveStreamingDetails.ScheduledEndTime; len(end) > 0 {
		endAt, err := time.Parse(time.RFC3339Nano, end)
		if err == nil {
			endAt = endAt.In(s.location)
			endTime := event.NewTimeOfDay(endAt.Hour(), endAt.Minute())
			e.EndTime = &endTime
			if endDate := event.Date(endAt); endDate.After(e.StartDate) {
				e.EndDate = &endDate
			}
		}
	}
	return e, nil
}
