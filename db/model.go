package db

import (
	"time"

	"github.com/uptrace/bun"

	"event-notifier-bot/event"
)

type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	Id          string           `bun:",pk"`
	StartDate   time.Time        `bun:",pk,type:date"`
	EndDate     *time.Time       `bun:",type:date"`
	DateFuzzy   *string          `bun:""`
	StartTime   *event.TimeOfDay `bun:",type:time"`
	EndTime     *event.TimeOfDay `bun:",type:time"`
	Name        string           `bun:",notnull"`
	Description *string          `bun:""`
	URL         *string          `bun:"url"`
	Img         *string          `bun:""`
	Location    string           `bun:""`
	Cost        string           `bun:""`
	Status      string           `bun:""`
	Other       *string          `bun:""`
	Topic       string           `bun:""`
	Source      string           `bun:""`
	DateAdded   time.Time        `bun:",nullzero,notnull,default:current_timestamp"`
}

type Channel struct {
	bun.BaseModel `bun:"table:channels,alias:c"`

	ChannelId int64    `bun:",pk"`
	Topics    []string `bun:",array"`
}

func fromEvent(e event.Event) Event {
	row := Event{
		Id:          e.Id,
		StartDate:   event.Date(e.StartDate),
		DateFuzzy:   e.DateFuzzy,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		Description: e.Description,
		URL:         e.URL,
		Img:         e.ImageURL,
		Location:    e.Location,
		Cost:        e.Cost,
		Status:      e.Status,
		Other:       e.Other,
		Topic:       e.Topic,
		Source:      e.Source,
	}
	if e.EndDate != nil {
		end := event.Date(*e.EndDate)
		row.EndDate = &end
	}
	if e.Name != nil {
		row.Name = *e.Name
	}
	return row
}

func (r Event) toEvent() event.Event {
	e := event.Event{
		Id:          r.Id,
		StartDate:   event.Date(r.StartDate),
		DateFuzzy:   r.DateFuzzy,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Name:        event.StringPtr(r.Name),
		Description: r.Description,
		URL:         r.URL,
		ImageURL:    r.Img,
		Location:    r.Location,
		Cost:        r.Cost,
		Status:      r.Status,
		Other:       r.Other,
		Topic:       r.Topic,
		Source:      r.Source,
		AddedAt:     r.DateAdded,
	}
	if r.EndDate != nil {
		end := event.Date(*r.EndDate)
		e.EndDate = &end
	}
	return e
}
