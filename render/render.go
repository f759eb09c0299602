package render

import (
	"fmt"
	"net/url"
	"strings"

	"event-notifier-bot/event"
	"event-notifier-bot/templates"
)

const (
	eventColor     = 0xd69d37
	cancelledColor = 0x99aab5
	blankFieldName = "\u200b"
	mapsSearchURL  = "https://www.google.com/maps/search/?api=1&query=%v"
)

type Branding struct {
	Footer    string
	Icon      string
	Thumbnail string
}

// DefaultBrandings are the footers of the sources scraped by default.
var DefaultBrandings = map[string]Branding{
	"Web:TokyoCheapo": {
		Footer:    "TOKYO CHEAPO",
		Icon:      "https://community.tokyocheapo.com/uploads/db1536/original/1X/91a0a0ee35d00aaa338a0415496d40f3a5cb298e.png",
		Thumbnail: "https://cdn.cheapoguides.com/wp-content/themes/cheapo_theme/assets/img/logos/tokyocheapo/logo.png",
	},
	"Web:JapanCheapo": {
		Footer:    "JAPAN CHEAPO",
		Icon:      "https://pbs.twimg.com/profile_images/1199468429553455104/GdCZbc-R_400x400.png",
		Thumbnail: "https://cdn.cheapoguides.com/wp-content/themes/cheapo_theme/assets/img/logos/japancheapo/logo.png",
	},
}

type Renderer struct {
	author    Author
	brandings map[string]Branding
}

func NewRenderer(author Author, brandings map[string]Branding) *Renderer {
	merged := make(map[string]Branding, len(DefaultBrandings)+len(brandings))
	for source, b := range DefaultBrandings {
		merged[source] = b
	}
	for source, b := range brandings {
		merged[source] = b
	}
	return &Renderer{author: author, brandings: merged}
}

// Render is deterministic: the same event always renders to the same message.
func (r *Renderer) Render(e event.Event) Message {
	title := e.Title()
	color := eventColor
	if e.IsCancelled() {
		title = "CANCELLED: " + title
		color = cancelledColor
	}
	embed := &Embed{
		Title:     title,
		Color:     color,
		Timestamp: e.AddedAt,
	}
	if e.URL != nil {
		embed.URL = *e.URL
	}
	embed.Description = r.description(e)
	if e.ImageURL != nil {
		embed.ImageURL = *e.ImageURL
	}
	if len(r.author.Name) > 0 {
		author := r.author
		embed.Author = &author
	}
	if b, ok := r.brandings[e.Source]; ok {
		embed.Footer = &Footer{Text: b.Footer, IconURL: b.Icon}
		embed.ThumbnailURL = b.Thumbnail
	} else if len(e.Source) > 0 {
		embed.Footer = &Footer{Text: e.Source}
	}
	embed.Fields = []Field{
		{Name: blankFieldName, Value: fmt.Sprintf(":date: ***%v***", e.DateRange()), Inline: true},
		{Name: blankFieldName, Value: fmt.Sprintf(":clock10: ***%v***", e.TimeRange()), Inline: true},
		{Name: blankFieldName, Value: fmt.Sprintf(":coin: ***%v***", orDash(e.Cost)), Inline: true},
		{Name: blankFieldName, Value: fmt.Sprintf(":round_pushpin: ***%v***", locationLinks(e)), Inline: true},
	}
	return Message{
		Content: fmt.Sprintf("***%v*** `%v`", title, Marker(e.Identity())),
		Embed:   embed,
	}
}

func (r *Renderer) description(e event.Event) string {
	var description string
	if e.Description != nil {
		description = strings.TrimSpace(*e.Description)
	}
	if e.URL == nil {
		if len(description) == 0 {
			return ""
		}
		return fmt.Sprintf("```%v```", description)
	}
	return fmt.Sprintf(templates.Description, description, *e.URL)
}

func locationLinks(e event.Event) string {
	var links []string
	if e.IsOnline() && e.URL != nil {
		links = append(links, fmt.Sprintf("[ONLINE](%v)", *e.URL))
	}
	for _, location := range e.Locations() {
		link := fmt.Sprintf(mapsSearchURL, url.QueryEscape(location))
		links = append(links, fmt.Sprintf("[%v](%v)", location, link))
	}
	if len(links) == 0 {
		return "---"
	}
	return strings.Join(links, ", ")
}

func orDash(s string) string {
	if len(strings.TrimSpace(s)) == 0 {
		return "---"
	}
	return s
}
