package render

import (
	"fmt"
	"net/url"
	"regexp"

	"event-notifier-bot/event"
)

// Marker format: ev:<query escaped id>@<YYYY-MM-DD>. The escaped id never contains '@' or spaces.
var markerPattern = regexp.MustCompile(`ev:([^\s@` + "`" + `]+)@(\d{4}-\d{2}-\d{2})`)

const (
	markerIdIndex   = 1
	markerDateIndex = 2
)

func Marker(id event.Identity) string {
	return fmt.Sprintf("ev:%v@%v", url.QueryEscape(id.Id), event.FormatDate(id.StartDate))
}

// ParseMarker reads the last identity marker in text. Rendered content ends with the marker, so
// marker-like text in a title never shadows it.
func ParseMarker(text string) (event.Identity, bool) {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return event.Identity{}, false
	}
	submatch := matches[len(matches)-1]
	id, err := url.QueryUnescape(submatch[markerIdIndex])
	if err != nil {
		return event.Identity{}, false
	}
	date, err := event.ParseDate(submatch[markerDateIndex])
	if err != nil {
		return event.Identity{}, false
	}
	return event.Identity{Id: id, StartDate: date}, true
}
