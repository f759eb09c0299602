package event

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

type Event struct {
	Id          string
	StartDate   time.Time
	EndDate     *time.Time
	DateFuzzy   *string
	StartTime   *TimeOfDay
	EndTime     *TimeOfDay
	Name        *string
	Description *string
	URL         *string
	ImageURL    *string
	Location    string
	Cost        string
	Status      string
	Other       *string
	Topic       string
	Source      string
	AddedAt     time.Time
}

// Identity is the (id, start date) pair. Two events are the same event only if both match.
type Identity struct {
	Id        string
	StartDate time.Time
}

func (i Identity) String() string {
	return fmt.Sprintf("%v@%v", i.Id, i.StartDate.Format(dateLayout))
}

// Less orders identities by start date first, then by id.
func (i Identity) Less(other Identity) bool {
	if !i.StartDate.Equal(other.StartDate) {
		return i.StartDate.Before(other.StartDate)
	}
	return i.Id < other.Id
}

func (e Event) Identity() Identity {
	return Identity{Id: e.Id, StartDate: Date(e.StartDate)}
}

func (e Event) Title() string {
	if e.Name == nil {
		return ""
	}
	return *e.Name
}

func (e Event) IsCancelled() bool {
	return IsCancelledStatus(e.Status)
}

func (e Event) IsOnline() bool {
	return strings.EqualFold(strings.TrimSpace(e.Status), "online")
}

// LastDate is the end date, or the start date for single day events.
func (e Event) LastDate() time.Time {
	if e.EndDate != nil {
		return Date(*e.EndDate)
	}
	return Date(e.StartDate)
}

// DateRange formats the event dates for display.
func (e Event) DateRange() string {
	if e.DateFuzzy != nil && len(*e.DateFuzzy) > 0 {
		return *e.DateFuzzy
	}
	start := e.StartDate.Format(dateLayout)
	if e.EndDate == nil || Date(*e.EndDate).Equal(Date(e.StartDate)) {
		return start
	}
	return fmt.Sprintf("%v ~ %v", start, e.EndDate.Format(dateLayout))
}

// TimeRange formats the event times for display.
func (e Event) TimeRange() string {
	switch {
	case e.StartTime != nil && e.EndTime != nil:
		return fmt.Sprintf("%v ~ %v", e.StartTime.Short(), e.EndTime.Short())
	case e.StartTime != nil:
		return fmt.Sprintf("%v ~", e.StartTime.Short())
	case e.EndTime != nil:
		return fmt.Sprintf("~ %v", e.EndTime.Short())
	default:
		return "---"
	}
}

// Locations splits the comma separated location list.
func (e Event) Locations() []string {
	var locations []string
	for _, l := range strings.Split(e.Location, ",") {
		l = strings.TrimSpace(l)
		if len(l) > 0 {
			locations = append(locations, l)
		}
	}
	return locations
}

// IsCancelledStatus reports whether a free-form status means the event will not take place.
func IsCancelledStatus(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	return strings.HasPrefix(s, "cancel") || s == "called off"
}

// Date truncates t to its calendar date, keeping the day as seen in t's location.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func ParseDate(value string) (time.Time, error) {
	return time.Parse(dateLayout, value)
}

func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// Query selects events by start/end date window and, when Topics is not empty, by topic.
type Query struct {
	Topics []string
	From   time.Time
	Until  time.Time
}

type Subscription struct {
	ChannelId int64
	Topics    []string
}

func StringPtr(s string) *string {
	return &s
}
