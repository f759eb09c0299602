// Package render turns events into platform neutral messages. The message content carries an
// identity marker so that already posted events can be recognised in channel history.
package render

import "time"

type Message struct {
	Content string
	Embed   *Embed
}

type Embed struct {
	Title        string
	URL          string
	Description  string
	Color        int
	Timestamp    time.Time
	ImageURL     string
	ThumbnailURL string
	Author       *Author
	Footer       *Footer
	Fields       []Field
}

type Author struct {
	Name    string
	URL     string
	IconURL string
}

type Footer struct {
	Text    string
	IconURL string
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}
