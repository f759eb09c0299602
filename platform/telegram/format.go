package telegram

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"event-notifier-bot/render"
)

var (
	linkPattern      = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	emphasisPattern  = regexp.MustCompile(`\*{2,3}([^*]+)\*{2,3}`)
	codeBlockPattern = regexp.MustCompile("(?s)```(.*?)```")
	codePattern      = regexp.MustCompile("`([^`]+)`")
	emojiCodes       = strings.NewReplacer(
		":date:", "📅",
		":clock10:", "🕙",
		":coin:", "🪙",
		":round_pushpin:", "📍",
	)
)

// formatHTML converts the Discord flavoured markdown of a rendered message to Telegram HTML.
func formatHTML(message render.Message) string {
	lines := []string{markdownToHTML(message.Content)}
	if e := message.Embed; e != nil {
		if len(e.Description) > 0 {
			lines = append(lines, markdownToHTML(e.Description))
		}
		for _, f := range e.Fields {
			lines = append(lines, markdownToHTML(f.Value))
		}
		if e.Footer != nil && len(e.Footer.Text) > 0 {
			lines = append(lines, fmt.Sprintf("<i>%v</i>", html.EscapeString(e.Footer.Text)))
		}
	}
	return strings.Join(lines, "\n")
}

func markdownToHTML(text string) string {
	text = html.EscapeString(emojiCodes.Replace(text))
	text = codeBlockPattern.ReplaceAllString(text, "<pre>$1</pre>")
	text = codePattern.ReplaceAllString(text, "<code>$1</code>")
	text = emphasisPattern.ReplaceAllString(text, "<b>$1</b>")
	return linkPattern.ReplaceAllString(text, `<a href="$2">$1</a>`)
}
