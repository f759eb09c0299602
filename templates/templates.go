package templates

import _ "embed"

var (
	//go:embed resource/hello.txt
	Hello string
	//go:embed resource/subscribed.txt
	Subscribed string
	//go:embed resource/unsubscribed.txt
	Unsubscribed string
	//go:embed resource/unsubscribedAll.txt
	UnsubscribedAll string
	//go:embed resource/topics.txt
	Topics string
	//go:embed resource/noSubscriptions.txt
	NoSubscriptions string
	//go:embed resource/emptySubscribe.txt
	EmptySubscribe string
	//go:embed resource/emptyUnsubscribe.txt
	EmptyUnsubscribe string
	//go:embed resource/scrapeStarted.txt
	ScrapeStarted string
	//go:embed resource/scrapeRunning.txt
	ScrapeRunning string
	//go:embed resource/notAllowed.txt
	NotAllowed string
	//go:embed resource/unexpectedError.txt
	UnexpectedError string
	//go:embed resource/description.txt
	Description string
	//go:embed resource/heartbeat.txt
	Heartbeat string
)

const (
	PresenceScraping  = "Scraping the web..."
	PresenceListening = "Internet"
)
