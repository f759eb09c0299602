package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/platform"
	"event-notifier-bot/scheduler"
	"event-notifier-bot/templates"
)

const (
	CommandStart       = "start"
	CommandHelp        = "help"
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"
	CommandTopics      = "topics"
	CommandScrape      = "scrape"
)

type Subscriptions interface {
	Subscribe(ctx context.Context, channelId int64, topics []string) ([]string, []string, error)
	Unsubscribe(ctx context.Context, channelId int64, topics []string) ([]string, error)
	UnsubscribeAll(ctx context.Context, channelId int64) error
	Topics(ctx context.Context, channelId int64) ([]string, error)
}

type Cycles interface {
	Trigger(ctx context.Context) error
}

// Service answers chat commands. Everything but help needs administrator rights in the channel or
// a user id from the admin list.
type Service struct {
	subs   Subscriptions
	cycles Cycles
	admins map[int64]struct{}
	log    *logger.Logger
}

func NewService(subs Subscriptions, cycles Cycles, admins []int64, log *logger.Logger) *Service {
	set := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		set[id] = struct{}{}
	}
	return &Service{
		subs:   subs,
		cycles: cycles,
		admins: set,
		log:    log.WithComponent("commands"),
	}
}

// Handle runs a command and returns the reply. Unknown commands get no reply.
func (s *Service) Handle(ctx context.Context, command platform.Command) string {
	var reply string
	var err error
	switch command.Name {
	case CommandStart, CommandHelp:
		reply = templates.Hello
	case CommandSubscribe:
		reply, err = s.Subscribe(ctx, command)
	case CommandUnsubscribe:
		reply, err = s.Unsubscribe(ctx, command)
	case CommandTopics:
		reply, err = s.Topics(ctx, command)
	case CommandScrape:
		reply, err = s.Scrape(ctx, command)
	default:
		return ""
	}
	if err != nil {
		s.log.Error().Err(err).Str("command", command.Name).Int64("channel_id", command.ChannelId).Msg("command failed")
		return templates.UnexpectedError
	}
	return reply
}

func (s *Service) allowed(command platform.Command) bool {
	if command.Admin {
		return true
	}
	_, ok := s.admins[command.UserId]
	return ok
}

func (s *Service) Subscribe(ctx context.Context, command platform.Command) (string, error) {
	if !s.allowed(command) {
		return templates.NotAllowed, nil
	}
	topics := event.NormalizeTopics(command.Args)
	if len(topics) == 0 {
		return templates.EmptySubscribe, nil
	}
	added, all, err := s.subs.Subscribe(ctx, command.ChannelId, topics)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(templates.Subscribed, joinTopics(added), joinTopics(all)), nil
}

// Unsubscribe removes the given topics, or the whole channel when the command has no arguments.
func (s *Service) Unsubscribe(ctx context.Context, command platform.Command) (string, error) {
	if !s.allowed(command) {
		return templates.NotAllowed, nil
	}
	if len(command.Args) == 0 {
		err := s.subs.UnsubscribeAll(ctx, command.ChannelId)
		if err != nil {
			return "", err
		}
		return templates.UnsubscribedAll, nil
	}
	topics := event.NormalizeTopics(command.Args)
	if len(topics) == 0 {
		return templates.EmptyUnsubscribe, nil
	}
	remaining, err := s.subs.Unsubscribe(ctx, command.ChannelId, topics)
	if err != nil {
		return "", err
	}
	if len(remaining) == 0 {
		return templates.UnsubscribedAll, nil
	}
	return fmt.Sprintf(templates.Unsubscribed, joinTopics(topics), joinTopics(remaining)), nil
}

func (s *Service) Topics(ctx context.Context, command platform.Command) (string, error) {
	if !s.allowed(command) {
		return templates.NotAllowed, nil
	}
	topics, err := s.subs.Topics(ctx, command.ChannelId)
	if err != nil {
		return "", err
	}
	if len(topics) == 0 {
		return templates.NoSubscriptions, nil
	}
	return fmt.Sprintf(templates.Topics, joinTopics(topics)), nil
}

func (s *Service) Scrape(ctx context.Context, command platform.Command) (string, error) {
	if !s.allowed(command) {
		return templates.NotAllowed, nil
	}
	err := s.cycles.Trigger(ctx)
	if errors.Is(err, scheduler.ErrCycleRunning) {
		return templates.ScrapeRunning, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "unable to start cycle")
	}
	return templates.ScrapeStarted, nil
}

func joinTopics(topics []string) string {
	return strings.Join(topics, ", ")
}
