// Package platform is the boundary between the bot and a chat service.
package platform

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"event-notifier-bot/render"
)

var (
	ErrPlatformRejected = errors.New("platform rejected the request")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
)

// DispatchError is a classified failure of a single platform call.
type DispatchError struct {
	Op        string
	ChannelId int64
	Kind      error
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%v in channel %v: %v: %v", e.Op, e.ChannelId, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func (e *DispatchError) Is(target error) bool {
	return target == e.Kind
}

func NewDispatchError(op string, channelId int64, kind error, err error) *DispatchError {
	return &DispatchError{Op: op, ChannelId: channelId, Kind: kind, Err: err}
}

// HistoryEntry is a message read back from a channel, newest first.
type HistoryEntry struct {
	MessageId    string
	AuthorIsSelf bool
	Content      string
}

type ActivityKind int

const (
	Playing ActivityKind = iota
	Listening
)

type Presence struct {
	Status   string
	Activity string
	Kind     ActivityKind
}

type Platform interface {
	Send(ctx context.Context, channelId int64, message render.Message) (string, error)
	Edit(ctx context.Context, channelId int64, messageId string, message render.Message) error
	History(ctx context.Context, channelId int64, limit int) ([]HistoryEntry, error)
	SetPresence(ctx context.Context, presence Presence) error
}

// Command is a chat command addressed to the bot, e.g. ".subscribe music food".
type Command struct {
	Name      string
	ChannelId int64
	UserId    int64
	// Admin is set when the platform reports administrator rights for the user in the channel.
	Admin bool
	Args  []string
}

// CommandHandler returns the reply to post in the command's channel; empty means no reply.
type CommandHandler func(ctx context.Context, command Command) string
