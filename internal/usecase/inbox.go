package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/metrics"
	"LeadScanner/internal/ports"
)

// InboxDeps wires an Inbox.
type InboxDeps struct {
	Source        ports.MessageSource
	Bridge        ports.ProcessSupervisor
	Pipeline      *Pipeline
	Conversations ports.ConversationStore
	Channel       Channel
	Limit         int
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Inbox pulls inbound direct messages and answers them through the pipeline,
// keeping one conversation per thread up to date.
type Inbox struct {
	deps InboxDeps
}

// NewInbox fills in the message composer so replies carry conversation history.
func NewInbox(deps InboxDeps) *Inbox {
	if deps.Limit <= 0 {
		deps.Limit = 10
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	deps.Channel.Platform = domain.PlatformWhatsApp
	return &Inbox{deps: deps}
}

// Poll handles one batch of messages and returns how many were answered.
func (i *Inbox) Poll(ctx context.Context) (int, error) {
	if i.deps.Bridge != nil {
		if err := i.deps.Bridge.EnsureRunning(ctx); err != nil {
			i.deps.Metrics.RecordInboxPoll(err)
			return 0, fmt.Errorf("bridge: %w", err)
		}
	}
	messages, err := i.deps.Source.Messages(ctx, i.deps.Limit)
	i.deps.Metrics.RecordInboxPoll(err)
	if err != nil {
		return 0, fmt.Errorf("fetch messages: %w", err)
	}

	var (
		replied int
		errs    []error
	)
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		ok, err := i.handle(ctx, msg)
		if err != nil {
			errs = append(errs, err)
			i.deps.Logger.Error("message failed", "thread", msg.Handle, "error", err)
			continue
		}
		if ok {
			replied++
		}
	}
	return replied, errors.Join(errs...)
}

func (i *Inbox) handle(ctx context.Context, msg domain.RawItem) (bool, error) {
	thread := msg.Handle
	history := ""
	conv, err := i.deps.Conversations.Conversation(ctx, domain.PlatformWhatsApp, thread)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		conv = domain.Conversation{Platform: domain.PlatformWhatsApp, ThreadRef: thread, LeadID: msg.Fingerprint()}
	case err != nil:
		return false, err
	default:
		history = conv.LastMessage
	}

	ch := i.deps.Channel
	ch.Compose = func(ctx context.Context, replier ports.Replier, item domain.RawItem) string {
		return replier.ReplyForMessage(ctx, item.Text, history)
	}

	res, err := i.deps.Pipeline.Process(ctx, msg, ch)
	if err != nil {
		return false, err
	}
	if res.Outcome == domain.OutcomeSkipped {
		return false, nil
	}

	// New inbound traffic reopens a closed thread.
	conv.Status = domain.ConversationActive
	conv.LastMessage = msg.Text
	conv.UpdatedAt = res.Item.CreatedAt
	if res.Outcome == domain.OutcomeReplied {
		conv.LastMessage = res.Reply
	}
	if err := i.deps.Conversations.SaveConversation(context.WithoutCancel(ctx), conv); err != nil {
		return false, err
	}
	return res.Outcome == domain.OutcomeReplied, nil
}
