package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"gigstream/pkg/interfaces"
	"gigstream/pkg/types"
)

// Delivery reports how many live connections accepted a notification.
// Zero is a normal outcome: the user is simply not connected.
type Delivery struct {
	Recipients int `json:"recipients"`
}

// Publisher validates marketplace events and hands them to the dispatcher
// ARCHITECTURAL DISCOVERY: Pure validation + delegation; the registry owns fan-out
// and failure handling, so publishers never see transport errors
type Publisher struct {
	dispatcher interfaces.Dispatcher
	logger     zerolog.Logger
}

// NewPublisher creates a publisher over dispatcher
func NewPublisher(dispatcher interfaces.Dispatcher, logger zerolog.Logger) (*Publisher, error) {
	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}
	return &Publisher{
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Publish validates n and pushes it to every connection of n.UserID.
// Only validation and encoding problems are returned. The payload is marshalled
// once here; the dispatcher receives the encoded bytes.
func (p *Publisher) Publish(ctx context.Context, n types.Notification) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}
	payload, err := n.Encode()
	if err != nil {
		return Delivery{}, err
	}

	recipients, err := p.dispatcher.Dispatch(n.UserID, n.Event, payload)
	if err != nil {
		return Delivery{}, fmt.Errorf("failed to dispatch %s: %w", n.Event, err)
	}

	p.logger.Debug().
		Str("user", n.UserID).
		Str("event", n.Event).
		Int("recipients", recipients).
		Msg("notification published")

	return Delivery{Recipients: recipients}, nil
}

// JobStatusPayload is the body of job.status_changed
type JobStatusPayload struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// BidPayload is the body of bid.placed and bid.updated
type BidPayload struct {
	JobID  string `json:"jobId"`
	BidID  string `json:"bidId"`
	Status string `json:"status,omitempty"`
}

// MessagePayload is the body of message.created
type MessagePayload struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// JobStatusChanged notifies a job's owner or assignee of a status transition
func (p *Publisher) JobStatusChanged(ctx context.Context, userID, jobID, status string) (Delivery, error) {
	return p.Publish(ctx, types.Notification{
		UserID:  userID,
		Event:   types.EventJobStatusChanged,
		Payload: JobStatusPayload{JobID: jobID, Status: status},
	})
}

// BidPlaced notifies a job poster that a worker bid on their job
func (p *Publisher) BidPlaced(ctx context.Context, posterID, jobID, bidID string) (Delivery, error) {
	return p.Publish(ctx, types.Notification{
		UserID:  posterID,
		Event:   types.EventBidPlaced,
		Payload: BidPayload{JobID: jobID, BidID: bidID},
	})
}

// MessageCreated notifies a recipient of a new chat message
func (p *Publisher) MessageCreated(ctx context.Context, recipientID, threadID, messageID, senderID string) (Delivery, error) {
	return p.Publish(ctx, types.Notification{
		UserID:  recipientID,
		Event:   types.EventMessageCreated,
		Payload: MessagePayload{ThreadID: threadID, MessageID: messageID, SenderID: senderID},
	})
}
