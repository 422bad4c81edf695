// Package dispatch delivers new items to a subscriber, one at a time,
// through the outbound rate limiter.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"advert_bot/internal/model"
)

// ErrPermanent marks a delivery error after which the recipient can never
// be reached again (for example, the bot was blocked).
var ErrPermanent = errors.New("recipient unreachable")

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Sender is the chat platform client.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error
}

// Limiter gates each outbound send.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Remover drops subscribers that can no longer be reached.
type Remover interface {
	RemoveSubscriber(key int64) bool
}

// Message is a rendered item. A non-empty PhotoURL sends a photo with
// Text as its caption.
type Message struct {
	Text     string
	PhotoURL string
}

// Render turns an item into a chat message.
type Render func(model.Item) Message

// Status is the result of delivering one item.
type Status string

// Delivery statuses.
const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome reports what happened to one item.
type Outcome struct {
	ItemID string
	Status Status
	Err    error
}

// Dispatcher sends items to subscribers.
type Dispatcher struct {
	sender  Sender
	limiter Limiter
	remover Remover
	render  Render
	log     *slog.Logger

	mu    sync.Mutex
	tails map[int64]chan struct{}
}

// DeliverFunc delivers items through a reserved position in one
// subscriber's queue. It must be called exactly once.
type DeliverFunc func(ctx context.Context, items []model.Item) []Outcome

// New creates a Dispatcher.
func New(sender Sender, limiter Limiter, remover Remover, render Render, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		limiter: limiter,
		remover: remover,
		render:  render,
		log:     log,
		tails:   make(map[int64]chan struct{}),
	}
}

// Deliver sends items to key in order and returns one outcome per item.
// It is shorthand for Reserve(key) followed by the call.
func (d *Dispatcher) Deliver(ctx context.Context, key int64, items []model.Item) []Outcome {
	return d.Reserve(key)(ctx, items)
}

// Reserve takes the next position in key's delivery queue. Deliveries to
// one key run one at a time, in the order their positions were reserved,
// no matter when the returned funcs are called. A permanent failure
// removes the subscriber and skips the remaining items; a transient
// failure only marks the item failed.
func (d *Dispatcher) Reserve(key int64) DeliverFunc {
	d.mu.Lock()
	prev := d.tails[key]
	done := make(chan struct{})
	d.tails[key] = done
	d.mu.Unlock()

	return func(ctx context.Context, items []model.Item) []Outcome {
		defer d.release(key, done)
		if prev != nil {
			<-prev
		}
		return d.deliver(ctx, key, items)
	}
}

// Queued returns the number of subscribers with a pending or running
// delivery.
func (d *Dispatcher) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tails)
}

func (d *Dispatcher) release(key int64, done chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	close(done)
	if d.tails[key] == done {
		delete(d.tails, key)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, key int64, items []model.Item) []Outcome {
	out := make([]Outcome, 0, len(items))
	for i, item := range items {
		if err := d.limiter.Acquire(ctx); err != nil {
			return skipRest(out, items[i:], err)
		}

		err := d.send(ctx, key, item)
		switch {
		case err == nil:
			out = append(out, Outcome{ItemID: item.ID, Status: StatusSent})
		case IsPermanent(err):
			out = append(out, Outcome{ItemID: item.ID, Status: StatusFailed, Err: err})
			if d.remover.RemoveSubscriber(key) {
				d.log.Info("removed unreachable subscriber", "chat_id", key, "error", err)
			}
			return skipRest(out, items[i+1:], err)
		default:
			d.log.Warn("send item", "chat_id", key, "item_id", item.ID, "error", err)
			out = append(out, Outcome{ItemID: item.ID, Status: StatusFailed, Err: err})
		}
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, key int64, item model.Item) error {
	msg := d.render(item)
	if msg.PhotoURL != "" {
		return d.sender.SendPhoto(ctx, key, msg.PhotoURL, msg.Text)
	}
	return d.sender.SendText(ctx, key, msg.Text)
}

func skipRest(out []Outcome, rest []model.Item, err error) []Outcome {
	for _, item := range rest {
		out = append(out, Outcome{ItemID: item.ID, Status: StatusSkipped, Err: err})
	}
	return out
}

// Count returns how many outcomes have the given status.
func Count(outcomes []Outcome, s Status) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}
