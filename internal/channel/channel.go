// Package channel is the at-least-once message channel between the gather and
// consume jobs. A topic carries opaque byte payloads; publishing yields a
// Future for the broker-assigned id and every delivery must be acked or
// nacked by the receiver.
package channel

import (
	"context"
)

type MessageID string

// Future resolves once the broker has accepted (or refused) a message.
type Future interface {
	Result(ctx context.Context) (MessageID, error)
}

type Publisher interface {
	// Publish hands data to the channel without waiting for the broker. A
	// non-nil error means the message was never submitted.
	Publish(ctx context.Context, data []byte) (Future, error)
}

type Delivery interface {
	ID() string
	Data() []byte
	Ack() error
	Nak() error
}

// Handler may be invoked from several goroutines at once.
type Handler func(Delivery)

type Subscription interface {
	// Unsubscribe stops deliveries and waits for running handlers to return.
	Unsubscribe() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}

// Topic is one subject/queue, usable from either side.
type Topic interface {
	Publisher
	Subscriber
}

// resolved is a Future whose outcome is known at publish time.
type resolved struct {
	id  MessageID
	err error
}

func (r resolved) Result(context.Context) (MessageID, error) { return r.id, r.err }
