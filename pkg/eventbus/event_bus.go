// Package eventbus carries action execution notifications between nodes of a cluster.
package eventbus

import (
	"context"
	"io"

	"github.com/dukex/actiond/pkg/events"
)

// Event is anything the bus can route by type.
type Event interface {
	GetType() events.EventType
}

// EventPublisher sends event under key. Events sharing a key keep their order
// on ordered transports.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler receives the decoded event, a pointer to its concrete type.
type EventHandler func(ctx context.Context, event any) error

// EventSubscriber registers handlers, then starts consuming. Handlers added
// after Subscribe are still honoured.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	io.Closer
}
