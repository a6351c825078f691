package stream

import (
	"context"

	"main/internal/model"
)

// Subscription is a handle to one live venue stream.
type Subscription interface {
	Close() error
}

// Provider establishes venue subscriptions. Messages are delivered
// asynchronously on a provider-owned goroutine; any client matching this
// shape is substitutable, which is how tests inject scripted providers.
type Provider interface {
	Subscribe(ctx context.Context, stream string, onMessage func(model.StreamMessage)) (Subscription, error)
}
