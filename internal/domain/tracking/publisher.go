package tracking

import (
	"context"

	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

// Publisher fans out proximity updates. Publish must not block on
// delivery; failures are the publisher's to log.
type Publisher interface {
	Publish(ctx context.Context, u proximity.Update)
}

// Publishers publishes to each publisher in order.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, u proximity.Update) {
	for _, p := range ps {
		p.Publish(ctx, u)
	}
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, u proximity.Update)

func (f PublisherFunc) Publish(ctx context.Context, u proximity.Update) { f(ctx, u) }
