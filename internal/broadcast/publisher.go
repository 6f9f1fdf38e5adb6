package broadcast

import (
	"context"

	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

// Publisher publishes each update to its order topic and its restaurant
// topic.
type Publisher struct {
	hub *Hub
}

// NewPublisher returns a Publisher backed by hub.
func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub}
}

func (p *Publisher) Publish(_ context.Context, u proximity.Update) {
	p.hub.Publish(OrderTopic(u.OrderID), u)
	p.hub.Publish(RestaurantTopic(u.RestaurantID), u)
}
