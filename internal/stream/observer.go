package stream

import "github.com/hermesrelay/hermes/internal/models"

// DeliveryPublisher adapts Hub to dispatcher.DeliveryObserver, so the
// dispatcher package never needs to import stream directly.
type DeliveryPublisher struct {
	Hub *Hub
}

// ObserveDelivery publishes entry as a delivery message to every connected
// dashboard.
func (p DeliveryPublisher) ObserveDelivery(entry models.LogEntry) {
	p.Hub.Publish(Message{Type: MsgDelivery, Payload: entry})
}
