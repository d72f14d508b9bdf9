package websocket

import (
	"time"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/sync"
)

// Feed adapts the hub to the synchronizer's Publisher interface, mapping one
// collection's record events onto a topic.
type Feed struct {
	hub   *Hub
	topic string
}

// NewFeed returns a publisher that broadcasts record events on topic.
func NewFeed(hub *Hub, topic string) *Feed {
	return &Feed{hub: hub, topic: topic}
}

// Publish implements sync.Publisher.
func (f *Feed) Publish(ev sync.RecordEvent) {
	f.hub.Broadcast(f.topic, Event{
		Type:       ev.Type,
		Topic:      f.topic,
		Collection: ev.Collection,
		UHID:       ev.Key.UHID,
		SubKey:     ev.Key.SubKey,
		Timestamp:  time.Now().UTC(),
		Data:       ev.Fields,
	})
}
