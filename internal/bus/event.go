package bus

import "time"

// Event kinds published by the chat store and its collaborators.
const (
	MessageAppended  = "message.appended"
	MessageUpdated   = "message.updated"
	MessageRemoved   = "message.removed"
	MessagesReplaced = "messages.replaced"
	StoreError       = "store.error"
	NetworkChanged   = "network.changed"
	QueueChanged     = "queue.changed"
	QueueExhausted   = "queue.exhausted"
)

// Event is a change notification. Kind is dot-namespaced.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
