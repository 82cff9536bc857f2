// Entry publisher interface.
// This provides a decoupled way for the notification listener to hand
// freshly committed entries to the WebSocket fan-out layer.
package database

// EntryPublisher routes one committed entry to every live subscriber of its
// topic. Implementations must not block: a slow consumer is the publisher's
// problem to bound, not the listener's.
type EntryPublisher interface {
	PublishEntry(entry *NewsEntry)
}
