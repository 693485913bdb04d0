package ports

// MessageQueue is the bounded mailbox sitting between a publisher and one
// subscriber's delivery goroutine.
type MessageQueue interface {
	Enqueue(msg Message) bool
	DequeueBatch(max int) []Message
	Len() int
}
