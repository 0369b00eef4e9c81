package core

// IEvent is implemented by every event the conversation engine publishes.
// The id names the event kind, not an instance; subscribers switch on the
// concrete type and use the id for logging.
type IEvent interface {
	GetId() string
}
