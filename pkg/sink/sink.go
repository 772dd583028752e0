package sink

// Sink defines the interface for capture destinations.
type Sink interface {
	// WriteMessage appends one captured payload to the sink.
	WriteMessage(payload []byte) error
	// Close cleans up resources (e.g., closing files).
	Close() error
}
