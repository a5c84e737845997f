package events

import "time"

// MessageReceived is emitted when a delivery reaches the bridge.
// Context carries the message's request id.
type MessageReceived struct {
	Topic       string
	MessageID   string
	ContentType string
	Size        int
}

// MessageProcessed is emitted after the pipeline for one message finished.
// Err is set when the pipeline was rejected (decode failure, engine crash,
// recovered panic). Dropped reports results discarded after Stop.
type MessageProcessed struct {
	Topic     string
	MessageID string
	Err       error
	Dropped   bool
	Duration  time.Duration
}
