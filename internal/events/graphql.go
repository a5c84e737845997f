package events

import "time"

// GraphQLStart is emitted before a request is parsed and executed.
type GraphQLStart struct {
	Query         string
	OperationName string
}

// GraphQLFinish is emitted after a request produced a response.
// OperationType is empty when the document failed to parse or named no
// operation that exists.
type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	Executed      bool
	Errors        []error
	Duration      time.Duration
}
