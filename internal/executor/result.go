package executor

import language "github.com/hanpama/gqlamqp/internal/language"

// ExecutionResult represents the result of executing a GraphQL query.
// Data is nil either when execution never started (RequestError) or when a
// Non-Null root field failed.
type ExecutionResult struct {
	Data         any
	Errors       language.ErrorList
	RequestError bool
}
