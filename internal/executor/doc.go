// Package executor implements a breadth-first, batch-friendly GraphQL executor
// with explicit runtime hooks for synchronous resolution, depth-wise batching of
// asynchronous work, abstract-type resolution and leaf serialization.
//
// # Overview
//
// The executor follows a level-by-level (BFS) execution model:
//   - Synchronous fields expand immediately without adding batch depth.
//   - Asynchronous fields encountered at the current depth are resolved in a
//     single call to Runtime.BatchResolveAsync.
//   - Values complete according to GraphQL value completion (lists, leafs,
//     objects, abstract types), including Non-Null propagation.
//   - Errors carry a message, the response path and the source locations of
//     the field nodes that produced them, and execution continues around them.
//
// # Preparation
//
// Before execution, ExecuteRequest:
//  1. Chooses the operation by name, or the only operation when unnamed.
//  2. Coerces variables against the operation's variable definitions. Errors
//     here stop execution and set ExecutionResult.RequestError.
//  3. Determines the root object type (Query, Mutation or Subscription).
//
// The document is assumed to be validated against the schema by the caller.
//
// # Sync and async fields
//
// schema.Field.Async decides where a field is resolved. Fields without the
// flag resolve through Runtime.ResolveSync as soon as they are reached. Async
// fields become AsyncResolveTask values queued for the current depth and are
// handed to the runtime together.
//
// BFS Loop (per depth)
//
//	A. Sync expansion
//	   - Coerce arguments, resolve sync fields and complete their values.
//	     Object results keep expanding synchronously.
//	   - Async fields are queued and a placeholder is written in their place.
//
//	B. Batch execution
//	   - Queued tasks whose path lies under a nulled ancestor are dropped.
//	   - Runtime.BatchResolveAsync runs once with the rest and must return one
//	     result per task, in order.
//	   - Each result is completed and written at its response path. Async
//	     children found while completing are queued for the next depth.
//
//	C. Non-Null propagation
//	   - A Non-Null violation nulls the nearest nullable ancestor and tombstones
//	     its path. When the violating field is a Non-Null root field, the whole
//	     response data becomes null.
//
// For a graph with asynchronous depth d, BatchResolveAsync is invoked exactly
// d times.
//
// # Runtime Contract
//
// The Runtime interface abstracts host integration; see runtime.go. The
// resolver package provides a map-backed implementation.
//
// Mutation root fields execute in document order. Async mutation fields are
// allowed but still batch per depth, so callers that need strictly serial
// side effects keep mutation fields synchronous.
package executor
