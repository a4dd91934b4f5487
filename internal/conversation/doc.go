// ABOUTME: Package documentation for the conversation orchestrator
// ABOUTME: Explains the exchange lifecycle and streaming model

// Package conversation coordinates a full exchange: it resolves the
// conversation context, transforms any attachment, streams the model's
// output to live subscribers, and persists the completed turn pair.
//
// An exchange either fails before generation (nothing is broadcast or
// persisted) or runs generation to completion, in which case exactly one
// terminal event reaches every subscriber. Client disconnection does not
// cancel an exchange already in flight; the persisted messages are the
// durable record and the live stream is best-effort.
package conversation
