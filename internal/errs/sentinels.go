// Package errs contains sentinel errors shared by the store, outbox, sync and api layers.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested row or document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotRunning is returned by coordinator operations that need an active session.
	ErrNotRunning = errors.New("coordinator not running")

	// ErrUnresolvedRemoteID indicates a conversation has not been linked to its remote document yet.
	ErrUnresolvedRemoteID = errors.New("remote id not resolved")

	// ErrAlreadyLinked indicates an attempt to link a conversation to a second remote id.
	ErrAlreadyLinked = errors.New("conversation already linked")

	// ErrInvalidPayload indicates an outbox payload that cannot be decoded or is missing fields.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownOpType indicates an outbox row with a type the drainer does not know.
	ErrUnknownOpType = errors.New("unknown op type")

	// ErrOffline is returned by remote stores that cannot currently reach the backend.
	ErrOffline = errors.New("remote offline")
)
