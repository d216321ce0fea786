package versioning

import "errors"

// Configuration-time errors.
var (
	ErrAbstractEntity  = errors.New("versioning: abstract versioned entity not supported")
	ErrInheritedEntity = errors.New("versioning: inherited versioned entity not supported")
	ErrBaseEntity      = errors.New("versioning: base versioned entity not supported")
	ErrNoIdentity      = errors.New("versioning: entity must have an identifier field")
)

// Runtime errors.
var (
	ErrNoTransaction     = errors.New("versioning: transaction is required")
	ErrProtocolViolation = errors.New("versioning: invalid work unit sequence")
	ErrUnknownWorkUnit   = errors.New("versioning: unknown work unit type")
	ErrAggregatorFlushed = errors.New("versioning: transaction already flushed")
)

// ErrColumnConflict reports two history fields mapped to the same column.
var ErrColumnConflict = errors.New("versioning: conflicting history columns")
