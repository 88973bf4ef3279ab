package cache

import (
	"errors"
	"fmt"
)

// ErrMiss reports that no valid entry exists for a key. It is the normal
// lookup outcome, not a failure: expired, absent, and self-healed corrupt
// entries all surface as ErrMiss.
var ErrMiss = errors.New("cache miss")

// ErrBackendUnavailable reports that the storage medium is unreachable.
// Callers degrade to a miss or a failed store; the health surface reports
// it as unhealthy.
var ErrBackendUnavailable = errors.New("cache backend unavailable")

// CorruptEntryError reports an entry that exists but cannot be decoded.
// Backends delete the record before returning so the next lookup does not
// repeat the failed read; the error is logged, never returned to callers.
type CorruptEntryError struct {
	Key    string
	Reason error
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("corrupt cache entry %s: %v", e.Key, e.Reason)
}

func (e *CorruptEntryError) Unwrap() error { return e.Reason }
