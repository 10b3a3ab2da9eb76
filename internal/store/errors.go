package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUnknownCollection indicates a collection name outside the known set.
	ErrUnknownCollection = errors.New("unknown collection")
	errMissingOpener     = errors.New("database opener is required")
	errMissingRecordID   = errors.New("record identifier is required")
)

// Error carries a stable operation.reason code alongside its cause.
type Error struct {
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Code() string {
	return e.code
}

const (
	opNewManager     = "store.new_manager"
	opEnsureReady    = "store.ensure_ready"
	opGet            = "store.get"
	opPut            = "store.put"
	opDelete         = "store.delete"
	opListKeys       = "store.list_keys"
	opScan           = "store.scan"
	opPutPending     = "store.put_pending"
	opModify         = "store.modify"
	opPendingEntries = "store.pending_entries"
	opPendingCount   = "store.pending_count"
	opAcknowledge    = "store.acknowledge"
	opMarkFailed     = "store.mark_failed"
	opDropPending    = "store.drop_pending"
	opPurgeIfClean   = "store.purge_if_clean"
	opMerge          = "store.merge"
	opLogConflict    = "store.log_conflict"
	opListConflicts  = "store.list_conflicts"
)

func newError(operation, reason string, cause error) error {
	return &Error{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
