package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized indicates the remote rejected the session token.
var ErrUnauthorized = errors.New("remote: unauthorized")

// Query narrows a Select.
type Query struct {
	AthleteID    string
	UpdatedSince *int64
	Limit        int
}

// UpsertOutcome reports how the remote settled an upsert. When Accepted is
// false, Row holds the newer server copy.
type UpsertOutcome struct {
	Accepted bool `json:"accepted"`
	Row      Row  `json:"row"`
}

// Client is the remote table API the sync engine talks to.
type Client interface {
	Select(ctx context.Context, table string, query Query) ([]Row, error)
	Upsert(ctx context.Context, table string, row Row) (UpsertOutcome, error)
	Delete(ctx context.Context, table, id string) error
}

// StatusError carries a non-2xx response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote: status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote: status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout, statusErr.StatusCode == http.StatusTooManyRequests:
			return true
		case statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return true
}
