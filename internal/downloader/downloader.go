package downloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinoosan/fetchq/internal/downloadcfg"
)

var (
	// ErrDiskFull marks a write failure that retrying cannot fix.
	ErrDiskFull = errors.New("disk full")
	// ErrTargetExists is returned when the final path exists and the
	// collision policy is "error".
	ErrTargetExists = errors.New("target already exists")
	// ErrSizeMismatch is returned when the source delivers more bytes than
	// the descriptor announced.
	ErrSizeMismatch = errors.New("source size does not match expected size")
)

// Cancellation causes attached to a worker's context. Fetchers use them to
// decide what happens to partial data.
var (
	ErrPaused    = errors.New("paused")
	ErrCancelled = errors.New("cancelled")
	ErrShutdown  = fmt.Errorf("shutting down: %w", ErrPaused)
)

// Request describes a single transfer attempt.
type Request struct {
	TaskID       string
	Source       string
	Path         string // absolute final destination
	ExpectedSize int64  // negative when unknown
	Headers      map[string]string
	Options      downloadcfg.Options
}

// ProgressFunc receives the absolute number of bytes present at the
// destination so far.
type ProgressFunc func(done int64)

// Fetcher performs one transfer attempt. Implementations must only create
// the file at req.Path once the transfer is complete, must check ctx between
// chunks and must classify every failure as a *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, progress ProgressFunc) (int64, error)
}

// ErrorKind classifies fetch failures for the retry policy.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "NetworkError"
	KindWrite      ErrorKind = "WriteError"
	KindSourceGone ErrorKind = "SourceGone"
	KindCancelled  ErrorKind = "Cancelled"
)

// FetchError is the classified failure of a transfer attempt.
type FetchError struct {
	Kind ErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindWrite:
		return !errors.Is(e.Err, ErrDiskFull) && !errors.Is(e.Err, ErrTargetExists)
	}
	return false
}

func NetworkError(err error) error    { return &FetchError{Kind: KindNetwork, Err: err} }
func WriteError(err error) error      { return &FetchError{Kind: KindWrite, Err: err} }
func SourceGoneError(err error) error { return &FetchError{Kind: KindSourceGone, Err: err} }
func CancelledError(err error) error  { return &FetchError{Kind: KindCancelled, Err: err} }

// Classify maps any error returned by a Fetcher to its kind. Unclassified
// context cancellation counts as Cancelled, anything else as Network.
func Classify(err error) (ErrorKind, bool) {
	if err == nil {
		return "", false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, fe.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled, false
	}
	return KindNetwork, true
}
