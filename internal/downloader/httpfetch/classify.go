package httpfetch

import (
	"errors"
	"fmt"
	"net/http"
	"syscall"

	"github.com/tinoosan/fetchq/internal/downloader"
)

var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrRateLimited  = errors.New("http: rate limited")
	ErrServerError  = errors.New("http: server error")
)

// classifyStatus returns nil for 200/206 and a classified error otherwise.
// Rate limiting and server errors are retryable; everything else means the
// source is not going to produce the file.
func classifyStatus(code int, status string) error {
	switch {
	case code == http.StatusOK || code == http.StatusPartialContent:
		return nil
	case code == http.StatusTooManyRequests:
		return downloader.NetworkError(fmt.Errorf("%w: %s", ErrRateLimited, status))
	case code >= 500:
		return downloader.NetworkError(fmt.Errorf("%w: %s", ErrServerError, status))
	case code == http.StatusNotFound || code == http.StatusGone:
		return downloader.SourceGoneError(fmt.Errorf("%w: %s", ErrNotFound, status))
	case code == http.StatusForbidden:
		return downloader.SourceGoneError(fmt.Errorf("%w: %s", ErrForbidden, status))
	case code == http.StatusUnauthorized:
		return downloader.SourceGoneError(fmt.Errorf("%w: %s", ErrUnauthorized, status))
	default:
		return downloader.SourceGoneError(fmt.Errorf("unexpected status code: %s", status))
	}
}

// writeErr classifies a local filesystem failure.
func writeErr(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return downloader.WriteError(fmt.Errorf("%s: %w: %w", op, downloader.ErrDiskFull, err))
	}
	return downloader.WriteError(fmt.Errorf("%s: %w", op, err))
}
