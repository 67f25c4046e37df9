// Package extract turns page URLs into resource descriptors. Site-specific
// scraping lives outside fetchq; this package defines the collaborator
// contract, the site catalogue and a direct extractor for media links.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinoosan/fetchq/internal/data"
)

var (
	ErrUnsupported = errors.New("url not supported by extractor")
	ErrNoItems     = errors.New("no downloadable items found")
)

// Page is one page of extraction results. Next reports whether another
// page follows; extractors are restartable from any page number.
type Page struct {
	Items []data.ResourceDescriptor
	Next  bool
}

// Extractor resolves a page URL into descriptors, one page at a time.
type Extractor interface {
	Extract(ctx context.Context, pageURL string, page int) (Page, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, pageURL string, page int) (Page, error)

func (f ExtractorFunc) Extract(ctx context.Context, pageURL string, page int) (Page, error) {
	return f(ctx, pageURL, page)
}

// ExtractionError reports a failed page. It is handed to callers unchanged.
type ExtractionError struct {
	URL  string
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (page %d): %v", e.URL, e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Drain walks every page of pageURL and hands each non-empty batch to fn.
// It returns the number of descriptors seen. Errors that are not already
// an *ExtractionError get wrapped in one.
func Drain(ctx context.Context, ex Extractor, pageURL string, fn func([]data.ResourceDescriptor) error) (int, error) {
	total := 0
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		p, err := ex.Extract(ctx, pageURL, page)
		if err != nil {
			var ee *ExtractionError
			if errors.As(err, &ee) {
				return total, err
			}
			return total, &ExtractionError{URL: pageURL, Page: page, Err: err}
		}
		if len(p.Items) > 0 {
			total += len(p.Items)
			if err := fn(p.Items); err != nil {
				return total, err
			}
		}
		if !p.Next {
			return total, nil
		}
	}
}

// Collect drains pageURL into a single slice.
func Collect(ctx context.Context, ex Extractor, pageURL string) ([]data.ResourceDescriptor, error) {
	var out []data.ResourceDescriptor
	_, err := Drain(ctx, ex, pageURL, func(items []data.ResourceDescriptor) error {
		out = append(out, items...)
		return nil
	})
	return out, err
}
