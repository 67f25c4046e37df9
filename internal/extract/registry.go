package extract

import (
	"context"
	"net/url"
)

// Registry routes a URL to the extractor registered for its site and
// falls back to a default extractor for everything else.
type Registry struct {
	bySite   map[string]Extractor
	fallback Extractor
}

var _ Extractor = (*Registry)(nil)

func NewRegistry(fallback Extractor) *Registry {
	return &Registry{bySite: make(map[string]Extractor), fallback: fallback}
}

// Register binds an extractor to a catalogue site name.
func (r *Registry) Register(site string, ex Extractor) { r.bySite[site] = ex }

// For returns the extractor that handles pageURL.
func (r *Registry) For(pageURL string) Extractor {
	if u, err := url.Parse(pageURL); err == nil {
		if s, ok := Lookup(u.Hostname()); ok {
			if ex, ok := r.bySite[s.Name]; ok {
				return ex
			}
		}
	}
	return r.fallback
}

func (r *Registry) Extract(ctx context.Context, pageURL string, page int) (Page, error) {
	ex := r.For(pageURL)
	if ex == nil {
		return Page{}, &ExtractionError{URL: pageURL, Page: page, Err: ErrUnsupported}
	}
	return ex.Extract(ctx, pageURL, page)
}
