package downloader

import "context"

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request, progress ProgressFunc) (int64, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request, progress ProgressFunc) (int64, error) {
	return f(ctx, req, progress)
}
