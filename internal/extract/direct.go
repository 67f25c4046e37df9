package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/fsguard"
	"github.com/tinoosan/fetchq/internal/media"
)

// Direct resolves URLs that already point at a media file. It never
// paginates; every URL is a single page with one item.
type Direct struct {
	allow  media.AllowList
	client *http.Client
	log    *slog.Logger
}

var _ Extractor = (*Direct)(nil)

// NewDirect builds a direct extractor. When client is non-nil a HEAD
// request fills in the expected size; otherwise sizes are unknown.
func NewDirect(allow media.AllowList, client *http.Client, log *slog.Logger) *Direct {
	if log == nil {
		log = slog.Default()
	}
	return &Direct{allow: allow, client: client, log: log}
}

func (d *Direct) Extract(ctx context.Context, pageURL string, page int) (Page, error) {
	if page > 0 {
		return Page{}, nil
	}
	desc, err := Describe(pageURL, d.allow)
	if err != nil {
		return Page{}, &ExtractionError{URL: pageURL, Page: page, Err: err}
	}
	if d.client != nil {
		desc.ExpectedSize = d.probe(ctx, desc)
	}
	return Page{Items: []data.ResourceDescriptor{desc}}, nil
}

// probe asks the source for its size. Any failure leaves it unknown; the
// fetch itself reports real errors.
func (d *Direct) probe(ctx context.Context, desc data.ResourceDescriptor) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, desc.Source, nil)
	if err != nil {
		return data.UnknownSize
	}
	for k, v := range desc.Headers {
		req.Header.Set(k, v)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Debug("size probe failed", "url", desc.Source, "err", err)
		return data.UnknownSize
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return data.UnknownSize
	}
	return resp.ContentLength
}

// Describe builds a descriptor for a media URL. The target is
// "<site folder>/<sanitized basename>" where the folder is the catalogue
// name (or host) plus a short hash of the URL's directory.
func Describe(rawURL string, allow media.AllowList) (data.ResourceDescriptor, error) {
	rawURL = Normalize(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return data.ResourceDescriptor{}, fmt.Errorf("%w: %q", data.ErrInvalidSource, rawURL)
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." || !allow.Allowed(base) {
		return data.ResourceDescriptor{}, fmt.Errorf("%w: %s", ErrUnsupported, rawURL)
	}

	siteName := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	var headers map[string]string
	if s, ok := Lookup(u.Hostname()); ok {
		siteName = s.Name
		headers = s.DefaultHeaders()
	}
	dirURL := *u
	dirURL.Path = path.Dir(u.Path)
	dirURL.RawQuery = ""

	return data.ResourceDescriptor{
		Source:       u.String(),
		Target:       path.Join(fsguard.FolderName(siteName, dirURL.String()), fsguard.SanitizeName(base)),
		ExpectedSize: data.UnknownSize,
		Kind:         media.KindOf(base),
		Site:         siteName,
		Headers:      headers,
	}, nil
}

// ParseList reads one URL per line. Blank lines and lines starting with
// "#" are skipped.
func ParseList(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}

// FromList extracts every URL with ex. Per-URL failures are collected
// and returned alongside whatever did resolve.
func FromList(ctx context.Context, ex Extractor, urls []string) ([]data.ResourceDescriptor, []error) {
	var (
		out  []data.ResourceDescriptor
		errs []error
	)
	for _, u := range urls {
		items, err := Collect(ctx, ex, u)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, items...)
		if ctx.Err() != nil {
			break
		}
	}
	return out, errs
}
