package extract

import (
	"maps"
	"net/url"
	"regexp"
	"strings"
)

// Capability tags what a site variant can resolve.
type Capability uint8

const (
	CapProfile Capability = 1 << iota
	CapPost
	CapAlbum
	CapPagination
)

func (c Capability) Has(o Capability) bool { return c&o == o }

// URLKind is what a given URL points at on its site.
type URLKind string

const (
	KindProfile URLKind = "profile"
	KindPost    URLKind = "post"
	KindAlbum   URLKind = "album"
	KindFile    URLKind = "file"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

// Site is one entry of the catalogue. Variants differ only by data.
type Site struct {
	Name    string
	Hosts   []string
	Caps    Capability
	Headers map[string]string

	pattern  *regexp.Regexp
	classify func(u *url.URL) URLKind
}

// Matches reports whether host belongs to the site. Subdomains match.
func (s *Site) Matches(host string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	if s.pattern != nil && s.pattern.MatchString(host) {
		return true
	}
	for _, h := range s.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Classify reports what u points at. Sites without a rule treat
// everything as a post.
func (s *Site) Classify(u *url.URL) URLKind {
	if s.classify == nil {
		return KindPost
	}
	return s.classify(u)
}

// DefaultHeaders returns a copy of the site's request headers.
func (s *Site) DefaultHeaders() map[string]string { return maps.Clone(s.Headers) }

var bunkrHost = regexp.MustCompile(`^([a-z0-9-]+\.)?bunkrr?\.[a-z]{2,}$`)

// Legacy bunkr mirrors that now redirect to the current domain.
var bunkrLegacy = map[string]bool{
	"bunkr.ax": true, "bunkr.cat": true, "bunkr.ru": true, "bunkr.su": true,
	"bunkr.la": true, "bunkr.is": true, "bunkr.to": true, "bunkrr.su": true,
	"bunkrr.ru": true,
}

const bunkrCurrent = "bunkr.si"

// ckClassify handles the coomer/kemono layout:
// /{service}/user/{user}[/post/{post}].
func ckClassify(u *url.URL) URLKind {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 5 && parts[1] == "user" && parts[3] == "post" {
		return KindPost
	}
	if len(parts) >= 3 && parts[1] == "user" {
		return KindProfile
	}
	return KindFile
}

var catalogue = []*Site{
	{
		Name:     "coomer",
		Hosts:    []string{"coomer.su", "coomer.party", "coomer.st"},
		Caps:     CapProfile | CapPost | CapPagination,
		Headers:  map[string]string{"User-Agent": browserUA, "Referer": "https://coomer.su/"},
		classify: ckClassify,
	},
	{
		Name:     "kemono",
		Hosts:    []string{"kemono.su", "kemono.party", "kemono.cr"},
		Caps:     CapProfile | CapPost | CapPagination,
		Headers:  map[string]string{"User-Agent": browserUA, "Referer": "https://kemono.su/"},
		classify: ckClassify,
	},
	{
		Name:    "erome",
		Hosts:   []string{"erome.com"},
		Caps:    CapProfile | CapAlbum,
		Headers: map[string]string{"User-Agent": browserUA, "Referer": "https://www.erome.com/"},
		classify: func(u *url.URL) URLKind {
			if strings.HasPrefix(u.Path, "/a/") {
				return KindAlbum
			}
			return KindProfile
		},
	},
	{
		Name:    "bunkr",
		Caps:    CapAlbum | CapPost,
		Headers: map[string]string{"User-Agent": browserUA, "Referer": "https://bunkr.site/"},
		pattern: bunkrHost,
		classify: func(u *url.URL) URLKind {
			if strings.HasPrefix(u.Path, "/v/") || strings.HasPrefix(u.Path, "/i/") || strings.HasPrefix(u.Path, "/f/") {
				return KindPost
			}
			return KindAlbum
		},
	},
	{
		Name:    "simpcity",
		Hosts:   []string{"simpcity.su", "simpcity.cr"},
		Caps:    CapPost | CapPagination,
		Headers: map[string]string{"User-Agent": browserUA},
	},
	{
		Name:    "jpg5",
		Hosts:   []string{"jpg5.su", "jpg6.su"},
		Caps:    CapAlbum | CapPost | CapPagination,
		Headers: map[string]string{"User-Agent": browserUA},
		classify: func(u *url.URL) URLKind {
			if strings.HasPrefix(u.Path, "/img/") {
				return KindPost
			}
			return KindAlbum
		},
	},
	{
		Name:    "phica",
		Hosts:   []string{"phica.eu", "phica.net"},
		Caps:    CapPost | CapPagination,
		Headers: map[string]string{"User-Agent": browserUA},
	},
	{
		Name:     "gofile",
		Hosts:    []string{"gofile.io"},
		Caps:     CapAlbum,
		Headers:  map[string]string{"User-Agent": browserUA, "Referer": "https://gofile.io/"},
		classify: func(*url.URL) URLKind { return KindAlbum },
	},
	{
		Name:    "pixeldrain",
		Hosts:   []string{"pixeldrain.com"},
		Caps:    CapPost | CapAlbum,
		Headers: map[string]string{"User-Agent": browserUA},
		classify: func(u *url.URL) URLKind {
			if strings.HasPrefix(u.Path, "/l/") {
				return KindAlbum
			}
			return KindPost
		},
	},
}

// Sites returns the catalogue.
func Sites() []*Site { return catalogue }

// Lookup finds the site serving host.
func Lookup(host string) (*Site, bool) {
	for _, s := range catalogue {
		if s.Matches(host) {
			return s, true
		}
	}
	return nil, false
}

// Detect parses rawURL and returns its site and URL kind.
func Detect(rawURL string) (*Site, URLKind, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, "", false
	}
	s, ok := Lookup(u.Hostname())
	if !ok {
		return nil, "", false
	}
	return s, s.Classify(u), true
}

// Normalize rewrites legacy bunkr mirrors to the current domain and
// strips fragments. Other URLs are returned trimmed.
func Normalize(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	u.Fragment = ""
	host := strings.ToLower(u.Hostname())
	if bunkrLegacy[strings.TrimPrefix(host, "www.")] {
		u.Host = bunkrCurrent
		if p := u.Port(); p != "" {
			u.Host += ":" + p
		}
	}
	return u.String()
}
