// Package fetcher opens snapshot sources from local files, HTTP(S) and FTP.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote resource.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures the fetchers built by NewOpener.
type Options struct {
	HTTP HTTPOptions
	FTP  FTPOptions
}

// Opener dispatches a source URI to the fetcher for its scheme.
type Opener struct {
	http Fetcher
	ftp  Fetcher
}

// NewOpener builds an Opener with an HTTP and an FTP fetcher.
func NewOpener(opts Options) *Opener {
	return &Opener{
		http: NewHTTPFetcher(opts.HTTP),
		ftp:  NewFTPFetcher(opts.FTP),
	}
}

// Open returns a reader for uri. Bare paths and file:// URIs are read from
// disk; http, https and ftp URIs are downloaded.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	switch Scheme(uri) {
	case "http", "https":
		return o.http.Download(ctx, uri)
	case "ftp":
		return o.ftp.Download(ctx, uri)
	case "file":
		u, err := url.Parse(uri)
		if err != nil {
			return nil, eris.Wrap(err, "parse file uri")
		}
		return openFile(u.Path)
	case "":
		return openFile(uri)
	default:
		return nil, eris.Errorf("unsupported source scheme %q", Scheme(uri))
	}
}

// Scheme returns the lower-cased URI scheme, or "" for a bare path.
func Scheme(uri string) string {
	i := strings.Index(uri, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(uri[:i])
}

// BaseName returns the last path element of uri without query or fragment.
func BaseName(uri string) string {
	p := uri
	if Scheme(uri) != "" {
		if u, err := url.Parse(uri); err == nil {
			p = u.Path
		}
	}
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return p
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	return f, nil
}
