// Package fetcher downloads call recordings from the URLs the telephony
// provider hands out. Most recordings live behind HTTPS; a few legacy PBX
// systems still serve them over FTP, so the fetcher dispatches on scheme.
package fetcher

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote file to a local path and returns bytes written.
type Fetcher interface {
	DownloadToFile(ctx context.Context, rawURL, path string) (int64, error)
}

// Dispatcher routes each URL to the fetcher for its scheme.
type Dispatcher struct {
	HTTP *HTTPFetcher
	FTP  *FTPFetcher
}

// NewDispatcher creates a Dispatcher with both transports configured.
func NewDispatcher(httpOpts HTTPOptions, ftpOpts FTPOptions) *Dispatcher {
	return &Dispatcher{
		HTTP: NewHTTPFetcher(httpOpts),
		FTP:  NewFTPFetcher(ftpOpts),
	}
}

// DownloadToFile downloads rawURL to path using the transport its scheme names.
func (d *Dispatcher) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return d.HTTP.DownloadToFile(ctx, rawURL, path)
	case "ftp":
		return d.FTP.DownloadToFile(ctx, rawURL, path)
	default:
		return 0, eris.Errorf("fetcher: unsupported scheme %q in %s", u.Scheme, rawURL)
	}
}
