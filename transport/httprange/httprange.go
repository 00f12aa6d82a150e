// Package httprange implements transport.RangeFetcher over plain HTTP(S)
// using hashicorp/go-retryablehttp. Transient failures (network errors,
// 5xx, throttling) are retried here with exponential backoff; definitive
// statuses like precondition-failed and range-not-satisfiable pass through
// as transport status errors for the download engine to classify.
package httprange

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/lakefront/blobkit/transport"
)

// retryLogger adapts zerolog to the retryablehttp.LeveledLogger interface.
type retryLogger struct {
	log zerolog.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Retry attempts are logged at warn/error only.
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

// Options configures a Fetcher.
type Options struct {
	// Client overrides the retrying HTTP client. Nil builds a default one.
	Client *retryablehttp.Client

	// Header is added to every request, e.g. for bearer tokens.
	Header http.Header

	// Logger receives retry and request logging. Zero value disables it.
	Logger zerolog.Logger
}

// Fetcher performs conditional range GETs against one object URL.
type Fetcher struct {
	url    string
	client *retryablehttp.Client
	header http.Header
}

// New creates a Fetcher for the object at rawURL.
func New(rawURL string, opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = retryablehttp.NewClient()
		client.RetryMax = 10
		client.RetryWaitMin = 200 * time.Millisecond
		client.RetryWaitMax = 15 * time.Second
		client.Logger = &retryLogger{log: opts.Logger}
	}
	return &Fetcher{
		url:    rawURL,
		client: client,
		header: opts.Header,
	}
}

// Fetch issues one conditional range GET. Non-success statuses are returned
// as *transport.StatusError after the response body has been closed.
func (f *Fetcher) Fetch(ctx context.Context, opts transport.FetchOptions) (*transport.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if opts.Range != nil {
		req.Header.Set("Range", opts.Range.Header())
	}
	if opts.Conditions.IfMatch != "" {
		req.Header.Set("If-Match", string(opts.Conditions.IfMatch))
	}
	if opts.Conditions.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", string(opts.Conditions.IfNoneMatch))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("range request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, &transport.StatusError{Status: resp.StatusCode}
	}

	out := &transport.Response{
		Status:        resp.StatusCode,
		TotalSize:     -1,
		ContentLength: resp.ContentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
		ETag:          transport.ETag(resp.Header.Get("ETag")),
		ContentType:   resp.Header.Get("Content-Type"),
		Location:      resp.Request.URL.Host,
		Body:          resp.Body,
	}
	if out.ContentRange != "" {
		if _, _, total, perr := transport.ParseContentRange(out.ContentRange); perr == nil {
			out.TotalSize = total
		}
	} else if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
		// Whole-object response: the length is the total.
		out.TotalSize = resp.ContentLength
	}
	if v := resp.Header.Get("Content-MD5"); v != "" {
		if sum, derr := base64.StdEncoding.DecodeString(v); derr == nil {
			out.ContentMD5 = sum
		}
	}
	if v := resp.Header.Get("Last-Modified"); v != "" {
		if t, perr := http.ParseTime(v); perr == nil {
			out.LastModified = t
		}
	}
	return out, nil
}
