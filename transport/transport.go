// Package transport defines the range-fetch contract the download engine is
// built against. A RangeFetcher performs a single conditional range GET and
// returns the response status, headers, and body stream; everything above it
// (chunk planning, decryption, consistency locking) lives in the download
// package, and everything below it (signing, retries, redirects) lives in
// the concrete implementations.
//
// Implementations are provided for plain HTTP(S) (httprange), Azure Blob
// Storage (azureblob), and Amazon S3 (s3object).
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ETag is an opaque object version identifier used as an exact-match
// precondition on range requests.
type ETag string

// Range is an inclusive byte range, matching HTTP Range header semantics.
type Range struct {
	Start int64
	End   int64
}

// Header renders the range as an HTTP Range header value.
func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Conditions carries the preconditions attached to a fetch. The zero value
// means unconditional.
type Conditions struct {
	IfMatch     ETag
	IfNoneMatch ETag
}

// IsZero reports whether no condition is set.
func (c Conditions) IsZero() bool {
	return c.IfMatch == "" && c.IfNoneMatch == ""
}

// FetchOptions describes one range GET.
type FetchOptions struct {
	// Range selects the bytes to fetch. Nil fetches the whole object.
	Range *Range

	// Conditions are attached as preconditions. A failed precondition must
	// surface as a StatusError with status 412.
	Conditions Conditions

	// TransactionalMD5 requests a per-range content checksum from the
	// service. Services only honor this for small ranges.
	TransactionalMD5 bool

	// LocationHint names the replica or endpoint that served an earlier
	// response for the same object. Implementations that support replica
	// affinity should route the request there for read consistency; others
	// ignore it.
	LocationHint string
}

// Response is the result of one range GET. TotalSize is the full object
// size parsed from the Content-Range header when the response was partial,
// or the Content-Length for a whole-object response; it is -1 when the size
// could not be determined.
//
// Implementations must set Status, and must set ContentRange on every
// partial response: the download engine relies on them to detect a server
// that ignored the Range header and answered with the whole object.
type Response struct {
	Status        int
	TotalSize     int64
	ContentLength int64
	ContentRange  string
	ETag          ETag
	ContentMD5    []byte
	ContentType   string
	LastModified  time.Time
	Metadata      map[string]string

	// Location identifies the replica or endpoint that served this response,
	// suitable for use as a later LocationHint. May be empty.
	Location string

	// Body streams the fetched bytes. The caller owns it and must close it
	// on every path.
	Body io.ReadCloser
}

// RangeFetcher performs one conditional range GET.
type RangeFetcher interface {
	Fetch(ctx context.Context, opts FetchOptions) (*Response, error)
}

// StatusError reports a non-success service status. Implementations must
// return it (possibly wrapped) for precondition-failed and
// range-not-satisfiable responses so the download engine can classify them.
type StatusError struct {
	Status int
	Code   string // provider-specific error code, when available
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transport: status %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("transport: status %d", e.Status)
}

// IsPreconditionFailed reports whether err indicates the consistency
// condition no longer matched (the object was mutated).
func IsPreconditionFailed(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusPreconditionFailed
}

// IsRangeNotSatisfiable reports whether err indicates the requested range
// starts at or beyond the end of the object.
func IsRangeNotSatisfiable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusRequestedRangeNotSatisfiable
}

// ParseContentRange extracts start, end, and total from a Content-Range
// header of the form "bytes start-end/total". A total of "*" yields -1.
func ParseContentRange(value string) (start, end, total int64, err error) {
	const prefix = "bytes "
	if !strings.HasPrefix(value, prefix) {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	rangePart, totalPart, ok := strings.Cut(value[len(prefix):], "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}

	if totalPart == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(totalPart, 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("malformed Content-Range total in %q: %w", value, err)
		}
	}

	startPart, endPart, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	start, err = strconv.ParseInt(startPart, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range start in %q: %w", value, err)
	}
	end, err = strconv.ParseInt(endPart, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range end in %q: %w", value, err)
	}
	return start, end, total, nil
}
