// Package download implements the blob download engine: it retrieves a large
// remote object by issuing a bounded-size initial range GET, determining the
// object's true size from the response headers, then fetching the remainder
// in fixed-size range chunks — sequentially or in parallel — while preserving
// byte-exact output, optional transactional-checksum validation, optional
// transparent decryption, and ETag-based consistency against concurrent
// mutation of the source object.
//
// The engine performs no retries of its own: retry policy belongs to the
// transport.RangeFetcher implementation driving the actual requests.
package download

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/lakefront/blobkit/transport"
)

const (
	// DefaultChunkSize is the range size for each request after the first.
	DefaultChunkSize = 4 * 1024 * 1024

	// DefaultFirstGetSize bounds the initial request. The first response both
	// carries data and reveals the object's total size, so it is kept larger
	// than a chunk to let small objects complete in a single round trip.
	DefaultFirstGetSize = 32 * 1024 * 1024

	// maxTransactionalSize is the largest range for which storage services
	// return a transactional content checksum. Content validation caps the
	// first request and every chunk to this size.
	maxTransactionalSize = 4 * 1024 * 1024
)

// Decrypter decrypts one block-aligned ciphertext range back to the exact
// plaintext bytes requested. encryption.Decryptor implements it.
type Decrypter interface {
	DecryptRange(ciphertext []byte, ivInPayload bool, prefixPad, suffixPad int64, final bool) ([]byte, error)
}

// Options configures a Downloader. Zero values take defaults.
type Options struct {
	// ChunkSize is the byte size of each range request after the first.
	ChunkSize int64

	// FirstGetSize bounds the initial range request.
	FirstGetSize int64

	// Logger receives per-request debug logging. The zero value disables it.
	Logger zerolog.Logger
}

// Request describes one download. The zero value downloads the whole object.
type Request struct {
	// Offset is the first byte to return. Nil means the start of the object;
	// the distinction matters because a range-not-satisfiable response with
	// no explicit offset is recovered as an empty object rather than failing.
	Offset *int64

	// Length limits the number of bytes returned. Nil means to the end of
	// the object. When Length is set the offset defaults to 0.
	Length *int64

	// ChunkSize overrides the Downloader's chunk size for this request.
	ChunkSize int64

	// ValidateContent requests a transactional checksum on every range and
	// fails the download with an IntegrityError on mismatch. It also caps
	// the first request size, since services only checksum small ranges.
	ValidateContent bool

	// Conditions are caller-supplied preconditions applied to every request.
	// Setting either condition disables the internal ETag consistency guard;
	// the caller has accepted responsibility for consistency.
	Conditions transport.Conditions

	// Decrypter, when set, transparently decrypts the fetched ciphertext.
	// Offsets and lengths are then interpreted in stored-object coordinates.
	Decrypter Decrypter

	// OnProgress, when set, is invoked as bytes are delivered to the caller.
	// Sequential downloads invoke it in monotonically increasing order. The
	// total is the stored-object window size; for encrypted objects the
	// delivered bytes fall short of it by the trimmed padding, so transferred
	// may finish below total.
	OnProgress func(transferred, total int64)
}

// Properties is the object metadata assembled from the first response, with
// the size and content range rewritten to describe the requested window
// rather than the range the first request happened to fetch.
type Properties struct {
	ETag         transport.ETag
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string

	// ContentLength is the number of bytes this download returns. For
	// encrypted objects it is the stored-object (ciphertext) window size,
	// which can exceed the delivered plaintext by up to one cipher block of
	// padding.
	ContentLength int64

	// ContentRange describes the requested window within the object.
	ContentRange string

	// ContentMD5 is only populated when the first response covered the whole
	// object; for any partial or multi-chunk download it is cleared, since
	// the transport-level value reflects a single range, not the window.
	ContentMD5 []byte

	// TotalSize is the full size of the remote object.
	TotalSize int64
}

// Downloader drives downloads against one RangeFetcher. It is stateless
// across calls and safe for concurrent use; all per-download state lives in
// a session created per call.
type Downloader struct {
	fetcher transport.RangeFetcher
	opts    Options
}

// New creates a Downloader. Zero option fields take defaults.
func New(fetcher transport.RangeFetcher, opts Options) *Downloader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.FirstGetSize <= 0 {
		opts.FirstGetSize = DefaultFirstGetSize
	}
	return &Downloader{fetcher: fetcher, opts: opts}
}

// Open issues the initial request and returns the object properties together
// with a lazy reader over the requested window. No chunk beyond the first
// response is fetched before the caller consumes up to its boundary; each
// subsequent chunk is fetched synchronously inside Read. The reader must be
// closed on every path.
func (d *Downloader) Open(ctx context.Context, req Request) (*Properties, *Reader, error) {
	s, err := d.newSession(req)
	if err != nil {
		return nil, nil, err
	}
	if err := s.start(ctx); err != nil {
		return nil, nil, err
	}
	r := &Reader{ctx: ctx, s: s}
	if err := r.initFirst(); err != nil {
		return nil, nil, err
	}
	return s.props, r, nil
}

// WriteTo eagerly drives the whole download into sink: the initial request,
// then every remaining chunk, sequentially when concurrency <= 1 or across a
// bounded worker pool otherwise. Parallel downloads require the sink to
// implement io.WriterAt; otherwise an IntegrityError is returned before any
// request is issued.
//
// On failure, bytes already written remain in the sink; partial sink content
// after an error is expected and the caller must discard it.
func (d *Downloader) WriteTo(ctx context.Context, req Request, sink io.Writer, concurrency int) (*Properties, error) {
	if concurrency > 1 {
		if _, ok := sink.(io.WriterAt); !ok {
			return nil, &IntegrityError{Reason: "parallel download requires a sink supporting positional writes"}
		}
	}
	s, err := d.newSession(req)
	if err != nil {
		return nil, err
	}
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return d.writeTo(ctx, s, sink, concurrency)
}

// writeTo finishes a started session into sink. Shared by WriteTo and ToFile.
func (d *Downloader) writeTo(ctx context.Context, s *session, sink io.Writer, concurrency int) (*Properties, error) {
	n, err := s.writeFirst(sink)
	if err != nil {
		return nil, err
	}

	if !s.complete {
		var strategy chunkStrategy = sequentialStrategy{}
		if concurrency > 1 {
			strategy = parallelStrategy{concurrency: concurrency}
		}
		if err := strategy.run(ctx, s, sink, n); err != nil {
			return nil, err
		}
	}
	return s.props, nil
}

// contentRangeValue renders the requested window as a Content-Range value.
func contentRangeValue(start, end, total int64) string {
	if end < start {
		return fmt.Sprintf("bytes */%d", total)
	}
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}
