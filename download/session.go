package download

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lakefront/blobkit/internal/buffers"
	"github.com/lakefront/blobkit/internal/ranges"
	"github.com/lakefront/blobkit/transport"
)

// session holds the mutable state of one download call. It is created fresh
// per call, owned exclusively by that call's control flow, and discarded
// after. The lifecycle is:
//
//	created -> start() issues the bounded first request
//	        -> single pass (first response covered the window), or
//	        -> multi-chunk (a chunk strategy drains the plan)
//	        -> drained
//
// The only resource a session owns is the first response body, which every
// consumer (writeFirst, Reader) closes on all paths.
type session struct {
	fetcher transport.RangeFetcher
	log     zerolog.Logger
	req     Request

	chunkSize    int64
	firstGetSize int64
	encrypted    bool

	offset int64
	guard  *consistencyGuard

	// Populated by start.
	totalSize     int64 // full stored-object size
	downloadSize  int64 // bytes this download returns
	windowEnd     int64 // exclusive end of the requested window
	firstChunkEnd int64 // inclusive end of the range the first response covered
	complete      bool  // first response already covered the whole window
	fullBody      bool  // server ignored the range; first body is the whole object
	location      string
	plan          ranges.Plan
	props         *Properties
	firstAdj      ranges.Adjusted
	firstResp     *transport.Response

	transferred atomic.Int64

	// Hooks installed by the file helper for resume support. Nil otherwise.
	skipChunk func(ranges.Chunk) bool
	chunkDone func(c ranges.Chunk, written int64)
}

func (d *Downloader) newSession(req Request) (*session, error) {
	if req.Offset != nil && *req.Offset < 0 {
		return nil, fmt.Errorf("download: offset must be non-negative, got %d", *req.Offset)
	}
	if req.Length != nil && *req.Length < 0 {
		return nil, fmt.Errorf("download: length must be non-negative, got %d", *req.Length)
	}

	s := &session{
		fetcher:      d.fetcher,
		log:          d.opts.Logger,
		req:          req,
		chunkSize:    d.opts.ChunkSize,
		firstGetSize: d.opts.FirstGetSize,
		encrypted:    req.Decrypter != nil,
		guard:        newConsistencyGuard(req.Conditions),
	}
	if req.ChunkSize > 0 {
		s.chunkSize = req.ChunkSize
	}
	if req.ValidateContent {
		// Services only return a transactional checksum for small ranges.
		if s.firstGetSize > maxTransactionalSize {
			s.firstGetSize = maxTransactionalSize
		}
		if s.chunkSize > maxTransactionalSize {
			s.chunkSize = maxTransactionalSize
		}
	}
	if req.Offset != nil {
		s.offset = *req.Offset
	}
	return s, nil
}

// start issues the conditional first request and interprets the response:
// it learns the total object size, decides whether the response already
// covers the requested window, captures the consistency ETag, builds the
// chunk plan for the remainder, and assembles the output Properties.
func (s *session) start(ctx context.Context) error {
	firstEnd := s.offset + s.firstGetSize - 1
	if s.req.Length != nil {
		if reqEnd := s.offset + *s.req.Length - 1; reqEnd < firstEnd {
			firstEnd = reqEnd
		}
	}
	if firstEnd < s.offset {
		// Zero-length request: probe a single byte to learn the object size.
		firstEnd = s.offset
	}

	s.firstAdj = ranges.AlignForEncryption(s.offset, firstEnd, s.encrypted)

	resp, err := s.fetcher.Fetch(ctx, transport.FetchOptions{
		Range:            &transport.Range{Start: s.firstAdj.Start, End: s.firstAdj.End},
		Conditions:       s.guard.conditions(),
		TransactionalMD5: s.req.ValidateContent,
	})
	if err != nil {
		if transport.IsRangeNotSatisfiable(err) && s.req.Offset == nil {
			return s.startEmptyFallback(ctx)
		}
		return err
	}
	s.firstResp = resp

	if resp.Status != http.StatusPartialContent && resp.ContentRange == "" {
		// The server ignored the Range header and sent the whole object.
		// Treating the body as the requested range would duplicate every
		// chunk, so the download collapses to a single pass over this body.
		return s.startFullBody(resp)
	}

	total := resp.TotalSize
	if total < 0 && resp.ContentRange != "" {
		if _, _, t, perr := transport.ParseContentRange(resp.ContentRange); perr == nil {
			total = t
		}
	}
	if total < 0 {
		// Non-partial response: Content-Length is the whole object.
		total = resp.ContentLength
	}
	if total < 0 {
		resp.Body.Close()
		return fmt.Errorf("download: could not determine object size from response")
	}
	s.finish(firstEnd, total, resp)
	return nil
}

// startFullBody handles a server without range support: the first request
// asked for a range but the response is non-partial (status 200, no
// Content-Range), so its body is the entire object. The window is carved out
// of that single body and no chunk requests follow.
func (s *session) startFullBody(resp *transport.Response) error {
	total := resp.ContentLength
	if total < 0 {
		resp.Body.Close()
		return fmt.Errorf("download: range request answered with an unsized full response")
	}

	s.fullBody = true
	s.log.Debug().
		Int64("total_size", total).
		Msg("server ignored the range request, treating response as the whole object")

	s.firstAdj = ranges.Adjusted{Start: 0, End: total - 1}
	if s.encrypted {
		// The decrypter discards everything before the requested offset; the
		// whole object needs only the metadata IV.
		s.firstAdj.PrefixPad = s.offset
	}
	s.finish(total-1, total, resp)
	return nil
}

// startEmptyFallback recovers from a 416 on a first request that asked for
// no explicit offset: the object is smaller than the bounded first range
// (usually empty), so re-request it whole and unconditionally. This is a
// special-cased recovery path, not a retry.
func (s *session) startEmptyFallback(ctx context.Context) error {
	s.log.Debug().Msg("first range not satisfiable, falling back to whole-object request")

	resp, err := s.fetcher.Fetch(ctx, transport.FetchOptions{})
	if err != nil {
		return err
	}
	s.firstResp = resp

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	s.firstAdj = ranges.Adjusted{Start: 0, End: total - 1}
	s.finish(total-1, total, resp)
	return nil
}

// finish completes the first-response bookkeeping shared by the normal and
// fallback paths.
func (s *session) finish(firstEnd, total int64, resp *transport.Response) {
	s.totalSize = total

	s.windowEnd = total
	if s.req.Length != nil {
		if we := s.offset + *s.req.Length; we < total {
			s.windowEnd = we
		}
	}
	if s.windowEnd < s.offset {
		s.windowEnd = s.offset
	}
	s.downloadSize = s.windowEnd - s.offset

	s.firstChunkEnd = firstEnd
	if s.firstChunkEnd > total-1 {
		s.firstChunkEnd = total - 1
	}
	s.complete = s.downloadSize == 0 || s.firstChunkEnd+1 >= s.windowEnd

	s.guard.refresh(resp.ETag)
	s.location = resp.Location

	s.plan = ranges.Plan{
		FirstChunkEnd: s.firstChunkEnd,
		ChunkSize:     s.chunkSize,
		WindowEnd:     s.windowEnd,
	}

	md5sum := resp.ContentMD5
	if s.offset != 0 || s.windowEnd != total {
		// The transport value covers one range, not the requested window.
		md5sum = nil
	}
	if !s.complete {
		md5sum = nil
	}

	s.props = &Properties{
		ETag:          resp.ETag,
		LastModified:  resp.LastModified,
		ContentType:   resp.ContentType,
		Metadata:      resp.Metadata,
		ContentLength: s.downloadSize,
		ContentRange:  contentRangeValue(s.offset, s.windowEnd-1, total),
		ContentMD5:    md5sum,
		TotalSize:     total,
	}

	s.log.Debug().
		Int64("total_size", total).
		Int64("download_size", s.downloadSize).
		Int64("first_chunk_end", s.firstChunkEnd).
		Bool("single_pass", s.complete).
		Int("chunks_remaining", s.plan.Count()).
		Msg("first response interpreted")
}

// processFirst validates, decrypts, and trims the raw bytes of the first
// response body down to the plaintext the caller asked for. The returned
// slice may alias data.
func (s *session) processFirst(data []byte) ([]byte, error) {
	if s.req.ValidateContent && len(s.firstResp.ContentMD5) > 0 {
		sum := md5.Sum(data)
		if !bytes.Equal(sum[:], s.firstResp.ContentMD5) {
			return nil, &IntegrityError{
				Reason: fmt.Sprintf("transactional checksum mismatch on range %d-%d", s.firstAdj.Start, s.firstAdj.End),
			}
		}
	}
	if s.encrypted {
		final := s.firstAdj.End >= s.totalSize-1
		plain, err := s.req.Decrypter.DecryptRange(data, s.firstAdj.IVInPayload, s.firstAdj.PrefixPad, s.firstAdj.SuffixPad, final)
		if err != nil {
			return nil, &DecryptionError{Start: s.firstAdj.Start, End: s.firstAdj.End, Err: err}
		}
		data = plain
	}
	if s.fullBody && !s.encrypted && s.offset > 0 {
		// A full-body response starts at byte zero regardless of the
		// requested offset.
		if int64(len(data)) > s.offset {
			data = data[s.offset:]
		} else {
			data = data[:0]
		}
	}
	if int64(len(data)) > s.downloadSize {
		// A zero-length request still fetches one byte to learn the object
		// size; that byte must not be returned.
		data = data[:s.downloadSize]
	}
	return data, nil
}

// writeFirst drains the first response into sink and returns the number of
// bytes written. The response body is closed on every path.
func (s *session) writeFirst(sink io.Writer) (int64, error) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	_, err := buf.ReadFrom(s.firstResp.Body)
	s.firstResp.Body.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to read first response: %w", err)
	}

	data, err := s.processFirst(buf.Bytes())
	if err != nil {
		return 0, err
	}
	n, err := sink.Write(data)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write first response to sink: %w", err)
	}
	s.progress(int64(n))
	return int64(n), nil
}

// progress advances the shared transfer counter and fires the callback.
func (s *session) progress(n int64) {
	t := s.transferred.Add(n)
	if s.req.OnProgress != nil {
		s.req.OnProgress(t, s.downloadSize)
	}
}
