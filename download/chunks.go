package download

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/lakefront/blobkit/internal/buffers"
	"github.com/lakefront/blobkit/internal/ranges"
	"github.com/lakefront/blobkit/transport"
)

// chunkStrategy drains a session's chunk plan into the sink. Both
// implementations share fetchChunk for the per-chunk fetch/validate/decrypt
// work and differ only in scheduling and write placement.
type chunkStrategy interface {
	// run fetches every remaining chunk and delivers its bytes to sink.
	// sinkOrigin is the sink position corresponding to the first planned
	// chunk; the sequential strategy ignores it and writes in stream order.
	run(ctx context.Context, s *session, sink io.Writer, sinkOrigin int64) error
}

// chunkResult is the transient outcome of one chunk fetch: the decrypted
// payload and the pooled buffer backing it, if any.
type chunkResult struct {
	chunk ranges.Chunk
	data  []byte
	buf   *bytes.Buffer // pooled backing storage; nil once released or replaced by decryption
	etag  transport.ETag
}

// release returns the pooled buffer. The data slice must not be used after.
func (r *chunkResult) release() {
	if r.buf != nil {
		buffers.Put(r.buf)
		r.buf = nil
	}
	r.data = nil
}

// fetchChunk retrieves one chunk under the session's consistency condition:
// it widens the range for encryption alignment, issues the conditional GET,
// verifies the transactional checksum when requested, decrypts and trims the
// payload, and refreshes the consistency condition to the ETag seen on this
// response. A mutated object surfaces as a precondition-failed error from
// the transport; it is never swallowed here.
func fetchChunk(ctx context.Context, s *session, c ranges.Chunk) (*chunkResult, error) {
	adj := ranges.AlignForEncryption(c.Start, c.End, s.encrypted)

	resp, err := s.fetcher.Fetch(ctx, transport.FetchOptions{
		Range:            &transport.Range{Start: adj.Start, End: adj.End},
		Conditions:       s.guard.conditions(),
		TransactionalMD5: s.req.ValidateContent,
		LocationHint:     s.location,
	})
	if err != nil {
		return nil, err
	}

	buf := buffers.Get()
	_, err = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if err != nil {
		buffers.Put(buf)
		return nil, fmt.Errorf("failed to read chunk %d-%d: %w", c.Start, c.End, err)
	}
	data := buf.Bytes()

	if s.req.ValidateContent && len(resp.ContentMD5) > 0 {
		sum := md5.Sum(data)
		if !bytes.Equal(sum[:], resp.ContentMD5) {
			buffers.Put(buf)
			return nil, &IntegrityError{
				Reason: fmt.Sprintf("transactional checksum mismatch on range %d-%d", adj.Start, adj.End),
			}
		}
	}

	res := &chunkResult{chunk: c, data: data, buf: buf, etag: resp.ETag}
	if s.encrypted {
		final := adj.End >= s.totalSize-1
		plain, derr := s.req.Decrypter.DecryptRange(data, adj.IVInPayload, adj.PrefixPad, adj.SuffixPad, final)
		res.release()
		if derr != nil {
			return nil, &DecryptionError{Start: c.Start, End: c.End, Err: derr}
		}
		res.data = plain
	}

	s.guard.refresh(resp.ETag)

	s.log.Debug().
		Int64("start", c.Start).
		Int64("end", c.End).
		Int("bytes", len(res.data)).
		Msg("chunk fetched")
	return res, nil
}

// sequentialStrategy fetches chunks in plan order and writes each at the
// sink's current stream position. No offset bookkeeping is needed because
// writes are strictly in order, and progress is externally observable as
// monotonically increasing.
type sequentialStrategy struct{}

func (sequentialStrategy) run(ctx context.Context, s *session, sink io.Writer, _ int64) error {
	for i := 0; i < s.plan.Count(); i++ {
		c := s.plan.Chunk(i)

		if s.skipChunk != nil && s.skipChunk(c) {
			seeker, ok := sink.(io.Seeker)
			if !ok {
				return fmt.Errorf("cannot skip completed chunk %d-%d: sink is not seekable", c.Start, c.End)
			}
			if _, err := seeker.Seek(c.Size(), io.SeekCurrent); err != nil {
				return fmt.Errorf("failed to seek past completed chunk: %w", err)
			}
			s.progress(c.Size())
			continue
		}

		res, err := fetchChunk(ctx, s, c)
		if err != nil {
			return err
		}
		n, werr := sink.Write(res.data)
		res.release()
		if werr != nil {
			return fmt.Errorf("failed to write chunk %d-%d to sink: %w", c.Start, c.End, werr)
		}
		s.progress(int64(n))
		if s.chunkDone != nil {
			s.chunkDone(c, int64(n))
		}
	}
	return nil
}
