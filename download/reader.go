package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrReaderClosed is returned by Read after Close.
var ErrReaderClosed = errors.New("download: reader already closed")

// Reader streams the requested window lazily. The first response body is
// consumed first; when the caller's reads reach a chunk boundary the next
// chunk is fetched synchronously inside Read, so no chunk is requested
// before the caller consumes up to that point. The calling goroutine blocks
// for the duration of each fetch.
//
// The context passed to Open is retained and governs every chunk fetch, the
// same way a chunked object reader retains its open context.
//
// Reader is not safe for concurrent use. It must be closed on every path;
// abandoning a download is done by closing without draining.
type Reader struct {
	ctx    context.Context
	s      *session
	cur    io.ReadCloser
	res    *chunkResult // pooled backing of cur, when it came from a chunk fetch
	next   int          // index of the next plan chunk to fetch
	err    error        // sticky terminal error, io.EOF once drained
	closed bool
}

// initFirst installs the first response as the reader's initial source.
// A plain unvalidated download streams the body directly; validation and
// decryption need the whole range in hand, so those buffer it.
func (r *Reader) initFirst() error {
	s := r.s

	if !s.encrypted && !s.req.ValidateContent {
		if s.fullBody && s.offset > 0 {
			// The server ignored the range, so the body starts at byte zero
			// and the bytes before the requested offset must be skipped.
			if _, err := io.CopyN(io.Discard, s.firstResp.Body, s.offset); err != nil {
				s.firstResp.Body.Close()
				return fmt.Errorf("failed to skip to requested offset: %w", err)
			}
		}
		r.cur = &limitReadCloser{
			r: io.LimitReader(s.firstResp.Body, s.downloadSize),
			c: s.firstResp.Body,
		}
		return nil
	}

	data, err := io.ReadAll(s.firstResp.Body)
	s.firstResp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read first response: %w", err)
	}
	data, err = s.processFirst(data)
	if err != nil {
		return err
	}
	r.cur = io.NopCloser(bytes.NewReader(data))
	return nil
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, ErrReaderClosed
	}
	if r.err != nil {
		return 0, r.err
	}

	for {
		if r.cur == nil {
			if r.next >= r.s.plan.Count() {
				r.err = io.EOF
				return 0, io.EOF
			}
			res, err := fetchChunk(r.ctx, r.s, r.s.plan.Chunk(r.next))
			if err != nil {
				r.err = err
				return 0, err
			}
			r.next++
			r.res = res
			r.cur = io.NopCloser(bytes.NewReader(res.data))
		}

		n, err := r.cur.Read(p)
		if n > 0 {
			r.s.progress(int64(n))
		}
		if err == io.EOF {
			r.advance()
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			r.err = err
			return n, err
		}
		return n, nil
	}
}

// advance releases the exhausted source.
func (r *Reader) advance() {
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}
	if r.res != nil {
		r.res.release()
		r.res = nil
	}
}

// Close releases the current source and any open response stream. It is
// idempotent and safe to call at any point of consumption.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.advance()
	return nil
}

// limitReadCloser caps a stream while preserving the Close of the
// underlying body.
type limitReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitReadCloser) Close() error               { return l.c.Close() }
