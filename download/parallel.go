package download

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/lakefront/blobkit/internal/ranges"
)

// parallelStrategy fetches chunks across a bounded worker pool. The chunk
// list is materialized up front (no I/O), then one dispatcher feeds a jobs
// channel consumed by concurrency workers, and every completed chunk flows
// over a results channel to a single writer goroutine that owns the sink and
// the progress counter exclusively. Chunk ranges are non-overlapping by
// construction, so completion order does not matter: each payload is written
// at its absolute sink position exactly once.
//
// The first worker error cancels dispatch of not-yet-started chunks and is
// surfaced to the caller; chunks already written are not rolled back, so
// sink content after a failure is partial and must be discarded.
type parallelStrategy struct {
	concurrency int
}

func (p parallelStrategy) run(ctx context.Context, s *session, sink io.Writer, sinkOrigin int64) error {
	wa, ok := sink.(io.WriterAt)
	if !ok {
		return &IntegrityError{Reason: "parallel download requires a sink supporting positional writes"}
	}

	chunks := s.plan.Chunks()
	base := s.plan.FirstChunkEnd + 1

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan ranges.Chunk)
	results := make(chan *chunkResult, p.concurrency)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, c := range chunks {
			if s.skipChunk != nil && s.skipChunk(c) {
				s.progress(c.Size())
				continue
			}
			select {
			case jobs <- c:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			for c := range jobs {
				res, err := fetchChunk(gctx, s, c)
				if err != nil {
					return err
				}
				select {
				case results <- res:
				case <-gctx.Done():
					res.release()
					return gctx.Err()
				}
			}
			return nil
		})
	}

	// The writer drains results until the workers are done, even after a
	// write failure, so in-flight fetches never block on a full channel.
	writeDone := make(chan error, 1)
	go func() {
		var firstErr error
		for res := range results {
			if firstErr == nil {
				pos := sinkOrigin + (res.chunk.Start - base)
				if _, err := wa.WriteAt(res.data, pos); err != nil {
					firstErr = fmt.Errorf("failed to write chunk at sink offset %d: %w", pos, err)
					cancel()
				} else {
					s.progress(int64(len(res.data)))
					if s.chunkDone != nil {
						s.chunkDone(res.chunk, int64(len(res.data)))
					}
				}
			}
			res.release()
		}
		writeDone <- firstErr
	}()

	err := g.Wait()
	close(results)
	werr := <-writeDone

	// A write failure cancels the workers, so it takes precedence over the
	// cancellation errors they report.
	if werr != nil {
		return werr
	}
	return err
}
