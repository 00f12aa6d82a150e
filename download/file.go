package download

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lakefront/blobkit/internal/diskspace"
	"github.com/lakefront/blobkit/internal/ranges"
)

// FileOptions configures ToFile.
type FileOptions struct {
	// Concurrency is the number of parallel chunk workers. Values <= 1 run
	// sequentially.
	Concurrency int

	// Resume enables the resume sidecar: completed chunks are recorded next
	// to the destination and skipped when the same download is retried.
	// Resume only applies to unencrypted whole-object downloads; it is
	// silently ignored otherwise.
	Resume bool
}

// ToFile downloads the requested window into a local file. It checks disk
// space before issuing chunk requests, supports resuming interrupted
// downloads, and leaves the partial file plus its resume sidecar in place on
// failure so a retry can pick up where it stopped.
func (d *Downloader) ToFile(ctx context.Context, req Request, localPath string, fopts FileOptions) (*Properties, error) {
	if fopts.Concurrency < 1 {
		fopts.Concurrency = 1
	}
	// Resume identifies chunks by stored-object offsets and replays them
	// into the same file positions, which only lines up for unencrypted
	// whole-object downloads.
	resumable := fopts.Resume && req.Decrypter == nil && req.Offset == nil && req.Length == nil

	s, err := d.newSession(req)
	if err != nil {
		return nil, err
	}
	if err := s.start(ctx); err != nil {
		return nil, err
	}

	// Check disk space before committing to the download (with 5% safety buffer).
	if err := diskspace.CheckAvailableSpace(localPath, s.downloadSize, 1.05); err != nil {
		s.firstResp.Body.Close()
		return nil, err
	}

	var state *ResumeState
	if resumable {
		if existing, _ := LoadResumeState(localPath); existing != nil {
			if verr := existing.Validate(localPath, s.props.ETag, s.totalSize, s.chunkSize, s.firstChunkEnd); verr == nil {
				state = existing
				completed := existing.completedSet()
				s.skipChunk = func(c ranges.Chunk) bool { return completed[c.Start] }
				s.log.Info().
					Int("completed_chunks", len(existing.CompletedChunks)).
					Int("total_chunks", s.plan.Count()).
					Msg("resuming download")
			} else {
				s.log.Warn().Err(verr).Msg("discarding stale resume state")
				DeleteResumeState(localPath)
			}
		}
		if state == nil {
			state = &ResumeState{
				LocalPath:     localPath,
				ETag:          s.props.ETag,
				TotalSize:     s.totalSize,
				ChunkSize:     s.chunkSize,
				FirstChunkEnd: s.firstChunkEnd,
				CreatedAt:     time.Now(),
				LastUpdate:    time.Now(),
			}
		}

		// Save state on every chunk completion so an abrupt exit loses at
		// most one chunk of progress.
		var mu sync.Mutex
		s.chunkDone = func(c ranges.Chunk, written int64) {
			mu.Lock()
			defer mu.Unlock()
			state.MarkCompleted(c.Start, written)
			if serr := SaveResumeState(state, localPath); serr != nil {
				s.log.Warn().Err(serr).Msg("failed to save resume state")
			}
		}
	}

	var file *os.File
	if state != nil && len(state.CompletedChunks) > 0 {
		file, err = os.OpenFile(localPath, os.O_RDWR|os.O_CREATE, 0644)
	} else {
		file, err = os.Create(localPath)
	}
	if err != nil {
		s.firstResp.Body.Close()
		return nil, fmt.Errorf("failed to open destination file: %w", err)
	}
	defer file.Close()

	props, err := d.writeTo(ctx, s, file, fopts.Concurrency)
	if err != nil {
		// Keep the partial file and sidecar for resume.
		return nil, err
	}

	if resumable {
		DeleteResumeState(localPath)
	}
	return props, nil
}
