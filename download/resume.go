package download

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lakefront/blobkit/transport"
)

// ResumeState tracks an in-progress file download for resumption. It is
// persisted as a JSON sidecar next to the destination file and identifies
// completed chunks by their start offset, which is stable as long as the
// chunk layout (chunk size and first-request boundary) is unchanged.
type ResumeState struct {
	LocalPath       string         `json:"local_path"`
	ETag            transport.ETag `json:"etag"` // object version the chunks were fetched from
	TotalSize       int64          `json:"total_size"`
	DownloadedBytes int64          `json:"downloaded_bytes"`
	ChunkSize       int64          `json:"chunk_size"`
	FirstChunkEnd   int64          `json:"first_chunk_end"`
	CompletedChunks []int64        `json:"completed_chunks,omitempty"` // chunk start offsets
	CreatedAt       time.Time      `json:"created_at"`
	LastUpdate      time.Time      `json:"last_update"`
}

// MaxResumeAge is the maximum age of a resume state before it's considered
// expired.
const MaxResumeAge = 7 * 24 * time.Hour

func resumeStatePath(localPath string) string {
	return localPath + ".download.resume"
}

// SaveResumeState saves the resume state to its sidecar file. The write is
// atomic (temp file + rename) so an interrupted save never corrupts an
// existing state.
func SaveResumeState(state *ResumeState, localPath string) error {
	stateFilePath := resumeStatePath(localPath)
	tmpFilePath := stateFilePath + ".tmp"

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resume state: %w", err)
	}

	if err := os.WriteFile(tmpFilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}

	if err := os.Rename(tmpFilePath, stateFilePath); err != nil {
		os.Remove(tmpFilePath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}

// LoadResumeState loads the resume state sidecar, returning (nil, nil) when
// none exists.
func LoadResumeState(localPath string) (*ResumeState, error) {
	data, err := os.ReadFile(resumeStatePath(localPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state ResumeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	return &state, nil
}

// DeleteResumeState removes the resume state sidecar, if present.
func DeleteResumeState(localPath string) {
	os.Remove(resumeStatePath(localPath))
}

// Validate checks that a loaded state can resume the download described by
// the current first response: same object version, same size, and the same
// chunk layout, and not expired.
func (st *ResumeState) Validate(localPath string, etag transport.ETag, totalSize, chunkSize, firstChunkEnd int64) error {
	if st == nil {
		return fmt.Errorf("state is nil")
	}
	if time.Since(st.CreatedAt) > MaxResumeAge {
		return fmt.Errorf("resume state expired (created %s ago)", time.Since(st.CreatedAt).Round(time.Hour))
	}
	if st.LocalPath != localPath {
		return fmt.Errorf("resume state is for %s, not %s", st.LocalPath, localPath)
	}
	if etag != "" && st.ETag != etag {
		return fmt.Errorf("object changed since download started (etag %s, was %s)", etag, st.ETag)
	}
	if st.TotalSize != totalSize {
		return fmt.Errorf("object size changed: %d, was %d", totalSize, st.TotalSize)
	}
	if st.ChunkSize != chunkSize || st.FirstChunkEnd != firstChunkEnd {
		return fmt.Errorf("chunk layout changed: size %d boundary %d, was size %d boundary %d",
			chunkSize, firstChunkEnd, st.ChunkSize, st.FirstChunkEnd)
	}
	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("partial file missing: %w", err)
	}
	return nil
}

// MarkCompleted records one finished chunk by start offset.
func (st *ResumeState) MarkCompleted(start, written int64) {
	for _, s := range st.CompletedChunks {
		if s == start {
			return
		}
	}
	st.CompletedChunks = append(st.CompletedChunks, start)
	st.DownloadedBytes += written
	st.LastUpdate = time.Now()
}

// completedSet returns the completed chunk starts as a lookup set.
func (st *ResumeState) completedSet() map[int64]bool {
	set := make(map[int64]bool, len(st.CompletedChunks))
	for _, s := range st.CompletedChunks {
		set[s] = true
	}
	return set
}
