package download

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResumeState(localPath string) *ResumeState {
	return &ResumeState{
		LocalPath:       localPath,
		ETag:            "etag-1",
		TotalSize:       10_000,
		DownloadedBytes: 3_072,
		ChunkSize:       1024,
		FirstChunkEnd:   1023,
		CompletedChunks: []int64{1024, 2048, 3072},
		CreatedAt:       time.Now(),
		LastUpdate:      time.Now(),
	}
}

func TestResumeStateSaveLoad(t *testing.T) {
	localPath := filepath.Join(t.TempDir(), "object.bin")
	original := testResumeState(localPath)

	require.NoError(t, SaveResumeState(original, localPath))

	loaded, err := LoadResumeState(localPath)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, original.LocalPath, loaded.LocalPath)
	assert.Equal(t, original.ETag, loaded.ETag)
	assert.Equal(t, original.TotalSize, loaded.TotalSize)
	assert.Equal(t, original.DownloadedBytes, loaded.DownloadedBytes)
	assert.Equal(t, original.ChunkSize, loaded.ChunkSize)
	assert.Equal(t, original.FirstChunkEnd, loaded.FirstChunkEnd)
	assert.Equal(t, original.CompletedChunks, loaded.CompletedChunks)
}

func TestResumeStateMissing(t *testing.T) {
	loaded, err := LoadResumeState(filepath.Join(t.TempDir(), "nothing.bin"))
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestResumeStateDelete(t *testing.T) {
	localPath := filepath.Join(t.TempDir(), "object.bin")
	require.NoError(t, SaveResumeState(testResumeState(localPath), localPath))

	DeleteResumeState(localPath)
	loaded, err := LoadResumeState(localPath)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Deleting again is harmless.
	DeleteResumeState(localPath)
}

func TestResumeStateValidate(t *testing.T) {
	localPath := filepath.Join(t.TempDir(), "object.bin")
	require.NoError(t, os.WriteFile(localPath, []byte("partial"), 0644))

	valid := func() *ResumeState { return testResumeState(localPath) }

	assert.NoError(t, valid().Validate(localPath, "etag-1", 10_000, 1024, 1023))

	st := valid()
	st.CreatedAt = time.Now().Add(-MaxResumeAge - time.Hour)
	assert.Error(t, st.Validate(localPath, "etag-1", 10_000, 1024, 1023), "expired state")

	assert.Error(t, valid().Validate("/elsewhere/object.bin", "etag-1", 10_000, 1024, 1023))
	assert.Error(t, valid().Validate(localPath, "etag-2", 10_000, 1024, 1023), "object version changed")
	assert.Error(t, valid().Validate(localPath, "etag-1", 20_000, 1024, 1023), "object size changed")
	assert.Error(t, valid().Validate(localPath, "etag-1", 10_000, 2048, 1023), "chunk size changed")
	assert.Error(t, valid().Validate(localPath, "etag-1", 10_000, 1024, 2047), "first boundary changed")

	// An empty current ETag (transport without version info) skips the check.
	assert.NoError(t, valid().Validate(localPath, "", 10_000, 1024, 1023))

	missing := filepath.Join(t.TempDir(), "gone.bin")
	st = valid()
	st.LocalPath = missing
	assert.Error(t, st.Validate(missing, "etag-1", 10_000, 1024, 1023), "partial file missing")
}

func TestResumeStateMarkCompleted(t *testing.T) {
	st := testResumeState("x")
	before := st.DownloadedBytes

	st.MarkCompleted(4096, 1024)
	assert.Contains(t, st.CompletedChunks, int64(4096))
	assert.Equal(t, before+1024, st.DownloadedBytes)

	// Marking the same chunk twice is a no-op.
	st.MarkCompleted(4096, 1024)
	assert.Equal(t, before+1024, st.DownloadedBytes)
	assert.Len(t, st.CompletedChunks, 4)
}

func TestResumeStateAtomicSave(t *testing.T) {
	localPath := filepath.Join(t.TempDir(), "object.bin")
	require.NoError(t, SaveResumeState(testResumeState(localPath), localPath))

	// A second save overwrites cleanly and leaves no temp file.
	st := testResumeState(localPath)
	st.MarkCompleted(4096, 1024)
	require.NoError(t, SaveResumeState(st, localPath))

	_, err := os.Stat(localPath + ".download.resume.tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := LoadResumeState(localPath)
	require.NoError(t, err)
	assert.Len(t, loaded.CompletedChunks, 4)
}
