package download

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakefront/blobkit/transport"
)

func TestToFileWholeObject(t *testing.T) {
	data := randomData(t, 100_000)
	fake := &fakeObject{data: data, etag: "v1"}
	d := New(fake, Options{ChunkSize: 8192, FirstGetSize: 16384})

	dest := filepath.Join(t.TempDir(), "object.bin")
	props, err := d.ToFile(context.Background(), Request{}, dest, FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), props.ContentLength)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = os.Stat(dest + ".download.resume")
	assert.True(t, os.IsNotExist(err), "no sidecar without resume enabled")
}

func TestToFileParallel(t *testing.T) {
	data := randomData(t, 500_000)
	fake := &fakeObject{data: data, etag: "v1"}
	d := New(fake, Options{ChunkSize: 32 * 1024, FirstGetSize: 32 * 1024})

	dest := filepath.Join(t.TempDir(), "object.bin")
	_, err := d.ToFile(context.Background(), Request{}, dest, FileOptions{Concurrency: 4})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestToFileResumeAfterFailure(t *testing.T) {
	data := randomData(t, 100)
	newFake := func() *fakeObject {
		return &fakeObject{data: data, etag: "v1"}
	}
	dest := filepath.Join(t.TempDir(), "object.bin")
	opts := Options{ChunkSize: 16, FirstGetSize: 16}

	// First attempt: the first request and three chunks succeed, then the
	// transport starts failing hard.
	fake := newFake()
	fake.onRequest = func(n int) error {
		if n >= 5 {
			return &transport.StatusError{Status: http.StatusServiceUnavailable}
		}
		return nil
	}
	d := New(fake, opts)
	_, err := d.ToFile(context.Background(), Request{}, dest, FileOptions{Resume: true})
	require.Error(t, err)

	state, err := LoadResumeState(dest)
	require.NoError(t, err)
	require.NotNil(t, state, "failed download leaves its sidecar behind")
	assert.Len(t, state.CompletedChunks, 3)
	assert.Equal(t, transport.ETag("v1"), state.ETag)

	// Second attempt skips the completed chunks: one first request plus the
	// remaining chunks. Layout: first covers 0-15, chunks 16..99 in 16-byte
	// steps, 6 chunks total, 3 already done.
	fake = newFake()
	d = New(fake, opts)
	_, err = d.ToFile(context.Background(), Request{}, dest, FileOptions{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 1+3, fake.requestCount())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = os.Stat(dest + ".download.resume")
	assert.True(t, os.IsNotExist(err), "sidecar removed after completion")
}

func TestToFileResumeDiscardedWhenObjectChanged(t *testing.T) {
	data := randomData(t, 100)
	dest := filepath.Join(t.TempDir(), "object.bin")
	opts := Options{ChunkSize: 16, FirstGetSize: 16}

	fake := &fakeObject{data: data, etag: "v1"}
	fake.onRequest = func(n int) error {
		if n >= 4 {
			return &transport.StatusError{Status: http.StatusServiceUnavailable}
		}
		return nil
	}
	_, err := New(fake, opts).ToFile(context.Background(), Request{}, dest, FileOptions{Resume: true})
	require.Error(t, err)

	// The object is rewritten before the retry: stale chunks must not be
	// skipped.
	newData := randomData(t, 100)
	for i := range newData {
		newData[i] ^= 0x5a
	}
	fake = &fakeObject{data: newData, etag: "v2"}
	_, err = New(fake, opts).ToFile(context.Background(), Request{}, dest, FileOptions{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 1+6, fake.requestCount(), "every chunk re-fetched")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, newData, got)
}

func TestToFileResumeIgnoredForWindowedDownloads(t *testing.T) {
	data := randomData(t, 100)
	fake := &fakeObject{data: data, etag: "v1"}
	d := New(fake, Options{ChunkSize: 16, FirstGetSize: 16})

	dest := filepath.Join(t.TempDir(), "object.bin")
	_, err := d.ToFile(context.Background(), Request{
		Offset: int64p(10),
		Length: int64p(50),
	}, dest, FileOptions{Resume: true})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data[10:60], got)

	_, err = os.Stat(dest + ".download.resume")
	assert.True(t, os.IsNotExist(err), "windowed downloads never write a sidecar")
}
