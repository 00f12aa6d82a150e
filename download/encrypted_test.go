package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakefront/blobkit/encryption"
)

// encryptedFixture stores an encrypted object in a fake and returns the
// plaintext it was built from together with a ready Decryptor.
func encryptedFixture(t *testing.T, plainLen int) ([]byte, *fakeObject, *encryption.Decryptor) {
	t.Helper()
	plaintext := randomData(t, plainLen)

	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	iv, err := encryption.GenerateIV()
	require.NoError(t, err)

	ciphertext, err := encryption.EncryptObject(plaintext, key, iv)
	require.NoError(t, err)

	dec, err := encryption.NewDecryptor(key, iv)
	require.NoError(t, err)

	return plaintext, &fakeObject{data: ciphertext, etag: "enc-v1"}, dec
}

func TestEncryptedWholeObjectSequential(t *testing.T) {
	plaintext, fake, dec := encryptedFixture(t, 100_000)
	d := New(fake, Options{ChunkSize: 8192, FirstGetSize: 16384})

	var sink bytes.Buffer
	_, err := d.WriteTo(context.Background(), Request{Decrypter: dec}, &sink, 1)
	require.NoError(t, err)
	assert.Equal(t, plaintext, sink.Bytes())
}

func TestEncryptedWholeObjectParallel(t *testing.T) {
	plaintext, fake, dec := encryptedFixture(t, 200_000)
	d := New(fake, Options{ChunkSize: 16384, FirstGetSize: 16384})

	sink := &memSink{}
	_, err := d.WriteTo(context.Background(), Request{Decrypter: dec}, sink, 4)
	require.NoError(t, err)
	assert.Equal(t, plaintext, sink.Bytes())
}

// TestEncryptedRange requests interior windows. Offsets are stored-object
// coordinates, which for CBC ciphertext coincide with plaintext positions.
func TestEncryptedRange(t *testing.T) {
	plaintext, fake, dec := encryptedFixture(t, 10_000)
	d := New(fake, Options{ChunkSize: 512, FirstGetSize: 512})

	for _, tc := range []struct{ offset, length int64 }{
		{37, 1000},
		{0, 16},
		{16, 1},
		{9_000, 1_000}, // runs to the end of the plaintext
	} {
		var sink bytes.Buffer
		_, err := d.WriteTo(context.Background(), Request{
			Offset:    int64p(tc.offset),
			Length:    int64p(tc.length),
			Decrypter: dec,
		}, &sink, 1)
		require.NoError(t, err, "offset %d length %d", tc.offset, tc.length)

		want := plaintext[tc.offset:min64(tc.offset+tc.length, int64(len(plaintext)))]
		assert.Equal(t, want, sink.Bytes(), "offset %d length %d", tc.offset, tc.length)
	}
}

func TestEncryptedRangeRequestsAreAligned(t *testing.T) {
	_, fake, dec := encryptedFixture(t, 10_000)
	d := New(fake, Options{ChunkSize: 512, FirstGetSize: 512})

	var sink bytes.Buffer
	_, err := d.WriteTo(context.Background(), Request{
		Offset:    int64p(37),
		Length:    int64p(100),
		Decrypter: dec,
	}, &sink, 1)
	require.NoError(t, err)

	first := fake.request(0)
	require.NotNil(t, first.Range)
	// 37 aligns down to 32 and the preceding block is fetched as the IV.
	assert.Equal(t, int64(16), first.Range.Start)
	assert.Equal(t, int64(15), first.Range.End%16, "end is the last byte of a block")
}

func TestEncryptedRangeIgnoringServer(t *testing.T) {
	plaintext, fake, dec := encryptedFixture(t, 10_000)
	fake.ignoreRanges = true
	d := New(fake, Options{ChunkSize: 512, FirstGetSize: 512})

	var sink bytes.Buffer
	_, err := d.WriteTo(context.Background(), Request{Decrypter: dec}, &sink, 1)
	require.NoError(t, err)
	assert.Equal(t, plaintext, sink.Bytes())
	assert.Equal(t, 1, fake.requestCount())

	// A windowed request decrypts the full body and carves the window out.
	winPlain, winFake, winDec := encryptedFixture(t, 10_000)
	winFake.ignoreRanges = true
	d = New(winFake, Options{ChunkSize: 512, FirstGetSize: 512})

	var winSink bytes.Buffer
	_, err = d.WriteTo(context.Background(), Request{
		Offset:    int64p(37),
		Length:    int64p(1000),
		Decrypter: winDec,
	}, &winSink, 1)
	require.NoError(t, err)
	assert.Equal(t, winPlain[37:1037], winSink.Bytes())
	assert.Equal(t, 1, winFake.requestCount())
}

func TestEncryptedCorruptCiphertext(t *testing.T) {
	_, fake, dec := encryptedFixture(t, 1000)
	// Truncate to a non-block-aligned length so decryption must fail.
	fake.data = fake.data[:len(fake.data)-3]
	d := New(fake, Options{ChunkSize: 4096, FirstGetSize: 4096})

	var sink bytes.Buffer
	_, err := d.WriteTo(context.Background(), Request{Decrypter: dec}, &sink, 1)
	require.Error(t, err)

	var de *DecryptionError
	assert.True(t, errors.As(err, &de))
}

func TestEncryptedReader(t *testing.T) {
	plaintext, fake, dec := encryptedFixture(t, 50_000)
	d := New(fake, Options{ChunkSize: 4096, FirstGetSize: 4096})

	_, r, err := d.Open(context.Background(), Request{Decrypter: dec})
	require.NoError(t, err)
	defer r.Close()

	got, err := readAll(r)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// readAll drains a reader through small buffers to exercise partial reads.
func readAll(r *Reader) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, 1013) // deliberately not a power of two
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			return out.Bytes(), nil
		}
		if err != nil {
			return out.Bytes(), err
		}
	}
}
