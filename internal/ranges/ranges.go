// Package ranges provides the byte-range arithmetic used by the download
// engine: chunk planning for multi-request downloads and the fetch-range
// widening required for AES-CBC encrypted objects.
//
// Everything in this package is pure computation. The chunk plan in
// particular performs no I/O, so it can be iterated twice by the parallel
// downloader ("list offsets, then fetch") without side effects.
package ranges

// BlockSize is the AES cipher block size. Encrypted objects are stored as
// ciphertext padded to a multiple of this size.
const BlockSize = 16

// Chunk is one byte range fetched by a single range request.
// Start and End are both inclusive, matching HTTP Range header semantics.
type Chunk struct {
	Start int64
	End   int64
}

// Size returns the number of bytes covered by the chunk.
func (c Chunk) Size() int64 {
	return c.End - c.Start + 1
}

// Adjusted describes the widened fetch range for an encrypted object, plus
// how many bytes of the decrypted output must be discarded so the caller
// sees exactly the plaintext range originally requested.
type Adjusted struct {
	// Start and End are the stored-object byte range to actually fetch
	// (inclusive). For unencrypted objects these equal the requested range.
	Start int64
	End   int64

	// PrefixPad and SuffixPad count decrypted bytes to trim from the front
	// and back of the decrypted payload.
	PrefixPad int64
	SuffixPad int64

	// IVInPayload reports whether the fetch range was extended backwards by
	// one extra cipher block that carries the IV for the first decrypted
	// block. The extra block is consumed as the IV and produces no output,
	// so it is not counted in PrefixPad.
	IVInPayload bool
}

// AlignForEncryption widens the requested range [start, end] to cipher block
// boundaries when the object is encrypted.
//
// The start is aligned down to the nearest block boundary and the end is
// aligned up to the last byte of its block. When the aligned start is still
// past the beginning of the object, one additional block is fetched in front
// of it: in CBC mode the previous ciphertext block is the IV for the next,
// so that block is needed to decrypt the first requested block. A range that
// begins inside block zero uses the object's metadata IV instead and no
// extra block is fetched — the asymmetry is deliberate.
//
// When encrypted is false this is the identity adjustment.
func AlignForEncryption(start, end int64, encrypted bool) Adjusted {
	if !encrypted {
		return Adjusted{Start: start, End: end}
	}

	adj := Adjusted{
		Start: start - start%BlockSize,
		End:   end + (BlockSize - 1) - end%BlockSize,
	}
	adj.PrefixPad = start - adj.Start
	adj.SuffixPad = adj.End - end

	if adj.Start > 0 {
		adj.Start -= BlockSize
		adj.IVInPayload = true
	}
	return adj
}

// Plan enumerates the chunks still to be fetched after the initial request.
// Chunks start at FirstChunkEnd+1 and step by ChunkSize until WindowEnd.
//
// The zero value is an empty plan. Plan is a value type with no internal
// state, so it can be iterated any number of times.
type Plan struct {
	// FirstChunkEnd is the inclusive end of the range already covered by the
	// initial request.
	FirstChunkEnd int64

	// ChunkSize is the fixed size of each chunk; only the final chunk may be
	// shorter.
	ChunkSize int64

	// WindowEnd is the exclusive end of the requested window:
	// min(total object size, requested offset + requested length).
	WindowEnd int64
}

// Count returns the number of chunks in the plan.
func (p Plan) Count() int {
	if p.ChunkSize <= 0 {
		return 0
	}
	remaining := p.WindowEnd - (p.FirstChunkEnd + 1)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + p.ChunkSize - 1) / p.ChunkSize)
}

// Chunk returns the i-th chunk of the plan. i must be in [0, Count()).
func (p Plan) Chunk(i int) Chunk {
	start := p.FirstChunkEnd + 1 + int64(i)*p.ChunkSize
	end := start + p.ChunkSize - 1
	if end > p.WindowEnd-1 {
		end = p.WindowEnd - 1
	}
	return Chunk{Start: start, End: end}
}

// Chunks materializes the full ordered chunk list.
func (p Plan) Chunks() []Chunk {
	out := make([]Chunk, p.Count())
	for i := range out {
		out[i] = p.Chunk(i)
	}
	return out
}

// Offsets returns the start offset of every chunk in iteration order.
// Used by the parallel downloader to size its dispatch before any fetch.
func (p Plan) Offsets() []int64 {
	out := make([]int64, p.Count())
	for i := range out {
		out[i] = p.Chunk(i).Start
	}
	return out
}
