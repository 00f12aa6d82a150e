// Package encryption implements the client-side AES-256-CBC scheme used for
// encrypted blobs. Objects are stored as ciphertext padded with PKCS7 to the
// cipher block size; the IV for block zero lives in object metadata, while
// any later block uses the preceding ciphertext block as its IV. That
// property is what lets the download engine decrypt an arbitrary byte range
// after fetching one extra block in front of it.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	KeySize = 32 // 256-bit key for AES-256
	IVSize  = 16 // 128-bit IV for AES
)

// GenerateKey generates a random 256-bit encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// GenerateIV generates a random 128-bit initialization vector.
func GenerateIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	return iv, nil
}

// pkcs7Pad applies PKCS7 padding to the data.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padText := make([]byte, padding)
	for i := range padText {
		padText[i] = byte(padding)
	}
	return append(data, padText...)
}

// pkcs7Unpad removes PKCS7 padding from the data.
// Verifies that all padding bytes have the correct value for defense-in-depth.
func pkcs7Unpad(data []byte) ([]byte, error) {
	length := len(data)
	if length == 0 {
		return nil, fmt.Errorf("invalid padding: empty data")
	}
	padding := int(data[length-1])
	if padding > length || padding > aes.BlockSize || padding == 0 {
		return nil, fmt.Errorf("invalid padding size: %d", padding)
	}
	for i := 0; i < padding; i++ {
		if data[length-1-i] != byte(padding) {
			return nil, fmt.Errorf("invalid padding byte at position %d: expected %d, got %d", i, padding, data[length-1-i])
		}
	}
	return data[:length-padding], nil
}

// EncryptObject encrypts a whole plaintext object with AES-256-CBC and PKCS7
// padding, returning the ciphertext as it would be stored. The upload path
// and tests use this to produce objects the Decryptor can range-decrypt.
func EncryptObject(plaintext, key, iv []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes", KeySize)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("IV must be %d bytes", IVSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// Decryptor decrypts block-aligned ciphertext ranges of a single encrypted
// object. It is safe for concurrent use: each call constructs its own CBC
// stream from the range's IV.
type Decryptor struct {
	key   []byte
	iv    []byte // metadata IV, used when the range starts in block zero
	block cipher.Block
}

// NewDecryptor creates a Decryptor for one object's key material.
//
// Parameters:
//   - key: 32-byte encryption key
//   - iv: 16-byte IV from object metadata (decrypts block zero)
func NewDecryptor(key, iv []byte) (*Decryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("IV must be %d bytes, got %d", IVSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	keyCopy := make([]byte, KeySize)
	copy(keyCopy, key)
	ivCopy := make([]byte, IVSize)
	copy(ivCopy, iv)

	return &Decryptor{
		key:   keyCopy,
		iv:    ivCopy,
		block: block,
	}, nil
}

// DecryptRange decrypts one block-aligned ciphertext range and trims it back
// to the plaintext bytes the caller originally asked for.
//
// Parameters:
//   - ciphertext: the fetched bytes, a multiple of the block size
//   - ivInPayload: true when the first block of ciphertext is the extra IV
//     block fetched in front of the range (ranges starting at an aligned
//     offset past block zero); false when the metadata IV applies
//   - prefixPad, suffixPad: decrypted bytes to discard from front and back,
//     as computed by the range alignment
//   - final: true when the range reaches the end of the stored object, which
//     means the last block carries PKCS7 padding to remove
func (d *Decryptor) DecryptRange(ciphertext []byte, ivInPayload bool, prefixPad, suffixPad int64, final bool) ([]byte, error) {
	iv := d.iv
	if ivInPayload {
		if len(ciphertext) < aes.BlockSize {
			return nil, fmt.Errorf("ciphertext shorter than IV block: %d bytes", len(ciphertext))
		}
		iv = ciphertext[:aes.BlockSize]
		ciphertext = ciphertext[aes.BlockSize:]
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext cannot be empty")
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length (%d) must be a multiple of %d", len(ciphertext), aes.BlockSize)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(d.block, iv).CryptBlocks(plaintext, ciphertext)

	fetched := int64(len(plaintext)) // plaintext bytes covered by the fetch, padding included
	if final {
		unpadded, err := pkcs7Unpad(plaintext)
		if err != nil {
			return nil, fmt.Errorf("failed to remove padding: %w", err)
		}
		plaintext = unpadded
	}

	if prefixPad < 0 || suffixPad < 0 || prefixPad+suffixPad > fetched {
		return nil, fmt.Errorf("trim %d+%d exceeds decrypted length %d", prefixPad, suffixPad, fetched)
	}

	// A requested end inside the final block's padding region trims to the
	// plaintext end instead.
	endIdx := fetched - suffixPad
	if endIdx > int64(len(plaintext)) {
		endIdx = int64(len(plaintext))
	}
	if endIdx < prefixPad {
		endIdx = prefixPad
	}
	return plaintext[prefixPad:endIdx], nil
}

// EncodeBase64 encodes bytes to a base64 string.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a base64 string to bytes.
func DecodeBase64(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
