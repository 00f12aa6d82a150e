package download

import "fmt"

// IntegrityError indicates the download cannot be trusted or performed as
// requested: a transactional checksum did not match the received bytes, or a
// parallel download was asked to write into a sink without positional-write
// support.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "download integrity: " + e.Reason
}

// DecryptionError wraps a failure from the decrypter with the chunk that
// could not be decrypted.
type DecryptionError struct {
	Start int64
	End   int64
	Err   error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("failed to decrypt range %d-%d: %v", e.Start, e.End, e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}
