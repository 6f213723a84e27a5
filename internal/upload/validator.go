package upload

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"path/filepath"
)

var (
	ErrEmpty            = errors.New("upload is empty")
	ErrTooLarge         = errors.New("upload exceeds maximum size")
	ErrInvalidSignature = errors.New("upload extension or signature not permitted")
)

// Candidate is an untrusted upload as received from a client. Size is the
// length the client reported, which is checked against the stream itself.
type Candidate struct {
	Size     int64
	FileName string
	Content  io.ReadSeeker
}

// ValidationError reports why a Candidate was rejected. FileName is already
// HTML-encoded.
type ValidationError struct {
	Kind     error
	FileName string
	Size     int64
	LimitMB  int64
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ErrEmpty:
		return fmt.Sprintf("The file (%s) is empty.", e.FileName)
	case ErrTooLarge:
		return fmt.Sprintf("The file (%s) exceeds %d MB.", e.FileName, e.LimitMB)
	default:
		return fmt.Sprintf("The file (%s) file type isn't permitted or the file's signature doesn't match the file's extension.", e.FileName)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// Validator checks uploads against a fixed Policy.
type Validator struct {
	policy Policy
}

// NewValidator returns a Validator bound to policy.
func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// Validate checks c and rewinds its stream to the start before returning.
// Rejections are *ValidationError; any other error comes from the stream.
func (v *Validator) Validate(c Candidate) (err error) {
	encodedName := html.EscapeString(c.FileName)
	reject := func(kind error, size int64) error {
		return &ValidationError{
			Kind:     kind,
			FileName: encodedName,
			Size:     size,
			LimitMB:  v.policy.MaxSizeMegabytes(),
		}
	}

	if c.Content == nil {
		return reject(ErrEmpty, 0)
	}

	defer func() {
		if _, seekErr := c.Content.Seek(0, io.SeekStart); seekErr != nil && err == nil {
			err = fmt.Errorf("rewind upload: %w", seekErr)
		}
	}()

	actual, err := c.Content.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("measure upload: %w", err)
	}

	if c.Size == 0 || actual == 0 {
		return reject(ErrEmpty, 0)
	}

	size := max(c.Size, actual)
	if size > v.policy.MaxSizeBytes() {
		return reject(ErrTooLarge, size)
	}

	ext := filepath.Ext(c.FileName)
	if ext == "" || !v.policy.Permits(ext) {
		return reject(ErrInvalidSignature, size)
	}

	signatures := v.policy.Signatures(ext)
	longest := 0
	for _, sig := range signatures {
		longest = max(longest, len(sig))
	}
	if longest == 0 {
		return reject(ErrInvalidSignature, size)
	}

	if _, err := c.Content.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}

	header := make([]byte, longest)
	n, err := io.ReadFull(c.Content, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read upload header: %w", err)
	}
	header = header[:n]

	for _, sig := range signatures {
		if bytes.HasPrefix(header, sig) {
			return nil
		}
	}

	return reject(ErrInvalidSignature, size)
}
