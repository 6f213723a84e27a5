package upload

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const bytesPerMegabyte = 1_048_576

// DefaultMaxSizeBytes is the upload limit used when no policy file is given.
const DefaultMaxSizeBytes = int64(5 * bytesPerMegabyte)

// Policy describes which uploads are acceptable. A Policy is immutable once
// built; NewPolicy copies everything it is given.
type Policy struct {
	maxSizeBytes int64
	permitted    map[string]struct{}
	signatures   map[string][][]byte
}

// NewPolicy builds a Policy. Extensions are normalized to lower case with a
// leading dot; signatures registered under spellings of the same extension
// are merged.
func NewPolicy(maxSizeBytes int64, permitted []string, signatures map[string][][]byte) (Policy, error) {
	if maxSizeBytes <= 0 {
		return Policy{}, fmt.Errorf("max size must be positive, got %d", maxSizeBytes)
	}

	p := Policy{
		maxSizeBytes: maxSizeBytes,
		permitted:    make(map[string]struct{}, len(permitted)),
		signatures:   make(map[string][][]byte, len(signatures)),
	}

	for _, ext := range permitted {
		p.permitted[normalizeExtension(ext)] = struct{}{}
	}

	for ext, sigs := range signatures {
		copied := make([][]byte, 0, len(sigs))
		for _, sig := range sigs {
			if len(sig) == 0 {
				return Policy{}, fmt.Errorf("empty signature registered for %q", ext)
			}
			copied = append(copied, append([]byte(nil), sig...))
		}
		key := normalizeExtension(ext)
		p.signatures[key] = append(p.signatures[key], copied...)
	}

	return p, nil
}

// DefaultPolicy accepts JPEG, PNG and GIF images up to DefaultMaxSizeBytes.
func DefaultPolicy() Policy {
	jpeg := [][]byte{
		{0xFF, 0xD8, 0xFF, 0xDB},
		{0xFF, 0xD8, 0xFF, 0xE0},
		{0xFF, 0xD8, 0xFF, 0xE1},
		{0xFF, 0xD8, 0xFF, 0xE2},
		{0xFF, 0xD8, 0xFF, 0xE3},
		{0xFF, 0xD8, 0xFF, 0xE8},
		{0xFF, 0xD8, 0xFF, 0xEE},
	}

	p, err := NewPolicy(
		DefaultMaxSizeBytes,
		[]string{".jpg", ".jpeg", ".png", ".gif"},
		map[string][][]byte{
			".jpg":  jpeg,
			".jpeg": jpeg,
			".png":  {{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
			".gif":  {[]byte("GIF87a"), []byte("GIF89a")},
		},
	)
	if err != nil {
		panic(err)
	}
	return p
}

// MaxSizeBytes returns the largest accepted upload in bytes.
func (p Policy) MaxSizeBytes() int64 {
	return p.maxSizeBytes
}

// MaxSizeMegabytes returns the limit in whole megabytes, as shown to users.
func (p Policy) MaxSizeMegabytes() int64 {
	return p.maxSizeBytes / bytesPerMegabyte
}

// Permits reports whether ext (any case, with leading dot) is allowed.
func (p Policy) Permits(ext string) bool {
	_, ok := p.permitted[normalizeExtension(ext)]
	return ok
}

// Signatures returns the header byte sequences registered for ext. The
// returned slices must not be modified.
func (p Policy) Signatures(ext string) [][]byte {
	return p.signatures[normalizeExtension(ext)]
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

type policyFile struct {
	MaxSizeBytes        int64               `yaml:"max_size_bytes"`
	PermittedExtensions []string            `yaml:"permitted_extensions"`
	Signatures          map[string][]string `yaml:"signatures"`
}

// LoadPolicy reads a YAML policy file. Signatures are hex strings; spaces
// between bytes are allowed ("FF D8 FF E0").
func LoadPolicy(path string) (Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(content)
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(content []byte) (Policy, error) {
	var raw policyFile
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}

	if raw.MaxSizeBytes == 0 {
		raw.MaxSizeBytes = DefaultMaxSizeBytes
	}

	signatures := make(map[string][][]byte, len(raw.Signatures))
	for ext, encoded := range raw.Signatures {
		for _, s := range encoded {
			sig, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
			if err != nil {
				return Policy{}, fmt.Errorf("decode signature %q for %q: %w", s, ext, err)
			}
			signatures[ext] = append(signatures[ext], sig)
		}
	}

	return NewPolicy(raw.MaxSizeBytes, raw.PermittedExtensions, signatures)
}
