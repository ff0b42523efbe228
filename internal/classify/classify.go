// Package classify decides whether a local file is text and matches binary
// files against byte signatures.
package classify

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// Signature is a byte sequence expected at Offset.
type Signature struct {
	Bytes  []byte
	Offset int64
}

// ParseSignature decodes a hex string such as "FF D8 FF". Whitespace is
// ignored.
func ParseSignature(hexStr string, offset int64) (Signature, error) {
	clean := strings.Join(strings.Fields(hexStr), "")
	if clean == "" {
		return Signature{}, errors.New("empty signature")
	}
	if offset < 0 {
		return Signature{}, fmt.Errorf("negative offset %d", offset)
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return Signature{}, fmt.Errorf("signature %q: %w", hexStr, err)
	}
	return Signature{Bytes: b, Offset: offset}, nil
}

func (s Signature) String() string {
	return fmt.Sprintf("%X@%d", s.Bytes, s.Offset)
}

// MatchAt reports whether r holds the signature at its offset.
func (s Signature) MatchAt(r io.ReaderAt) bool {
	if len(s.Bytes) == 0 {
		return false
	}
	buf := make([]byte, len(s.Bytes))
	n, err := r.ReadAt(buf, s.Offset)
	if n < len(buf) || (err != nil && !errors.Is(err, io.EOF)) {
		return false
	}
	return bytes.Equal(buf, s.Bytes)
}

// Classifier inspects files on a filesystem.
type Classifier struct {
	fs afero.Fs
}

// New returns a classifier reading from fs.
func New(fs afero.Fs) *Classifier {
	return &Classifier{fs: fs}
}

// IsText reports whether the file's detected MIME type is text/plain or
// derives from it.
func (c *Classifier) IsText(path string) (bool, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return false, fmt.Errorf("detect %s: %w", path, err)
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true, nil
		}
	}
	return false, nil
}

// Detect returns the detected MIME type string, for reporting.
func (c *Classifier) Detect(path string) string {
	f, err := c.fs.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return ""
	}
	return mt.String()
}

// MatchAny reports whether the file matches at least one signature.
func (c *Classifier) MatchAny(path string, sigs []Signature) (bool, error) {
	if len(sigs) == 0 {
		return false, nil
	}
	f, err := c.fs.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	for _, s := range sigs {
		if s.MatchAt(f) {
			return true, nil
		}
	}
	return false, nil
}

// ReadAll returns the file content for content rules.
func (c *Classifier) ReadAll(path string) ([]byte, error) {
	return afero.ReadFile(c.fs, path)
}
