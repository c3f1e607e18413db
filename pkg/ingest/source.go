package ingest

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// DefaultMaxFileSize is the largest accepted input, 100 MiB.
const DefaultMaxFileSize = 100 * 1024 * 1024

// SourceFile is an immutable named byte buffer handed to Session.Load.
type SourceFile struct {
	name string
	data []byte
}

// NewSourceFile wraps data under the given file name. The slice must not
// be modified afterwards.
func NewSourceFile(name string, data []byte) SourceFile {
	return SourceFile{name: name, data: data}
}

// ReadSource reads the file at path. The size is checked before reading,
// so an oversized file is rejected without loading it.
func ReadSource(path string, maxSize int64) (SourceFile, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	info, err := os.Stat(path)
	if err != nil {
		return SourceFile{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return SourceFile{}, fmt.Errorf("%s is a directory", path)
	}
	if err := checkSize(info.Size(), maxSize); err != nil {
		return SourceFile{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	return NewSourceFile(filepath.Base(path), data), nil
}

// Name returns the declared file name.
func (s SourceFile) Name() string { return s.name }

// Data returns the file contents.
func (s SourceFile) Data() []byte { return s.data }

// Size returns the content length in bytes.
func (s SourceFile) Size() int64 { return int64(len(s.data)) }

// Ext returns the lower-cased extension without the dot.
func (s SourceFile) Ext() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(s.name)), ".")
}

// Digest returns the hex BLAKE3-256 digest of the contents.
func (s SourceFile) Digest() string {
	sum := blake3.Sum256(s.data)
	return hex.EncodeToString(sum[:])
}

func checkSize(size, maxSize int64) error {
	const mib = 1024 * 1024
	switch {
	case size == 0:
		return newError(KindEmptyFile, "File is empty", nil)
	case size > maxSize:
		msg := fmt.Sprintf("File too large: %.1fMB. Maximum size is %sMB.",
			float64(size)/mib, formatMB(float64(maxSize)/mib))
		return newError(KindFileTooLarge, msg, nil)
	}
	return nil
}

func formatMB(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
