package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taigrr/showcase/pkg/archive"
	"github.com/taigrr/showcase/pkg/formats"
)

// Kind classifies a load failure.
type Kind int

const (
	KindEmptyFile Kind = iota + 1
	KindFileTooLarge
	KindArchiveCorrupt
	KindNoManifest
	KindMissingBuffer
	KindDecodeFailed
	// KindUnsupported is never returned as an error; unsupported files
	// load as a placeholder.
	KindUnsupported
	// KindCancelled marks a load that was superseded or cancelled. No
	// callback fires for it.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindEmptyFile:
		return "EmptyFile"
	case KindFileTooLarge:
		return "FileTooLarge"
	case KindArchiveCorrupt:
		return "ArchiveCorrupt"
	case KindNoManifest:
		return "NoManifest"
	case KindMissingBuffer:
		return "MissingRequiredBuffer"
	case KindDecodeFailed:
		return "DecodeFailed"
	case KindUnsupported:
		return "Unsupported"
	case KindCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the error reported by Session.Load. Msg is meant for the user.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err is a cancelled load.
func IsCancelled(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == KindCancelled
}

const msgSingleFileBuffer = "GLTF file references external binary files (.bin) that are not available. Use GLB format for single-file uploads."

// classify turns an error from the pipeline into an *Error with a message
// fit for the user.
func classify(err error, f Format) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindCancelled, "Loading cancelled", err)
	}
	if errors.Is(err, archive.ErrCorrupt) {
		return newError(KindArchiveCorrupt, fmt.Sprintf("Failed to read ZIP archive: %v", err), err)
	}
	if errors.Is(err, archive.ErrNoManifest) {
		return newError(KindNoManifest, "No GLTF file found in ZIP archive", err)
	}
	if errors.Is(err, archive.ErrMissingBuffer) {
		if f == FormatArchive {
			return newError(KindMissingBuffer, fmt.Sprintf("Failed to load GLTF from ZIP: %v", err), err)
		}
		return newError(KindMissingBuffer, msgSingleFileBuffer, err)
	}

	var de *formats.DecodeError
	if errors.As(err, &de) {
		if f == FormatArchive {
			return newError(KindDecodeFailed, fmt.Sprintf("Failed to load GLTF from ZIP: %v", de.Err), err)
		}
		return newError(KindDecodeFailed, fmt.Sprintf("Failed to load %s file: %v", strings.ToUpper(f.String()), de.Err), err)
	}
	return newError(KindDecodeFailed, fmt.Sprintf("Failed to load %s file: %v", strings.ToUpper(f.String()), err), err)
}
