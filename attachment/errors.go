package attachment

import "errors"

var (
	// ErrDeviceUnavailable indicates the capture device could not be
	// acquired (permission denied, hardware busy). Recoverable: the
	// compose surface stays usable for text.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrFileTooLarge indicates the selected file exceeds the configured limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")
	// ErrUnsupportedType indicates the file's MIME type is not allowed.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrEmptyFile indicates a zero-byte selection.
	ErrEmptyFile = errors.New("file is empty")
	// ErrNotRecording indicates Stop or Cancel without an active session.
	ErrNotRecording = errors.New("no recording in progress")
	// ErrBlobNotFound indicates the attachment reference resolves to nothing.
	ErrBlobNotFound = errors.New("attachment blob not found")
)
