package attachment

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultMaxFileSize limits file attachments to 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024

// DefaultAllowedTypes are the MIME types (or type prefixes ending in /)
// accepted when no explicit configuration is given.
var DefaultAllowedTypes = []string{
	"image/",
	"audio/",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
}

// Limits configures file attachment validation.
type Limits struct {
	// MaxFileSize in bytes; zero selects DefaultMaxFileSize.
	MaxFileSize int64
	// AllowedTypes lists accepted MIME types. An entry ending in "/"
	// matches as a prefix. Empty selects DefaultAllowedTypes.
	AllowedTypes []string
}

func (l Limits) maxSize() int64 {
	if l.MaxFileSize > 0 {
		return l.MaxFileSize
	}
	return DefaultMaxFileSize
}

func (l Limits) allows(mimeType string) bool {
	allowed := l.AllowedTypes
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	for _, entry := range allowed {
		if strings.HasSuffix(entry, "/") {
			if strings.HasPrefix(mimeType, entry) {
				return true
			}
		} else if mimeType == entry {
			return true
		}
	}
	return false
}

// FileRef is the result of a successful file capture: an opaque
// reference plus the metadata the message log carries.
type FileRef struct {
	Ref       string
	FileName  string
	MIMEType  string
	SizeBytes int64
}

// IsImage reports whether the captured file is an image.
func (f FileRef) IsImage() bool {
	return strings.HasPrefix(f.MIMEType, "image/")
}

// Pipeline validates and stores file selections.
type Pipeline struct {
	limits Limits
	blobs  BlobStore
}

// NewPipeline creates a pipeline storing blobs in the given store.
func NewPipeline(blobs BlobStore, limits Limits) *Pipeline {
	return &Pipeline{limits: limits, blobs: blobs}
}

// CaptureFile validates a file selection and stores its bytes,
// producing an addressable reference plus metadata. A validation or
// storage failure leaves no partial state behind.
func (p *Pipeline) CaptureFile(fileName, mimeType string, data []byte) (FileRef, error) {
	if len(data) == 0 {
		return FileRef{}, ErrEmptyFile
	}
	if int64(len(data)) > p.limits.maxSize() {
		logrus.WithFields(logrus.Fields{
			"function":  "CaptureFile",
			"file_name": fileName,
			"size":      len(data),
			"max_size":  p.limits.maxSize(),
		}).Warn("File rejected: too large")
		return FileRef{}, ErrFileTooLarge
	}
	if !p.limits.allows(mimeType) {
		logrus.WithFields(logrus.Fields{
			"function":  "CaptureFile",
			"file_name": fileName,
			"mime_type": mimeType,
		}).Warn("File rejected: unsupported type")
		return FileRef{}, ErrUnsupportedType
	}

	ref, err := p.blobs.Put(data)
	if err != nil {
		return FileRef{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "CaptureFile",
		"file_name": fileName,
		"mime_type": mimeType,
		"size":      len(data),
		"ref":       ref,
	}).Info("File captured")

	return FileRef{
		Ref:       ref,
		FileName:  fileName,
		MIMEType:  mimeType,
		SizeBytes: int64(len(data)),
	}, nil
}

// Resolve fetches the bytes behind an attachment reference.
func (p *Pipeline) Resolve(ref string) ([]byte, error) {
	return p.blobs.Get(ref)
}
