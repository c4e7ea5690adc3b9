// Package attachment converts raw capture and selection events into
// transferable, addressable payloads.
//
// File selections are validated against configured MIME-type and size
// limits and stored content-addressed in a BlobStore. Voice capture is
// a three-state recorder (Idle → Recording → Idle) that owns the
// microphone for the lifetime of a session and guarantees release on
// every exit path: stop, cancel, and error. Attachment references are
// opaque locators; callers never assume a particular storage backend.
package attachment
