package attachment

import (
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"
)

// RecorderState represents the voice capture lifecycle.
type RecorderState uint8

const (
	// RecorderIdle means no capture session is active.
	RecorderIdle RecorderState = iota
	// RecorderRecording means the microphone is held and frames accumulate.
	RecorderRecording
)

// CaptureDevice acquires the exclusive microphone resource. Acquire
// fails with ErrDeviceUnavailable (or a wrapped cause) when permission
// is denied or the hardware is busy.
type CaptureDevice interface {
	Acquire() (CaptureSession, error)
}

// CaptureSession is a held microphone. Release must be idempotent; the
// recorder calls it on every exit path.
type CaptureSession interface {
	Release() error
}

// VoiceRef is the finalized result of a recording session.
type VoiceRef struct {
	Ref             string
	DurationSeconds float64
	SampleRate      uint32
}

// Recorder is the three-state voice capture machine: Idle → Recording →
// Idle. Started on a hold gesture, stopped on release. Starting while
// already recording is a no-op, not an error.
type Recorder struct {
	device CaptureDevice
	blobs  BlobStore

	mu             sync.Mutex
	state          RecorderState
	session        CaptureSession
	conversationID string
	pcm            []int16
	sampleRate     uint32
}

// NewRecorder creates a recorder over the given device and blob store.
func NewRecorder(device CaptureDevice, blobs BlobStore) *Recorder {
	return &Recorder{device: device, blobs: blobs}
}

// State returns the current lifecycle state.
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start acquires the capture device and begins accumulating audio for
// the conversation. If a session is already active the call is a no-op
// and the active session is untouched.
func (r *Recorder) Start(conversationID string, sampleRate uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == RecorderRecording {
		logrus.WithFields(logrus.Fields{
			"function":        "Start",
			"conversation_id": conversationID,
			"active":          r.conversationID,
		}).Debug("Recording already active; start ignored")
		return nil
	}

	session, err := r.device.Acquire()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "Start",
			"conversation_id": conversationID,
			"error":           err.Error(),
		}).Warn("Failed to acquire capture device")
		return ErrDeviceUnavailable
	}

	if sampleRate == 0 {
		sampleRate = 48000
	}

	r.state = RecorderRecording
	r.session = session
	r.conversationID = conversationID
	r.pcm = r.pcm[:0]
	r.sampleRate = sampleRate

	logrus.WithFields(logrus.Fields{
		"function":        "Start",
		"conversation_id": conversationID,
		"sample_rate":     sampleRate,
	}).Info("Recording started")

	return nil
}

// Feed appends captured PCM samples to the active session. Frames
// arriving while idle are dropped.
func (r *Recorder) Feed(frame []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderRecording {
		return
	}
	r.pcm = append(r.pcm, frame...)
}

// Stop finalizes the session into a single playable asset: the
// accumulated buffer is stored and the duration computed from the
// sample count. The device is released whether or not storage succeeds.
func (r *Recorder) Stop() (VoiceRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderRecording {
		return VoiceRef{}, ErrNotRecording
	}

	pcm := r.pcm
	sampleRate := r.sampleRate
	conversationID := r.conversationID
	r.release()

	data := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}

	ref, err := r.blobs.Put(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "Stop",
			"conversation_id": conversationID,
			"error":           err.Error(),
		}).Error("Failed to store voice asset")
		return VoiceRef{}, err
	}

	duration := float64(len(pcm)) / float64(sampleRate)

	logrus.WithFields(logrus.Fields{
		"function":         "Stop",
		"conversation_id":  conversationID,
		"ref":              ref,
		"duration_seconds": duration,
	}).Info("Recording finalized")

	return VoiceRef{Ref: ref, DurationSeconds: duration, SampleRate: sampleRate}, nil
}

// Cancel abandons the session: the device is released and no asset is
// produced.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderRecording {
		return ErrNotRecording
	}

	conversationID := r.conversationID
	r.release()

	logrus.WithFields(logrus.Fields{
		"function":        "Cancel",
		"conversation_id": conversationID,
	}).Info("Recording cancelled")

	return nil
}

// release returns the recorder to Idle and frees the device. Callers
// hold the mutex.
func (r *Recorder) release() {
	if r.session != nil {
		if err := r.session.Release(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "release",
				"error":    err.Error(),
			}).Warn("Failed to release capture device")
		}
		r.session = nil
	}
	r.state = RecorderIdle
	r.conversationID = ""
}
