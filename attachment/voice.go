package attachment

import (
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// maxOpusFrameSamples covers 120ms at 48kHz, the largest legal Opus frame.
const maxOpusFrameSamples = 5760

// OpusDuration computes the playable duration of a voice payload made
// of Opus frames by decoding each frame and summing sample counts.
// Incoming voice attachments declare a duration; this recomputes it so
// a mismatch can be detected instead of trusted.
func OpusDuration(frames [][]byte) (float64, error) {
	if len(frames) == 0 {
		return 0, fmt.Errorf("no audio frames")
	}

	decoder := opus.NewDecoder()
	output := make([]byte, maxOpusFrameSamples*2)

	total := 0.0
	for i, frame := range frames {
		if len(frame) == 0 {
			continue
		}

		bandwidth, isStereo, err := decoder.Decode(frame, output)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OpusDuration",
				"frame":    i,
				"error":    err.Error(),
			}).Warn("Opus decode failed")
			return 0, fmt.Errorf("opus decode failed at frame %d: %w", i, err)
		}

		sampleCount := len(output) / 2
		if isStereo {
			sampleCount /= 2
		}

		sampleRate := bandwidth.SampleRate()
		if sampleRate <= 0 {
			return 0, fmt.Errorf("invalid sample rate in frame %d", i)
		}

		total += float64(sampleCount) / float64(sampleRate)
	}

	return total, nil
}

// VerifyVoiceDuration recomputes the duration of opus frames and logs a
// mismatch against the declared value. The declared duration is kept
// either way; verification is advisory.
func VerifyVoiceDuration(frames [][]byte, declaredSeconds float64) float64 {
	actual, err := OpusDuration(frames)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "VerifyVoiceDuration",
			"declared": declaredSeconds,
			"error":    err.Error(),
		}).Debug("Could not verify voice duration")
		return declaredSeconds
	}

	diff := actual - declaredSeconds
	if diff < 0 {
		diff = -diff
	}
	if diff > 1.0 {
		logrus.WithFields(logrus.Fields{
			"function": "VerifyVoiceDuration",
			"declared": declaredSeconds,
			"actual":   actual,
		}).Warn("Voice duration mismatch")
	}

	return declaredSeconds
}
