// Package audio holds the small amount of PCM handling the gateway needs:
// a WAV container codec and the conversions that bring an uploaded clip into
// the 16 kHz mono format speech engines expect.
package audio

import "time"

// Clip is a decoded clip of 16-bit signed little-endian PCM audio.
type Clip struct {
	// Data is interleaved PCM, two bytes per sample per channel.
	Data []byte

	// SampleRate in Hz (16000 for speech recognition input).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Duration returns the playback length of the clip. It returns 0 when the
// format fields are not set.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Data) / (2 * c.Channels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Format describes the sample rate and channel count of a clip.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the input format of whisper.cpp.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}
