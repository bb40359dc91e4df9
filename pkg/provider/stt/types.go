package stt

import "time"

// Transcript is the result of transcribing one audio clip.
type Transcript struct {
	// Text is the transcribed speech content, trimmed of surrounding space.
	Text string

	// Language is the language the engine transcribed in, if reported.
	Language string

	// Segments holds per-segment detail when the engine exposes it.
	Segments []Segment

	// Duration is the wall-clock time the engine spent on the clip.
	Duration time.Duration
}

// Segment is one timed span of recognised speech.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}
