// Package speech wraps the speech-to-text and text-to-speech services.
// Neither client ever returns an error: transcription failures become
// sentinel strings and synthesis failures become empty audio.
package speech

import "context"

// Transcript sentinels. They are never valid child utterances.
const (
	TranscriptMissingKey = "[Deepgram API key missing]"
	TranscriptFailed     = "[transcription error]"
)

// IsSentinel reports whether a transcript is one of the failure markers.
func IsSentinel(s string) bool {
	return s == TranscriptMissingKey || s == TranscriptFailed
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) string
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) []byte
}
