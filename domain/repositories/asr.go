package repositories

import "context"

// SpeechRecognizer abstracts the speech recognition upstream.
type SpeechRecognizer interface {
	// Transcribe converts a complete audio clip to text. The returned
	// string is the concatenated transcript across all upstream
	// response frames and may be empty when nothing was recognized.
	Transcribe(ctx context.Context, audio []byte) (string, error)
}
