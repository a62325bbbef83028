package repositories

import "context"

// SpeechSynthesizer abstracts the text-to-speech upstream.
type SpeechSynthesizer interface {
	// Synthesize renders text into one complete audio clip, persisted
	// under a generated unique name.
	Synthesize(ctx context.Context, text string) (*SynthesisResult, error)
}

// SynthesisResult describes a generated audio clip.
type SynthesisResult struct {
	Filename string
	FilePath string
	Size     int64
}
