package entities

import "fmt"

// StageStatus tracks the outcome of one pipeline stage within a turn.
type StageStatus string

const (
	StageNotAttempted StageStatus = "not_attempted"
	StageSucceeded    StageStatus = "succeeded"
	StageFailed       StageStatus = "failed"
)

// InputKind distinguishes how a turn was initiated.
type InputKind string

const (
	InputAudio InputKind = "audio"
	InputText  InputKind = "text"
)

// SessionTurn is one client-initiated exchange through the recognition →
// dialogue → synthesis pipeline. It is created when a client message
// arrives, mutated in place by each stage, and discarded once the final
// reply has been sent. Nothing is persisted across turns.
type SessionTurn struct {
	Kind           InputKind
	RawAudio       []byte
	RecognizedText string
	Reply          string
	EmotionValue   int
	AudioURL       string
	ErrorMessage   string

	RecognitionStatus StageStatus
	DialogueStatus    StageStatus
	SynthesisStatus   StageStatus
}

// NewAudioTurn starts a turn from an uploaded audio clip.
func NewAudioTurn(audio []byte) *SessionTurn {
	return &SessionTurn{
		Kind:              InputAudio,
		RawAudio:          audio,
		EmotionValue:      defaultEmotion,
		RecognitionStatus: StageNotAttempted,
		DialogueStatus:    StageNotAttempted,
		SynthesisStatus:   StageNotAttempted,
	}
}

// NewTextTurn starts a turn from a typed message. Recognition is skipped
// entirely, the text stands in for the transcript.
func NewTextTurn(text string) *SessionTurn {
	return &SessionTurn{
		Kind:              InputText,
		RecognizedText:    text,
		EmotionValue:      defaultEmotion,
		RecognitionStatus: StageNotAttempted,
		DialogueStatus:    StageNotAttempted,
		SynthesisStatus:   StageNotAttempted,
	}
}

const (
	emotionMin     = 1
	emotionMax     = 6
	defaultEmotion = 3
)

// EmotionImagePath maps an emotion value to the avatar image served under
// the emotion endpoint. Out-of-range values fall back to neutral.
func EmotionImagePath(value int) string {
	if value < emotionMin || value > emotionMax {
		value = defaultEmotion
	}
	return fmt.Sprintf("/api/emotion/%d.jpg", value)
}
