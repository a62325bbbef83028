package websocket

import (
	"time"

	"github.com/huohuo-app/voice-gateway/domain/entities"
	"github.com/huohuo-app/voice-gateway/internal/persona"
)

// MessageType defines the type of a session protocol message.
type MessageType string

// Supported message types
const (
	MessageTypeWelcome        MessageType = "welcome"
	MessageTypeAudio          MessageType = "audio"
	MessageTypeText           MessageType = "text"
	MessageTypePing           MessageType = "ping"
	MessageTypePong           MessageType = "pong"
	MessageTypeStatus         MessageType = "status"
	MessageTypeAsrResult      MessageType = "asr_result"
	MessageTypeAssistantReply MessageType = "assistant_reply"
	MessageTypeError          MessageType = "error"
)

// ClientMessage is the inbound envelope. Audio carries base64 bytes for
// audio turns, Message carries the text for text turns.
type ClientMessage struct {
	Type    MessageType `json:"type"`
	Audio   string      `json:"audio,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WelcomeMessage greets a client once on connect.
type WelcomeMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// StatusMessage is an intermediate progress notification during a turn.
type StatusMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// AsrResultMessage carries the transcript back to the client on audio
// turns.
type AsrResultMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// AssistantReplyMessage is the final reply of a turn. AudioURL is null
// when synthesis failed or was skipped.
type AssistantReplyMessage struct {
	Type         MessageType `json:"type"`
	Message      string      `json:"message"`
	EmotionValue int         `json:"emotion_value"`
	EmotionImg   string      `json:"emotion_img"`
	AudioURL     *string     `json:"audio_url"`
	UserMessage  string      `json:"user_message"`
}

// PongMessage answers a client ping with the server time in float
// seconds.
type PongMessage struct {
	Type      MessageType `json:"type"`
	Timestamp float64     `json:"timestamp"`
}

// ErrorMessage reports a failure without closing the connection.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// NewWelcomeMessage creates the connect-time greeting.
func NewWelcomeMessage() *WelcomeMessage {
	return &WelcomeMessage{
		Type:    MessageTypeWelcome,
		Message: persona.WelcomeMessage(),
	}
}

// NewStatusMessage creates a progress notification.
func NewStatusMessage(message string) *StatusMessage {
	return &StatusMessage{
		Type:    MessageTypeStatus,
		Message: message,
	}
}

// NewAsrResultMessage creates a transcript notification.
func NewAsrResultMessage(text string) *AsrResultMessage {
	return &AsrResultMessage{
		Type:    MessageTypeAsrResult,
		Message: text,
	}
}

// NewAssistantReplyMessage builds the final reply from a finished turn.
func NewAssistantReplyMessage(turn *entities.SessionTurn) *AssistantReplyMessage {
	var audioURL *string
	if turn.AudioURL != "" {
		audioURL = &turn.AudioURL
	}

	return &AssistantReplyMessage{
		Type:         MessageTypeAssistantReply,
		Message:      turn.Reply,
		EmotionValue: turn.EmotionValue,
		EmotionImg:   entities.EmotionImagePath(turn.EmotionValue),
		AudioURL:     audioURL,
		UserMessage:  turn.RecognizedText,
	}
}

// NewPongMessage creates a pong with the current time.
func NewPongMessage() *PongMessage {
	return &PongMessage{
		Type:      MessageTypePong,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// NewErrorMessage creates an error notification.
func NewErrorMessage(message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MessageTypeError,
		Message: message,
	}
}
