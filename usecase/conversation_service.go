// Package usecase orchestrates one session turn through the recognition,
// dialogue and synthesis stages in strict order.
package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/huohuo-app/voice-gateway/domain/entities"
	"github.com/huohuo-app/voice-gateway/domain/repositories"
	"github.com/huohuo-app/voice-gateway/internal/persona"
	"github.com/huohuo-app/voice-gateway/internal/storage"
)

const (
	defaultRecognitionTimeout = 30 * time.Second
	defaultSynthesisTimeout   = 20 * time.Second

	// Blocking dialogue calls admitted at once across all connections.
	defaultDialogueWorkers = 8
)

// Notifier receives progress events for the connection that owns a turn.
// Implementations must be safe to call from the turn's goroutine.
type Notifier interface {
	Status(message string)
	RecognitionResult(text string)
}

// ConversationService drives the turn pipeline. Stages run strictly in
// order; each stage's failure policy is fixed: recognition failure aborts
// the turn, dialogue failure degrades to the apology reply, synthesis
// failure only drops the audio.
type ConversationService struct {
	recognizer  repositories.SpeechRecognizer
	synthesizer repositories.SpeechSynthesizer
	dialogue    repositories.DialogueModel
	store       *storage.FileStore
	workers     *semaphore.Weighted
	logger      *zap.Logger

	recognitionTimeout time.Duration
	synthesisTimeout   time.Duration
}

// NewConversationService creates the orchestrator with default stage
// timeouts and worker pool size.
func NewConversationService(
	recognizer repositories.SpeechRecognizer,
	synthesizer repositories.SpeechSynthesizer,
	dialogue repositories.DialogueModel,
	store *storage.FileStore,
	logger *zap.Logger,
) *ConversationService {
	return &ConversationService{
		recognizer:         recognizer,
		synthesizer:        synthesizer,
		dialogue:           dialogue,
		store:              store,
		workers:            semaphore.NewWeighted(defaultDialogueWorkers),
		logger:             logger,
		recognitionTimeout: defaultRecognitionTimeout,
		synthesisTimeout:   defaultSynthesisTimeout,
	}
}

// ProcessAudioTurn runs a full turn from an uploaded audio clip. The clip
// is persisted, transcribed, answered and synthesized; recognition
// failure ends the turn with an error message and no reply.
func (s *ConversationService) ProcessAudioTurn(ctx context.Context, audio []byte, notifier Notifier) *entities.SessionTurn {
	turn := entities.NewAudioTurn(audio)

	notifier.Status("正在保存音频文件...")
	if _, _, err := s.store.SaveUpload(audio, "webm"); err != nil {
		// The transcript works off the in-memory bytes, so a failed
		// save degrades to a missing upload record only.
		s.logger.Warn("Saving audio upload failed", zap.Error(err))
	}

	notifier.Status("正在进行语音识别...")
	recognitionCtx, cancel := context.WithTimeout(ctx, s.recognitionTimeout)
	text, err := s.recognizer.Transcribe(recognitionCtx, audio)
	cancel()
	if err != nil {
		s.logger.Error("Speech recognition failed", zap.Error(err))
		turn.RecognitionStatus = entities.StageFailed
		turn.ErrorMessage = "语音识别失败，请重试"
		return turn
	}

	turn.RecognitionStatus = entities.StageSucceeded
	turn.RecognizedText = text
	notifier.RecognitionResult(text)

	s.respond(ctx, turn, notifier)
	return turn
}

// ProcessTextTurn runs a turn from a typed message, skipping recognition.
func (s *ConversationService) ProcessTextTurn(ctx context.Context, text string, notifier Notifier) *entities.SessionTurn {
	turn := entities.NewTextTurn(text)
	s.respond(ctx, turn, notifier)
	return turn
}

// respond runs the dialogue and synthesis stages over the turn's
// recognized text.
func (s *ConversationService) respond(ctx context.Context, turn *entities.SessionTurn, notifier Notifier) {
	// An empty transcript never reaches the dialogue model.
	if strings.TrimSpace(turn.RecognizedText) == "" {
		turn.Reply = persona.MisheardReply()
		return
	}

	notifier.Status("AI正在思考回复...")
	reply, err := s.dialogueReply(ctx, turn.RecognizedText)
	if err != nil {
		s.logger.Error("Dialogue stage failed", zap.Error(err))
		turn.DialogueStatus = entities.StageFailed
	} else {
		turn.DialogueStatus = entities.StageSucceeded
	}
	turn.Reply = reply.Text
	turn.EmotionValue = reply.Emotion

	if strings.TrimSpace(turn.Reply) == "" {
		return
	}

	notifier.Status("正在生成语音回复...")
	synthesisCtx, cancel := context.WithTimeout(ctx, s.synthesisTimeout)
	result, err := s.synthesizer.Synthesize(synthesisCtx, turn.Reply)
	cancel()
	if err != nil {
		// The text reply still goes out, only without audio.
		s.logger.Error("Speech synthesis failed", zap.Error(err))
		turn.SynthesisStatus = entities.StageFailed
		return
	}

	turn.SynthesisStatus = entities.StageSucceeded
	turn.AudioURL = "/api/audio/" + result.Filename
}

// dialogueReply admits the blocking model call through the worker pool so
// a slow upstream cannot stall every connection at once. It always
// returns a usable reply.
func (s *ConversationService) dialogueReply(ctx context.Context, userText string) (*repositories.DialogueReply, error) {
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return &repositories.DialogueReply{
			Text:    persona.ApologyReply(),
			Emotion: persona.EmotionWorried,
		}, err
	}
	defer s.workers.Release(1)

	reply, err := s.dialogue.Respond(ctx, userText)
	if reply == nil {
		reply = &repositories.DialogueReply{
			Text:    persona.ApologyReply(),
			Emotion: persona.EmotionWorried,
		}
	}
	return reply, err
}
