// Package tts synthesizes reply audio through the speech synthesis
// upstream's binary WebSocket protocol and persists the finished clip.
package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/huohuo-app/voice-gateway/domain/repositories"
	"github.com/huohuo-app/voice-gateway/internal/storage"
	"github.com/huohuo-app/voice-gateway/internal/wire"
)

const (
	defaultWSURL      = "wss://openspeech.bytedance.com/api/v1/tts/ws_binary"
	defaultVoiceType  = "zh_female_tianmeiyueyue_moon_bigtts"
	defaultSpeedRatio = 1.0
	defaultVolume     = 1.0
	defaultPitch      = 1.0
)

// Config holds the synthesis upstream settings.
// Required fields:
// - AppID: application id issued by the speech platform
// - AccessToken: access token issued by the speech platform
// - Cluster: synthesis cluster name
// Optional fields with defaults:
// - WSURL: upstream WebSocket endpoint
// - VoiceType: voice preset
// - SpeedRatio, VolumeRatio, PitchRatio: playback shaping, default 1.0
type Config struct {
	AppID       string
	AccessToken string
	Cluster     string
	WSURL       string
	VoiceType   string
	SpeedRatio  float64
	VolumeRatio float64
	PitchRatio  float64
}

// ConfigFromEnv reads the synthesis settings from environment variables.
func ConfigFromEnv() Config {
	config := Config{
		AppID:       os.Getenv("TTS_APP_ID"),
		AccessToken: os.Getenv("TTS_ACCESS_TOKEN"),
		Cluster:     os.Getenv("TTS_CLUSTER"),
		WSURL:       os.Getenv("TTS_WS_URL"),
		VoiceType:   os.Getenv("TTS_VOICE_TYPE"),
	}

	if speedStr := os.Getenv("TTS_SPEED_RATIO"); speedStr != "" {
		if speed, err := strconv.ParseFloat(speedStr, 64); err == nil && speed > 0 {
			config.SpeedRatio = speed
		}
	}

	return config
}

// ValidateConfig checks the required synthesis settings.
func ValidateConfig(config Config) error {
	if config.AppID == "" {
		return fmt.Errorf("synthesis app id is required")
	}
	if config.AccessToken == "" {
		return fmt.Errorf("synthesis access token is required")
	}
	if config.Cluster == "" {
		return fmt.Errorf("synthesis cluster is required")
	}
	if config.SpeedRatio < 0 {
		return fmt.Errorf("speed ratio must be positive, got %f", config.SpeedRatio)
	}
	return nil
}

// VolcengineTTS implements SpeechSynthesizer against the streaming
// synthesis upstream. Each call dials a fresh connection and writes the
// finished clip through the file store.
type VolcengineTTS struct {
	appID       string
	accessToken string
	cluster     string
	wsURL       string
	voiceType   string
	speedRatio  float64
	volumeRatio float64
	pitchRatio  float64
	store       *storage.FileStore
	logger      *zap.Logger
}

var _ repositories.SpeechSynthesizer = (*VolcengineTTS)(nil)

// NewVolcengineTTS creates a synthesis client, applying defaults for
// unset optional settings.
func NewVolcengineTTS(config Config, store *storage.FileStore, logger *zap.Logger) (*VolcengineTTS, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	wsURL := config.WSURL
	if wsURL == "" {
		wsURL = defaultWSURL
		logger.Info("Using default synthesis endpoint", zap.String("wsURL", wsURL))
	}

	voiceType := config.VoiceType
	if voiceType == "" {
		voiceType = defaultVoiceType
		logger.Info("Using default voice type", zap.String("voiceType", voiceType))
	}

	speedRatio := config.SpeedRatio
	if speedRatio == 0 {
		speedRatio = defaultSpeedRatio
	}
	volumeRatio := config.VolumeRatio
	if volumeRatio == 0 {
		volumeRatio = defaultVolume
	}
	pitchRatio := config.PitchRatio
	if pitchRatio == 0 {
		pitchRatio = defaultPitch
	}

	return &VolcengineTTS{
		appID:       config.AppID,
		accessToken: config.AccessToken,
		cluster:     config.Cluster,
		wsURL:       wsURL,
		voiceType:   voiceType,
		speedRatio:  speedRatio,
		volumeRatio: volumeRatio,
		pitchRatio:  pitchRatio,
		store:       store,
		logger:      logger,
	}, nil
}

type synthesisRequest struct {
	App struct {
		AppID   string `json:"appid"`
		Token   string `json:"token"`
		Cluster string `json:"cluster"`
	} `json:"app"`
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		VoiceType   string  `json:"voice_type"`
		Encoding    string  `json:"encoding"`
		SpeedRatio  float64 `json:"speed_ratio"`
		VolumeRatio float64 `json:"volume_ratio"`
		PitchRatio  float64 `json:"pitch_ratio"`
	} `json:"audio"`
	Request struct {
		ReqID     string `json:"reqid"`
		Text      string `json:"text"`
		TextType  string `json:"text_type"`
		Operation string `json:"operation"`
	} `json:"request"`
}

func (v *VolcengineTTS) buildRequest(text string) synthesisRequest {
	var request synthesisRequest
	request.App.AppID = v.appID
	request.App.Token = v.accessToken
	request.App.Cluster = v.cluster
	request.User.UID = uuid.NewString()
	request.Audio.VoiceType = v.voiceType
	request.Audio.Encoding = "mp3"
	request.Audio.SpeedRatio = v.speedRatio
	request.Audio.VolumeRatio = v.volumeRatio
	request.Audio.PitchRatio = v.pitchRatio
	request.Request.ReqID = uuid.NewString()
	request.Request.Text = text
	request.Request.TextType = "plain"
	request.Request.Operation = "submit"
	return request
}

// Synthesize renders text into one mp3 clip: a single submit request,
// then audio frames accumulated in arrival order until the negative
// sequence number. The finished clip is persisted through the file store.
func (v *VolcengineTTS) Synthesize(ctx context.Context, text string) (*repositories.SynthesisResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	v.logger.Info("Starting speech synthesis",
		zap.String("voiceType", v.voiceType),
		zap.Int("textLength", len(text)))

	body, err := json.Marshal(v.buildRequest(text))
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	frame, err := wire.EncodeRequest(
		wire.MessageTypeFullRequest,
		wire.FlagNoSequence,
		wire.SerializationJSON,
		wire.CompressionGzip,
		body,
	)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer; "+v.accessToken)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, v.wsURL, header)
	if err != nil {
		return nil, &repositories.TransportError{Op: "dial synthesis upstream", Err: err}
	}
	defer conn.Close()

	// Closing the connection is the only way to interrupt a blocked
	// read, so a watcher ties the connection's lifetime to the context.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, &repositories.TransportError{Op: "send synthesis request", Err: err}
	}

	audio, err := v.receiveAudio(ctx, conn)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesis produced no audio")
	}

	filename, path, err := v.store.SaveReply(audio)
	if err != nil {
		return nil, err
	}

	v.logger.Info("Speech synthesis finished",
		zap.String("filename", filename),
		zap.Int("audioSize", len(audio)))

	return &repositories.SynthesisResult{
		Filename: filename,
		FilePath: path,
		Size:     int64(len(audio)),
	}, nil
}

func (v *VolcengineTTS) receiveAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var audio []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// A context-triggered close surfaces as a read error on
			// the dead connection; report the deadline instead.
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return nil, &repositories.TransportError{Op: "receive synthesis frame", Err: err}
		}

		frame, err := wire.DecodeResponse(data)
		if err != nil {
			return nil, err
		}

		switch frame.MessageType {
		case wire.MessageTypeAudioResponse:
			audio = append(audio, frame.Payload...)
			if frame.Last {
				return audio, nil
			}
		case wire.MessageTypeFrontendResponse:
			v.logger.Debug("Synthesis upstream message", zap.ByteString("payload", frame.Payload))
		case wire.MessageTypeError:
			return nil, &repositories.UpstreamError{Code: frame.ErrorCode, Message: string(frame.Payload)}
		}
	}
}

// SetVoiceType allows changing the voice used for synthesis.
func (v *VolcengineTTS) SetVoiceType(voiceType string) {
	v.voiceType = voiceType
	v.logger.Info("Updated voice type", zap.String("voiceType", voiceType))
}

// SetSpeedRatio allows changing the playback speed.
func (v *VolcengineTTS) SetSpeedRatio(speedRatio float64) {
	v.speedRatio = speedRatio
	v.logger.Info("Updated speed ratio", zap.Float64("speedRatio", speedRatio))
}
