// Package asr streams recorded audio to the speech recognition upstream
// over its binary WebSocket protocol and reassembles the transcript.
package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/huohuo-app/voice-gateway/domain/repositories"
	"github.com/huohuo-app/voice-gateway/internal/wire"
)

const (
	defaultWSURL           = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel"
	defaultResourceID      = "volc.bigasr.sauc.duration"
	defaultModelName       = "bigmodel"
	defaultSegmentDuration = 200 * time.Millisecond
	defaultSampleRate      = 16000
	defaultBits            = 16
	defaultChannels        = 1
)

// Config holds the recognition upstream settings.
// Required fields:
// - AppKey: application key issued by the speech platform
// - AccessKey: access key issued by the speech platform
// Optional fields with defaults:
// - WSURL: upstream WebSocket endpoint
// - SegmentDuration: duration of each streamed audio segment (default 200ms)
// - SampleRate, Bits, Channels: source audio parameters used to size segments
type Config struct {
	AppKey          string
	AccessKey       string
	WSURL           string
	SegmentDuration time.Duration
	SampleRate      int
	Bits            int
	Channels        int
}

// ConfigFromEnv reads the recognition settings from environment variables.
func ConfigFromEnv() Config {
	config := Config{
		AppKey:    os.Getenv("ASR_APP_KEY"),
		AccessKey: os.Getenv("ASR_ACCESS_KEY"),
		WSURL:     os.Getenv("ASR_WS_URL"),
	}

	if durationStr := os.Getenv("ASR_SEGMENT_DURATION_MS"); durationStr != "" {
		if ms, err := strconv.Atoi(durationStr); err == nil && ms > 0 {
			config.SegmentDuration = time.Duration(ms) * time.Millisecond
		}
	}

	return config
}

// ValidateConfig checks the required recognition settings.
func ValidateConfig(config Config) error {
	if config.AppKey == "" {
		return fmt.Errorf("recognition app key is required")
	}
	if config.AccessKey == "" {
		return fmt.Errorf("recognition access key is required")
	}
	if config.SegmentDuration < 0 {
		return fmt.Errorf("segment duration must be positive, got %v", config.SegmentDuration)
	}
	return nil
}

// VolcengineASR implements SpeechRecognizer against the streaming
// recognition upstream. Each call dials a fresh connection.
type VolcengineASR struct {
	appKey          string
	accessKey       string
	wsURL           string
	segmentDuration time.Duration
	sampleRate      int
	bits            int
	channels        int
	logger          *zap.Logger
}

var _ repositories.SpeechRecognizer = (*VolcengineASR)(nil)

// NewVolcengineASR creates a recognition client, applying defaults for
// unset optional settings.
func NewVolcengineASR(config Config, logger *zap.Logger) (*VolcengineASR, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	wsURL := config.WSURL
	if wsURL == "" {
		wsURL = defaultWSURL
		logger.Info("Using default recognition endpoint", zap.String("wsURL", wsURL))
	}

	segmentDuration := config.SegmentDuration
	if segmentDuration == 0 {
		segmentDuration = defaultSegmentDuration
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}
	bits := config.Bits
	if bits == 0 {
		bits = defaultBits
	}
	channels := config.Channels
	if channels == 0 {
		channels = defaultChannels
	}

	return &VolcengineASR{
		appKey:          config.AppKey,
		accessKey:       config.AccessKey,
		wsURL:           wsURL,
		segmentDuration: segmentDuration,
		sampleRate:      sampleRate,
		bits:            bits,
		channels:        channels,
		logger:          logger,
	}, nil
}

// Result is one decoded upstream frame or the error that ended the stream.
type Result struct {
	Frame *wire.Frame
	Err   error
}

type configRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		Format  string `json:"format"`
		Rate    int    `json:"rate"`
		Bits    int    `json:"bits"`
		Channel int    `json:"channel"`
	} `json:"audio"`
	Request struct {
		ModelName  string `json:"model_name"`
		EnablePunc bool   `json:"enable_punc"`
	} `json:"request"`
}

type recognitionPayload struct {
	Result struct {
		Text string `json:"text"`
	} `json:"result"`
}

// segmentSize converts the configured segment duration into a byte count
// at the source audio's byte rate.
func (v *VolcengineASR) segmentSize() int {
	byteRate := v.sampleRate * v.bits / 8 * v.channels
	size := int(float64(byteRate) * v.segmentDuration.Seconds())
	if size < 1 {
		size = 1
	}
	return size
}

// Execute streams audio to the upstream and yields each decoded response
// frame. A fresh connection is dialed per call and closed on every exit
// path. The sequence ends on a final frame, a decode failure, or a
// transport failure; the terminating error, if any, is carried in the
// last Result.
func (v *VolcengineASR) Execute(ctx context.Context, audio []byte) (<-chan Result, error) {
	header := http.Header{}
	header.Set("X-Api-App-Key", v.appKey)
	header.Set("X-Api-Access-Key", v.accessKey)
	header.Set("X-Api-Resource-Id", defaultResourceID)
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, v.wsURL, header)
	if err != nil {
		return nil, &repositories.TransportError{Op: "dial recognition upstream", Err: err}
	}

	// Closing the connection is the only way to interrupt a blocked
	// read, so a watcher ties the connection's lifetime to the context.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	if err := v.sendConfig(conn); err != nil {
		close(watchDone)
		conn.Close()
		return nil, err
	}

	// The upstream acknowledges the configuration before accepting audio.
	if _, err := v.readFrame(ctx, conn); err != nil {
		close(watchDone)
		conn.Close()
		return nil, err
	}

	results := make(chan Result)
	go func() {
		defer close(results)
		defer conn.Close()
		defer close(watchDone)

		segmentSize := v.segmentSize()
		sequence := int32(1)

		for offset := 0; offset < len(audio); offset += segmentSize {
			if ctx.Err() != nil {
				results <- Result{Err: &repositories.TransportError{Op: "stream audio segment", Err: ctx.Err()}}
				return
			}

			end := offset + segmentSize
			if end > len(audio) {
				end = len(audio)
			}
			last := end == len(audio)

			segment := wire.EncodeAudioRequest(sequence, last, audio[offset:end])
			if err := conn.WriteMessage(websocket.BinaryMessage, segment); err != nil {
				results <- Result{Err: &repositories.TransportError{Op: "send audio segment", Err: err}}
				return
			}

			frame, err := v.readFrame(ctx, conn)
			if err != nil {
				results <- Result{Err: err}
				return
			}

			results <- Result{Frame: frame}
			if frame.Last {
				return
			}
			sequence++
		}
	}()

	return results, nil
}

// Transcribe runs a full recognition pass and concatenates the text of
// every yielded result frame into the transcript.
func (v *VolcengineASR) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio data is empty")
	}

	v.logger.Info("Starting speech recognition", zap.Int("audioSize", len(audio)))

	results, err := v.Execute(ctx, audio)
	if err != nil {
		return "", err
	}

	var transcript strings.Builder
	for result := range results {
		if result.Err != nil {
			return "", result.Err
		}
		if result.Frame.MessageType != wire.MessageTypeAudioResponse {
			continue
		}
		if result.Frame.Serialization != wire.SerializationJSON || len(result.Frame.Payload) == 0 {
			continue
		}

		var payload recognitionPayload
		if err := result.Frame.PayloadJSON(&payload); err != nil {
			return "", err
		}
		transcript.WriteString(payload.Result.Text)
	}

	text := transcript.String()
	v.logger.Info("Speech recognition finished", zap.String("text", text))
	return text, nil
}

func (v *VolcengineASR) sendConfig(conn *websocket.Conn) error {
	var request configRequest
	request.User.UID = uuid.NewString()
	request.Audio.Format = "wav"
	request.Audio.Rate = v.sampleRate
	request.Audio.Bits = v.bits
	request.Audio.Channel = v.channels
	request.Request.ModelName = defaultModelName
	request.Request.EnablePunc = true

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal recognition config: %w", err)
	}

	frame, err := wire.EncodeRequest(
		wire.MessageTypeFullRequest,
		wire.FlagNoSequence,
		wire.SerializationJSON,
		wire.CompressionGzip,
		body,
	)
	if err != nil {
		return err
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return &repositories.TransportError{Op: "send recognition config", Err: err}
	}
	return nil
}

func (v *VolcengineASR) readFrame(ctx context.Context, conn *websocket.Conn) (*wire.Frame, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		// A context-triggered close surfaces as a read error on the
		// dead connection; report the deadline instead.
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &repositories.TransportError{Op: "receive recognition frame", Err: err}
	}

	frame, err := wire.DecodeResponse(data)
	if err != nil {
		return nil, err
	}

	if frame.MessageType == wire.MessageTypeError {
		return nil, &repositories.UpstreamError{Code: frame.ErrorCode, Message: string(frame.Payload)}
	}
	return frame, nil
}
