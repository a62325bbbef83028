package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/huohuo-app/voice-gateway/domain/entities"
	"github.com/huohuo-app/voice-gateway/usecase"
)

// fakeConversation replays a fixed turn and records what it was given.
type fakeConversation struct {
	audioTurns chan []byte
	textTurns  chan string
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{
		audioTurns: make(chan []byte, 8),
		textTurns:  make(chan string, 8),
	}
}

func (f *fakeConversation) ProcessAudioTurn(ctx context.Context, audio []byte, notifier usecase.Notifier) *entities.SessionTurn {
	f.audioTurns <- audio
	notifier.Status("正在进行语音识别...")
	notifier.RecognitionResult("你好")

	turn := entities.NewAudioTurn(audio)
	turn.RecognizedText = "你好"
	turn.Reply = "你好呀"
	turn.EmotionValue = 4
	turn.AudioURL = "/api/audio/reply_test.mp3"
	return turn
}

func (f *fakeConversation) ProcessTextTurn(ctx context.Context, text string, notifier usecase.Notifier) *entities.SessionTurn {
	f.textTurns <- text
	notifier.Status("AI正在思考回复...")

	turn := entities.NewTextTurn(text)
	turn.Reply = "收到"
	return turn
}

func setupTestServer(t *testing.T, conversation Conversation) (*Hub, *websocket.Conn, func()) {
	t.Helper()

	hub := NewHub(conversation, zap.NewNop())
	go hub.Run()

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocket(hub, c, zap.NewNop())
	})
	server := httptest.NewServer(e)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("Dialing test server failed: %v", err)
	}

	return hub, conn, func() {
		conn.Close()
		server.Close()
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Reading message failed: %v", err)
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Message is not JSON: %v", err)
	}
	return envelope
}

// readUntil skips interleaved messages until one of the wanted type
// arrives.
func readUntil(t *testing.T, conn *websocket.Conn, messageType string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 10; i++ {
		envelope := readEnvelope(t, conn)
		if envelope["type"] == messageType {
			return envelope
		}
	}
	t.Fatalf("Never received a %q message", messageType)
	return nil
}

func TestWelcomeOnConnect(t *testing.T) {
	_, conn, teardown := setupTestServer(t, newFakeConversation())
	defer teardown()

	envelope := readEnvelope(t, conn)
	if envelope["type"] != "welcome" {
		t.Errorf("Expected welcome first, got %v", envelope["type"])
	}
	if envelope["message"] == "" {
		t.Error("Welcome should carry a greeting")
	}
}

func TestPingPong(t *testing.T) {
	_, conn, teardown := setupTestServer(t, newFakeConversation())
	defer teardown()

	readEnvelope(t, conn) // welcome

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("Sending ping failed: %v", err)
	}

	envelope := readUntil(t, conn, "pong")
	timestamp, ok := envelope["timestamp"].(float64)
	if !ok || timestamp <= 0 {
		t.Errorf("Pong should carry a positive float timestamp, got %v", envelope["timestamp"])
	}
}

func TestAudioTurnDelivery(t *testing.T) {
	conversation := newFakeConversation()
	_, conn, teardown := setupTestServer(t, conversation)
	defer teardown()

	readEnvelope(t, conn) // welcome

	audio := []byte("fake-audio-bytes")
	err := conn.WriteJSON(map[string]string{
		"type":  "audio",
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		t.Fatalf("Sending audio failed: %v", err)
	}

	result := readUntil(t, conn, "asr_result")
	if result["message"] != "你好" {
		t.Errorf("Unexpected transcript %v", result["message"])
	}

	reply := readUntil(t, conn, "assistant_reply")
	if reply["message"] != "你好呀" {
		t.Errorf("Unexpected reply %v", reply["message"])
	}
	if reply["emotion_value"] != float64(4) {
		t.Errorf("Unexpected emotion %v", reply["emotion_value"])
	}
	if reply["emotion_img"] != "/api/emotion/4.jpg" {
		t.Errorf("Unexpected emotion image %v", reply["emotion_img"])
	}
	if reply["audio_url"] != "/api/audio/reply_test.mp3" {
		t.Errorf("Unexpected audio url %v", reply["audio_url"])
	}
	if reply["user_message"] != "你好" {
		t.Errorf("Unexpected user message %v", reply["user_message"])
	}

	received := <-conversation.audioTurns
	if string(received) != string(audio) {
		t.Errorf("Conversation received wrong audio bytes: %q", received)
	}
}

func TestTextTurnDelivery(t *testing.T) {
	conversation := newFakeConversation()
	_, conn, teardown := setupTestServer(t, conversation)
	defer teardown()

	readEnvelope(t, conn) // welcome

	if err := conn.WriteJSON(map[string]string{"type": "text", "message": "讲个笑话"}); err != nil {
		t.Fatalf("Sending text failed: %v", err)
	}

	reply := readUntil(t, conn, "assistant_reply")
	if reply["message"] != "收到" {
		t.Errorf("Unexpected reply %v", reply["message"])
	}
	if reply["audio_url"] != nil {
		t.Errorf("Expected null audio_url, got %v", reply["audio_url"])
	}

	if text := <-conversation.textTurns; text != "讲个笑话" {
		t.Errorf("Conversation received wrong text: %q", text)
	}
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	_, conn, teardown := setupTestServer(t, newFakeConversation())
	defer teardown()

	readEnvelope(t, conn) // welcome

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("Sending garbage failed: %v", err)
	}

	envelope := readUntil(t, conn, "error")
	if envelope["message"] == "" {
		t.Error("Error reply should carry a message")
	}

	// The connection must still work.
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("Sending ping after error failed: %v", err)
	}
	readUntil(t, conn, "pong")
}

func TestUnknownTypeYieldsError(t *testing.T) {
	_, conn, teardown := setupTestServer(t, newFakeConversation())
	defer teardown()

	readEnvelope(t, conn) // welcome

	if err := conn.WriteJSON(map[string]string{"type": "teleport"}); err != nil {
		t.Fatalf("Sending unknown type failed: %v", err)
	}

	envelope := readUntil(t, conn, "error")
	message, _ := envelope["message"].(string)
	if !strings.Contains(message, "teleport") {
		t.Errorf("Error should name the unknown type, got %q", message)
	}
}

func TestInvalidBase64AudioYieldsError(t *testing.T) {
	conversation := newFakeConversation()
	_, conn, teardown := setupTestServer(t, conversation)
	defer teardown()

	readEnvelope(t, conn) // welcome

	if err := conn.WriteJSON(map[string]string{"type": "audio", "audio": "%%%not-base64%%%"}); err != nil {
		t.Fatalf("Sending invalid audio failed: %v", err)
	}

	readUntil(t, conn, "error")

	select {
	case <-conversation.audioTurns:
		t.Error("Invalid base64 must not reach the pipeline")
	case <-time.After(100 * time.Millisecond):
	}
}

// slowConversation holds the turn open long enough for the client to
// vanish mid-flight.
type slowConversation struct {
	started  chan struct{}
	finished chan struct{}
}

func newSlowConversation() *slowConversation {
	return &slowConversation{
		started:  make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (s *slowConversation) ProcessAudioTurn(ctx context.Context, audio []byte, notifier usecase.Notifier) *entities.SessionTurn {
	close(s.started)
	time.Sleep(300 * time.Millisecond)
	notifier.Status("正在生成语音回复...")

	turn := entities.NewAudioTurn(audio)
	turn.RecognizedText = "你好"
	turn.Reply = "你好呀"
	defer close(s.finished)
	return turn
}

func (s *slowConversation) ProcessTextTurn(ctx context.Context, text string, notifier usecase.Notifier) *entities.SessionTurn {
	return entities.NewTextTurn(text)
}

func TestDisconnectDuringTurnDoesNotPanic(t *testing.T) {
	conversation := newSlowConversation()

	hub := NewHub(conversation, zap.NewNop())
	go hub.Run()

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocket(hub, c, zap.NewNop())
	})
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dialing test server failed: %v", err)
	}

	readEnvelope(t, conn) // welcome

	if err := conn.WriteJSON(map[string]string{"type": "audio", "audio": base64.StdEncoding.EncodeToString([]byte("a"))}); err != nil {
		t.Fatalf("Sending audio failed: %v", err)
	}

	<-conversation.started
	time.Sleep(50 * time.Millisecond)
	conn.Close()

	// Let the turn run to completion; its late status and reply must be
	// discarded quietly, not sent on a dead channel.
	select {
	case <-conversation.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Turn never finished")
	}
	time.Sleep(100 * time.Millisecond)

	// The server must still accept and serve new connections.
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dialing after mid-turn disconnect failed: %v", err)
	}
	defer conn2.Close()

	readEnvelope(t, conn2) // welcome
	if err := conn2.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("Sending ping failed: %v", err)
	}
	readUntil(t, conn2, "pong")
}

func TestClientCountTracksConnections(t *testing.T) {
	hub, conn, teardown := setupTestServer(t, newFakeConversation())
	defer teardown()

	readEnvelope(t, conn) // welcome

	if count := hub.ClientCount(); count != 1 {
		t.Errorf("Expected one client, got %d", count)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Client was not unregistered, count %d", hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
