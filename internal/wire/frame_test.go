package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestAudioResponseRoundTrip(t *testing.T) {
	payload := []byte("mp3-bytes-here")
	frame := &Frame{
		MessageType: MessageTypeAudioResponse,
		Flags:       FlagPositiveSequence,
		Sequence:    7,
		Payload:     payload,
	}

	data, err := Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}

	if decoded.Sequence != 7 {
		t.Errorf("Expected sequence 7, got %d", decoded.Sequence)
	}
	if decoded.Flags != FlagPositiveSequence {
		t.Errorf("Expected flags %d, got %d", FlagPositiveSequence, decoded.Flags)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Errorf("Payload mismatch: got %q", decoded.Payload)
	}
	if decoded.Last {
		t.Error("Positive sequence should not be last")
	}
}

func TestAudioResponseAcknowledgment(t *testing.T) {
	frame := &Frame{
		MessageType: MessageTypeAudioResponse,
		Flags:       FlagNoSequence,
	}

	data, err := Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}

	if decoded.Last {
		t.Error("Acknowledgment should not be last")
	}
	if len(decoded.Payload) != 0 {
		t.Errorf("Acknowledgment should carry no payload, got %d bytes", len(decoded.Payload))
	}
}

func TestAudioResponseNegativeSequenceIsLast(t *testing.T) {
	for _, fl := range []Flags{FlagLastNegativeSequence, FlagNegativeSequence, FlagPositiveSequence} {
		frame := &Frame{
			MessageType: MessageTypeAudioResponse,
			Flags:       fl,
			Sequence:    -3,
			Payload:     []byte("tail"),
		}

		data, err := Marshal(frame)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}

		decoded, err := DecodeResponse(data)
		if err != nil {
			t.Fatalf("DecodeResponse failed: %v", err)
		}

		if !decoded.Last {
			t.Errorf("Negative sequence with flags %d should be last", fl)
		}
	}
}

func TestErrorResponseGzip(t *testing.T) {
	message := "quota exceeded for voice type"
	frame := &Frame{
		MessageType: MessageTypeError,
		Compression: CompressionGzip,
		ErrorCode:   45000002,
		Payload:     []byte(message),
	}

	data, err := Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}

	if decoded.ErrorCode != 45000002 {
		t.Errorf("Expected error code 45000002, got %d", decoded.ErrorCode)
	}
	if string(decoded.Payload) != message {
		t.Errorf("Expected message %q, got %q", message, decoded.Payload)
	}
	if !decoded.Last {
		t.Error("Error frames must terminate the stream")
	}
}

func TestFrontendResponseGzip(t *testing.T) {
	frame := &Frame{
		MessageType: MessageTypeFrontendResponse,
		Compression: CompressionGzip,
		Payload:     []byte(`{"phonemes":[]}`),
	}

	data, err := Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}

	if string(decoded.Payload) != `{"phonemes":[]}` {
		t.Errorf("Payload mismatch: got %q", decoded.Payload)
	}
	if decoded.Last {
		t.Error("Frontend frames are informational, not terminal")
	}
}

func TestDecodeUnrecognizedMessageType(t *testing.T) {
	data := []byte{0x11, 0x50, 0x00, 0x00}

	_, err := DecodeResponse(data)
	if err == nil {
		t.Fatal("Expected error for unrecognized message type")
	}

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("Expected ProtocolError, got %T", err)
	}
}

func TestDecodeTruncatedFrames(t *testing.T) {
	cases := map[string][]byte{
		"short header":       {0x11, 0xb1},
		"header size overrun": {0x31, 0xb1, 0x00, 0x00},
		"missing sequence":   {0x11, 0xb1, 0x00, 0x00, 0x00, 0x00},
		"missing error body": {0x11, 0xf0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
	}

	for name, data := range cases {
		if _, err := DecodeResponse(data); err == nil {
			t.Errorf("%s: expected decode error", name)
		}
	}
}

func TestDecodeOversizedPayloadDeclaration(t *testing.T) {
	data := []byte{0x11, 0xb1, 0x00, 0x00}
	data = binary.BigEndian.AppendUint32(data, 1)  // sequence
	data = binary.BigEndian.AppendUint32(data, 99) // declared size
	data = append(data, 'x')

	_, err := DecodeResponse(data)
	if err == nil {
		t.Fatal("Expected error when declared size exceeds remaining bytes")
	}

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("Expected ProtocolError, got %T", err)
	}
}

func TestEncodeRequestHeader(t *testing.T) {
	data, err := EncodeRequest(MessageTypeFullRequest, FlagNoSequence, SerializationJSON, CompressionGzip, []byte(`{}`))
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	want := []byte{0x11, 0x10, 0x11, 0x00}
	if !bytes.Equal(data[:4], want) {
		t.Errorf("Expected header % x, got % x", want, data[:4])
	}

	size := binary.BigEndian.Uint32(data[4:8])
	if int(size) != len(data)-8 {
		t.Errorf("Declared size %d does not match body length %d", size, len(data)-8)
	}
}

func TestEncodeAudioRequestLastSegment(t *testing.T) {
	data := EncodeAudioRequest(5, true, []byte("chunk"))

	if MessageType(data[1]>>4) != MessageTypeAudioRequest {
		t.Errorf("Expected audio request type, got 0x%x", data[1]>>4)
	}
	if Flags(data[1]&0x0f) != FlagLastNegativeSequence {
		t.Errorf("Expected last-segment flag, got %d", data[1]&0x0f)
	}

	seq := int32(binary.BigEndian.Uint32(data[4:8]))
	if seq != -5 {
		t.Errorf("Expected negated sequence -5, got %d", seq)
	}
}

func TestPayloadJSONGzip(t *testing.T) {
	body, err := gzipCompress([]byte(`{"result":{"text":"你好"}}`))
	if err != nil {
		t.Fatalf("gzipCompress failed: %v", err)
	}

	frame := &Frame{
		MessageType:   MessageTypeAudioResponse,
		Flags:         FlagPositiveSequence,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
		Sequence:      1,
		Payload:       body,
	}

	var out struct {
		Result struct {
			Text string `json:"text"`
		} `json:"result"`
	}
	if err := frame.PayloadJSON(&out); err != nil {
		t.Fatalf("PayloadJSON failed: %v", err)
	}

	if out.Result.Text != "你好" {
		t.Errorf("Expected text 你好, got %q", out.Result.Text)
	}
}
