// Package wire implements the binary framing shared by the speech
// recognition and speech synthesis upstreams. Every frame starts with a
// 4-byte header packing version, header size, message type, flags and the
// serialization/compression methods into nibbles, optionally followed by a
// signed sequence number and a length-prefixed payload.
package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MessageType identifies what the frame carries.
type MessageType uint8

const (
	// MessageTypeFullRequest is a client request with a JSON body.
	MessageTypeFullRequest MessageType = 0x1
	// MessageTypeAudioRequest is a client request carrying raw audio.
	MessageTypeAudioRequest MessageType = 0x2
	// MessageTypeAudioResponse is a server response carrying audio or a
	// serialized recognition result.
	MessageTypeAudioResponse MessageType = 0xb
	// MessageTypeFrontendResponse is an informational server message.
	MessageTypeFrontendResponse MessageType = 0xc
	// MessageTypeError is a fatal server error.
	MessageTypeError MessageType = 0xf
)

// Flags qualify how the payload is sequenced.
type Flags uint8

const (
	FlagNoSequence           Flags = 0x0
	FlagPositiveSequence     Flags = 0x1
	FlagLastNegativeSequence Flags = 0x2
	FlagNegativeSequence     Flags = 0x3
)

// Serialization describes the payload encoding.
type Serialization uint8

const (
	SerializationNone   Serialization = 0x0
	SerializationJSON   Serialization = 0x1
	SerializationCustom Serialization = 0xf
)

// Compression describes the payload compression.
type Compression uint8

const (
	CompressionNone   Compression = 0x0
	CompressionGzip   Compression = 0x1
	CompressionCustom Compression = 0xf
)

const (
	protocolVersion = 0x1
	headerSizeWords = 0x1
	headerBytes     = headerSizeWords * 4
)

// ProtocolError reports a malformed or unrecognized frame. It is fatal to
// the stream it occurred on.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "wire: " + e.Reason
}

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// Frame is one decoded unit of the upstream protocol. Payload holds the
// raw bytes after the type-specific prefix; for error and frontend frames
// it has already been decompressed.
type Frame struct {
	Version       uint8
	MessageType   MessageType
	Flags         Flags
	Serialization Serialization
	Compression   Compression

	// Sequence is the signed sequence number of audio response frames.
	// Negative values mark the last frame of a stream.
	Sequence int32

	// ErrorCode is set for MessageTypeError frames.
	ErrorCode uint32

	Payload []byte

	// Last reports whether this frame terminates the stream.
	Last bool
}

func header(mt MessageType, fl Flags, ser Serialization, comp Compression) [4]byte {
	return [4]byte{
		protocolVersion<<4 | headerSizeWords,
		uint8(mt)<<4 | uint8(fl),
		uint8(ser)<<4 | uint8(comp),
		0x00,
	}
}

// EncodeRequest builds a client request frame: fixed header, 4-byte
// big-endian payload length, payload. The payload is gzip-compressed first
// when comp is CompressionGzip.
func EncodeRequest(mt MessageType, fl Flags, ser Serialization, comp Compression, payload []byte) ([]byte, error) {
	body := payload
	if comp == CompressionGzip {
		var err error
		body, err = gzipCompress(payload)
		if err != nil {
			return nil, fmt.Errorf("compress request payload: %w", err)
		}
	}

	h := header(mt, fl, ser, comp)
	buf := make([]byte, 0, headerBytes+4+len(body))
	buf = append(buf, h[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	return append(buf, body...), nil
}

// EncodeAudioRequest builds an audio-only client request carrying a signed
// sequence number before the length prefix. The final segment is flagged
// and its sequence number negated.
func EncodeAudioRequest(seq int32, last bool, payload []byte) []byte {
	fl := FlagPositiveSequence
	if last {
		fl = FlagLastNegativeSequence
		if seq > 0 {
			seq = -seq
		}
	}

	h := header(MessageTypeAudioRequest, fl, SerializationNone, CompressionNone)
	buf := make([]byte, 0, headerBytes+8+len(payload))
	buf = append(buf, h[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(seq))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	return append(buf, payload...)
}

// Marshal renders a server-style frame into its wire form. It is the
// inverse of DecodeResponse and exists mainly for tests and mock upstreams.
func Marshal(f *Frame) ([]byte, error) {
	h := header(f.MessageType, f.Flags, f.Serialization, f.Compression)
	buf := append([]byte{}, h[:]...)

	switch f.MessageType {
	case MessageTypeAudioResponse:
		if f.Flags == FlagNoSequence {
			return buf, nil
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Sequence))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
		return append(buf, f.Payload...), nil

	case MessageTypeError:
		body := f.Payload
		if f.Compression == CompressionGzip {
			var err error
			body, err = gzipCompress(f.Payload)
			if err != nil {
				return nil, err
			}
		}
		buf = binary.BigEndian.AppendUint32(buf, f.ErrorCode)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
		return append(buf, body...), nil

	case MessageTypeFrontendResponse:
		body := f.Payload
		if f.Compression == CompressionGzip {
			var err error
			body, err = gzipCompress(f.Payload)
			if err != nil {
				return nil, err
			}
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
		return append(buf, body...), nil

	default:
		return nil, protocolErrorf("cannot marshal message type 0x%x", uint8(f.MessageType))
	}
}

// DecodeResponse parses one server frame. Audio response payloads are
// returned as-is; error and frontend payloads are decompressed when the
// header says gzip. A nil error with Last=true means the upstream finished
// the stream cleanly; a ProtocolError means the stream must be abandoned.
func DecodeResponse(data []byte) (*Frame, error) {
	if len(data) < headerBytes {
		return nil, protocolErrorf("frame too short: %d bytes", len(data))
	}

	f := &Frame{
		Version:       data[0] >> 4,
		MessageType:   MessageType(data[1] >> 4),
		Flags:         Flags(data[1] & 0x0f),
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0f),
	}

	headerSize := int(data[0]&0x0f) * 4
	if headerSize > len(data) {
		return nil, protocolErrorf("header size %d exceeds frame length %d", headerSize, len(data))
	}
	payload := data[headerSize:]

	switch f.MessageType {
	case MessageTypeAudioResponse:
		if f.Flags == FlagNoSequence {
			// Bare acknowledgment, nothing follows the header.
			return f, nil
		}
		if len(payload) < 8 {
			return nil, protocolErrorf("audio response truncated: %d payload bytes", len(payload))
		}
		f.Sequence = int32(binary.BigEndian.Uint32(payload[:4]))
		size := binary.BigEndian.Uint32(payload[4:8])
		payload = payload[8:]
		if int(size) > len(payload) {
			return nil, protocolErrorf("declared payload size %d exceeds remaining %d bytes", size, len(payload))
		}
		f.Payload = payload[:size]
		f.Last = f.Sequence < 0
		return f, nil

	case MessageTypeError:
		if len(payload) < 8 {
			return nil, protocolErrorf("error response truncated: %d payload bytes", len(payload))
		}
		f.ErrorCode = binary.BigEndian.Uint32(payload[:4])
		size := binary.BigEndian.Uint32(payload[4:8])
		payload = payload[8:]
		if int(size) > len(payload) {
			return nil, protocolErrorf("declared message size %d exceeds remaining %d bytes", size, len(payload))
		}
		msg := payload[:size]
		if f.Compression == CompressionGzip {
			var err error
			msg, err = gzipDecompress(msg)
			if err != nil {
				return nil, protocolErrorf("decompress error message: %v", err)
			}
		}
		f.Payload = msg
		f.Last = true
		return f, nil

	case MessageTypeFrontendResponse:
		if len(payload) < 4 {
			return nil, protocolErrorf("frontend response truncated: %d payload bytes", len(payload))
		}
		size := binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
		if int(size) > len(payload) {
			return nil, protocolErrorf("declared message size %d exceeds remaining %d bytes", size, len(payload))
		}
		msg := payload[:size]
		if f.Compression == CompressionGzip {
			var err error
			msg, err = gzipDecompress(msg)
			if err != nil {
				return nil, protocolErrorf("decompress frontend message: %v", err)
			}
		}
		f.Payload = msg
		return f, nil

	default:
		return nil, protocolErrorf("unrecognized message type 0x%x", uint8(f.MessageType))
	}
}

// PayloadJSON decompresses the payload if needed and unmarshals it into v.
// Used for audio response frames whose header declares a JSON body, such
// as recognition results.
func (f *Frame) PayloadJSON(v interface{}) error {
	body := f.Payload
	if f.Compression == CompressionGzip {
		var err error
		body, err = gzipDecompress(body)
		if err != nil {
			return protocolErrorf("decompress json payload: %v", err)
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return protocolErrorf("unmarshal json payload: %v", err)
	}
	return nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
