package gateway

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/laurel-core/internal/mesh"
)

// Message types of the gateway stream protocol.
const (
	MsgOpenSession     uint16 = 0x0101
	MsgSessionOpened   uint16 = 0x0102
	MsgSessionRejected uint16 = 0x0103
	MsgClose           uint16 = 0x0106
	MsgSendPacket      uint16 = 0x0110
	MsgNotify          uint16 = 0x0120
)

// headerSize is size(2) + type(2).
const headerSize = 4

// maxFieldLength bounds the length-prefixed strings of OpenSession.
const maxFieldLength = 0xff

// EncodeMessage wraps a payload in the gateway framing.
//
// Format:
//
//	Byte 0-1: size of type + payload (big-endian, excludes the size field)
//	Byte 2-3: message type (big-endian)
//	Byte 4+:  payload
func EncodeMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // bounded by callers
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[headerSize:], payload)
	return buf
}

// ParseMessage splits a complete framed message into type and payload.
func ParseMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < headerSize {
		return 0, nil, fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidMessage, len(data))
	}

	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, actual %d)",
			ErrInvalidMessage, declared, len(data)-2)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > headerSize {
		payload = data[headerSize:]
	}
	return msgType, payload, nil
}

// encodeOpenSession builds the OpenSession payload:
// vendor(2) meshMode(1) len+mac len+meshAddress len+password.
func encodeOpenSession(p mesh.ConnectParams) ([]byte, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"mac", p.DeviceMAC},
		{"mesh address", p.MeshAddress},
		{"password", p.Password},
	}

	payload := make([]byte, 3, 3+3+len(p.DeviceMAC)+len(p.MeshAddress)+len(p.Password))
	binary.BigEndian.PutUint16(payload[0:2], p.Vendor)
	if p.MeshMode {
		payload[2] = 1
	}

	for _, f := range fields {
		if len(f.value) > maxFieldLength {
			return nil, fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidMessage, f.name, maxFieldLength)
		}
		payload = append(payload, byte(len(f.value)))
		payload = append(payload, f.value...)
	}
	return payload, nil
}

// decodeOpenSession is the inverse of encodeOpenSession.
func decodeOpenSession(payload []byte) (mesh.ConnectParams, error) {
	var p mesh.ConnectParams
	if len(payload) < 3 {
		return p, fmt.Errorf("%w: open session payload too short", ErrInvalidMessage)
	}
	p.Vendor = binary.BigEndian.Uint16(payload[0:2])
	p.MeshMode = payload[2] != 0

	rest := payload[3:]
	var fields [3]string
	for i := range fields {
		if len(rest) < 1 || len(rest) < 1+int(rest[0]) {
			return p, fmt.Errorf("%w: truncated open session field %d", ErrInvalidMessage, i)
		}
		n := int(rest[0])
		fields[i] = string(rest[1 : 1+n])
		rest = rest[1+n:]
	}
	p.DeviceMAC, p.MeshAddress, p.Password = fields[0], fields[1], fields[2]
	return p, nil
}

// encodeSendPacket builds the SendPacket payload: target(2) opcode(1) params.
func encodeSendPacket(target uint16, opcode byte, params []byte) []byte {
	payload := make([]byte, 3+len(params))
	binary.BigEndian.PutUint16(payload[0:2], target)
	payload[2] = opcode
	copy(payload[3:], params)
	return payload
}

// decodeSendPacket is the inverse of encodeSendPacket.
func decodeSendPacket(payload []byte) (target uint16, opcode byte, params []byte, err error) {
	if len(payload) < 3 {
		return 0, 0, nil, fmt.Errorf("%w: send packet payload too short", ErrInvalidMessage)
	}
	return binary.BigEndian.Uint16(payload[0:2]), payload[2], payload[3:], nil
}
