// Package envelope implements the event envelope wire format (SPEC_FULL.md
// §3.2): a fixed binary header followed by an opaque payload, in the shape
// of the predecessor's 110-byte frame header, generalized to the event
// envelope's own field set instead of AOCS's session/transaction fields.
package envelope

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"
)

// Magic bytes identifying this wire format.
const (
	MagicByte1 uint8 = 0x52 // 'R'
	MagicByte2 uint8 = 0x43 // 'C'
)

// SchemaVersion is embedded in every envelope per §3.2.
const SchemaVersion uint16 = 1

// EventType is a closed enumeration per §4.1.
type EventType uint8

const (
	EventGuildCreate       EventType = 0x01
	EventGuildDelete       EventType = 0x02
	EventGuildUpdate       EventType = 0x03
	EventMemberAdd         EventType = 0x04
	EventMemberRemove      EventType = 0x05
	EventMemberUpdate      EventType = 0x06
	EventInteractionCreate EventType = 0x07
	EventReady             EventType = 0x08
	EventResumed           EventType = 0x09
	EventHeartbeatAck      EventType = 0x0A
	EventOther             EventType = 0xFF
)

func (t EventType) String() string {
	switch t {
	case EventGuildCreate:
		return "guild_create"
	case EventGuildDelete:
		return "guild_delete"
	case EventGuildUpdate:
		return "guild_update"
	case EventMemberAdd:
		return "member_add"
	case EventMemberRemove:
		return "member_remove"
	case EventMemberUpdate:
		return "member_update"
	case EventInteractionCreate:
		return "interaction_create"
	case EventReady:
		return "ready"
	case EventResumed:
		return "resumed"
	case EventHeartbeatAck:
		return "heartbeat_ack"
	default:
		return "other"
	}
}

// GlobalSubjectKey is used for events with no guild scope.
const GlobalSubjectKey = "global"

// subjectKeyLen is the fixed on-wire width of the subject key field.
// Tenant/community ids longer than this are truncated; in practice they are
// short snowflake-shaped strings well under this bound.
const subjectKeyLen = 32

// HeaderSize is the fixed size, in bytes, of a marshaled Header.
const HeaderSize = 2 + 1 + 1 + 1 + 1 + 16 + subjectKeyLen + 2 + 4 + 2 + 4 + 2

// Header is the fixed binary header for an event envelope.
type Header struct {
	VersionMajor     uint8
	VersionMinor     uint8
	Type             EventType
	Flags            uint8
	EventID          [16]byte // 128-bit globally unique id
	SubjectKey       [subjectKeyLen]byte
	ShardID          uint16
	ProducerTimeUnix uint32
	SchemaVersion    uint16
	PayloadLen       uint32
	Checksum         uint16
}

// NewHeader builds a header with the magic/version/schema fields populated.
func NewHeader(eventType EventType, shardID uint16, eventID [16]byte, subjectKey string) *Header {
	h := &Header{
		VersionMajor:     1,
		VersionMinor:     0,
		Type:             eventType,
		EventID:          eventID,
		ShardID:          shardID,
		ProducerTimeUnix: uint32(time.Now().Unix()),
		SchemaVersion:    SchemaVersion,
	}
	h.SetSubjectKey(subjectKey)
	return h
}

// SetSubjectKey copies (and truncates/pads) a subject key into the fixed field.
func (h *Header) SetSubjectKey(key string) {
	var buf [subjectKeyLen]byte
	copy(buf[:], key)
	h.SubjectKey = buf
}

// SubjectKeyString returns the subject key with trailing NUL padding stripped.
func (h *Header) SubjectKeyString() string {
	return strings.TrimRight(string(h.SubjectKey[:]), "\x00")
}

// Validate checks the major version only. The magic bytes are not part of
// Header; Unmarshal and ReadEnvelope check them before calling Validate.
func (h *Header) Validate() error {
	if h.VersionMajor != 1 {
		return fmt.Errorf("envelope: unsupported major version %d", h.VersionMajor)
	}
	return nil
}

// Envelope is a complete event envelope: header plus opaque payload.
type Envelope struct {
	Header  *Header
	Payload []byte
}

// New creates an envelope with PayloadLen populated from the payload.
func New(eventType EventType, shardID uint16, eventID [16]byte, subjectKey string, payload []byte) *Envelope {
	h := NewHeader(eventType, shardID, eventID, subjectKey)
	h.PayloadLen = uint32(len(payload))
	return &Envelope{Header: h, Payload: payload}
}

// Marshal serializes the full envelope: magic bytes, header fields, checksum,
// then the payload.
func (e *Envelope) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.BigEndian, [2]uint8{MagicByte1, MagicByte2}); err != nil {
		return nil, err
	}
	h := e.Header
	fields := []any{
		h.VersionMajor, h.VersionMinor, h.Type, h.Flags,
		h.EventID, h.SubjectKey, h.ShardID, h.ProducerTimeUnix,
		h.SchemaVersion, h.PayloadLen,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}

	h.Checksum = CalculateCRC16(buf.Bytes())
	if err := binary.Write(buf, binary.BigEndian, h.Checksum); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len()+len(e.Payload))
	copy(result, buf.Bytes())
	copy(result[buf.Len():], e.Payload)
	return result, nil
}

// Unmarshal deserializes a complete envelope from data, validating the
// checksum and magic bytes.
func (e *Envelope) Unmarshal(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("envelope: data too short: %d bytes (need %d)", len(data), HeaderSize)
	}

	r := bytes.NewReader(data)
	var magic [2]uint8
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return err
	}
	if magic[0] != MagicByte1 || magic[1] != MagicByte2 {
		return fmt.Errorf("envelope: bad magic bytes %02X%02X", magic[0], magic[1])
	}

	h := &Header{}
	for _, f := range []any{
		&h.VersionMajor, &h.VersionMinor, &h.Type, &h.Flags,
		&h.EventID, &h.SubjectKey, &h.ShardID, &h.ProducerTimeUnix,
		&h.SchemaVersion, &h.PayloadLen,
	} {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}
	if err := binary.Read(r, binary.BigEndian, &h.Checksum); err != nil {
		return err
	}
	if err := h.Validate(); err != nil {
		return err
	}

	want := CalculateCRC16(data[:HeaderSize-2])
	if want != h.Checksum {
		return fmt.Errorf("envelope: checksum mismatch: got %04X want %04X", h.Checksum, want)
	}

	if uint32(len(data))-HeaderSize < h.PayloadLen {
		return fmt.Errorf("envelope: payload too short: have %d bytes, need %d", len(data)-HeaderSize, h.PayloadLen)
	}

	e.Header = h
	e.Payload = make([]byte, h.PayloadLen)
	copy(e.Payload, data[HeaderSize:HeaderSize+int(h.PayloadLen)])
	return nil
}

// ReadEnvelope reads one envelope from an io.Reader: the fixed header first,
// then the payload whose length the header specifies.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}

	var magic [2]uint8
	copy(magic[:], headerBuf[:2])
	if magic[0] != MagicByte1 || magic[1] != MagicByte2 {
		return nil, fmt.Errorf("envelope: bad magic bytes %02X%02X", magic[0], magic[1])
	}

	h := &Header{}
	br := bytes.NewReader(headerBuf[2:])
	for _, f := range []any{
		&h.VersionMajor, &h.VersionMinor, &h.Type, &h.Flags,
		&h.EventID, &h.SubjectKey, &h.ShardID, &h.ProducerTimeUnix,
		&h.SchemaVersion, &h.PayloadLen,
	} {
		if err := binary.Read(br, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}
	if err := binary.Read(br, binary.BigEndian, &h.Checksum); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return &Envelope{Header: h, Payload: payload}, nil
}

// WriteEnvelope writes a complete envelope to an io.Writer.
func WriteEnvelope(w io.Writer, e *Envelope) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// CalculateCRC16 computes the CRC-16/MODBUS checksum (reflected polynomial
// 0xA001, initial value 0xFFFF) used to guard the header.
func CalculateCRC16(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
