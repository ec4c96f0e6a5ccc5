package weave

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// HeaderSize is the fixed size, in bytes, of a packet header:
// u32 length | u16 pid | u8 type | u8 check.
const HeaderSize = 4 + 2 + 1 + 1

// Packet is a single framed message, decoded from the wire or built for
// sending. Payload is the raw (still MessagePack-encoded) body; Length
// is the payload size in bytes and Total is HeaderSize+Length.
type Packet struct {
	Length  uint32
	Pid     uint16
	Type    Proto
	Check   uint8
	Payload []byte
}

// Total returns the full on-wire size of the packet, header included.
func (p Packet) Total() int { return HeaderSize + int(p.Length) }

// errBadCheck is a framing error: the packet's check byte did not equal
// type XOR 0xFF.
type errBadCheck struct {
	tp    Proto
	check uint8
}

func (e *errBadCheck) Error() string {
	return fmt.Sprintf("framing error: type 0x%02x does not match check byte 0x%02x", e.tp, e.check)
}

// DecodeHeader parses the 8-byte little-endian header at the front of
// buf. buf must have at least HeaderSize bytes; only the header is
// consumed, Payload is left empty for the caller to fill in once enough
// bytes have arrived.
func DecodeHeader(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, fmt.Errorf("short header: need %d bytes, got %d", HeaderSize, len(buf))
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	pid := binary.LittleEndian.Uint16(buf[4:6])
	tp := Proto(buf[6])
	check := buf[7]
	if check != uint8(tp)^0xFF {
		return Packet{}, &errBadCheck{tp: tp, check: check}
	}
	return Packet{Length: length, Pid: pid, Type: tp, Check: check}, nil
}

// EncodeHeader writes the 8-byte header for a packet of the given type,
// pid and body length.
func EncodeHeader(length uint32, pid uint16, tp Proto) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], length)
	binary.LittleEndian.PutUint16(buf[4:6], pid)
	buf[6] = uint8(tp)
	buf[7] = uint8(tp) ^ 0xFF
	return buf
}

// EncodePacket builds the full header+body wire representation for a
// request of the given type and pid. If data is nil, the packet carries
// an empty body. Otherwise data is MessagePack-encoded; []byte values
// are encoded using the `bin` MessagePack type (the library's native
// behavior for Go byte slices), matching the server's expectation that
// binary payloads never use `str`.
func EncodePacket(pid uint16, tp Proto, data any) ([]byte, error) {
	body, err := packBody(data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, EncodeHeader(uint32(len(body)), pid, tp)...)
	out = append(out, body...)
	return out, nil
}

func packBody(data any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	b, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return b, nil
}

// unpackBody decodes a packet payload into a generic value. An empty
// payload decodes to a nil value with no error, per the "length == 0
// means no data" rule.
func unpackBody(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var v any
	if err := msgpack.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("msgpack decode: %w", err)
	}
	return v, nil
}

// unpackBodyMap decodes a packet payload that is expected to be a map,
// as used by ERROR and event payloads.
func unpackBodyMap(payload []byte) (map[string]any, error) {
	v, err := unpackBody(payload)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a map payload, got %T", v)
	}
	return m, nil
}
