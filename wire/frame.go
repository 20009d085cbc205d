// Package wire implements the TinyPB-style framed wire protocol: a
// self-delimited binary frame carrying a message id, a method name, an
// error code and string, and an opaque payload. Grounded on
// original_source/rocket/net/coder/tinypb_coder.cc and
// tinypb_protocol.h.
package wire

import (
	"encoding/binary"

	"github.com/Flyzz-z/rocket/buffer"
)

// startMarker and endMarker bracket every frame on the wire. Their
// concrete values are a deployment constant, not a negotiated one (spec
// §6): both ends of a Rocket-RPC link must be built against the same
// values.
const (
	startMarker byte = 0x76
	endMarker   byte = 0x79
)

// defaultMsgID is substituted when a frame is encoded with an empty
// msg_id, preserving an observable behavior of the source.
const defaultMsgID = "123456789"

// fixedFieldsLen is the byte count of every fixed-width field in a frame
// other than the variable-length strings and payload: start(1) + pk_len(4)
// + msg_id_len(4) + method_name_len(4) + err_code(4) + err_info_len(4) +
// checksum(4) + end(1) = 26.
const fixedFieldsLen = 26

// Frame is one self-delimited unit on the wire carrying a single request
// or response.
type Frame struct {
	MsgID      string
	MethodName string
	ErrCode    int32
	ErrInfo    string
	Payload    []byte
}

// Encode appends the wire encoding of each frame to out, in order.
func Encode(frames []*Frame, out *buffer.Buffer) {
	for _, f := range frames {
		encodeOne(f, out)
	}
}

func encodeOne(f *Frame, out *buffer.Buffer) {
	msgID := f.MsgID
	if msgID == "" {
		msgID = defaultMsgID
	}

	pkLen := fixedFieldsLen + len(msgID) + len(f.MethodName) + len(f.ErrInfo) + len(f.Payload)

	buf := make([]byte, pkLen)
	pos := 0

	buf[pos] = startMarker
	pos++

	binary.BigEndian.PutUint32(buf[pos:], uint32(pkLen))
	pos += 4

	binary.BigEndian.PutUint32(buf[pos:], uint32(len(msgID)))
	pos += 4
	pos += copy(buf[pos:], msgID)

	binary.BigEndian.PutUint32(buf[pos:], uint32(len(f.MethodName)))
	pos += 4
	pos += copy(buf[pos:], f.MethodName)

	binary.BigEndian.PutUint32(buf[pos:], uint32(f.ErrCode))
	pos += 4

	binary.BigEndian.PutUint32(buf[pos:], uint32(len(f.ErrInfo)))
	pos += 4
	pos += copy(buf[pos:], f.ErrInfo)

	pos += copy(buf[pos:], f.Payload)

	// Checksum is never verified by either side; written as a constant
	// for wire compatibility.
	binary.BigEndian.PutUint32(buf[pos:], 1)
	pos += 4

	buf[pos] = endMarker

	out.Write(buf)
}

// Decode scans in for complete frames, appending each to out and
// consuming its bytes from in. Malformed bytes before a valid start
// marker are silently skipped; a start marker whose declared length is
// below the fixed-field minimum, or whose implied end byte is not the end
// marker, is treated as spurious and scanning resumes one byte later. A
// start marker whose declared length exceeds the bytes buffered so far
// makes Decode stop and wait for more data, even if a complete frame
// follows it. Decode returns once no further complete frame is present
// in in.
func Decode(out *[]*Frame, in *buffer.Buffer) {
	for {
		data := in.Bytes()
		start, pkLen, ok := findFrame(data)
		if !ok {
			return
		}

		frame, err := parseFrame(data[start : start+pkLen])
		in.Consume(start + pkLen)
		if err != nil {
			// Malformed interior fields: drop this frame and keep
			// scanning the rest of the buffer rather than aborting the
			// caller's loop.
			continue
		}
		*out = append(*out, frame)
	}
}

// findFrame locates the next complete frame in data, returning its start
// offset and declared pk_len. ok is false when no complete frame is
// present yet (more data needed).
func findFrame(data []byte) (start int, pkLen int, ok bool) {
	for i := 0; i < len(data); i++ {
		if data[i] != startMarker {
			continue
		}
		if i+5 > len(data) {
			// Not enough bytes to read pk_len yet; wait for more.
			return 0, 0, false
		}
		length := int(binary.BigEndian.Uint32(data[i+1 : i+5]))
		if length < fixedFieldsLen {
			// Can't be a valid frame; keep scanning past this marker.
			continue
		}
		end := i + length - 1
		if end >= len(data) {
			// Frame not fully buffered yet.
			return 0, 0, false
		}
		if data[end] != endMarker {
			continue
		}
		return i, length, true
	}
	return 0, 0, false
}

// parseFrame decodes the sub-fields of a single complete frame (data runs
// from the start marker through the end marker inclusive).
func parseFrame(data []byte) (*Frame, error) {
	pos := 1 + 4 // skip start marker + pk_len

	msgIDLen, pos, err := readLen(data, pos)
	if err != nil {
		return nil, err
	}
	msgID, pos, err := readString(data, pos, msgIDLen)
	if err != nil {
		return nil, err
	}

	methodNameLen, pos, err := readLen(data, pos)
	if err != nil {
		return nil, err
	}
	methodName, pos, err := readString(data, pos, methodNameLen)
	if err != nil {
		return nil, err
	}

	errCode, pos, err := readInt32(data, pos)
	if err != nil {
		return nil, err
	}

	errInfoLen, pos, err := readLen(data, pos)
	if err != nil {
		return nil, err
	}
	errInfo, pos, err := readString(data, pos, errInfoLen)
	if err != nil {
		return nil, err
	}

	// Remaining bytes up to the checksum+end trailer are the payload.
	payloadEnd := len(data) - 4 - 1 // checksum(4) + end marker(1)
	if pos > payloadEnd {
		return nil, errFrameBounds
	}
	payload := append([]byte(nil), data[pos:payloadEnd]...)

	return &Frame{
		MsgID:      msgID,
		MethodName: methodName,
		ErrCode:    errCode,
		ErrInfo:    errInfo,
		Payload:    payload,
	}, nil
}

func readLen(data []byte, pos int) (int, int, error) {
	if pos+4 > len(data) {
		return 0, pos, errFrameBounds
	}
	return int(binary.BigEndian.Uint32(data[pos : pos+4])), pos + 4, nil
}

func readInt32(data []byte, pos int) (int32, int, error) {
	if pos+4 > len(data) {
		return 0, pos, errFrameBounds
	}
	return int32(binary.BigEndian.Uint32(data[pos : pos+4])), pos + 4, nil
}

func readString(data []byte, pos, n int) (string, int, error) {
	if n < 0 || pos+n > len(data) {
		return "", pos, errFrameBounds
	}
	return string(data[pos : pos+n]), pos + n, nil
}
