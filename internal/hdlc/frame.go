package hdlc

import "encoding/binary"

// Flag is the HDLC frame boundary byte.
const Flag byte = 0x7E

// formatMarker is the fixed high bits of the two-byte format field; the low
// 11 bits carry the frame's body length.
const formatMarker = 0xA000

// Frame is a decoded HDLC frame. Destination and Source hold the raw
// extension-bit-encoded address bytes, not the decoded integer value; use
// hdlc.DecodeAddress on them if the caller needs the value.
type Frame struct {
	Control     byte
	Destination []byte
	Source      []byte
	Info        []byte
}

// Encode builds the byte-exact HDLC frame for the given control byte,
// pre-encoded destination/source addresses, and information payload,
// including the leading and trailing 0x7E flags.
//
// Body length counts the two format bytes, destination, source, control,
// HCS (only when info is non-empty), info, and FCS. HCS is CRC16 over
// {format, dest, src, control}; FCS is CRC16 over {that header, HCS, info}.
func Encode(control byte, dest, src, info []byte) []byte {
	headerLen := 2 + len(dest) + len(src) + 1
	hasHCS := len(info) > 0

	bodyLen := headerLen + len(info) + 2
	if hasHCS {
		bodyLen += 2
	}

	format := uint16(formatMarker) | uint16(bodyLen&0x07FF)

	header := make([]byte, 0, headerLen)
	var formatBuf [2]byte
	binary.BigEndian.PutUint16(formatBuf[:], format)
	header = append(header, formatBuf[:]...)
	header = append(header, dest...)
	header = append(header, src...)
	header = append(header, control)

	frame := make([]byte, 0, bodyLen+2)
	frame = append(frame, header...)

	if hasHCS {
		hcs := CRC16(header)
		frame = append(frame, crcBytes(hcs)...)
	}
	frame = append(frame, info...)

	fcs := CRC16(frame)
	frame = append(frame, crcBytes(fcs)...)

	out := make([]byte, 0, len(frame)+2)
	out = append(out, Flag)
	out = append(out, frame...)
	out = append(out, Flag)
	return out
}

// Decode parses a frame whose bytes do not include the leading/trailing
// 0x7E flags (callers split frames out of a byte stream with Split first).
func Decode(raw []byte) (Frame, error) {
	const minLen = 2 /*format*/ + 1 /*dest*/ + 1 /*src*/ + 1 /*control*/ + 2 /*fcs*/
	if len(raw) < minLen {
		return Frame{}, ErrTooShort
	}

	destVal, destLen, err := DecodeAddress(raw[2:])
	if err != nil {
		return Frame{}, err
	}
	_ = destVal
	destBytes := raw[2 : 2+destLen]

	srcStart := 2 + destLen
	_, srcLen, err := DecodeAddress(raw[srcStart:])
	if err != nil {
		return Frame{}, err
	}
	srcBytes := raw[srcStart : srcStart+srcLen]

	controlPos := srcStart + srcLen
	if len(raw) < controlPos+1+2 {
		return Frame{}, ErrTooShort
	}
	control := raw[controlPos]

	payload := raw[controlPos+1 : len(raw)-2]
	fcsBytes := raw[len(raw)-2:]
	wantFCS := binary.LittleEndian.Uint16(fcsBytes)
	gotFCS := CRC16(raw[:len(raw)-2])
	if gotFCS != wantFCS {
		return Frame{}, ErrBadFCS
	}

	var info []byte
	if len(payload) > 0 {
		if len(payload) < 2 {
			return Frame{}, ErrTooShort
		}
		header := raw[:controlPos+1]
		hcsBytes := payload[:2]
		wantHCS := binary.LittleEndian.Uint16(hcsBytes)
		gotHCS := CRC16(header)
		if gotHCS != wantHCS {
			return Frame{}, ErrBadHCS
		}
		info = payload[2:]
	}

	return Frame{
		Control:     control,
		Destination: destBytes,
		Source:      srcBytes,
		Info:        info,
	}, nil
}

// Split locates the first complete flag-delimited frame in stream and
// returns its body (excluding flags), any remaining unconsumed bytes, and
// whether a frame was found. Leading flags (including back-to-back closing/
// opening flags shared between consecutive frames) are skipped.
func Split(stream []byte) (frame []byte, rest []byte, ok bool) {
	start := -1
	for i, b := range stream {
		if b == Flag {
			// Skip a run of consecutive flags to find the real frame start.
			if start == -1 {
				start = i
				continue
			}
			if i == start+1 {
				start = i
				continue
			}
			return stream[start+1 : i], stream[i:], true
		}
	}
	return nil, stream, false
}
