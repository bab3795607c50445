package dlms

import (
	"encoding/binary"
	"fmt"
)

// Kind classifies a decoded DLMS Value so callers can switch on shape
// without re-inspecting the wire tag.
type Kind int

const (
	KindNull Kind = iota
	KindStructure
	KindInteger
	KindBytes
	KindText
)

// DLMS common-data-type tags this parser understands (spec.md §4.2).
const (
	tagNull             byte = 0x00
	tagStructure        byte = 0x02
	tagDoubleLong       byte = 0x05
	tagDoubleLongU      byte = 0x06
	tagOctetString      byte = 0x09
	tagVisibleString    byte = 0x0A
	tagInteger          byte = 0x0F
	tagLong             byte = 0x10
	tagUnsigned         byte = 0x11
	tagLongUnsigned     byte = 0x12
	tagLong64Unsigned   byte = 0x14
	tagEnum             byte = 0x16
)

// Value is a tagged variant holding one decoded DLMS data item. Only Kind,
// plus the field matching it, is meaningful: Number for KindInteger, Bytes
// for KindBytes, Text for KindText, Items for KindStructure.
type Value struct {
	Tag   byte
	Kind  Kind
	Number int64
	Bytes []byte
	Text  string
	Items []Value
}

// Decode parses one DLMS data item from the front of b, returning the value
// and the number of bytes consumed so the caller can detect unused trailing
// bytes (spec.md §4.2).
func Decode(b []byte) (Value, int, error) {
	if len(b) == 0 {
		return Value{}, 0, ErrUnsupportedDtype
	}

	tag := b[0]
	switch tag {
	case tagNull:
		return Value{Tag: tag, Kind: KindNull}, 1, nil

	case tagStructure:
		if len(b) < 2 {
			return Value{}, 0, fmt.Errorf("dlms: truncated structure: %w", ErrUnsupportedDtype)
		}
		count := int(b[1])
		items := make([]Value, 0, count)
		pos := 2
		for i := 0; i < count; i++ {
			item, n, err := Decode(b[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, item)
			pos += n
		}
		return Value{Tag: tag, Kind: KindStructure, Items: items}, pos, nil

	case tagDoubleLong:
		return decodeInt(tag, b, 4, true)
	case tagDoubleLongU:
		return decodeInt(tag, b, 4, false)
	case tagLong64Unsigned:
		return decodeInt(tag, b, 8, false)
	case tagLong:
		return decodeInt(tag, b, 2, true)
	case tagLongUnsigned:
		return decodeInt(tag, b, 2, false)
	case tagInteger:
		return decodeInt(tag, b, 1, true)
	case tagUnsigned, tagEnum:
		return decodeInt(tag, b, 1, false)

	case tagOctetString:
		if len(b) < 2 {
			return Value{}, 0, fmt.Errorf("dlms: truncated octet-string: %w", ErrUnsupportedDtype)
		}
		n := int(b[1])
		if len(b) < 2+n {
			return Value{}, 0, fmt.Errorf("dlms: truncated octet-string: %w", ErrUnsupportedDtype)
		}
		return Value{Tag: tag, Kind: KindBytes, Bytes: append([]byte(nil), b[2:2+n]...)}, 2 + n, nil

	case tagVisibleString:
		if len(b) < 2 {
			return Value{}, 0, fmt.Errorf("dlms: truncated visible-string: %w", ErrUnsupportedDtype)
		}
		n := int(b[1])
		if len(b) < 2+n {
			return Value{}, 0, fmt.Errorf("dlms: truncated visible-string: %w", ErrUnsupportedDtype)
		}
		return Value{Tag: tag, Kind: KindText, Text: decodeText(b[2 : 2+n])}, 2 + n, nil

	default:
		return Value{}, 0, fmt.Errorf("dlms: tag 0x%02X: %w", tag, ErrUnsupportedDtype)
	}
}

func decodeInt(tag byte, b []byte, width int, signed bool) (Value, int, error) {
	if len(b) < 1+width {
		return Value{}, 0, fmt.Errorf("dlms: truncated integer tag 0x%02X: %w", tag, ErrUnsupportedDtype)
	}
	raw := b[1 : 1+width]

	var u uint64
	switch width {
	case 1:
		u = uint64(raw[0])
	case 2:
		u = uint64(binary.BigEndian.Uint16(raw))
	case 4:
		u = uint64(binary.BigEndian.Uint32(raw))
	case 8:
		u = binary.BigEndian.Uint64(raw)
	}

	var n int64
	if signed {
		switch width {
		case 1:
			n = int64(int8(u))
		case 2:
			n = int64(int16(u))
		case 4:
			n = int64(int32(u))
		case 8:
			n = int64(u)
		}
	} else {
		n = int64(u)
	}

	return Value{Tag: tag, Kind: KindInteger, Number: n}, 1 + width, nil
}

// decodeText interprets raw as ASCII, falling back to Latin-1 (each byte a
// single code point) for any byte above 0x7F — the meter firmware in the
// field sometimes emits accented characters in device names.
func decodeText(raw []byte) string {
	for _, b := range raw {
		if b > 0x7F {
			runes := make([]rune, len(raw))
			for i, b := range raw {
				runes[i] = rune(b)
			}
			return string(runes)
		}
	}
	return string(raw)
}

// Encode renders v back to its wire form. Used by tests exercising the
// round-trip law; the AARQ and GET builders assemble their bytes directly.
func Encode(v Value) []byte {
	switch v.Kind {
	case KindNull:
		return []byte{tagNull}
	case KindStructure:
		out := []byte{tagStructure, byte(len(v.Items))}
		for _, item := range v.Items {
			out = append(out, Encode(item)...)
		}
		return out
	case KindBytes:
		out := []byte{tagOctetString, byte(len(v.Bytes))}
		return append(out, v.Bytes...)
	case KindText:
		out := []byte{tagVisibleString, byte(len(v.Text))}
		return append(out, []byte(v.Text)...)
	case KindInteger:
		return encodeIntTag(v)
	default:
		return nil
	}
}

func encodeIntTag(v Value) []byte {
	tag := v.Tag
	if tag == 0 {
		tag = tagDoubleLong
	}
	switch tag {
	case tagInteger, tagUnsigned, tagEnum:
		return []byte{tag, byte(v.Number)}
	case tagLong, tagLongUnsigned:
		out := []byte{tag, 0, 0}
		binary.BigEndian.PutUint16(out[1:], uint16(v.Number))
		return out
	case tagDoubleLong, tagDoubleLongU:
		out := []byte{tag, 0, 0, 0, 0}
		binary.BigEndian.PutUint32(out[1:], uint32(v.Number))
		return out
	case tagLong64Unsigned:
		out := []byte{tag, 0, 0, 0, 0, 0, 0, 0, 0}
		binary.BigEndian.PutUint64(out[1:], uint64(v.Number))
		return out
	default:
		out := []byte{tagDoubleLong, 0, 0, 0, 0}
		binary.BigEndian.PutUint32(out[1:], uint32(v.Number))
		return out
	}
}
