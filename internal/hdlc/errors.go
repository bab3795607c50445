package hdlc

import "errors"

// Frame-level errors. None of these advance a caller's sequence counters;
// they are returned so a caller (the DLMS client, the robust wrapper) can
// classify them as transient and decide whether to discard-and-retry.
var (
	ErrInvalidFrameBoundary = errors.New("hdlc: invalid frame boundary")
	ErrAddressNotTerminated = errors.New("hdlc: address field not terminated")
	ErrTooShort             = errors.New("hdlc: frame too short")
	ErrBadHCS               = errors.New("hdlc: header checksum mismatch")
	ErrBadFCS               = errors.New("hdlc: frame checksum mismatch")
	ErrUnsupportedControl   = errors.New("hdlc: unsupported control byte")
)
