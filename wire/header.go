// Package wire implements the version-independent envelope of QUIC packets:
// header inspection with connection ID extraction, and stateless reset
// datagrams. It deliberately stops where packet protection begins; decrypting
// and interpreting packet payloads is the transport's job, not the
// demultiplexer's.
package wire

import (
	"errors"
	"fmt"
)

const (
	// MaxCIDLength is the maximum length of a Connection ID.
	MaxCIDLength = 20

	// minLongHeaderLen is flags (1) + version (4) + dcid length (1). Length
	// fields beyond this prefix are validated against the remaining input.
	minLongHeaderLen = 6
)

var (
	errInvalidHeader = errors.New("InvalidHeader")
	errShortBuffer   = errors.New("ShortBuffer")
)

// IsLongHeader reports whether the first byte of a packet indicates
// a long header.
func IsLongHeader(b byte) bool {
	return b&0x80 != 0
}

// Header is the version-independent header of QUIC packets.
//
// Long header:
//
// +-+-+-+-+-+-+-+-+
// |1|X X X X X X X|
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                         Version (32)                          |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// | DCID Len (8)  |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |               Destination Connection ID (0..160)            ...
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// | SCID Len (8)  |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                 Source Connection ID (0..160)               ...
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// Short header:
// +-+-+-+-+-+-+-+-+
// |0|X X X X X X X|
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                 Destination Connection ID (*)               ...
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// A short header does not carry the length of its DCID; the receiver must
// know it (dcil), which is fixed per deployment.
type Header struct {
	Flags   uint8
	Version uint32
	DCID    []byte
	SCID    []byte
}

// Decode parses the header from b without copying: DCID and SCID alias b.
// dcil is the deployment-fixed connection ID length used for short headers.
// It returns the number of bytes consumed.
func (s *Header) Decode(b []byte, dcil int) (int, error) {
	if dcil < 0 || dcil > MaxCIDLength {
		return 0, errInvalidHeader
	}
	dec := newCodec(b)
	if !dec.readByte(&s.Flags) {
		return 0, errInvalidHeader
	}
	if IsLongHeader(s.Flags) {
		if len(b) < minLongHeaderLen {
			return 0, errInvalidHeader
		}
		if !dec.readUint32(&s.Version) {
			return 0, errInvalidHeader
		}
		// DCID
		var length uint8
		if !dec.readByte(&length) || length > MaxCIDLength {
			return 0, errInvalidHeader
		}
		if !dec.read(&s.DCID, int(length)) {
			return 0, errInvalidHeader
		}
		// SCID
		if !dec.readByte(&length) || length > MaxCIDLength {
			return 0, errInvalidHeader
		}
		if !dec.read(&s.SCID, int(length)) {
			return 0, errInvalidHeader
		}
	} else {
		s.Version = 0
		s.SCID = nil
		if !dec.read(&s.DCID, dcil) {
			return 0, errInvalidHeader
		}
	}
	return dec.offset(), nil
}

// Encode writes the header to b and returns the number of bytes written.
// Short headers write the DCID only; its length is implicit.
func (s *Header) Encode(b []byte) (int, error) {
	if len(s.DCID) > MaxCIDLength {
		return 0, errors.New("destination CID too long")
	}
	if len(s.SCID) > MaxCIDLength {
		return 0, errors.New("source CID too long")
	}
	enc := newCodec(b)
	if !enc.writeByte(s.Flags) {
		return 0, errShortBuffer
	}
	var ok bool
	if IsLongHeader(s.Flags) {
		ok = enc.writeUint32(s.Version) &&
			enc.writeByte(uint8(len(s.DCID))) &&
			enc.write(s.DCID) &&
			enc.writeByte(uint8(len(s.SCID))) &&
			enc.write(s.SCID)
	} else {
		ok = enc.write(s.DCID)
	}
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *Header) String() string {
	if IsLongHeader(s.Flags) {
		return fmt.Sprintf("form=long version=%d dcid=%x scid=%x", s.Version, s.DCID, s.SCID)
	}
	return fmt.Sprintf("form=short dcid=%x", s.DCID)
}
