package wire

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/hkdf"
)

// https://www.rfc-editor.org/rfc/rfc9000#stateless-reset
const (
	// ResetTokenLength is the length of a stateless reset token.
	ResetTokenLength = 16

	// statelessResetRandLen is the number of unpredictable bytes preceding
	// the token. The resulting 38-byte datagram is indistinguishable from a
	// short header packet carrying a 20-byte CID.
	statelessResetRandLen = 22

	// StatelessResetLength is the total length of reset datagrams sent by
	// this endpoint. Received resets may be as short as 21 bytes.
	StatelessResetLength = statelessResetRandLen + ResetTokenLength
)

var resetTokenSalt = []byte{
	0x6e, 0x2d, 0x19, 0xf7, 0x80, 0x4c, 0x5a, 0xe2, 0x9b, 0x53,
	0xc0, 0x11, 0x7e, 0xa4, 0x8f, 0xd6, 0x36, 0x62, 0xb1, 0x05,
}

// ResetToken derives the 16-byte stateless reset token for cid. The
// derivation is deterministic in (serverID, cid) so the token can be
// recomputed without per-connection state.
func ResetToken(serverID, cid []byte) []byte {
	token := make([]byte, ResetTokenLength)
	r := hkdf.New(sha256.New, serverID, resetTokenSalt, cid)
	if _, err := io.ReadFull(r, token); err != nil {
		// Only fails when the token exceeds the HKDF output limit.
		panic("wire: reset token derivation: " + err.Error())
	}
	return token
}

// VerifyResetToken reports whether the trailing bytes of datagram b carry the
// reset token for cid. Comparison is constant time.
func VerifyResetToken(b, serverID, cid []byte) bool {
	if len(b) < StatelessResetLength {
		return false
	}
	token := ResetToken(serverID, cid)
	return subtle.ConstantTimeCompare(b[len(b)-ResetTokenLength:], token) == 1
}

// StatelessReset writes a stateless reset datagram for dcid to b and returns
// the number of bytes written. The packet is unpredictable random data shaped
// like a short header packet, terminated by the reset token.
func StatelessReset(b, dcid, serverID []byte) (int, error) {
	if len(b) < StatelessResetLength {
		return 0, errShortBuffer
	}
	if _, err := rand.Read(b[:statelessResetRandLen]); err != nil {
		return 0, err
	}
	// First byte must look like a short header: high bit clear, fixed bit set.
	b[0] = 0x40 | b[0]&0x3f
	enc := newCodec(b)
	if !enc.skip(statelessResetRandLen) || !enc.write(ResetToken(serverID, dcid)) {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}
