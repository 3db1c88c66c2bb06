package wire

import (
	"bytes"
	"testing"
)

func TestResetTokenDeterministic(t *testing.T) {
	serverID := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	cid := randomBytes(MaxCIDLength)

	t1 := ResetToken(serverID, cid)
	t2 := ResetToken(serverID, cid)
	if len(t1) != ResetTokenLength {
		t.Fatalf("expect token length %d, actual %d", ResetTokenLength, len(t1))
	}
	if !bytes.Equal(t1, t2) {
		t.Errorf("expect deterministic token, actual %x and %x", t1, t2)
	}
	t3 := ResetToken(serverID, randomBytes(MaxCIDLength))
	if bytes.Equal(t1, t3) {
		t.Errorf("expect distinct tokens for distinct CIDs, actual %x", t1)
	}
	t4 := ResetToken([]byte{8, 7, 6, 5, 4, 3, 2, 1}, cid)
	if bytes.Equal(t1, t4) {
		t.Errorf("expect distinct tokens for distinct server ids, actual %x", t1)
	}
}

func TestStatelessReset(t *testing.T) {
	serverID := []byte("server-id-0")
	dcid := randomBytes(8)
	b := make([]byte, 128)

	n, err := StatelessReset(b, dcid, serverID)
	if err != nil {
		t.Fatal(err)
	}
	if n != StatelessResetLength {
		t.Fatalf("expect packet length %d, actual %d", StatelessResetLength, n)
	}
	b = b[:n]
	if IsLongHeader(b[0]) {
		t.Errorf("expect short header form, actual first byte 0x%x", b[0])
	}
	if b[0]&0x40 == 0 {
		t.Errorf("expect fixed bit set, actual first byte 0x%x", b[0])
	}
	token := ResetToken(serverID, dcid)
	if !bytes.Equal(b[n-ResetTokenLength:], token) {
		t.Errorf("expect trailing token %x, actual %x", token, b[n-ResetTokenLength:])
	}
	if !VerifyResetToken(b, serverID, dcid) {
		t.Error("expect reset token to verify")
	}
	if VerifyResetToken(b, serverID, randomBytes(8)) {
		t.Error("expect verification failure for wrong CID")
	}
}

func TestStatelessResetShortBuffer(t *testing.T) {
	b := make([]byte, StatelessResetLength-1)
	if _, err := StatelessReset(b, randomBytes(8), []byte("sid")); err == nil {
		t.Error("expect error for short buffer")
	}
}
