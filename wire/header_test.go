package wire

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func TestHeaderDecodeLong(t *testing.T) {
	dcid := randomBytes(8)
	scid := randomBytes(MaxCIDLength)
	b := make([]byte, 64)
	h := Header{
		Flags:   0xc0,
		Version: 1,
		DCID:    dcid,
		SCID:    scid,
	}
	n, err := h.Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7+len(dcid)+len(scid) {
		t.Fatalf("expect encoded length %d, actual %d", 7+len(dcid)+len(scid), n)
	}

	d := Header{}
	m, err := d.Decode(b[:n], 0)
	if err != nil {
		t.Fatal(err)
	}
	if m != n {
		t.Errorf("expect decoded length %d, actual %d", n, m)
	}
	if !IsLongHeader(d.Flags) {
		t.Errorf("expect long header, actual flags=0x%x", d.Flags)
	}
	if d.Version != 1 {
		t.Errorf("expect version 1, actual %d", d.Version)
	}
	if !bytes.Equal(dcid, d.DCID) {
		t.Errorf("expect dcid %x, actual %x", dcid, d.DCID)
	}
	if !bytes.Equal(scid, d.SCID) {
		t.Errorf("expect scid %x, actual %x", scid, d.SCID)
	}
}

func TestHeaderDecodeShort(t *testing.T) {
	dcid := randomBytes(MaxCIDLength)
	b := append([]byte{0x41}, dcid...)
	b = append(b, randomBytes(16)...) // packet number and payload

	h := Header{}
	n, err := h.Decode(b, len(dcid))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1+len(dcid) {
		t.Errorf("expect decoded length %d, actual %d", 1+len(dcid), n)
	}
	if IsLongHeader(h.Flags) {
		t.Errorf("expect short header, actual flags=0x%x", h.Flags)
	}
	if !bytes.Equal(dcid, h.DCID) {
		t.Errorf("expect dcid %x, actual %x", dcid, h.DCID)
	}
	if h.SCID != nil {
		t.Errorf("expect no scid, actual %x", h.SCID)
	}
}

func TestHeaderDecodeZeroCopy(t *testing.T) {
	b := []byte{0x80, 0, 0, 0, 1, 2, 0xaa, 0xbb, 1, 0xcc}
	h := Header{}
	if _, err := h.Decode(b, 0); err != nil {
		t.Fatal(err)
	}
	b[6] = 0xee
	if h.DCID[0] != 0xee {
		t.Errorf("expect DCID aliasing input buffer, actual %x", h.DCID)
	}
}

func TestHeaderDecodeTruncated(t *testing.T) {
	tests := [][]byte{
		{},
		{0xc0},                      // long, no version
		{0xc0, 0, 0, 0, 1},          // long, no dcid length
		{0xc0, 0, 0, 0, 1, 4, 1, 2}, // long, dcid truncated
		{0xc0, 0, 0, 0, 1, 2, 1, 2}, // long, no scid length
		{0xc0, 0, 0, 0, 1, 0, 8, 1}, // long, scid truncated
		{0x40, 1, 2, 3},             // short, dcid truncated (dcil=8)
	}
	for _, b := range tests {
		h := Header{}
		if _, err := h.Decode(b, 8); err == nil {
			t.Errorf("expect error for truncated input %x, actual %s", b, &h)
		}
	}
}

func TestHeaderDecodeInvalidCIDLength(t *testing.T) {
	b := []byte{0xc0, 0, 0, 0, 1, 21}
	b = append(b, randomBytes(30)...)
	h := Header{}
	if _, err := h.Decode(b, 0); err == nil {
		t.Error("expect error for CID length over limit")
	}
	if _, err := h.Decode([]byte{0x40, 1, 2, 3}, MaxCIDLength+1); err == nil {
		t.Error("expect error for dcil over limit")
	}
}
