package checksum

import "testing"

func TestChecksumKnownValues(t *testing.T) {
	for _, test := range []struct {
		name string
		in   []byte
		want uint16
	}{
		{
			name: "empty",
			in:   nil,
			want: 0xffff,
		},
		{
			name: "single-zero-word",
			in:   []byte{0x00, 0x00},
			want: 0xffff,
		},
		{
			name: "odd-length-padded",
			in:   []byte{0x01},
			want: 0xfeff,
		},
		{
			name: "three-word-buffer",
			in:   []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5},
			want: 0x1905,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := Checksum(test.in); got != test.want {
				t.Errorf("Checksum(%x) = %#04x; want %#04x", test.in, got, test.want)
			}
		})
	}
}

func TestChecksumSelfVerifies(t *testing.T) {
	// Per RFC 1071 §1(3): appending the computed checksum as a 16-bit word
	// and recomputing yields zero (after complementing, the raw sum is
	// all-ones, so Checksum of the extended buffer is 0).
	buf := []byte{0x45, 0x00, 0x00, 0x3c, 0x1c, 0x46, 0x40, 0x00}
	ck := Checksum(buf)
	extended := append(append([]byte{}, buf...), byte(ck>>8), byte(ck))
	if got := Checksum(extended); got != 0 {
		t.Errorf("Checksum(buf+checksum) = %#04x; want 0", got)
	}
}

func TestChecksumSensitiveToSingleBitFlip(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	ck := Checksum(buf)
	for byteIdx := range buf {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte{}, buf...)
			flipped[byteIdx] ^= 1 << uint(bit)
			if Checksum(flipped) == ck {
				t.Errorf("flipping bit %d of byte %d left checksum unchanged (%#04x)", bit, byteIdx, ck)
			}
		}
	}
}
