package solana

import (
	"bytes"
	"testing"
)

func TestBase58RoundTrip(t *testing.T) {
	cases := [][]byte{
		{0x01},
		{0xff, 0x00, 0xff},
		{0x00, 0x00, 0x01, 0x02}, // leading zeros become '1' characters
		bytes.Repeat([]byte{0xab}, 64),
	}

	for _, data := range cases {
		encoded := encodeBase58(data)
		decoded, err := decodeBase58(encoded)
		if err != nil {
			t.Fatalf("decode(%q) failed: %v", encoded, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Errorf("round trip mismatch: %x -> %q -> %x", data, encoded, decoded)
		}
	}
}

func TestBase58LeadingZeros(t *testing.T) {
	encoded := encodeBase58([]byte{0x00, 0x00, 0xff})
	if encoded[:2] != "11" {
		t.Errorf("leading zero bytes encode as '1', got %q", encoded)
	}

	decoded, err := decodeBase58("11")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, []byte{0x00, 0x00}) {
		t.Errorf("'11' should decode to two zero bytes, got %x", decoded)
	}
}

func TestBase58KnownVector(t *testing.T) {
	// "StV1DL6CwTryKyV" is the classic encoding of "hello world"
	decoded, err := decodeBase58("StV1DL6CwTryKyV")
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != "hello world" {
		t.Errorf("got %q", decoded)
	}
	if encodeBase58([]byte("hello world")) != "StV1DL6CwTryKyV" {
		t.Error("encode does not match the known vector")
	}
}

func TestBase58RejectsInvalidInput(t *testing.T) {
	for _, s := range []string{"", "0OIl", "abc!"} {
		if _, err := decodeBase58(s); err == nil {
			t.Errorf("decode(%q) should fail", s)
		}
	}
}
