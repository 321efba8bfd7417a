package envelope

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	b, err := Encode(Envelope{Key: []byte("ab"), Payload: []byte(`{"x":1}`)})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := append([]byte{0, 0, 0, 2, 'a', 'b'}, []byte(`{"x":1}`)...)
	if !bytes.Equal(b, want) {
		t.Fatalf("expected %v, got %v", want, b)
	}
}

func TestDecode(t *testing.T) {
	in := Envelope{Key: []byte("order-7"), Payload: []byte(`{"timestamp":"2026-01-28T09:00:00Z"}`)}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(out.Key, in.Key) || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("mismatch: got %+v", out)
	}

	b[4] = 'X'
	if out.Key[0] != 'o' {
		t.Fatal("decoded key must not alias the input buffer")
	}
}

func TestDecodeNullKey(t *testing.T) {
	b, _ := Encode(Envelope{Payload: []byte("p")})
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Key != nil {
		t.Fatalf("expected nil key, got %v", out.Key)
	}
	if string(out.Payload) != "p" {
		t.Fatalf("expected payload p, got %q", out.Payload)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	if _, err := Decode([]byte{0, 0}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if _, err := Decode([]byte{0, 0, 0, 9, 'a'}); !errors.Is(err, ErrKeyLength) {
		t.Fatalf("expected ErrKeyLength, got %v", err)
	}
	// Foreign bytes read as a huge key length.
	if _, err := Decode([]byte{0xac, 0xed, 0x00, 0x05, 0x73, 0x72}); !errors.Is(err, ErrKeyLength) {
		t.Fatalf("expected ErrKeyLength for foreign data, got %v", err)
	}
}
