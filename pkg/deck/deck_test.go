package deck

import (
	"bytes"
	"testing"

	"github.com/DorAlter/postguard/pkg/pgerr"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	nonce := bytes.Repeat([]byte{0x22}, 12)

	segments := [][]byte{
		[]byte("first segment payload"),
		[]byte("second segment payload, a bit longer than the first"),
		[]byte(""),
	}

	sealer := New(key, nonce)
	wrapped := make([][]byte, len(segments))
	for i, seg := range segments {
		buf := append([]byte(nil), seg...)
		var err error
		if i == len(segments)-1 {
			err = sealer.WrapLast(&buf)
		} else {
			err = sealer.Wrap(&buf)
		}
		if err != nil {
			t.Fatalf("wrap segment %d: %v", i, err)
		}
		wrapped[i] = buf
	}

	opener := New(key, nonce)
	for i, buf := range wrapped {
		plain := append([]byte(nil), buf...)
		var err error
		if i == len(wrapped)-1 {
			err = opener.UnwrapLast(&plain)
		} else {
			err = opener.Unwrap(&plain)
		}
		if err != nil {
			t.Fatalf("unwrap segment %d: %v", i, err)
		}
		if !bytes.Equal(plain, segments[i]) {
			t.Fatalf("segment %d: got %q, want %q", i, plain, segments[i])
		}
	}
}

func TestUnwrapTamperedTagFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, 16)
	nonce := bytes.Repeat([]byte{0x44}, 12)

	buf := []byte("tamper me")
	if err := New(key, nonce).Wrap(&buf); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	buf[len(buf)-1] ^= 0xFF

	if err := New(key, nonce).Unwrap(&buf); err != pgerr.ErrWrongTag {
		t.Fatalf("expected ErrWrongTag, got %v", err)
	}
}

func TestUnwrapTamperedCiphertextFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, 16)
	nonce := bytes.Repeat([]byte{0x66}, 12)

	buf := []byte("do not modify this ciphertext")
	if err := New(key, nonce).Wrap(&buf); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	buf[0] ^= 0x01

	if err := New(key, nonce).Unwrap(&buf); err != pgerr.ErrWrongTag {
		t.Fatalf("expected ErrWrongTag, got %v", err)
	}
}

func TestWrongKeyFailsToUnwrap(t *testing.T) {
	key := bytes.Repeat([]byte{0x77}, 16)
	wrongKey := bytes.Repeat([]byte{0x88}, 16)
	nonce := bytes.Repeat([]byte{0x99}, 12)

	buf := []byte("secret segment")
	if err := New(key, nonce).Wrap(&buf); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := New(wrongKey, nonce).Unwrap(&buf); err != pgerr.ErrWrongTag {
		t.Fatalf("expected ErrWrongTag under wrong key, got %v", err)
	}
}

func TestSegmentsMustAdvanceInOrder(t *testing.T) {
	key := bytes.Repeat([]byte{0xAA}, 16)
	nonce := bytes.Repeat([]byte{0xBB}, 12)

	d := New(key, nonce)
	var a, b []byte = []byte("segment a"), []byte("segment b")
	if err := d.Wrap(&a); err != nil {
		t.Fatalf("wrap a: %v", err)
	}
	if err := d.Wrap(&b); err != nil {
		t.Fatalf("wrap b: %v", err)
	}

	// Unwrapping out of order (b first) must not authenticate, since each
	// segment's tag is bound to its own counter value.
	opener := New(key, nonce)
	if err := opener.Unwrap(&b); err != pgerr.ErrWrongTag {
		t.Fatalf("expected ErrWrongTag for out-of-order segment, got %v", err)
	}
}
