package transform

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/cyqddx/shuyuan/core/fault"
)

func testPayload() []byte {
	// Repetitive JSON compresses well, which keeps the "compressed"
	// flag deterministic in round-trip tests.
	return bytes.Repeat([]byte(`{"key":"value","number":42},`), 50)
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestRoundTripAllCombinations(t *testing.T) {
	key := testKey(t)
	plain := testPayload()
	cases := []struct {
		name string
		opts Options
	}{
		{"plain", Options{}},
		{"compress", Options{Compress: true, Level: 6}},
		{"encrypt", Options{Key: key}},
		{"compress+encrypt", Options{Compress: true, Level: 6, Key: key}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCodec(tc.opts)
			out, compressed, encrypted, err := c.Encode(plain)
			if err != nil {
				t.Fatalf("Encode returned error: %v", err)
			}
			if compressed != tc.opts.Compress {
				t.Fatalf("compressed = %v, want %v", compressed, tc.opts.Compress)
			}
			if encrypted != (tc.opts.Key != nil) {
				t.Fatalf("encrypted = %v, want %v", encrypted, tc.opts.Key != nil)
			}
			if compressed || encrypted {
				if bytes.Equal(out, plain) {
					t.Fatalf("transformed output equals input")
				}
			}
			got, err := c.Decode(out, compressed, encrypted)
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}
			if !bytes.Equal(got, plain) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(plain))
			}
		})
	}
}

func TestSmallPayloadSkipsCompression(t *testing.T) {
	c := NewCodec(Options{Compress: true, Level: 6})
	plain := []byte(`{"a":1}`)
	out, compressed, _, err := c.Encode(plain)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if compressed {
		t.Fatalf("tiny payload must not be compressed")
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("skipped compression must pass bytes through")
	}
}

func TestIncompressibleSkipsCompression(t *testing.T) {
	plain := make([]byte, 1024)
	if _, err := rand.Read(plain); err != nil {
		t.Fatalf("generate payload: %v", err)
	}
	c := NewCodec(Options{Compress: true, Level: 6})
	_, compressed, _, err := c.Encode(plain)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if compressed {
		t.Fatalf("random bytes must not be stored compressed")
	}
}

func TestTamperedTokenFailsDecryption(t *testing.T) {
	key := testKey(t)
	c := NewCodec(Options{Key: key})
	out, _, encrypted, err := c.Encode(testPayload())
	if err != nil || !encrypted {
		t.Fatalf("Encode: err=%v encrypted=%v", err, encrypted)
	}

	flipped := append([]byte(nil), out...)
	flipped[len(flipped)-1] ^= 0x01
	if _, err := c.Decode(flipped, false, true); !fault.Is(err, fault.KindDecryptionFailed) {
		t.Fatalf("tampered ciphertext: got %v, want DecryptionFailed", err)
	}

	// Flipping a header byte invalidates the associated data binding.
	flipped = append([]byte(nil), out...)
	flipped[1] ^= 0x01
	if _, err := c.Decode(flipped, false, true); !fault.Is(err, fault.KindDecryptionFailed) {
		t.Fatalf("tampered header: got %v, want DecryptionFailed", err)
	}

	if _, err := c.Decode([]byte{tokenVersion, 0, 0}, false, true); !fault.Is(err, fault.KindDecryptionFailed) {
		t.Fatalf("short token: got %v, want DecryptionFailed", err)
	}
}

func TestWrongKeyFailsDecryption(t *testing.T) {
	c := NewCodec(Options{Key: testKey(t)})
	out, _, _, err := c.Encode(testPayload())
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	other := NewCodec(Options{Key: testKey(t)})
	if _, err := other.Decode(out, false, true); !fault.Is(err, fault.KindDecryptionFailed) {
		t.Fatalf("wrong key: got %v, want DecryptionFailed", err)
	}
}

func TestDecodeEncryptedWithoutKey(t *testing.T) {
	c := NewCodec(Options{})
	if _, err := c.Decode([]byte("anything"), false, true); !fault.Is(err, fault.KindDecryptionFailed) {
		t.Fatalf("got %v, want DecryptionFailed", err)
	}
}

func TestCorruptGzipIsStorageCorrupt(t *testing.T) {
	c := NewCodec(Options{Compress: true, Level: 6})
	out, compressed, _, err := c.Encode(testPayload())
	if err != nil || !compressed {
		t.Fatalf("Encode: err=%v compressed=%v", err, compressed)
	}
	out[10] ^= 0xFF
	if _, err := c.Decode(out, true, false); !fault.Is(err, fault.KindStorageCorrupt) {
		t.Fatalf("corrupt stream: got %v, want StorageCorrupt", err)
	}
}
