package transform

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cyqddx/shuyuan/core/fault"
)

// Sealed token layout:
//
//	1 byte   version (0x01)
//	8 bytes  big-endian unix seconds at seal time
//	24 bytes XChaCha20-Poly1305 nonce
//	n bytes  ciphertext with appended Poly1305 tag
//
// The version and timestamp prefix is bound as associated data, so a
// token cannot be replayed with a rewritten header.
const (
	tokenVersion   = 0x01
	tokenHeaderLen = 1 + 8
)

func seal(key, plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "init cipher", err)
	}
	header := make([]byte, tokenHeaderLen)
	header[0] = tokenVersion
	binary.BigEndian.PutUint64(header[1:], uint64(time.Now().Unix()))

	token := make([]byte, tokenHeaderLen+aead.NonceSize(), tokenHeaderLen+aead.NonceSize()+len(plain)+aead.Overhead())
	copy(token, header)
	nonce := token[tokenHeaderLen:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "generate nonce", err)
	}
	return aead.Seal(token, nonce, plain, header), nil
}

func open(key, token []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "init cipher", err)
	}
	minLen := tokenHeaderLen + aead.NonceSize() + aead.Overhead()
	if len(token) < minLen {
		return nil, fault.New(fault.KindDecryptionFailed, "token too short")
	}
	if token[0] != tokenVersion {
		return nil, fault.Newf(fault.KindDecryptionFailed, "unsupported token version 0x%02x", token[0])
	}
	header := token[:tokenHeaderLen]
	nonce := token[tokenHeaderLen : tokenHeaderLen+aead.NonceSize()]
	ciphertext := token[tokenHeaderLen+aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, fault.Wrap(fault.KindDecryptionFailed, "open token", err)
	}
	return plain, nil
}
