package bootcore

import (
	"crypto/sha512"
	"crypto/subtle"

	"golang.org/x/crypto/salsa20"
)

// Sizes fixed by the wire format and the crypto primitives it is built on.
const (
	KeyBytes        = 32 // install/readback key size
	NonceBytes      = 24 // XSalsa20 nonce size
	TagBytes        = 64 // MAC tag size
	zeroPrefixBytes = 32 // leading zero plaintext bytes, NaCl convention
	strippedBytes   = 16 // leading ciphertext bytes stripped on the wire
)

// streamXOR implements the stream_xor primitive: XSalsa20 keystream XORed
// against src, written to dst. dst and src may be the same length; the
// caller is responsible for the zero-padding convention (see
// decryptFramePlaintext / EncryptFrame in frame.go). x/crypto/salsa20 selects XSalsa20 automatically
// for a 24-byte nonce.
func streamXOR(dst, src []byte, key [KeyBytes]byte, nonce [NonceBytes]byte) {
	salsa20.XORKeyStream(dst, src, nonce[:], &key)
}

// hash512 implements the hash primitive: SHA-512 over msg.
func hash512(msg []byte) [64]byte {
	return sha512.Sum512(msg)
}

// verify32 is the constant-time 32-byte comparator the MAC engine uses to
// check each half of a tag independently.
func verify32(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
