package bootcore

import (
	"bytes"
	"crypto/sha512"
	"testing"
)

func testKeys() Keys {
	var keys Keys
	for i := range keys.Update {
		keys.Update[i] = byte(i)
		keys.Readback[i] = byte(0xFF - i)
	}
	return keys
}

func TestMacMatchesTwoLayerSHA512(t *testing.T) {
	keys := testKeys()
	msg := []byte("the quick brown fox")

	inner := sha512.Sum512(append(append([]byte{}, keys.Update[:]...), msg...))
	expected := sha512.Sum512(append(append([]byte{}, keys.Update[:]...), inner[:]...))

	tag := Mac(keys, KeyUpdate, msg)
	if !bytes.Equal(tag[:], expected[:]) {
		t.Fatalf("Mac does not match SHA512(key || SHA512(key || msg))")
	}
}

func TestMacKeySelection(t *testing.T) {
	keys := testKeys()
	msg := []byte("same message")

	updateTag := Mac(keys, KeyUpdate, msg)
	readbackTag := Mac(keys, KeyReadback, msg)
	if bytes.Equal(updateTag[:], readbackTag[:]) {
		t.Fatalf("update and readback keys produced the same tag")
	}
}

func TestVerifyMacRejectsEitherHalfTampered(t *testing.T) {
	keys := testKeys()
	msg := []byte("authenticated payload")
	tag := Mac(keys, KeyUpdate, msg)

	if !VerifyMac(keys, KeyUpdate, msg, tag) {
		t.Fatalf("genuine tag rejected")
	}

	lowTampered := tag
	lowTampered[0] ^= 0x01
	if VerifyMac(keys, KeyUpdate, msg, lowTampered) {
		t.Fatalf("tag with tampered first half accepted")
	}

	highTampered := tag
	highTampered[TagBytes-1] ^= 0x01
	if VerifyMac(keys, KeyUpdate, msg, highTampered) {
		t.Fatalf("tag with tampered second half accepted")
	}

	if VerifyMac(keys, KeyReadback, msg, tag) {
		t.Fatalf("update-key tag accepted under readback key")
	}
}

func TestVerifyMacRejectsTamperedMessage(t *testing.T) {
	keys := testKeys()
	msg := []byte("original")
	tag := Mac(keys, KeyUpdate, msg)

	if VerifyMac(keys, KeyUpdate, []byte("originaX"), tag) {
		t.Fatalf("tag accepted for a different message")
	}
}
