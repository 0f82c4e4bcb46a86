package bootcore

import (
	"context"
	"encoding/binary"
)

const requestBytes = 8 // start_addr_be32 || length_be32

// RunReadback drives the readback engine: authenticate a (start, length)
// request under the readback key, then stream that many program-memory
// bytes back over host.
//
// length is clamped so the engine never reads past program memory,
// whatever the host declares.
func RunReadback(ctx context.Context, host SerialChannel, store Store, wd Watchdog, keys Keys) error {
	tagBytes, err := readBytes(ctx, host, wd, TagBytes)
	if err != nil {
		return err
	}
	nonceBytes, err := readBytes(ctx, host, wd, NonceBytes)
	if err != nil {
		return err
	}
	request, err := readBytes(ctx, host, wd, requestBytes)
	if err != nil {
		return err
	}
	if err := writeStatus(ctx, host, wd, StatusOK); err != nil {
		return err
	}

	var tag [TagBytes]byte
	copy(tag[:], tagBytes)
	var nonce [NonceBytes]byte
	copy(nonce[:], nonceBytes)

	macIn := make([]byte, 0, NonceBytes+requestBytes)
	macIn = append(macIn, nonce[:]...)
	macIn = append(macIn, request...)
	if !VerifyMac(keys, KeyReadback, macIn, tag) {
		_ = writeStatus(ctx, host, wd, StatusMACError)
		return ErrMACMismatch("readback request")
	}
	if err := writeStatus(ctx, host, wd, StatusOK); err != nil {
		return err
	}

	startAddr := binary.BigEndian.Uint32(request[0:4])
	length := binary.BigEndian.Uint32(request[4:8])

	memSize := store.ProgramMemorySize()
	if startAddr >= memSize {
		length = 0
	} else if startAddr+length > memSize || startAddr+length < startAddr {
		length = memSize - startAddr
	}

	for i := uint32(0); i < length; i++ {
		b, err := store.FarRead(startAddr + i)
		if err != nil {
			return err
		}
		if err := host.WriteByte(ctx, b); err != nil {
			return err
		}
		wd.Kick()
	}
	return nil
}
