package bootcore

import "context"

// InstallResult summarizes a completed install for logging/testing.
type InstallResult struct {
	FramesReceived int
	FWVersion      uint16
	FWZero         bool
	FWBytes        uint16
	MessageBytes   uint16
}

// RunInstall drives the install engine to completion over host: receive,
// authenticate, decrypt, and commit frames in the descending-frame_no order
// the host is contractually obligated to send them in, until the number of
// frames declared by the first frame has been received.
//
// On any authentication failure, version rollback, or out-of-bounds first
// frame, RunInstall emits the matching status byte and returns a
// *ProtocolError with no further state committed for that frame; the
// caller is expected to follow up with Halt to model the watchdog reset
// that would otherwise end the session on real hardware.
func RunInstall(ctx context.Context, host SerialChannel, store Store, wd Watchdog, keys Keys) (*InstallResult, error) {
	pageSize := store.PageSize()
	protSize := protectedSize(pageSize)

	var numFrames int
	var address uint32
	framesReceived := 0

	// Loop terminates on frames_received == num_frames, set from the first
	// received frame.
	for {
		tagBytes, err := readBytes(ctx, host, wd, TagBytes)
		if err != nil {
			return nil, err
		}
		protected, err := readBytes(ctx, host, wd, protSize)
		if err != nil {
			return nil, err
		}
		nonceBytes, err := readBytes(ctx, host, wd, NonceBytes)
		if err != nil {
			return nil, err
		}

		var tag [TagBytes]byte
		copy(tag[:], tagBytes)
		var nonce [NonceBytes]byte
		copy(nonce[:], nonceBytes)

		if !VerifyFrameMAC(keys, tag, protected, nonce) {
			_ = writeStatus(ctx, host, wd, StatusMACError)
			return nil, ErrMACMismatch("install frame")
		}
		if err := writeStatus(ctx, host, wd, StatusOK); err != nil {
			return nil, err
		}

		frame, err := decryptFramePlaintext(keys, protected, nonce, pageSize)
		if err != nil {
			return nil, err
		}
		if err := writeStatus(ctx, host, wd, StatusOK); err != nil {
			return nil, err
		}

		if framesReceived == 0 {
			numFrames = int(frame.FrameNo) + 1
			address = uint32(frame.FrameNo) * uint32(pageSize)

			// A malicious first frame_no must not drive address
			// arithmetic past program memory. Checked before any
			// non-volatile update for this frame, so a refused first
			// frame commits nothing.
			if address+uint32(pageSize) > store.ProgramMemorySize() {
				_ = writeStatus(ctx, host, wd, StatusMACError)
				return nil, ErrMACMismatch("first frame_no exceeds program memory")
			}
		}

		fwVersion, err := store.KVGet(FieldFWVersion)
		if err != nil {
			return nil, err
		}
		if frame.Version != 0 && frame.Version < fwVersion {
			_ = writeStatus(ctx, host, wd, StatusVersionError)
			return nil, ErrVersionRollback(frame.Version, fwVersion)
		} else if frame.Version == 0 {
			if err := store.KVUpdate(FieldFWZero, 1); err != nil {
				return nil, err
			}
		} else {
			if err := store.KVUpdate(FieldFWVersion, frame.Version); err != nil {
				return nil, err
			}
			if err := store.KVUpdate(FieldFWZero, 0); err != nil {
				return nil, err
			}
		}

		if framesReceived == 0 {
			if err := store.KVUpdate(FieldMessageBytes, 0); err != nil {
				return nil, err
			}
			if err := store.KVUpdate(FieldFWBytes, 0); err != nil {
				return nil, err
			}

			nextAddr := address + uint32(pageSize)
			if nextAddr < store.ProgramMemorySize() {
				if err := store.PageErase(nextAddr); err != nil {
					return nil, err
				}
				if err := store.PageCommit(nextAddr); err != nil {
					return nil, err
				}
			}
		}

		if err := commitFramePage(store, address, frame); err != nil {
			return nil, err
		}

		if frame.IsMessage {
			cur, err := store.KVGet(FieldMessageBytes)
			if err != nil {
				return nil, err
			}
			if err := store.KVUpdate(FieldMessageBytes, cur+frame.DataSize); err != nil {
				return nil, err
			}
		} else {
			cur, err := store.KVGet(FieldFWBytes)
			if err != nil {
				return nil, err
			}
			if err := store.KVUpdate(FieldFWBytes, cur+uint16(pageSize)); err != nil {
				return nil, err
			}
		}

		address -= uint32(pageSize)
		if err := writeStatus(ctx, host, wd, StatusOK); err != nil {
			return nil, err
		}
		framesReceived++
		if framesReceived >= numFrames {
			break
		}
	}

	fwVersion, _ := store.KVGet(FieldFWVersion)
	fwZero, _ := store.KVGet(FieldFWZero)
	fwBytes, _ := store.KVGet(FieldFWBytes)
	msgBytes, _ := store.KVGet(FieldMessageBytes)
	return &InstallResult{
		FramesReceived: framesReceived,
		FWVersion:      fwVersion,
		FWZero:         fwZero != 0,
		FWBytes:        fwBytes,
		MessageBytes:   msgBytes,
	}, nil
}

// commitFramePage erases the page at address and writes frame's payload
// into it, word-by-word, zero-padding the high byte of a final odd byte.
func commitFramePage(store Store, address uint32, frame *Frame) error {
	if err := store.PageErase(address); err != nil {
		return err
	}
	for i := 0; i < int(frame.DataSize); i += 2 {
		word := uint16(frame.Data[i])
		if i < int(frame.DataSize)-1 {
			word |= uint16(frame.Data[i+1]) << 8
		}
		if err := store.PageFillWord(address+uint32(i), word); err != nil {
			return err
		}
	}
	return store.PageCommit(address)
}
