package bootcore

import "context"

// RunHandoff emits the installed release message on app and transfers
// control to the application. Jump is invoked instead of this function
// returning normally, modeling the real jmp 0000 that never returns; a test
// Jump can instead record that it was called and return to the caller.
func RunHandoff(ctx context.Context, app SerialChannel, store Store, wd Watchdog, jump func()) error {
	fwBytes, err := store.KVGet(FieldFWBytes)
	if err != nil {
		return err
	}
	if fwBytes == 0 {
		return ErrNoImage
	}

	msgBytes, err := store.KVGet(FieldMessageBytes)
	if err != nil {
		return err
	}
	start := uint32(fwBytes)
	end := start + uint32(msgBytes)

	for addr := start; addr < end; addr++ {
		b, err := store.FarRead(addr)
		if err != nil {
			return err
		}
		if err := app.WriteByte(ctx, b); err != nil {
			return err
		}
	}
	if err := app.WriteByte(ctx, byte(AppTerminatorByte)); err != nil {
		return err
	}

	wd.Disarm()
	jump()
	return nil
}
