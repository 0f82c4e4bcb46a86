package bootcore

import "context"

// readBytes reads exactly n bytes from ch, kicking wd after each byte so no
// wait loop can stall longer than the armed watchdog timeout.
func readBytes(ctx context.Context, ch SerialChannel, wd Watchdog, n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		b, err := ch.ReadByte(ctx)
		if err != nil {
			return nil, err
		}
		buf[i] = b
		wd.Kick()
	}
	return buf, nil
}

// writeStatus emits a single status byte on ch and kicks wd.
func writeStatus(ctx context.Context, ch SerialChannel, wd Watchdog, status StatusByte) error {
	if err := ch.WriteByte(ctx, byte(status)); err != nil {
		return err
	}
	wd.Kick()
	return nil
}
