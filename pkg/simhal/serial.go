package simhal

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// SerialPort adapts a real serial device into a bootcore.SerialChannel.
// Reads use a short hardware timeout and re-check ctx between attempts, so
// a blocked session can still be cancelled from the host side.
type SerialPort struct {
	port *serial.Port
}

// OpenSerial opens device at the given baud rate, 8N1.
func OpenSerial(device string, baud int) (*SerialPort, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("simhal: open serial port %s: %w", device, err)
	}
	return &SerialPort{port: port}, nil
}

func (s *SerialPort) Close() error {
	return s.port.Close()
}

func (s *SerialPort) ReadByte(ctx context.Context) (byte, error) {
	var buf [1]byte
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := s.port.Read(buf[:])
		// A read that times out with no data reports io.EOF; treat it as
		// "nothing yet" and poll again.
		if err != nil && err != io.EOF {
			return 0, err
		}
		if n == 1 {
			return buf[0], nil
		}
	}
}

func (s *SerialPort) WriteByte(ctx context.Context, b byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.port.Write([]byte{b})
	return err
}

// Flush discards buffered receive data on the device.
func (s *SerialPort) Flush() {
	s.port.Flush()
}
