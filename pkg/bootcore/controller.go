package bootcore

import (
	"context"
	"time"
)

// Mode is the operating mode selected by the strap pins at power-on.
type Mode int

const (
	ModeInstall Mode = iota
	ModeReadback
	ModeBoot
)

func (m Mode) String() string {
	switch m {
	case ModeInstall:
		return "install"
	case ModeReadback:
		return "readback"
	case ModeBoot:
		return "boot"
	default:
		return "unknown_mode"
	}
}

// Straps models the two mode-select GPIO pins read once at power-on.
// Configure puts the pins into input-with-pullup state and gives them time
// to settle; Read then samples them. A low strap A selects install, a low
// strap B selects readback, neither low selects boot.
type Straps interface {
	Configure()
	Read() Mode
}

// Flusher is implemented by serial channels that buffer received bytes and
// can discard them. The controller flushes HOST once at power-on so stale
// line noise never reaches the first-boot gate.
type Flusher interface {
	Flush()
}

// WatchdogTimeout is the reset deadline armed at power-on and kicked
// throughout every engine; any stall longer than this forces a reset.
const WatchdogTimeout = 2 * time.Second

// Controller is the top-level bootloader state machine: one-time
// configuration handshake, strap-selected mode dispatch, and the watchdog
// policy shared by all three modes.
type Controller struct {
	Host   SerialChannel
	App    SerialChannel
	Store  Store
	WD     Watchdog
	Straps Straps
	Keys   Keys

	// Jump transfers control to program-memory address 0. On real hardware
	// it never returns; a test Jump records the call and returns.
	Jump func()
}

// Run executes one power-on session: flush HOST, arm the watchdog, hold at
// the first-boot gate until the device is configured, then read the straps
// and run the selected engine. Install and readback are terminal: after
// they complete (or fail) the device spins until watchdog reset, which Run
// models by calling Halt and returning its error. Boot hands off to the
// application via Jump.
func (c *Controller) Run(ctx context.Context) error {
	if f, ok := c.Host.(Flusher); ok {
		f.Flush()
	}
	c.WD.Arm(WatchdogTimeout)
	c.WD.Kick()

	if err := c.firstBootGate(ctx); err != nil {
		return err
	}

	c.Straps.Configure()
	c.WD.Kick()

	switch c.Straps.Read() {
	case ModeInstall:
		if err := c.Host.WriteByte(ctx, byte(ModeInstallByte)); err != nil {
			return err
		}
		if _, err := RunInstall(ctx, c.Host, c.Store, c.WD, c.Keys); err != nil {
			if _, ok := err.(*ProtocolError); !ok {
				return err
			}
		}
		return Halt(ctx, c.WD)
	case ModeReadback:
		if err := c.Host.WriteByte(ctx, byte(ModeReadbackByte)); err != nil {
			return err
		}
		if err := RunReadback(ctx, c.Host, c.Store, c.WD, c.Keys); err != nil {
			if _, ok := err.(*ProtocolError); !ok {
				return err
			}
		}
		return Halt(ctx, c.WD)
	default:
		if err := c.Host.WriteByte(ctx, byte(ModeBootByte)); err != nil {
			return err
		}
		if err := RunHandoff(ctx, c.App, c.Store, c.WD, c.Jump); err != nil {
			if err == ErrNoImage {
				return Halt(ctx, c.WD)
			}
			return err
		}
		return nil
	}
}

// firstBootGate blocks until the device has been configured: every received
// byte is consumed, and only the CONFIGURED byte flips the persistent flag,
// initializes fw_version to 1, and echoes the byte back. Already-configured
// devices pass straight through.
func (c *Controller) firstBootGate(ctx context.Context) error {
	for {
		configured, err := c.Store.KVGet(FieldConfigured)
		if err != nil {
			return err
		}
		if configured != 0 {
			return nil
		}

		b, err := c.Host.ReadByte(ctx)
		if err != nil {
			return err
		}
		c.WD.Kick()
		if b != byte(StatusConfigured) {
			continue
		}

		if err := c.Store.KVUpdate(FieldConfigured, 1); err != nil {
			return err
		}
		c.WD.Kick()
		if err := c.Host.WriteByte(ctx, byte(StatusConfigured)); err != nil {
			return err
		}
		if err := c.Store.KVUpdate(FieldFWVersion, 1); err != nil {
			return err
		}
		c.WD.Kick()
	}
}
