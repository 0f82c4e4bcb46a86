package bootcore_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/barnettlynn/secbootloader/pkg/bootcore"
	"github.com/barnettlynn/secbootloader/pkg/simhal"
)

const (
	pageSize = 128
	memSize  = 4096
)

func keysForTest() bootcore.Keys {
	var keys bootcore.Keys
	for i := range keys.Update {
		keys.Update[i] = byte(i)
		keys.Readback[i] = byte(0xFF - i)
	}
	return keys
}

func nonceForTest(seed byte) [bootcore.NonceBytes]byte {
	var nonce [bootcore.NonceBytes]byte
	for i := range nonce {
		nonce[i] = seed + byte(i)
	}
	return nonce
}

func newStore(t *testing.T) *simhal.Store {
	t.Helper()
	store, err := simhal.OpenStore(filepath.Join(t.TempDir(), "device.db"), pageSize, memSize)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func pageFrame(frameNo uint8, version uint16, dataSize uint16, isMessage bool, fill func(i int) byte) *bootcore.Frame {
	data := make([]byte, pageSize)
	for i := range data {
		data[i] = fill(i)
	}
	return &bootcore.Frame{
		Data:      data,
		DataSize:  dataSize,
		Version:   version,
		FrameNo:   frameNo,
		IsMessage: isMessage,
	}
}

// frameWire renders the full on-wire form of one frame.
func frameWire(t *testing.T, keys bootcore.Keys, frame *bootcore.Frame, nonce [bootcore.NonceBytes]byte) []byte {
	t.Helper()
	tag, protected, err := bootcore.EncryptFrame(keys, frame, pageSize, nonce)
	if err != nil {
		t.Fatalf("encrypt frame: %v", err)
	}
	wire := make([]byte, 0, len(tag)+len(protected)+len(nonce))
	wire = append(wire, tag[:]...)
	wire = append(wire, protected...)
	wire = append(wire, nonce[:]...)
	return wire
}

func kvSnapshot(t *testing.T, store *simhal.Store) map[bootcore.Field]uint16 {
	t.Helper()
	snap := make(map[bootcore.Field]uint16)
	for _, f := range []bootcore.Field{
		bootcore.FieldConfigured, bootcore.FieldFWVersion, bootcore.FieldFWZero,
		bootcore.FieldFWBytes, bootcore.FieldMessageBytes,
	} {
		v, err := store.KVGet(f)
		if err != nil {
			t.Fatalf("KVGet %v: %v", f, err)
		}
		snap[f] = v
	}
	return snap
}

func mustKV(t *testing.T, store *simhal.Store, field bootcore.Field, want uint16) {
	t.Helper()
	got, err := store.KVGet(field)
	if err != nil {
		t.Fatalf("KVGet %v: %v", field, err)
	}
	if got != want {
		t.Fatalf("%v = %d, want %d", field, got, want)
	}
}

func TestSingleFrameInstall(t *testing.T) {
	keys := keysForTest()
	store := newStore(t)
	wd := simhal.NewWatchdog()
	hostEnd, devEnd := simhal.NewPipe(16384)
	ctx := context.Background()

	frame := pageFrame(0, 5, 64, false, func(i int) byte { return byte(i + 1) })
	if err := hostEnd.WriteBytes(ctx, frameWire(t, keys, frame, nonceForTest(0x01))); err != nil {
		t.Fatalf("preload wire: %v", err)
	}

	result, err := bootcore.RunInstall(ctx, devEnd, store, wd, keys)
	if err != nil {
		t.Fatalf("RunInstall: %v", err)
	}
	if result.FramesReceived != 1 {
		t.Fatalf("frames received = %d, want 1", result.FramesReceived)
	}

	acks, err := hostEnd.ReadBytes(ctx, 3)
	if err != nil {
		t.Fatalf("read acks: %v", err)
	}
	if !bytes.Equal(acks, []byte{0x00, 0x00, 0x00}) {
		t.Fatalf("acks = %x, want three OK bytes", acks)
	}

	page, err := store.ReadRegion(0, pageSize)
	if err != nil {
		t.Fatalf("read page 0: %v", err)
	}
	for i := 0; i < 64; i++ {
		if page[i] != byte(i+1) {
			t.Fatalf("page 0 byte %d = 0x%02X, want 0x%02X", i, page[i], byte(i+1))
		}
	}
	for i := 64; i < pageSize; i++ {
		if page[i] != 0xFF {
			t.Fatalf("page 0 byte %d = 0x%02X, want erased 0xFF", i, page[i])
		}
	}

	mustKV(t, store, bootcore.FieldFWVersion, 5)
	mustKV(t, store, bootcore.FieldFWZero, 0)
	mustKV(t, store, bootcore.FieldFWBytes, pageSize)
	mustKV(t, store, bootcore.FieldMessageBytes, 0)
}

func TestTwoFrameInstallCommitsPageZeroLast(t *testing.T) {
	keys := keysForTest()
	store := newStore(t)
	wd := simhal.NewWatchdog()
	hostEnd, devEnd := simhal.NewPipe(16384)
	ctx := context.Background()

	top := pageFrame(1, 2, pageSize, false, func(i int) byte { return 0xB0 })
	last := pageFrame(0, 2, pageSize, false, func(i int) byte { return 0xA0 })
	if err := hostEnd.WriteBytes(ctx, frameWire(t, keys, top, nonceForTest(0x02))); err != nil {
		t.Fatalf("preload wire: %v", err)
	}
	if err := hostEnd.WriteBytes(ctx, frameWire(t, keys, last, nonceForTest(0x03))); err != nil {
		t.Fatalf("preload wire: %v", err)
	}

	result, err := bootcore.RunInstall(ctx, devEnd, store, wd, keys)
	if err != nil {
		t.Fatalf("RunInstall: %v", err)
	}
	if result.FramesReceived != 2 {
		t.Fatalf("frames received = %d, want 2", result.FramesReceived)
	}

	if len(store.CommitOrder) == 0 || store.CommitOrder[len(store.CommitOrder)-1] != 0 {
		t.Fatalf("page 0 was not the last committed page: commit order %v", store.CommitOrder)
	}
	// The page above the image top is erased before any image page is
	// written, then pages are committed top-down.
	want := []uint32{2 * pageSize, pageSize, 0}
	if len(store.CommitOrder) != len(want) {
		t.Fatalf("commit order %v, want %v", store.CommitOrder, want)
	}
	for i := range want {
		if store.CommitOrder[i] != want[i] {
			t.Fatalf("commit order %v, want %v", store.CommitOrder, want)
		}
	}

	mustKV(t, store, bootcore.FieldFWBytes, 2*pageSize)

	b, err := store.FarRead(pageSize)
	if err != nil {
		t.Fatalf("FarRead: %v", err)
	}
	if b != 0xB0 {
		t.Fatalf("page 1 holds 0x%02X, want 0xB0", b)
	}
}

func TestInstallRefusesVersionRollback(t *testing.T) {
	keys := keysForTest()
	store := newStore(t)
	wd := simhal.NewWatchdog()
	hostEnd, devEnd := simhal.NewPipe(16384)
	ctx := context.Background()

	if err := store.KVUpdate(bootcore.FieldFWVersion, 5); err != nil {
		t.Fatalf("seed fw_version: %v", err)
	}

	frame := pageFrame(0, 3, pageSize, false, func(i int) byte { return 0x11 })
	if err := hostEnd.WriteBytes(ctx, frameWire(t, keys, frame, nonceForTest(0x04))); err != nil {
		t.Fatalf("preload wire: %v", err)
	}

	_, err := bootcore.RunInstall(ctx, devEnd, store, wd, keys)
	perr, ok := err.(*bootcore.ProtocolError)
	if !ok || perr.Status != bootcore.StatusVersionError {
		t.Fatalf("expected version rollback protocol error, got %v", err)
	}

	acks, err := hostEnd.ReadBytes(ctx, 3)
	if err != nil {
		t.Fatalf("read acks: %v", err)
	}
	if !bytes.Equal(acks, []byte{0x00, 0x00, 0x02}) {
		t.Fatalf("acks = %x, want OK, OK, VERSION_ERROR", acks)
	}

	mustKV(t, store, bootcore.FieldFWVersion, 5)
	if len(store.CommitOrder) != 0 {
		t.Fatalf("rollback frame committed pages: %v", store.CommitOrder)
	}
}

func TestInstallZeroVersionOverride(t *testing.T) {
	keys := keysForTest()
	store := newStore(t)
	wd := simhal.NewWatchdog()
	hostEnd, devEnd := simhal.NewPipe(16384)
	ctx := context.Background()

	if err := store.KVUpdate(bootcore.FieldFWVersion, 5); err != nil {
		t.Fatalf("seed fw_version: %v", err)
	}

	frame := pageFrame(0, 0, pageSize, false, func(i int) byte { return 0x22 })
	if err := hostEnd.WriteBytes(ctx, frameWire(t, keys, frame, nonceForTest(0x05))); err != nil {
		t.Fatalf("preload wire: %v", err)
	}

	if _, err := bootcore.RunInstall(ctx, devEnd, store, wd, keys); err != nil {
		t.Fatalf("RunInstall: %v", err)
	}

	acks, err := hostEnd.ReadBytes(ctx, 3)
	if err != nil {
		t.Fatalf("read acks: %v", err)
	}
	if !bytes.Equal(acks, []byte{0x00, 0x00, 0x00}) {
		t.Fatalf("acks = %x, want three OK bytes", acks)
	}

	mustKV(t, store, bootcore.FieldFWVersion, 5)
	mustKV(t, store, bootcore.FieldFWZero, 1)
}

func TestInstallVersionMonotone(t *testing.T) {
	keys := keysForTest()
	store := newStore(t)
	ctx := context.Background()

	install := func(version uint16, seed byte) {
		t.Helper()
		wd := simhal.NewWatchdog()
		hostEnd, devEnd := simhal.NewPipe(16384)
		frame := pageFrame(0, version, pageSize, false, func(i int) byte { return seed })
		if err := hostEnd.WriteBytes(ctx, frameWire(t, keys, frame, nonceForTest(seed))); err != nil {
			t.Fatalf("preload wire: %v", err)
		}
		if _, err := bootcore.RunInstall(ctx, devEnd, store, wd, keys); err != nil {
			t.Fatalf("install version %d: %v", version, err)
		}
	}

	install(3, 0x31)
	mustKV(t, store, bootcore.FieldFWVersion, 3)

	install(7, 0x32)
	mustKV(t, store, bootcore.FieldFWVersion, 7)

	// A zero-version install pins the version and sets the flag.
	install(0, 0x33)
	mustKV(t, store, bootcore.FieldFWVersion, 7)
	mustKV(t, store, bootcore.FieldFWZero, 1)

	// The next non-zero install clears the flag again.
	install(9, 0x34)
	mustKV(t, store, bootcore.FieldFWVersion, 9)
	mustKV(t, store, bootcore.FieldFWZero, 0)
}

func TestForgedFrameCommitsNothing(t *testing.T) {
	keys := keysForTest()
	store := newStore(t)
	wd := simhal.NewWatchdog()
	hostEnd, devEnd := simhal.NewPipe(16384)
	ctx := context.Background()

	if err := store.KVUpdate(bootcore.FieldFWVersion, 4); err != nil {
		t.Fatalf("seed fw_version: %v", err)
	}
	before := kvSnapshot(t, store)

	frame := pageFrame(0, 6, pageSize, false, func(i int) byte { return 0x55 })
	wire := frameWire(t, keys, frame, nonceForTest(0x06))
	wire[0] ^= 0x01 // corrupt the tag
	if err := hostEnd.WriteBytes(ctx, wire); err != nil {
		t.Fatalf("preload wire: %v", err)
	}

	_, err := bootcore.RunInstall(ctx, devEnd, store, wd, keys)
	perr, ok := err.(*bootcore.ProtocolError)
	if !ok || perr.Status != bootcore.StatusMACError {
		t.Fatalf("expected MAC protocol error, got %v", err)
	}

	status, err := hostEnd.ReadByte(ctx)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != 0x01 {
		t.Fatalf("status = 0x%02X, want MAC_ERROR", status)
	}

	after := kvSnapshot(t, store)
	for field, value := range before {
		if after[field] != value {
			t.Fatalf("%v changed from %d to %d on a forged frame", field, value, after[field])
		}
	}
	if len(store.CommitOrder) != 0 {
		t.Fatalf("forged frame committed pages: %v", store.CommitOrder)
	}
}

func TestInstallRejectsFirstFrameBeyondProgramMemory(t *testing.T) {
	keys := keysForTest()
	store := newStore(t)
	wd := simhal.NewWatchdog()
	hostEnd, devEnd := simhal.NewPipe(16384)
	ctx := context.Background()

	before := kvSnapshot(t, store)

	// memSize/pageSize = 32 pages; frame 200 points far outside them.
	frame := pageFrame(200, 1, pageSize, false, func(i int) byte { return 0x66 })
	if err := hostEnd.WriteBytes(ctx, frameWire(t, keys, frame, nonceForTest(0x07))); err != nil {
		t.Fatalf("preload wire: %v", err)
	}

	_, err := bootcore.RunInstall(ctx, devEnd, store, wd, keys)
	perr, ok := err.(*bootcore.ProtocolError)
	if !ok || perr.Status != bootcore.StatusMACError {
		t.Fatalf("expected MAC-style protocol error, got %v", err)
	}

	after := kvSnapshot(t, store)
	for field, value := range before {
		if after[field] != value {
			t.Fatalf("%v changed from %d to %d on an out-of-bounds first frame", field, value, after[field])
		}
	}
	if len(store.CommitOrder) != 0 {
		t.Fatalf("out-of-bounds first frame touched flash: %v", store.CommitOrder)
	}
}

func TestInstallMessageFrameCounting(t *testing.T) {
	keys := keysForTest()
	store := newStore(t)
	wd := simhal.NewWatchdog()
	hostEnd, devEnd := simhal.NewPipe(16384)
	ctx := context.Background()

	// Two frames: a 37-byte release message page above one code page.
	msg := pageFrame(1, 4, 37, true, func(i int) byte { return byte('m') })
	code := pageFrame(0, 4, pageSize, false, func(i int) byte { return 0x77 })
	if err := hostEnd.WriteBytes(ctx, frameWire(t, keys, msg, nonceForTest(0x08))); err != nil {
		t.Fatalf("preload wire: %v", err)
	}
	if err := hostEnd.WriteBytes(ctx, frameWire(t, keys, code, nonceForTest(0x09))); err != nil {
		t.Fatalf("preload wire: %v", err)
	}

	result, err := bootcore.RunInstall(ctx, devEnd, store, wd, keys)
	if err != nil {
		t.Fatalf("RunInstall: %v", err)
	}
	if result.FWBytes != pageSize || result.MessageBytes != 37 {
		t.Fatalf("fw_bytes=%d message_bytes=%d, want %d and 37", result.FWBytes, result.MessageBytes, pageSize)
	}
}
