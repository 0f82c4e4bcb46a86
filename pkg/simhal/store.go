package simhal

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/barnettlynn/secbootloader/pkg/bootcore"
)

var (
	bucketNVRAM = []byte("nvram")
	bucketFlash = []byte("flash")
)

// Store is a bbolt-backed implementation of bootcore.Store: the five
// non-volatile fields live in one bucket, flash pages in another, both
// surviving process restart the way EEPROM and flash survive reset.
//
// Flash programming follows the AVR staged-page model the engines are
// written against: PageErase opens a page (all 0xFF), PageFillWord stages
// words into it, PageCommit persists the staged buffer. Unwritten flash
// reads back as 0xFF.
type Store struct {
	db       *bbolt.DB
	pageSize int
	memSize  uint32

	staged     []byte
	stagedAddr uint32
	stagedOpen bool

	// CommitOrder records the address of every PageCommit in issue order,
	// so tests can assert that page 0 is written last.
	CommitOrder []uint32
}

// OpenStore opens (creating if needed) the store database at path, for a
// device with the given flash page size and total program-memory size.
func OpenStore(path string, pageSize int, memSize uint32) (*Store, error) {
	if pageSize <= 0 || pageSize%2 != 0 {
		return nil, fmt.Errorf("simhal: page size must be positive and even, got %d", pageSize)
	}
	if memSize%uint32(pageSize) != 0 {
		return nil, fmt.Errorf("simhal: memory size %d is not a multiple of page size %d", memSize, pageSize)
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("simhal: open store database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNVRAM); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketFlash)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("simhal: create buckets: %w", err)
	}

	return &Store{db: db, pageSize: pageSize, memSize: memSize}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) PageSize() int             { return s.pageSize }
func (s *Store) ProgramMemorySize() uint32 { return s.memSize }

func (s *Store) KVGet(field bootcore.Field) (uint16, error) {
	var value uint16
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketNVRAM).Get([]byte(field.String()))
		if len(v) == 2 {
			value = binary.LittleEndian.Uint16(v)
		}
		return nil
	})
	return value, err
}

func (s *Store) KVUpdate(field bootcore.Field, value uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], value)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNVRAM).Put([]byte(field.String()), buf[:])
	})
}

func (s *Store) pageCheck(addr uint32) error {
	if addr%uint32(s.pageSize) != 0 {
		return fmt.Errorf("simhal: address 0x%X is not page-aligned", addr)
	}
	if addr+uint32(s.pageSize) > s.memSize {
		return fmt.Errorf("simhal: page 0x%X is outside program memory", addr)
	}
	return nil
}

func pageKey(addr uint32) []byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], addr)
	return key[:]
}

func (s *Store) PageErase(addr uint32) error {
	if err := s.pageCheck(addr); err != nil {
		return err
	}
	erased := make([]byte, s.pageSize)
	for i := range erased {
		erased[i] = 0xFF
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFlash).Put(pageKey(addr), erased)
	})
	if err != nil {
		return err
	}
	s.staged = append(s.staged[:0], erased...)
	s.stagedAddr = addr
	s.stagedOpen = true
	return nil
}

func (s *Store) PageFillWord(addr uint32, word uint16) error {
	if !s.stagedOpen {
		return fmt.Errorf("simhal: page fill at 0x%X with no erased page staged", addr)
	}
	if addr < s.stagedAddr || addr+2 > s.stagedAddr+uint32(s.pageSize) {
		return fmt.Errorf("simhal: page fill at 0x%X outside staged page 0x%X", addr, s.stagedAddr)
	}
	off := addr - s.stagedAddr
	binary.LittleEndian.PutUint16(s.staged[off:], word)
	return nil
}

func (s *Store) PageCommit(addr uint32) error {
	if !s.stagedOpen || addr != s.stagedAddr {
		return fmt.Errorf("simhal: page commit at 0x%X does not match staged page", addr)
	}
	page := append([]byte(nil), s.staged...)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFlash).Put(pageKey(addr), page)
	})
	if err != nil {
		return err
	}
	s.stagedOpen = false
	s.CommitOrder = append(s.CommitOrder, addr)
	return nil
}

func (s *Store) FarRead(addr uint32) (byte, error) {
	if addr >= s.memSize {
		return 0, fmt.Errorf("simhal: far read at 0x%X outside program memory", addr)
	}
	pageAddr := addr - addr%uint32(s.pageSize)
	value := byte(0xFF)
	err := s.db.View(func(tx *bbolt.Tx) error {
		page := tx.Bucket(bucketFlash).Get(pageKey(pageAddr))
		if page != nil {
			value = page[addr-pageAddr]
		}
		return nil
	})
	return value, err
}

// ReadRegion reads length bytes of program memory starting at addr, a
// convenience for tests and tooling that would otherwise loop FarRead.
func (s *Store) ReadRegion(addr, length uint32) ([]byte, error) {
	out := make([]byte, length)
	for i := uint32(0); i < length; i++ {
		b, err := s.FarRead(addr + i)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
