// Package hexfw loads firmware image files into the page frames the
// install protocol transfers. An image file is line-oriented: each line is
// the hex encoding of one binary record
//
//	length(1) | addr_hi(1) addr_lo(1) | record_type(1) | data[length]
//
// with record types for firmware data, a trailing release message, an
// optional CRC16 of the assembled firmware, and end-of-file. Gaps between
// data records are filled with 0xFF, matching erased flash.
package hexfw

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sigurn/crc16"

	"github.com/barnettlynn/secbootloader/pkg/bootcore"
)

// Record types.
const (
	RecordData    byte = 0x00
	RecordEOF     byte = 0x01
	RecordMessage byte = 0xFD
	RecordCRC     byte = 0xFE
)

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// Image is an assembled firmware image: the program bytes that will occupy
// flash from address 0, and the release message appended after them.
type Image struct {
	Data    []byte
	Message []byte

	// CRC is the CRC16/ARC of Data, either declared by a CRC record and
	// verified at load time, or computed over the assembled image.
	CRC uint16
}

// Load parses an image file from r. A declared CRC record that does not
// match the assembled firmware data fails the load; an image with no data
// records fails the load; everything after an EOF record is ignored.
func Load(r io.Reader) (*Image, error) {
	im := &Image{}
	declaredCRC := uint16(0)
	haveCRC := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
scan:
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("hexfw: line %d: invalid hex: %v", lineNo, err)
		}
		if len(rec) < 4 {
			return nil, fmt.Errorf("hexfw: line %d: record too short", lineNo)
		}
		length := int(rec[0])
		addr := int(rec[1])<<8 | int(rec[2])
		typ := rec[3]
		if len(rec) != 4+length {
			return nil, fmt.Errorf("hexfw: line %d: record declares %d data bytes, carries %d", lineNo, length, len(rec)-4)
		}
		data := rec[4 : 4+length]

		switch typ {
		case RecordData:
			end := addr + length
			for len(im.Data) < end {
				im.Data = append(im.Data, 0xFF)
			}
			copy(im.Data[addr:end], data)
		case RecordMessage:
			im.Message = append(im.Message, data...)
		case RecordCRC:
			if length != 2 {
				return nil, fmt.Errorf("hexfw: line %d: CRC record must carry 2 bytes", lineNo)
			}
			declaredCRC = uint16(data[0])<<8 | uint16(data[1])
			haveCRC = true
		case RecordEOF:
			break scan
		default:
			return nil, fmt.Errorf("hexfw: line %d: unknown record type 0x%02X", lineNo, typ)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(im.Data) == 0 {
		return nil, errors.New("hexfw: image contains no firmware data")
	}

	im.CRC = crc16.Checksum(im.Data, crcTable)
	if haveCRC && im.CRC != declaredCRC {
		return nil, fmt.Errorf("hexfw: image CRC 0x%04X does not match declared 0x%04X", im.CRC, declaredCRC)
	}
	return im, nil
}

// Frames slices the image into the install protocol's page frames, in the
// descending frame_no order the device expects to receive them: release
// message pages first (highest frame numbers), firmware pages down to page
// zero last. Firmware pages are padded to a full page with 0xFF and carry
// data_size == pageSize; message pages carry the actual message byte count
// in that page. Every frame declares the same version.
func (im *Image) Frames(pageSize int, version uint16) ([]bootcore.Frame, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("hexfw: invalid page size %d", pageSize)
	}
	codePages := (len(im.Data) + pageSize - 1) / pageSize
	msgPages := (len(im.Message) + pageSize - 1) / pageSize
	total := codePages + msgPages
	if total > 256 {
		return nil, fmt.Errorf("hexfw: image needs %d pages, frame numbers only address 256", total)
	}

	frames := make([]bootcore.Frame, 0, total)
	for page := total - 1; page >= 0; page-- {
		data := make([]byte, pageSize)
		for i := range data {
			data[i] = 0xFF
		}
		f := bootcore.Frame{
			Data:    data,
			Version: version,
			FrameNo: uint8(page),
		}
		if page < codePages {
			copy(data, im.Data[page*pageSize:min(len(im.Data), (page+1)*pageSize)])
			f.DataSize = uint16(pageSize)
		} else {
			off := (page - codePages) * pageSize
			chunk := im.Message[off:min(len(im.Message), off+pageSize)]
			copy(data, chunk)
			f.DataSize = uint16(len(chunk))
			f.IsMessage = true
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// EncodeRecord renders one record line, for tooling that generates image
// files.
func EncodeRecord(addr uint16, typ byte, data []byte) string {
	rec := make([]byte, 0, 4+len(data))
	rec = append(rec, byte(len(data)), byte(addr>>8), byte(addr), typ)
	rec = append(rec, data...)
	return strings.ToUpper(hex.EncodeToString(rec))
}
