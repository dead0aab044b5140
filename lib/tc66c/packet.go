package tc66c

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	blockSize  = 64
	numBlocks  = 3
	packetSize = blockSize * numBlocks
)

var blockPrefixes = [numBlocks]string{"pac1", "pac2", "pac3"}

// AES-ECB key shared by every TC66C firmware.
var aesKey = []byte{
	0x58, 0x21, 0xfa, 0x56, 0x01, 0xb2, 0xf0, 0x26,
	0x87, 0xff, 0x12, 0x04, 0x62, 0x2a, 0x4f, 0xb0,
	0x86, 0xf4, 0x02, 0x60, 0x81, 0x6f, 0x9a, 0x0b,
	0xa7, 0xf1, 0x06, 0x61, 0x9a, 0xb8, 0x72, 0x88,
}

// Reading is the subset of a getva packet the logger exposes.
type Reading struct {
	Product     string  // e.g. "TC66"
	Version     string  // Firmware version, e.g. "1.14"
	Serial      uint32
	Voltage     float64 // V
	Current     float64 // A
	Power       float64 // W
	Temperature float64 // °C
}

// decodePacket decrypts a 192 byte getva response and parses it.
func decodePacket(encrypted []byte) (*Reading, error) {
	if len(encrypted) != packetSize {
		return nil, fmt.Errorf("invalid packet size: expected %d, got %d", packetSize, len(encrypted))
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	plain := make([]byte, packetSize)
	for i := 0; i < packetSize; i += block.BlockSize() {
		block.Decrypt(plain[i:i+block.BlockSize()], encrypted[i:i+block.BlockSize()])
	}

	// Blocks may arrive in any order, index them by prefix.
	var blocks [numBlocks][]byte
	for i := 0; i < numBlocks; i++ {
		b := plain[i*blockSize : (i+1)*blockSize]
		found := false
		for j, prefix := range blockPrefixes {
			if string(b[:4]) == prefix {
				blocks[j] = b
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unexpected block prefix %q", b[:4])
		}
	}
	for i, b := range blocks {
		if b == nil {
			return nil, fmt.Errorf("missing %s block", blockPrefixes[i])
		}
		if crc16Modbus(b[:60]) != binary.LittleEndian.Uint16(b[60:62]) {
			return nil, fmt.Errorf("%s checksum verification failed", blockPrefixes[i])
		}
	}

	u32 := func(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off : off+4]) }
	pac1, pac2 := blocks[0], blocks[1]

	r := &Reading{
		Product:     strings.TrimRight(string(pac1[4:8]), "\x00"),
		Version:     strings.TrimRight(string(pac1[8:12]), "\x00"),
		Serial:      u32(pac1, 12),
		Voltage:     float64(u32(pac1, 48)) * 1e-4,
		Current:     float64(u32(pac1, 52)) * 1e-5,
		Power:       float64(u32(pac1, 56)) * 1e-4,
		Temperature: float64(u32(pac2, 28)),
	}
	if u32(pac2, 24) != 0 {
		r.Temperature = -r.Temperature
	}
	return r, nil
}

func crc16Modbus(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
