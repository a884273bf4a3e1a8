package storage

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	for level := 1; level <= 4; level++ {
		comp, err := NewCompressor(level)
		if err != nil {
			t.Fatalf("Failed to create compressor: %v", err)
		}

		// Snapshots repeat field names on every record
		data := []byte(strings.Repeat(`{"key":"2008-01-08","row":{"CPI":210.8}},`, 500))

		compressed := comp.Compress(data)
		if len(compressed) >= len(data) {
			t.Errorf("Level %d: compression ineffective: original=%d, compressed=%d",
				level, len(data), len(compressed))
		}

		decompressed, err := comp.Decompress(compressed)
		if err != nil {
			t.Fatalf("Level %d: decompression failed: %v", level, err)
		}
		if !bytes.Equal(decompressed, data) {
			t.Errorf("Level %d: round trip mismatch", level)
		}
		comp.Close()
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	if _, err := comp.Decompress([]byte(`{"name":"plain json"}`)); err == nil {
		t.Error("Expected error for non-zstd input")
	}

	// valid magic, broken frame
	broken := append(append([]byte{}, zstdMagic...), 0xff, 0x00, 0x01)
	if _, err := comp.Decompress(broken); err == nil {
		t.Error("Expected error for truncated frame")
	}
}
