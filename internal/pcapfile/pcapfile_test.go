package pcapfile

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrames(n int) []Frame {
	frames := make([]Frame, 0, n)
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < n; i++ {
		data := make([]byte, 60+i)
		for j := range data {
			data[j] = byte(i + j)
		}
		frames = append(frames, NewFrame(gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * 1500 * time.Microsecond),
			CaptureLength: len(data),
			Length:        len(data) + i%3,
		}, data))
	}
	return frames
}

func TestEncodeHeader(t *testing.T) {
	h := EncodeHeader(layers.LinkTypeEthernet, SnapLen)
	require.Len(t, h, HeaderSize)

	// magic 0xa1b2c3d4 stored little-endian
	assert.Equal(t, []byte{0xd4, 0xc3, 0xb2, 0xa1}, h[0:4])
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(h[4:6]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(h[6:8]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(h[8:12]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(h[12:16]))
	assert.Equal(t, uint32(SnapLen), binary.LittleEndian.Uint32(h[16:20]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(h[20:24]))

	assert.Equal(t, h, EncodeHeader(layers.LinkTypeEthernet, SnapLen), "header encoding must be deterministic")
}

func TestEncodeRecord(t *testing.T) {
	f := NewFrame(gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, 123456000),
		CaptureLength: 4,
		Length:        10,
	}, []byte{1, 2, 3, 4})

	rec, err := EncodeRecord(f)
	require.NoError(t, err)
	require.Len(t, rec, RecordHeaderSize+4)
	assert.Equal(t, uint32(1700000000), binary.LittleEndian.Uint32(rec[0:4]))
	assert.Equal(t, uint32(123456), binary.LittleEndian.Uint32(rec[4:8]))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(rec[8:12]))
	assert.Equal(t, uint32(10), binary.LittleEndian.Uint32(rec[12:16]))
	assert.Equal(t, []byte{1, 2, 3, 4}, rec[16:])
}

func TestEncodeRecord_InconsistentLengths(t *testing.T) {
	f := Frame{
		Timestamp:     time.Unix(1700000000, 0),
		CaptureLength: 8,
		Length:        8,
		Data:          []byte{1, 2, 3},
	}
	_, err := EncodeRecord(f)
	assert.Error(t, err)
}

func TestNewFrame_CopiesData(t *testing.T) {
	data := []byte{9, 9, 9}
	f := NewFrame(gopacket.CaptureInfo{Timestamp: time.Unix(1, 0), CaptureLength: 3, Length: 3}, data)
	data[0] = 0
	assert.Equal(t, byte(9), f.Data[0])
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		count int
	}{
		{"empty", 0},
		{"single frame", 1},
		{"many frames", 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := testFrames(tt.count)
			b, err := Encode(frames)
			require.NoError(t, err)

			c, err := Decode(b)
			require.NoError(t, err)
			assert.False(t, c.Truncated)
			assert.Equal(t, int64(len(b)), c.ValidLength)
			assert.Equal(t, Header{VersionMajor: 2, VersionMinor: 4, SnapLen: SnapLen, LinkType: layers.LinkTypeEthernet}, c.Header)
			require.Len(t, c.Frames, tt.count)
			for i := range frames {
				assert.True(t, frames[i].Equal(c.Frames[i]), "frame %d differs after round trip", i)
			}
		})
	}
}

func TestDecode_TruncatedRecord(t *testing.T) {
	frames := testFrames(3)
	b, err := Encode(frames)
	require.NoError(t, err)
	full := int64(len(b))
	last := int64(RecordHeaderSize + len(frames[2].Data))

	t.Run("cut inside data", func(t *testing.T) {
		c, err := Decode(b[:len(b)-5])
		require.NoError(t, err)
		assert.True(t, c.Truncated)
		assert.Len(t, c.Frames, 2)
		assert.Equal(t, full-last, c.ValidLength)
	})

	t.Run("cut inside record header", func(t *testing.T) {
		c, err := Decode(b[:full-last+7])
		require.NoError(t, err)
		assert.True(t, c.Truncated)
		assert.Len(t, c.Frames, 2)
		assert.Equal(t, full-last, c.ValidLength)
	})
}

func TestDecode_Malformed(t *testing.T) {
	valid := EncodeHeader(layers.LinkTypeEthernet, SnapLen)

	bigEndian := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(bigEndian[0:4], 0xa1b2c3d4)
	binary.BigEndian.PutUint16(bigEndian[4:6], 2)
	binary.BigEndian.PutUint16(bigEndian[6:8], 4)
	binary.BigEndian.PutUint32(bigEndian[16:20], SnapLen)
	binary.BigEndian.PutUint32(bigEndian[20:24], 1)

	nanos := append([]byte{}, valid...)
	binary.LittleEndian.PutUint32(nanos[0:4], 0xa1b23c4d)

	badVersion := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(badVersion[4:6], 7)

	tests := []struct {
		name     string
		input    []byte
		contains string
	}{
		{"empty input", nil, "shorter than the file header"},
		{"short header", valid[:10], "shorter than the file header"},
		{"big-endian", bigEndian, "big-endian"},
		{"nanosecond magic", nanos, "nanosecond"},
		{"garbage magic", []byte("this is not a capture file at all"), "unknown magic"},
		{"bad version", badVersion, "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Decode(tt.input)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, errors.Is(err, ErrMalformedContainer))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestWriteEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pcap")
	require.NoError(t, os.WriteFile(path, []byte("garbage that should be replaced"), 0644))

	require.NoError(t, WriteEmpty(path))

	c, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Empty(t, c.Frames)
	assert.Equal(t, int64(HeaderSize), c.ValidLength)
}

func TestDecodeFile_Missing(t *testing.T) {
	_, err := DecodeFile(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
