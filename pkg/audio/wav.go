package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxWAVSize bounds how much [ReadWAV] will read.
const MaxWAVSize = 64 << 20

// WAVInfo is the format metadata of a RIFF/WAVE container.
type WAVInfo struct {
	AudioFormat   int // 1 = integer PCM
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataOffset    int // byte offset of the first sample
	DataSize      int // bytes of sample data actually present
}

// EncodeWAV wraps the clip in a canonical 44-byte-header RIFF/WAVE container.
func EncodeWAV(c Clip) []byte {
	byteRate := c.SampleRate * c.Channels * BitsPerSample / 8
	blockAlign := c.Channels * BitsPerSample / 8
	dataSize := len(c.PCM)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(c.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(c.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], c.PCM)

	return buf
}

// ParseWAV walks the RIFF chunks of wav and returns the format of the "fmt "
// chunk and the location of the "data" chunk. Chunks may appear in any order
// before "data" and odd-sized chunks are padded, as RIFF requires.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV data too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV data missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV data missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size < 16 || offset+8+16 > len(wav) {
				return WAVInfo{}, errors.New("audio: WAV fmt chunk truncated")
			}
			f := wav[offset+8:]
			info.AudioFormat = int(binary.LittleEndian.Uint16(f[0:2]))
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			info.DataOffset = offset + 8
			// Streaming encoders write 0 or 0xFFFFFFFF when the size is unknown.
			info.DataSize = min(size, len(wav)-info.DataOffset)
			if size == 0 {
				info.DataSize = len(wav) - info.DataOffset
			}
			return info, nil
		}

		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV data missing data chunk")
}

// DecodeWAV parses wav and returns its samples as a [Clip]. Only 16-bit
// integer PCM is supported.
func DecodeWAV(wav []byte) (Clip, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return Clip{}, err
	}
	if info.AudioFormat != 1 && info.AudioFormat != 0xFFFE {
		return Clip{}, fmt.Errorf("audio: unsupported WAV encoding %#x", info.AudioFormat)
	}
	if info.BitsPerSample != BitsPerSample {
		return Clip{}, fmt.Errorf("audio: unsupported WAV sample width %d bits", info.BitsPerSample)
	}
	c := Clip{
		PCM:        wav[info.DataOffset : info.DataOffset+info.DataSize],
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}
	if c.Channels > 0 {
		// Drop a trailing partial frame.
		frame := 2 * c.Channels
		c.PCM = c.PCM[:len(c.PCM)/frame*frame]
	}
	if err := c.Validate(); err != nil {
		return Clip{}, err
	}
	return c, nil
}

// ReadWAV reads at most [MaxWAVSize] bytes from r and decodes them.
func ReadWAV(r io.Reader) (Clip, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxWAVSize+1))
	if err != nil {
		return Clip{}, fmt.Errorf("audio: read WAV: %w", err)
	}
	if len(data) > MaxWAVSize {
		return Clip{}, fmt.Errorf("audio: WAV larger than %d bytes", MaxWAVSize)
	}
	return DecodeWAV(data)
}
