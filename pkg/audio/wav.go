package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned by DecodeWAV when the input lacks a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit PCM in a minimal 44-byte RIFF header.
func EncodeWAV(c Clip) []byte {
	dataSize := len(c.Data)
	bitsPerSample := 16
	byteRate := c.SampleRate * c.Channels * bitsPerSample / 8
	blockAlign := c.Channels * bitsPerSample / 8

	buf := new(bytes.Buffer)
	buf.Grow(wavHeaderSize + dataSize)

	// RIFF header
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	// fmt sub-chunk
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(c.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(c.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	// data sub-chunk
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(c.Data)

	return buf.Bytes()
}

// DecodeWAV parses a RIFF/WAVE stream carrying 16-bit integer PCM. Chunks other
// than "fmt " and "data" are skipped. A data chunk whose declared size runs past
// the end of the input is truncated to what is present, which is what browser
// recorders produce when they stream the header before the length is known.
func DecodeWAV(b []byte) (Clip, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}

	var (
		clip   Clip
		gotFmt bool
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(b) || end < body {
			end = len(b)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Clip{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", end-body)
			}
			format := binary.LittleEndian.Uint16(b[body:])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; the sub-format is assumed PCM.
			if format != 1 && format != 0xFFFE {
				return Clip{}, fmt.Errorf("audio: unsupported WAV format tag %d", format)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			if bits := binary.LittleEndian.Uint16(b[body+14:]); bits != 16 {
				return Clip{}, fmt.Errorf("audio: unsupported bit depth %d", bits)
			}
			if clip.Channels <= 0 || clip.SampleRate <= 0 {
				return Clip{}, fmt.Errorf("audio: invalid format %s", formatString(clip.SampleRate, clip.Channels))
			}
			gotFmt = true
		case "data":
			if !gotFmt {
				return Clip{}, errors.New("audio: data chunk before fmt chunk")
			}
			clip.Data = b[body:end]
			return clip, nil
		}

		// Chunks are word aligned.
		off = end + size%2
	}

	if !gotFmt {
		return Clip{}, errors.New("audio: missing fmt chunk")
	}
	return Clip{}, errors.New("audio: missing data chunk")
}
