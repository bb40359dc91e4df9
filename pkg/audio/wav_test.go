package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/voxgate/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	wav := audio.EncodeWAV(audio.Clip{Data: pcm, SampleRate: 16000, Channels: 1})

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("bad RIFF/WAVE magic: %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestDecodeWAV_EncodedClip(t *testing.T) {
	t.Parallel()

	in := audio.Clip{Data: samplesToBytes([]int16{10, -10, 20, -20}), SampleRate: 44100, Channels: 2}
	out, err := audio.DecodeWAV(audio.EncodeWAV(in))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if out.SampleRate != 44100 || out.Channels != 2 {
		t.Errorf("format = %dHz %dch, want 44100Hz 2ch", out.SampleRate, out.Channels)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Errorf("data mismatch: got %v, want %v", out.Data, in.Data)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(audio.Clip{Data: samplesToBytes([]int16{7, 8}), SampleRate: 16000, Channels: 1})
	// Splice an odd-sized LIST chunk (with pad byte) between fmt and data.
	list := append([]byte("LIST"), 3, 0, 0, 0, 'a', 'b', 'c', 0)
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	out, err := audio.DecodeWAV(spliced)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	equalSamples(t, bytesToSamples(out.Data), []int16{7, 8})
}

func TestDecodeWAV_TruncatedData(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(audio.Clip{Data: samplesToBytes([]int16{1, 2, 3}), SampleRate: 16000, Channels: 1})
	out, err := audio.DecodeWAV(wav[:len(wav)-2])
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(out.Data) != 4 {
		t.Errorf("data len = %d, want 4", len(out.Data))
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	t.Parallel()

	good := audio.EncodeWAV(audio.Clip{Data: samplesToBytes([]int16{1}), SampleRate: 16000, Channels: 1})

	eightBit := append([]byte{}, good...)
	binary.LittleEndian.PutUint16(eightBit[34:], 8)

	float := append([]byte{}, good...)
	binary.LittleEndian.PutUint16(float[20:], 3)

	tests := []struct {
		name    string
		in      []byte
		wantNot bool
	}{
		{name: "empty", in: nil, wantNot: true},
		{name: "not riff", in: []byte("OggS0000WAVEfmt "), wantNot: true},
		{name: "header only", in: good[:12]},
		{name: "8-bit", in: eightBit},
		{name: "float format", in: float},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.DecodeWAV(tt.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, audio.ErrNotWAV); got != tt.wantNot {
				t.Errorf("errors.Is(err, ErrNotWAV) = %v, want %v (err: %v)", got, tt.wantNot, err)
			}
		})
	}
}
