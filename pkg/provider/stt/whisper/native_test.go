package whisper_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/stt"
	"github.com/MrWong99/voxgate/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNative_SilentClipSkipsEngine(t *testing.T) {
	modelPath := testModelPath(t)
	p, err := whisper.NewNative(modelPath, whisper.WithNativeThreads(2))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	// 48 kHz stereo silence exercises the conversion path too.
	wav := audio.EncodeWAV(audio.Clip{Data: make([]byte, 48000*4), SampleRate: 48000, Channels: 2})
	path := filepath.Join(t.TempDir(), "silence.wav")
	if err := os.WriteFile(path, wav, 0o600); err != nil {
		t.Fatal(err)
	}

	tr, err := p.TranscribeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("Text = %q, want empty for silence", tr.Text)
	}
}

func TestNative_AfterClose(t *testing.T) {
	modelPath := testModelPath(t)
	p, err := whisper.NewNative(modelPath)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	clip := make([]byte, 16000*2)
	for i := range clip {
		clip[i] = byte(i * 37)
	}
	path := filepath.Join(t.TempDir(), "noise.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(audio.Clip{Data: clip, SampleRate: 16000, Channels: 1}), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := p.TranscribeFile(context.Background(), path); err != stt.ErrNotInitialised {
		t.Errorf("err = %v, want ErrNotInitialised", err)
	}
}
