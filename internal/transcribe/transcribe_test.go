package transcribe_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/transcribe"
	"github.com/MrWong99/voxgate/pkg/provider/stt"
	"github.com/MrWong99/voxgate/pkg/provider/stt/mock"
)

func newAdapter(t *testing.T, p stt.Provider) (*transcribe.Adapter, string) {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "spool")
	a, err := transcribe.New(p, transcribe.WithTempDir(dir), transcribe.WithMetrics(m), transcribe.WithName("mock"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, dir
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	return len(entries)
}

func TestTranscribe_Success(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Text: "  hello world \n"}
	a, dir := newAdapter(t, p)

	audio := []byte("RIFF....WAVEfmt fake audio")
	got, err := a.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "hello world" {
		t.Errorf("got %q, want trimmed transcript", got)
	}

	call, ok := p.LastCall()
	if !ok {
		t.Fatal("provider not called")
	}
	if !bytes.Equal(call.Data, audio) {
		t.Errorf("provider saw %q, want the exact payload", call.Data)
	}
	base := filepath.Base(call.Path)
	if filepath.Dir(call.Path) != dir || !strings.HasPrefix(base, "audio-") || filepath.Ext(base) != ".wav" {
		t.Errorf("temp path = %q", call.Path)
	}
	if n := dirEntries(t, dir); n != 0 {
		t.Errorf("%d temp files left behind", n)
	}
}

func TestTranscribe_EmptyTranscript(t *testing.T) {
	t.Parallel()
	a, _ := newAdapter(t, &mock.Provider{Text: "   "})
	got, err := a.Transcribe(context.Background(), []byte{1, 2})
	if err != nil || got != "" {
		t.Errorf("got %q, %v; want empty, nil", got, err)
	}
}

func TestTranscribe_EngineFailureCleansUp(t *testing.T) {
	t.Parallel()
	cause := errors.New("model crashed")
	a, dir := newAdapter(t, &mock.Provider{Err: cause})

	_, err := a.Transcribe(context.Background(), []byte{1, 2, 3})
	var te *transcribe.Error
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *transcribe.Error", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause not wrapped: %v", err)
	}
	if te.Reason != "model crashed" {
		t.Errorf("Reason = %q", te.Reason)
	}
	if n := dirEntries(t, dir); n != 0 {
		t.Errorf("%d temp files left behind after failure", n)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Text: "x"}
	a, _ := newAdapter(t, p)
	_, err := a.Transcribe(context.Background(), nil)
	var te *transcribe.Error
	if !errors.As(err, &te) || te.Reason != "empty audio payload" {
		t.Fatalf("err = %v, want empty audio payload", err)
	}
	if p.CallCount() != 0 {
		t.Error("provider called for empty audio")
	}
}

func TestTranscribe_Unavailable(t *testing.T) {
	t.Parallel()
	a, err := transcribe.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Ready() {
		t.Error("Ready() = true without provider")
	}
	if _, err := a.Transcribe(context.Background(), []byte{1}); !errors.Is(err, transcribe.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if err := a.Check(context.Background()); !errors.Is(err, transcribe.ErrUnavailable) {
		t.Errorf("Check = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestTranscribe_SerialisesAndIsolatesFiles(t *testing.T) {
	t.Parallel()
	var inflight, maxSeen atomic.Int32
	var paths sync.Map
	p := &mock.Provider{Func: func(_ context.Context, path string) (stt.Transcript, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		if _, dup := paths.LoadOrStore(path, true); dup {
			t.Errorf("path %q reused", path)
		}
		time.Sleep(time.Millisecond)
		data, _ := os.ReadFile(path)
		return stt.Transcript{Text: string(data)}, nil
	}}
	a, dir := newAdapter(t, p)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := strings.Repeat("x", i+1)
			got, err := a.Transcribe(context.Background(), []byte(payload))
			if err != nil || got != payload {
				t.Errorf("Transcribe(%d) = %q, %v", i, got, err)
			}
		}()
	}
	wg.Wait()

	if maxSeen.Load() != 1 {
		t.Errorf("max concurrent provider calls = %d, want 1", maxSeen.Load())
	}
	if n := dirEntries(t, dir); n != 0 {
		t.Errorf("%d temp files left behind", n)
	}
}

func TestAdapter_ClosePropagates(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{}
	a, _ := newAdapter(t, p)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if !p.Closed {
		t.Error("provider not closed")
	}
}
