package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/config"
)

const (
	baseYAML = "server:\n  log_level: info\nmodels:\n  defaults:\n    max_tokens: 128\n"
	editYAML = "server:\n  log_level: debug\nmodels:\n  defaults:\n    max_tokens: 64\n"
	badYAML  = "server:\n  log_level: bananas\n"
)

type change struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

// watchHarness runs a Watcher over a temp file and forwards every callback
// to changes.
type watchHarness struct {
	path    string
	w       *config.Watcher
	changes chan change
}

func newWatchHarness(t *testing.T, initial string) *watchHarness {
	t.Helper()
	h := &watchHarness{
		path:    filepath.Join(t.TempDir(), "config.yaml"),
		changes: make(chan change, 8),
	}
	h.write(t, initial)

	w, err := config.NewWatcher(h.path, func(old, new *config.Config, diff config.ConfigDiff) {
		h.changes <- change{old, new, diff}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	h.w = w
	t.Cleanup(w.Stop)
	return h
}

// write replaces the file and moves its mtime a second ahead so coarse
// filesystem clocks cannot hide the edit.
func (h *watchHarness) write(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(h.path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	h.touch(t)
}

func (h *watchHarness) touch(t *testing.T) {
	t.Helper()
	ts := time.Now().Add(time.Second)
	if err := os.Chtimes(h.path, ts, ts); err != nil {
		t.Fatal(err)
	}
}

func (h *watchHarness) next(t *testing.T) change {
	t.Helper()
	select {
	case c := <-h.changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
		return change{}
	}
}

func (h *watchHarness) quiet(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.changes:
		t.Fatalf("unexpected change: %+v", c.diff)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_ReportsEdit(t *testing.T) {
	t.Parallel()
	h := newWatchHarness(t, baseYAML)
	if got := h.w.Current().Server.LogLevel; got != config.LogInfo {
		t.Fatalf("initial log level %q", got)
	}

	h.write(t, editYAML)
	c := h.next(t)

	if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("old/new log level = %q/%q", c.old.Server.LogLevel, c.new.Server.LogLevel)
	}
	if !c.diff.LogLevelChanged || c.diff.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", c.diff)
	}
	if !c.diff.ParamsChanged || c.diff.NewParams.MaxTokens != 64 {
		t.Errorf("params diff = %+v", c.diff)
	}
	if h.w.Current() != c.new {
		t.Error("Current() does not return the reported config")
	}
}

func TestWatcher_IgnoredEdits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		edit func(t *testing.T, h *watchHarness)
	}{
		{"touch only", func(t *testing.T, h *watchHarness) { h.touch(t) }},
		{"same bytes rewritten", func(t *testing.T, h *watchHarness) { h.write(t, baseYAML) }},
		{"invalid content", func(t *testing.T, h *watchHarness) { h.write(t, badYAML) }},
		{"file removed", func(t *testing.T, h *watchHarness) {
			if err := os.Remove(h.path); err != nil {
				t.Fatal(err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newWatchHarness(t, baseYAML)
			before := h.w.Current()

			tt.edit(t, h)
			h.quiet(t)

			if h.w.Current() != before {
				t.Error("Current() changed")
			}
		})
	}
}

func TestWatcher_RecoversAfterInvalidEdit(t *testing.T) {
	t.Parallel()
	h := newWatchHarness(t, baseYAML)

	h.write(t, badYAML)
	h.quiet(t)

	h.write(t, editYAML)
	c := h.next(t)
	if c.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old config should be the last valid one, got %q", c.old.Server.LogLevel)
	}
}

func TestWatcher_RestartRequiredSections(t *testing.T) {
	t.Parallel()
	h := newWatchHarness(t, baseYAML)

	h.write(t, baseYAML+"gateway:\n  max_frame_bytes: 1024\n")
	c := h.next(t)
	if len(c.diff.RestartRequired) != 1 || c.diff.RestartRequired[0] != "gateway" {
		t.Errorf("RestartRequired = %v, want [gateway]", c.diff.RestartRequired)
	}
}

func TestNewWatcher_InitialLoadMustSucceed(t *testing.T) {
	t.Parallel()
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte(badYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{"/nonexistent/config.yaml", bad} {
		if _, err := config.NewWatcher(path, nil); err == nil {
			t.Errorf("NewWatcher(%q) succeeded", path)
		}
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(baseYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
