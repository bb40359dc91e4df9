package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var ggufMagic = []byte("GGUF")

// scan lists the regular files in dir whose extension is in exts, sorted by
// ID. A missing directory yields an empty catalog.
func scan(ctx context.Context, dir string, exts []string) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Descriptor{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("model: scan %s: %w", dir, err)
	}

	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), exts) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		// Stat follows symlinks, which is how model files are commonly shared.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, Descriptor{
			ID:         e.Name(),
			Path:       path,
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	slices.SortFunc(out, func(a, b Descriptor) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func hasExt(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, want := range exts {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// verifyWeights performs a header sanity check. Only GGUF is understood;
// other extensions pass unchecked.
func verifyWeights(d Descriptor) error {
	if !strings.EqualFold(filepath.Ext(d.ID), ".gguf") {
		return nil
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, len(ggufMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(head, ggufMagic) {
		return fmt.Errorf("not a GGUF file (magic %q)", head)
	}
	return nil
}
