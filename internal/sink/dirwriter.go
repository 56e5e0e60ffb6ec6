package sink

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirWriter saves every Nth frame as frame-%06d.jpg.
type DirWriter struct {
	dir   string
	every uint64
}

// NewDirWriter creates dir if needed. every below 1 is treated as 1.
func NewDirWriter(dir string, every int) (*DirWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if every < 1 {
		every = 1
	}
	return &DirWriter{dir: dir, every: uint64(every)}, nil
}

func (w *DirWriter) Publish(seq uint64, frame []byte) error {
	if seq%w.every != 0 {
		return nil
	}
	name := filepath.Join(w.dir, fmt.Sprintf("frame-%06d.jpg", seq))
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, frame, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, name); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
