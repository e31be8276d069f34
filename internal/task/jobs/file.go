package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
)

// FileWriter writes Lines to Path, one per line, truncating any previous
// content.
//
// The file is created before the forced-failure check, so a failed job leaves
// a partial file behind for Rollback to remove.
type FileWriter struct {
	Path  string
	Lines []string
	Fail  bool

	rollbacks atomic.Int32
}

func (w *FileWriter) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(w.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(w.Path)
	if err != nil {
		return fmt.Errorf("create %s: %w", w.Path, err)
	}
	defer f.Close()

	if w.Fail {
		return fmt.Errorf("write %s: %w", w.Path, ErrForcedFailure)
	}

	bw := bufio.NewWriter(f)
	for _, line := range w.Lines {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write %s: %w", w.Path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", w.Path, err)
	}
	return f.Close()
}

// Rollback deletes the file. A file that was never created is not an error.
func (w *FileWriter) Rollback(ctx context.Context) error {
	w.rollbacks.Add(1)
	if err := os.Remove(w.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", w.Path, err)
	}
	return nil
}

// Rollbacks reports how many times Rollback ran.
func (w *FileWriter) Rollbacks() int { return int(w.rollbacks.Load()) }
