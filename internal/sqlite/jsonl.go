package sqlite

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/journal/pkg/types"
)

// Export writes every standard table to dir/<table>.jsonl, one record per
// line in insertion order, and returns the number of records per table.
// The files hold local-only data and are created with mode 0600.
func (b *Backend) Export(ctx context.Context, dir string) (map[string]int, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating export dir: %w", err)
	}
	counts := make(map[string]int, len(types.StandardTableNames))
	for _, name := range types.StandardTableNames {
		table, err := b.GetTable(name)
		if err != nil {
			return nil, err
		}
		records, err := table.Query(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("exporting %s: %w", name, err)
		}
		lines := make([]json.RawMessage, 0, len(records))
		for _, rec := range records {
			line, err := json.Marshal(rec)
			if err != nil {
				return nil, fmt.Errorf("encoding %s record: %w", name, err)
			}
			lines = append(lines, line)
		}
		if err := writeJSONL(filepath.Join(dir, name+".jsonl"), lines); err != nil {
			return nil, fmt.Errorf("writing %s: %w", name, err)
		}
		counts[name] = len(records)
	}
	return counts, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
