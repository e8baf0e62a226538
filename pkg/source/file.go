package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// File replays check-ins from a JSON array previously written by Save.
type File struct {
	path string
}

// NewFile creates a source reading path.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Name() string { return "file" }

// Fetch yields the records of the file in order. opts.After is ignored:
// a saved export is replayed whole.
func (f *File) Fetch(ctx context.Context, opts FetchOptions, fn func(Record) error) error {
	records, err := Load(f.path)
	if err != nil {
		return err
	}
	if opts.OnTotal != nil {
		opts.OnTotal(len(records))
	}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a JSON array of check-ins. Numbers stay json.Number so integer
// fields keep their exact value.
func Load(path string) ([]Record, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	dec := json.NewDecoder(fh)
	dec.UseNumber()
	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

// Save writes records to path as a JSON array.
func Save(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode checkins: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
