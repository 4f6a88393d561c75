package archive

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	partitions "freshtrack-cloud/internal/partitions/domain"
)

// RowSource streams the rows of a partition.
type RowSource interface {
	ExportRows(ctx context.Context, name string, emit func(record []string) error) error
}

// Archiver writes a partition to <dir>/<name>.csv.zst before retention drops it.
type Archiver struct {
	source RowSource
	dir    string
	header []string
	level  zstd.EncoderLevel
}

// Option configures the archiver.
type Option func(*Archiver)

// WithHeader writes a CSV header line first.
func WithHeader(columns []string) Option {
	return func(a *Archiver) {
		a.header = columns
	}
}

// WithLevel maps 1..4 onto zstd speed levels, fastest to best compression.
func WithLevel(level int) Option {
	return func(a *Archiver) {
		switch level {
		case 1:
			a.level = zstd.SpeedFastest
		case 3:
			a.level = zstd.SpeedBetterCompression
		case 4:
			a.level = zstd.SpeedBestCompression
		default:
			a.level = zstd.SpeedDefault
		}
	}
}

// New constructs an archiver writing into dir.
func New(source RowSource, dir string, opts ...Option) (*Archiver, error) {
	if source == nil {
		return nil, errors.New("partition archive: nil row source")
	}
	if dir == "" {
		return nil, errors.New("partition archive: empty directory")
	}
	a := &Archiver{source: source, dir: dir, level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Archive writes the partition and returns the file path. The file appears
// under its final name only once fully written.
func (a *Archiver) Archive(ctx context.Context, partition partitions.Partition) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", err
	}
	final := filepath.Join(a.dir, partition.Name+".csv.zst")
	tmp, err := os.CreateTemp(a.dir, partition.Name+".*.tmp")
	if err != nil {
		return "", err
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	encoder, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(a.level))
	if err != nil {
		cleanup()
		return "", fmt.Errorf("partition archive: encoder: %w", err)
	}
	writer := csv.NewWriter(encoder)
	if len(a.header) > 0 {
		if err := writer.Write(a.header); err != nil {
			encoder.Close()
			cleanup()
			return "", err
		}
	}
	err = a.source.ExportRows(ctx, partition.Name, func(record []string) error {
		return writer.Write(record)
	})
	if err == nil {
		writer.Flush()
		err = writer.Error()
	}
	if closeErr := encoder.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", fmt.Errorf("partition archive: %s: %w", partition.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return final, nil
}

var _ partitions.Archiver = (*Archiver)(nil)
