// Package file reads waveform inputs from JSON-lines files and writes the
// tabular CSV outputs of a batch run.
package file

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/me-compute/internal/domain"
)

// maxLineBytes bounds one JSON-lines record. A record holds a full trace.
const maxLineBytes = 64 << 20

// Extractor reads one WaveformInput per line. It implements
// pipeline.BatchExtractor and returns io.EOF once the file is exhausted.
type Extractor struct {
	f       *os.File
	path    string
	scanner *bufio.Scanner
	line    int64
}

// NewExtractor opens path for reading.
func NewExtractor(path string) (*Extractor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 1<<20), maxLineBytes)
	return &Extractor{f: f, path: path, scanner: s}, nil
}

// ExtractBatch returns up to batchSize non-blank lines. The final batch is
// returned together with io.EOF.
func (e *Extractor) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawWaveform, error) {
	batch := make([]domain.RawWaveform, 0, batchSize)
	for len(batch) < batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.scanner.Scan() {
			if err := e.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read %s line %d: %w", e.path, e.line+1, err)
			}
			return batch, io.EOF
		}
		e.line++
		line := bytes.TrimSpace(e.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		batch = append(batch, domain.RawWaveform{
			Value:  bytes.Clone(line),
			Topic:  e.path,
			Offset: e.line,
		})
	}
	return batch, nil
}

// Close closes the input file.
func (e *Extractor) Close() error {
	return e.f.Close()
}
