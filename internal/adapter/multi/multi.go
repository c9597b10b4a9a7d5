// Package multi fans result batches out to several loaders.
package multi

import (
	"context"
	"errors"
	"io"

	"github.com/couchcryptid/me-compute/internal/domain"
)

// BatchLoader matches pipeline.BatchLoader.
type BatchLoader interface {
	LoadBatch(ctx context.Context, batch domain.ResultBatch) error
}

// Loader delivers each batch to every wrapped loader sequentially. A failing
// loader does not stop delivery to the rest; the pipeline retries the whole
// batch, so wrapped loaders must tolerate seeing a batch twice.
type Loader struct {
	loaders []BatchLoader
}

// New creates a Loader over the given loaders.
func New(loaders ...BatchLoader) *Loader {
	return &Loader{loaders: loaders}
}

// LoadBatch delivers batch to every loader and joins their errors.
func (m *Loader) LoadBatch(ctx context.Context, batch domain.ResultBatch) error {
	var errs []error
	for _, l := range m.loaders {
		if err := l.LoadBatch(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every wrapped loader that implements io.Closer.
func (m *Loader) Close() error {
	var errs []error
	for _, l := range m.loaders {
		if c, ok := l.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of wrapped loaders.
func (m *Loader) Len() int {
	return len(m.loaders)
}
