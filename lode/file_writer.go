package lode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// FileWriter writes sidecar files next to the journal partitions.
// Exported message trees are archived through it.
type FileWriter interface {
	// PutFile writes filename under the thread's files/ prefix.
	// The filename must not contain path separators or "..".
	PutFile(ctx context.Context, filename, contentType string, data []byte) error
}

// ErrInvalidFilename is returned for filenames that would escape the prefix.
var ErrInvalidFilename = errors.New("invalid sidecar filename")

var _ FileWriter = (*LodeClient)(nil)

// PutFile writes a sidecar file straight to the store, bypassing dataset
// snapshots. The store is created lazily from the client's factory.
func (c *LodeClient) PutFile(ctx context.Context, filename, _ string, data []byte) error {
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(fmt.Errorf("file write store init failed: %w", err), c.config.Dataset)
	}
	path := c.buildFilePath(filename)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, path)
	}
	return nil
}

func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// buildFilePath computes
// datasets/<dataset>/partitions/thread_id=<t>/day=<d>/files/<filename>.
func (c *LodeClient) buildFilePath(filename string) string {
	return fmt.Sprintf("datasets/%s/partitions/thread_id=%s/day=%s/files/%s",
		c.config.Dataset, c.config.ThreadID, c.config.Day, filename)
}

// StubFileWriter records PutFile calls for tests.
type StubFileWriter struct {
	mu    sync.Mutex
	Files []StubFileRecord
}

// StubFileRecord is one recorded PutFile call.
type StubFileRecord struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewStubFileWriter creates a stub file writer.
func NewStubFileWriter() *StubFileWriter {
	return &StubFileWriter{}
}

// PutFile records the call.
func (w *StubFileWriter) PutFile(_ context.Context, filename, contentType string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Files = append(w.Files, StubFileRecord{
		Filename:    filename,
		ContentType: contentType,
		Data:        bytes.Clone(data),
	})
	return nil
}

// Recorded returns a copy of the recorded files.
func (w *StubFileWriter) Recorded() []StubFileRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]StubFileRecord(nil), w.Files...)
}

var _ FileWriter = (*StubFileWriter)(nil)
