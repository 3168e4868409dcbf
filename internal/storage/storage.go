// Package storage stores attachment blobs and hands back retrievable URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobStore accepts a payload under a path and returns a URL it can be
// fetched from.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// AttachmentKey builds the object key of an attachment of one record.
func AttachmentKey(collection, id, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return path.Join(collection, id, name)
}

type memBlob struct {
	data        []byte
	contentType string
}

// MemoryStore keeps blobs in process memory and serves them from BaseURL.
type MemoryStore struct {
	BaseURL string

	mu    sync.RWMutex
	blobs map[string]memBlob
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{BaseURL: strings.TrimRight(baseURL, "/"), blobs: make(map[string]memBlob)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", key, err)
	}
	m.mu.Lock()
	m.blobs[key] = memBlob{data: data, contentType: contentType}
	m.mu.Unlock()
	return m.BaseURL + "/" + (&url.URL{Path: key}).EscapedPath(), nil
}

func (m *MemoryStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(strings.NewReader(string(b.data))), nil
}
