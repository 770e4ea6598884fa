package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (m *memStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memStorage) StatObject(_ context.Context, bucket, key string) (ObjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return ObjectStat{}, fmt.Errorf("no such key %s", key)
	}
	return ObjectStat{SizeBytes: int64(len(data))}, nil
}

func TestBlobCompressedKeysAreStoredCompressed(t *testing.T) {
	store := newMemStorage()
	ctx := context.Background()
	input := []byte(strings.Repeat("1 2 3 4 5\n", 1000))

	if err := WriteBlob(ctx, store, "testcases", "P1/1.in.zst", input); err != nil {
		t.Fatalf("write: %v", err)
	}
	stat, _ := store.StatObject(ctx, "testcases", "P1/1.in.zst")
	if stat.SizeBytes >= int64(len(input)) {
		t.Fatalf("expected compressed object, got %d bytes for %d input", stat.SizeBytes, len(input))
	}
	got, err := ReadBlob(ctx, store, "testcases", "P1/1.in.zst", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, input) {
		t.Fatal("decoded blob differs from input")
	}
}

func TestBlobPlainKeys(t *testing.T) {
	store := newMemStorage()
	ctx := context.Background()
	if err := WriteBlob(ctx, store, "b", "P1/1.out", []byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadBlob(ctx, store, "b", "P1/1.out", 0)
	if err != nil || string(got) != "hello\n" {
		t.Fatalf("unexpected %q %v", got, err)
	}
}

func TestBlobSizeCap(t *testing.T) {
	store := newMemStorage()
	ctx := context.Background()
	_ = WriteBlob(ctx, store, "b", "big", bytes.Repeat([]byte("x"), 100))
	if _, err := ReadBlob(ctx, store, "b", "big", 10); !errors.Is(err, ErrBlobTooLarge) {
		t.Fatalf("expected ErrBlobTooLarge, got %v", err)
	}
	if _, err := ReadBlob(ctx, store, "b", "big", 100); err != nil {
		t.Fatalf("exact size should pass: %v", err)
	}
}
