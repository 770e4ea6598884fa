package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks objects stored zstd-compressed.
const CompressedSuffix = ".zst"

// ErrBlobTooLarge is returned when an object exceeds the caller's size cap.
var ErrBlobTooLarge = errors.New("object exceeds size limit")

// ReadBlob loads a whole object, transparently decompressing keys ending in ".zst".
// maxBytes caps the decoded size; zero means no cap.
func ReadBlob(ctx context.Context, store ObjectStorage, bucket, key string, maxBytes int64) ([]byte, error) {
	rc, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if strings.HasSuffix(key, CompressedSuffix) {
		dec, err := zstd.NewReader(rc)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader failed: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s failed: %w", key, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrBlobTooLarge
	}
	return data, nil
}

// WriteBlob stores data, compressing it when key ends in ".zst".
func WriteBlob(ctx context.Context, store ObjectStorage, bucket, key string, data []byte) error {
	payload := data
	contentType := "text/plain"
	if strings.HasSuffix(key, CompressedSuffix) {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("create zstd writer failed: %w", err)
		}
		payload = enc.EncodeAll(data, nil)
		_ = enc.Close()
		contentType = "application/zstd"
	}
	return store.PutObject(ctx, bucket, key, bytes.NewReader(payload), int64(len(payload)), contentType)
}
