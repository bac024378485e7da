package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	appErr "rexe/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	jsonContentType = "application/json"
	zstdContentType = "application/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// JSONStore stores JSON documents under plain keys in one bucket.
// Documents may be written zstd-compressed; reads detect the frame magic.
type JSONStore struct {
	storage  ObjectStorage
	bucket   string
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// NewJSONStore creates a JSON document store on top of an object storage bucket.
func NewJSONStore(storage ObjectStorage, bucket string, compress bool) (*JSONStore, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &JSONStore{
		storage:  storage,
		bucket:   bucket,
		compress: compress,
		encoder:  encoder,
		decoder:  decoder,
	}, nil
}

// Put stores raw JSON bytes under key, overwriting any previous document.
func (s *JSONStore) Put(ctx context.Context, key string, payload []byte) error {
	if key == "" {
		return appErr.ValidationError("object_key", "required")
	}
	body := payload
	contentType := jsonContentType
	if s.compress {
		body = s.encoder.EncodeAll(payload, make([]byte, 0, len(payload)))
		contentType = zstdContentType
	}
	if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), contentType); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "put object %s failed", key)
	}
	return nil
}

// Get returns the raw JSON bytes stored under key.
// A missing key yields an ObjectNotFound error.
func (s *JSONStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, s.mapError(err, key, "get")
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, s.mapError(err, key, "read")
	}
	if bytes.HasPrefix(data, zstdMagic) {
		plain, err := s.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.StorageError, "decompress object %s failed", key)
		}
		return plain, nil
	}
	return data, nil
}

// PutJSON marshals value and stores it under key.
func (s *JSONStore) PutJSON(ctx context.Context, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "marshal object %s failed", key)
	}
	return s.Put(ctx, key, payload)
}

// GetJSON loads the document under key into value.
func (s *JSONStore) GetJSON(ctx context.Context, key string, value interface{}) error {
	payload, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, value); err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "decode object %s failed", key)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *JSONStore) Delete(ctx context.Context, key string) error {
	if err := s.storage.RemoveObject(ctx, s.bucket, key); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil
		}
		return appErr.Wrapf(err, appErr.StorageError, "delete object %s failed", key)
	}
	return nil
}

// Exists reports whether a document is stored under key.
func (s *JSONStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.storage.StatObject(ctx, s.bucket, key); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, appErr.Wrapf(err, appErr.StorageError, "stat object %s failed", key)
	}
	return true, nil
}

func (s *JSONStore) mapError(err error, key, op string) error {
	if errors.Is(err, ErrObjectNotFound) {
		return appErr.Wrapf(err, appErr.ObjectNotFound, "object %s not found", key)
	}
	return appErr.Wrapf(err, appErr.StorageError, "%s object %s failed", op, key)
}
