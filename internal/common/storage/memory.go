package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage keeps objects in process memory. It backs local runs and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject)}
}

func (s *MemoryStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[memoryKey(bucket, objectKey)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory get object failed: %w", ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	if reader == nil {
		return fmt.Errorf("reader is required")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("memory put object failed: %w", err)
	}
	s.mu.Lock()
	s.objects[memoryKey(bucket, objectKey)] = memoryObject{data: data, contentType: contentType}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	s.mu.RLock()
	obj, ok := s.objects[memoryKey(bucket, objectKey)]
	s.mu.RUnlock()
	if !ok {
		return ObjectStat{}, fmt.Errorf("memory stat object failed: %w", ErrObjectNotFound)
	}
	sum := md5.Sum(obj.data)
	return ObjectStat{
		SizeBytes:   int64(len(obj.data)),
		ETag:        hex.EncodeToString(sum[:]),
		ContentType: obj.contentType,
	}, nil
}

func (s *MemoryStorage) RemoveObject(ctx context.Context, bucket, objectKey string) error {
	s.mu.Lock()
	delete(s.objects, memoryKey(bucket, objectKey))
	s.mu.Unlock()
	return nil
}

func memoryKey(bucket, objectKey string) string {
	return bucket + "/" + objectKey
}
