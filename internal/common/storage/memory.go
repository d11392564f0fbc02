package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage keeps objects in process memory. Used when no MinIO endpoint is configured.
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

func (s *MemoryStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	if reader == nil {
		return fmt.Errorf("reader is required")
	}
	if objectKey == "" {
		return fmt.Errorf("objectKey is required")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read object failed: %w", err)
	}
	if sizeBytes >= 0 && int64(len(data)) != sizeBytes {
		return fmt.Errorf("size mismatch: expected %d, got %d", sizeBytes, len(data))
	}
	s.mu.Lock()
	s.objects[bucket+"/"+objectKey] = memoryObject{data: data, contentType: contentType}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[bucket+"/"+objectKey]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, objectKey)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStorage) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	s.mu.RLock()
	obj, ok := s.objects[bucket+"/"+objectKey]
	s.mu.RUnlock()
	if !ok {
		return ObjectStat{}, fmt.Errorf("object %s/%s not found", bucket, objectKey)
	}
	return ObjectStat{SizeBytes: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

var _ ObjectStorage = (*MemoryStorage)(nil)
