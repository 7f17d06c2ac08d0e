package repository

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"codemate/internal/common/storage"
)

type memObjectStore struct {
	objects map[string][]byte
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (s *memObjectStore) PutObject(_ context.Context, bucket, key string, reader storage.ObjectReader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.objects[bucket+"/"+key] = data
	return nil
}

func (s *memObjectStore) GetObject(_ context.Context, bucket, key string) (storage.ObjectReader, error) {
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memObjectStore) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, io.ErrUnexpectedEOF
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func (s *memObjectStore) RemoveObjects(_ context.Context, bucket string, keys []string) error {
	for _, key := range keys {
		delete(s.objects, bucket+"/"+key)
	}
	return nil
}

func TestSourceArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	store := newMemObjectStore()
	archive, err := NewSourceArchive(store, "submissions")
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}

	source := strings.Repeat("print('hello judge')\n", 200)
	key, err := archive.Save(context.Background(), "sub-42", source)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if key != "sources/sub-42.zst" {
		t.Fatalf("unexpected key %q", key)
	}

	stored := store.objects["submissions/"+key]
	if len(stored) == 0 {
		t.Fatalf("nothing stored")
	}
	if len(stored) >= len(source) {
		t.Fatalf("repetitive source should compress: stored %d, original %d", len(stored), len(source))
	}

	got, err := archive.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != source {
		t.Fatalf("round trip mismatch")
	}
}

func TestSourceArchiveCorruptObject(t *testing.T) {
	t.Parallel()

	store := newMemObjectStore()
	archive, err := NewSourceArchive(store, "submissions")
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	store.objects["submissions/sources/bad.zst"] = []byte("not zstd at all")

	if _, err := archive.Load(context.Background(), "sources/bad.zst"); err == nil {
		t.Fatalf("expected an error for a corrupt archive")
	}
}

func TestSourceArchiveRequiresBucket(t *testing.T) {
	t.Parallel()

	if _, err := NewSourceArchive(newMemObjectStore(), ""); err == nil {
		t.Fatalf("expected an error for an empty bucket")
	}
}
