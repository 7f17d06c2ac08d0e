package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"codemate/internal/common/storage"
	appErr "codemate/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const sourceContentType = "application/zstd"

// SourceArchive stores submitted source code compressed in object storage.
// The database only keeps the object key.
type SourceArchive struct {
	store  storage.ObjectStorage
	bucket string
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

func NewSourceArchive(store storage.ObjectStorage, bucket string) (*SourceArchive, error) {
	if bucket == "" {
		return nil, appErr.New(appErr.StorageError).WithMessage("bucket is required")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.StorageError)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.StorageError)
	}
	return &SourceArchive{store: store, bucket: bucket, enc: enc, dec: dec}, nil
}

// SourceKey derives the object key for a submission's source.
func SourceKey(submissionID string) string {
	return fmt.Sprintf("sources/%s.zst", submissionID)
}

// Save compresses and uploads the source, returning the object key.
func (a *SourceArchive) Save(ctx context.Context, submissionID, source string) (string, error) {
	key := SourceKey(submissionID)
	compressed := a.enc.EncodeAll([]byte(source), nil)
	reader := io.NopCloser(bytes.NewReader(compressed))
	if err := a.store.PutObject(ctx, a.bucket, key, reader, int64(len(compressed)), sourceContentType); err != nil {
		return "", appErr.Wrap(err, appErr.StorageError)
	}
	return key, nil
}

// Load downloads and decompresses the source stored under key.
func (a *SourceArchive) Load(ctx context.Context, key string) (string, error) {
	obj, err := a.store.GetObject(ctx, a.bucket, key)
	if err != nil {
		return "", appErr.Wrap(err, appErr.StorageError)
	}
	defer obj.Close()

	compressed, err := io.ReadAll(obj)
	if err != nil {
		return "", appErr.Wrap(err, appErr.StorageError)
	}
	source, err := a.dec.DecodeAll(compressed, nil)
	if err != nil {
		return "", appErr.Wrap(err, appErr.StorageError).WithMessage("source archive is corrupt")
	}
	return string(source), nil
}
