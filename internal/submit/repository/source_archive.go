package repository

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"codearena/internal/common/storage"
	"codearena/internal/submit/model"
	appErr "codearena/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultSourcePrefix = "submissions"
	sourceContentType   = "application/zstd"
)

// SourceArchive keeps a compressed copy of every submitted source file in
// object storage.
type SourceArchive struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// NewSourceArchive creates an archive writing to bucket under prefix.
func NewSourceArchive(objectStorage storage.ObjectStorage, bucket, prefix string) (*SourceArchive, error) {
	if objectStorage == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("object storage is required")
	}
	if bucket == "" {
		return nil, appErr.ValidationError("bucket", "required")
	}
	if prefix == "" {
		prefix = defaultSourcePrefix
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create zstd encoder failed")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create zstd decoder failed")
	}
	return &SourceArchive{
		storage: objectStorage,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		enc:     enc,
		dec:     dec,
	}, nil
}

// Key returns the object key for a submission.
func (a *SourceArchive) Key(sub model.Submission) string {
	return path.Join(a.prefix, sub.ContestID, sub.UserID, sub.ID+".zst")
}

// Put compresses and uploads the source of sub.
func (a *SourceArchive) Put(ctx context.Context, sub model.Submission) error {
	compressed := a.enc.EncodeAll([]byte(sub.Source), nil)
	err := a.storage.PutObject(ctx, a.bucket, a.Key(sub), bytes.NewReader(compressed), int64(len(compressed)), sourceContentType)
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "upload source failed")
	}
	return nil
}

// Get downloads and decompresses the archived source of sub.
func (a *SourceArchive) Get(ctx context.Context, sub model.Submission) (string, error) {
	reader, err := a.storage.GetObject(ctx, a.bucket, a.Key(sub))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ServiceUnavailable, "download source failed")
	}
	defer reader.Close()
	compressed, err := io.ReadAll(reader)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ServiceUnavailable, "read source failed")
	}
	plain, err := a.dec.DecodeAll(compressed, nil)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InternalServerError, "decompress source failed")
	}
	return string(plain), nil
}
