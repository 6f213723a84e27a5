package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
)

// MinioFileStore is a FileStore that keeps files as objects in a single
// bucket of an S3-compatible server. Store paths become object keys.
//
// Creating without replacing relies on conditional writes (If-None-Match:
// "*") sent as a single PUT. MinIO and AWS S3 honor them. The guarantee does
// not hold on a server that ignores the header, nor for a Write whose reader
// cannot report its length, since that upload goes in parts.
type MinioFileStore struct {
	client *minio.Client
	bucket string
}

// NewMinioFileStore returns a store writing into bucket.
func NewMinioFileStore(client *minio.Client, bucket string) *MinioFileStore {
	return &MinioFileStore{client: client, bucket: bucket}
}

// EnsureBucket checks if the bucket exists, and creates it if it does not.
func (s *MinioFileStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
		}
	}
	return nil
}

func objectKey(p string) (string, error) {
	clean := path.Clean("/" + p)
	if p == "" || clean == "/" || strings.Contains(p, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return strings.TrimPrefix(clean, "/"), nil
}

// isPreconditionFailed reports whether a conditional write found the key
// already taken.
func isPreconditionFailed(err error) bool {
	return minio.ToErrorResponse(err).Code == minio.PreconditionFailed
}

// putNew uploads r to key unless an object already exists there. size is -1
// when unknown.
func (s *MinioFileStore) putNew(ctx context.Context, key string, r io.Reader, size int64) (minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{
		ContentType:      "application/octet-stream",
		DisableMultipart: size >= 0,
	}
	opts.SetMatchETagExcept("*")
	return s.client.PutObject(ctx, s.bucket, key, r, size, opts)
}

// remaining returns the bytes left in r, or -1 when r cannot seek.
func remaining(r io.Reader) (int64, error) {
	seeker, ok := r.(io.Seeker)
	if !ok {
		return -1, nil
	}

	cur, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1, nil
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("measure stream: %w", err)
	}
	if _, err := seeker.Seek(cur, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind stream: %w", err)
	}
	return end - cur, nil
}

func (s *MinioFileStore) Write(ctx context.Context, p string, r io.Reader) (int64, error) {
	key, err := objectKey(p)
	if err != nil {
		return 0, err
	}

	size, err := remaining(r)
	if err != nil {
		return 0, err
	}

	info, err := s.putNew(ctx, key, r, size)
	if isPreconditionFailed(err) {
		return 0, fmt.Errorf("object %q: %w", key, fs.ErrExist)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to upload object %q to bucket %q: %w", key, s.bucket, err)
	}
	return info.Size, nil
}

// Move copies src to dst and then removes src. S3 has no rename, so a crash
// between the two steps leaves src behind but never a partial dst.
//
// CopyObject cannot be made conditional on the destination, so without
// overwrite the content is streamed through a conditional PutObject instead.
func (s *MinioFileStore) Move(ctx context.Context, src string, dst string, overwrite bool) error {
	srcKey, err := objectKey(src)
	if err != nil {
		return err
	}
	dstKey, err := objectKey(dst)
	if err != nil {
		return err
	}

	if overwrite {
		copySrc := minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey}
		copyDst := minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey}
		if _, err := s.client.CopyObject(ctx, copyDst, copySrc); err != nil {
			return fmt.Errorf("failed to copy object from %q to %q: %w", srcKey, dstKey, err)
		}
	} else if err := s.copyNew(ctx, srcKey, dstKey); err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, srcKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %q: %w", srcKey, err)
	}
	return nil
}

func (s *MinioFileStore) copyNew(ctx context.Context, srcKey string, dstKey string) error {
	obj, err := s.client.GetObject(ctx, s.bucket, srcKey, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to read object %q: %w", srcKey, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat object %q: %w", srcKey, err)
	}

	_, err = s.putNew(ctx, dstKey, obj, info.Size)
	if isPreconditionFailed(err) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("failed to copy object from %q to %q: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *MinioFileStore) Delete(ctx context.Context, p string) error {
	key, err := objectKey(p)
	if err != nil {
		return err
	}

	// S3 reports success when deleting a key that does not exist.
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *MinioFileStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := objectKey(p)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	// GetObject is lazy; Stat surfaces a missing key before any bytes are
	// written to the caller.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %q: %w", key, fs.ErrNotExist)
		}
		return nil, err
	}
	return obj, nil
}
