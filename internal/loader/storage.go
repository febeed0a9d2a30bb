package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Storage uploads and fetches report files in Cloud Storage.
type Storage interface {
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) error
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// GCSStorage implements Storage against Google Cloud Storage using
// Application Default Credentials.
type GCSStorage struct{}

// NewGCSStorage creates a new GCSStorage.
func NewGCSStorage() *GCSStorage {
	return &GCSStorage{}
}

func (s *GCSStorage) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	return UploadFile(ctx, bucketName, objectName, filePath)
}

func (s *GCSStorage) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	return FetchFromGCS(ctx, gcsURI)
}

// GCSSource reads a spreadsheet stored in Cloud Storage.
type GCSSource struct {
	URI     string
	Storage Storage
}

func (s GCSSource) Describe() string { return s.URI }

func (s GCSSource) Fetch(ctx context.Context) ([]Document, error) {
	st := s.Storage
	if st == nil {
		st = NewGCSStorage()
	}
	data, err := st.FetchFromGCS(ctx, s.URI)
	if err != nil {
		return nil, err
	}
	name := ObjectBase(s.URI)
	format, ok := FormatFromName(name)
	if !ok {
		format = Sniff(data)
	}
	return []Document{{Name: name, Format: format, Data: data}}, nil
}

// UploadFile uploads a local file to a GCS bucket under the given object name.
func UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	defer func() {
		_ = w.Close()
	}()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}

	return nil
}

// FetchFromGCS downloads the file bytes from the given GCS URI.
func FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: creating storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading bytes: %w", err)
	}

	return data, nil
}

// ParseGCSURI splits gs://bucket/path/to/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(uri, "gs://"), "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return bucket, object, nil
}

// ObjectBase extracts the file name from a GCS URI.
// e.g., "gs://bucket/folder/PL_03-24.xlsx" → "PL_03-24.xlsx"
func ObjectBase(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	_, object, ok := strings.Cut(trimmed, "/")
	if !ok {
		return trimmed
	}
	return path.Base(object)
}

// UploadObjectName is the object name used for an uploaded report file.
func UploadObjectName(report, filePath string, now time.Time) string {
	return fmt.Sprintf("uploads/%s/%s/%s", report, now.UTC().Format("2006-01-02"), filepath.Base(filePath))
}

// FileSource reads a local spreadsheet.
type FileSource struct {
	Path string
}

func (s FileSource) Describe() string { return s.Path }

func (s FileSource) Fetch(ctx context.Context) ([]Document, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	format, ok := FormatFromName(s.Path)
	if !ok {
		format = Sniff(data)
	}
	return []Document{{Name: filepath.Base(s.Path), Format: format, Data: data}}, nil
}
