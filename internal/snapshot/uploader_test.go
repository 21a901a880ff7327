package snapshot

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/hyperengineering/habitsync/internal/config"
)

type mockS3Client struct {
	uploads    []string
	uploadErr  error
	failOn     int
	presignURL *url.URL
	presignErr error
	lastBucket string
	lastObject string
	lastFile   string
}

func (m *mockS3Client) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	m.lastBucket = bucket
	m.lastFile = filePath
	m.uploads = append(m.uploads, objectName)
	if m.uploadErr != nil && len(m.uploads) == m.failOn {
		return m.uploadErr
	}
	return nil
}

func (m *mockS3Client) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	m.lastBucket = bucket
	m.lastObject = objectName
	if m.presignErr != nil {
		return nil, m.presignErr
	}
	if m.presignURL != nil {
		return m.presignURL, nil
	}
	return url.Parse("https://s3.example.com/" + bucket + "/" + objectName + "?presigned=true")
}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 5, 0, time.UTC)

func newTestUploader(client *mockS3Client) *S3Uploader {
	return &S3Uploader{
		client:    client,
		bucket:    "habit-snapshots",
		prefix:    "habitsync",
		urlExpiry: 15 * time.Minute,
		now:       func() time.Time { return fixedNow },
	}
}

func TestNoopUploader(t *testing.T) {
	var u NoopUploader
	if _, err := u.Upload(context.Background(), "/some/path"); err != nil {
		t.Errorf("Upload() should not error, got %v", err)
	}
	if _, _, err := u.PresignedURL(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("PresignedURL() = %v, want ErrNotConfigured", err)
	}
}

func TestNewUploader_EmptyBucket_ReturnsNoop(t *testing.T) {
	u, err := NewUploader(config.SnapshotStorageConfig{})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(NoopUploader); !ok {
		t.Errorf("expected NoopUploader, got %T", u)
	}
}

func TestNewUploader_WithBucket_ReturnsS3Uploader(t *testing.T) {
	u, err := NewUploader(config.SnapshotStorageConfig{
		Bucket:    "habit-snapshots",
		Endpoint:  "http://localhost:9000",
		Region:    "us-east-1",
		Prefix:    "prod",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		URLExpiry: config.Duration(15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}

	s3u, ok := u.(*S3Uploader)
	if !ok {
		t.Fatalf("expected *S3Uploader, got %T", u)
	}
	if s3u.bucket != "habit-snapshots" || s3u.prefix != "prod" || s3u.urlExpiry != 15*time.Minute {
		t.Errorf("uploader = %+v", s3u)
	}
}

func TestS3Uploader_Upload(t *testing.T) {
	mock := &mockS3Client{}
	u := newTestUploader(mock)

	key, err := u.Upload(context.Background(), "/data/snapshots/current.db")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	wantArchive := "habitsync/snapshot/archive/20240301T093005Z.db"
	if key != wantArchive {
		t.Errorf("key = %q, want %q", key, wantArchive)
	}
	want := []string{wantArchive, "habitsync/snapshot/current.db"}
	if len(mock.uploads) != 2 || mock.uploads[0] != want[0] || mock.uploads[1] != want[1] {
		t.Errorf("uploads = %v, want %v", mock.uploads, want)
	}
	if mock.lastBucket != "habit-snapshots" || mock.lastFile != "/data/snapshots/current.db" {
		t.Errorf("bucket/file = %q / %q", mock.lastBucket, mock.lastFile)
	}
}

func TestS3Uploader_Upload_ArchiveFailureSkipsCurrent(t *testing.T) {
	mock := &mockS3Client{uploadErr: errors.New("network timeout"), failOn: 1}
	u := newTestUploader(mock)

	_, err := u.Upload(context.Background(), "/data/current.db")
	if !errors.Is(err, mock.uploadErr) {
		t.Fatalf("expected wrapped network timeout error, got %v", err)
	}
	if len(mock.uploads) != 1 {
		t.Errorf("current snapshot should not be replaced after a failed archive upload: %v", mock.uploads)
	}
}

func TestS3Uploader_PresignedURL(t *testing.T) {
	expected, _ := url.Parse("https://s3.example.com/habit-snapshots/habitsync/snapshot/current.db?token=abc")
	mock := &mockS3Client{presignURL: expected}
	u := newTestUploader(mock)

	got, expiry, err := u.PresignedURL(context.Background())
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}
	if got != expected.String() {
		t.Errorf("url = %q, want %q", got, expected.String())
	}
	if !expiry.Equal(fixedNow.Add(15 * time.Minute)) {
		t.Errorf("expiry = %v", expiry)
	}
	if mock.lastObject != "habitsync/snapshot/current.db" {
		t.Errorf("object = %q", mock.lastObject)
	}
}

func TestS3Uploader_PresignedURL_Error(t *testing.T) {
	u := newTestUploader(&mockS3Client{presignErr: errors.New("access denied")})
	if _, _, err := u.PresignedURL(context.Background()); err == nil {
		t.Fatal("PresignedURL() expected error, got nil")
	}
}

func TestStripScheme(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantHost string
		wantSSL  bool
	}{
		{"bare host", "s3.example.com", "s3.example.com", true},
		{"bare host:port", "minio:9000", "minio:9000", true},
		{"https URL", "https://s3.example.com", "s3.example.com", true},
		{"http URL", "http://minio:9000", "minio:9000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ssl := true
			got := stripScheme(tt.endpoint, &ssl)
			if got != tt.wantHost {
				t.Errorf("stripScheme(%q) host = %q, want %q", tt.endpoint, got, tt.wantHost)
			}
			if ssl != tt.wantSSL {
				t.Errorf("stripScheme(%q) ssl = %v, want %v", tt.endpoint, ssl, tt.wantSSL)
			}
		})
	}
}

func TestObjectKeys_EmptyPrefix(t *testing.T) {
	if got := currentKey(""); got != "snapshot/current.db" {
		t.Errorf("currentKey(\"\") = %q", got)
	}
	if got := archiveKey("", fixedNow); got != "snapshot/archive/20240301T093005Z.db" {
		t.Errorf("archiveKey(\"\") = %q", got)
	}
}
