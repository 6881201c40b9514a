package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// BlobStore uploads binary objects and returns their public URL.
type BlobStore interface {
	Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) (string, error)
}

// ErrEmptyBlob is returned when an upload carries no bytes.
var ErrEmptyBlob = fmt.Errorf("%w: empty blob", httpx.ErrValidation)

// ObjectPath joins slugged directory segments with a slugged file name that
// keeps its lower-cased extension.
func ObjectPath(filename string, dirs ...string) string {
	parts := make([]string, 0, len(dirs)+1)
	for _, dir := range dirs {
		if s := slug.Make(dir); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, safeFileName(filename))
	return path.Join(parts...)
}

// UniqueFileName prefixes a sanitised name with a random uuid.
func UniqueFileName(filename string) string {
	return uuid.NewString() + "-" + safeFileName(filename)
}

func safeFileName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	name := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" {
		name = "file"
	}
	if ext != "" && slug.Make(ext) == "" {
		ext = ""
	}
	return name + ext
}

// LocalBlobStore keeps objects on the local filesystem and serves them under BaseURL.
type LocalBlobStore struct {
	Root    string
	BaseURL string
}

// NewLocalBlobStore constructs a LocalBlobStore rooted at dir.
func NewLocalBlobStore(dir, baseURL string) *LocalBlobStore {
	return &LocalBlobStore{Root: dir, BaseURL: strings.TrimRight(baseURL, "/")}
}

// Upload writes the object, replacing an existing one at the same path.
func (s *LocalBlobStore) Upload(ctx context.Context, bucket, objectPath string, data []byte, _ string) (string, error) {
	if len(data) == 0 {
		return "", Wrap("upload", CollectionBlobs, ErrEmptyBlob)
	}
	if err := ctx.Err(); err != nil {
		return "", Wrap("upload", CollectionBlobs, err)
	}
	rel, err := cleanObjectPath(bucket, objectPath)
	if err != nil {
		return "", Wrap("upload", CollectionBlobs, err)
	}
	target := filepath.Join(s.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", Wrap("upload", CollectionBlobs, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", Wrap("upload", CollectionBlobs, err)
	}
	return s.BaseURL + "/" + rel, nil
}

// Open returns a reader for an object previously uploaded.
func (s *LocalBlobStore) Open(bucket, objectPath string) (io.ReadCloser, error) {
	rel, err := cleanObjectPath(bucket, objectPath)
	if err != nil {
		return nil, Wrap("open", CollectionBlobs, err)
	}
	f, err := os.Open(filepath.Join(s.Root, filepath.FromSlash(rel)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, NotFound("open", CollectionBlobs)
	}
	if err != nil {
		return nil, Wrap("open", CollectionBlobs, err)
	}
	return f, nil
}

func cleanObjectPath(bucket, objectPath string) (string, error) {
	bucket = slug.Make(bucket)
	if bucket == "" {
		return "", fmt.Errorf("%w: bucket required", httpx.ErrValidation)
	}
	cleaned := path.Clean("/" + objectPath)
	if cleaned == "/" || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("%w: invalid object path %q", httpx.ErrValidation, objectPath)
	}
	return bucket + cleaned, nil
}

// HTTPBlobStore uploads to a Supabase style object endpoint:
// POST {Endpoint}/{bucket}/{path} and public reads from {PublicURL}/{bucket}/{path}.
type HTTPBlobStore struct {
	Endpoint   string
	PublicURL  string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPBlobStore constructs an HTTPBlobStore with a bounded client timeout.
func NewHTTPBlobStore(endpoint, publicURL, apiKey string, timeout time.Duration) *HTTPBlobStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBlobStore{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		PublicURL:  strings.TrimRight(publicURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Upload sends the object with upsert semantics.
func (s *HTTPBlobStore) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", Wrap("upload", CollectionBlobs, ErrEmptyBlob)
	}
	rel, err := cleanObjectPath(bucket, objectPath)
	if err != nil {
		return "", Wrap("upload", CollectionBlobs, err)
	}
	if s.Endpoint == "" || s.APIKey == "" {
		return "", Wrap("upload", CollectionBlobs, fmt.Errorf("%w: blob endpoint not configured", httpx.ErrUnavailable))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint+"/"+escapePath(rel), bytes.NewReader(data))
	if err != nil {
		return "", Wrap("upload", CollectionBlobs, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", Wrap("upload", CollectionBlobs, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", &Error{
			Op:         "upload",
			Collection: CollectionBlobs,
			Message:    remoteMessage(body, resp.Status),
			Err:        fmt.Errorf("%w: blob upload status %d", httpx.ErrBadGateway, resp.StatusCode),
		}
	}
	return s.PublicURL + "/" + escapePath(rel), nil
}

func escapePath(rel string) string {
	segments := strings.Split(rel, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func remoteMessage(body []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if len(bytes.TrimSpace(body)) > 0 {
		return string(bytes.TrimSpace(body))
	}
	return fallback
}
