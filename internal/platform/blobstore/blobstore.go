// Package blobstore stores file attachments (medical certificates, exam
// reports, signed recommendations) and hands back the URL they are served
// from. Records keep attachment URLs in list fields.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/occuhealth/occuhealth/internal/platform/db"
)

var (
	ErrNotFound           = errors.New("attachment not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrInvalidPath        = errors.New("invalid path prefix")
)

// MaxFileSize is the largest accepted attachment (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// AllowedContentTypes lists the accepted attachment MIME types.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"text/plain":      true,
	"text/csv":        true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Attachment describes a stored file.
type Attachment struct {
	ID          string    `json:"id"`
	Tenant      string    `json:"tenant"`
	PathPrefix  string    `json:"pathPrefix"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy,omitempty"`
}

// Store is a tenant-scoped attachment backend. The tenant is read from the
// context; attachments of other tenants are reported as not found.
type Store interface {
	Upload(ctx context.Context, meta Attachment, content io.Reader) (*Attachment, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *Attachment, error)
	Metadata(ctx context.Context, id string) (*Attachment, error)
	List(ctx context.Context, pathPrefix string) ([]*Attachment, error)
	Delete(ctx context.Context, id string) error
}

func tenantOf(ctx context.Context) string {
	if t := db.TenantFromContext(ctx); t != "" {
		return t
	}
	return "default"
}

// CleanPathPrefix validates a slash separated prefix such as
// "acme/emos/<id>". Empty segments and dot segments are rejected.
func CleanPathPrefix(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", nil
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." || !segmentPattern.MatchString(seg) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return p, nil
}

// NormalizeContentType strips parameters and falls back to the extension
// when the client sent a generic type.
func NormalizeContentType(contentType, fileName string) string {
	ct, _, err := mime.ParseMediaType(contentType)
	if err != nil || ct == "" || ct == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); byExt != "" {
			ct, _, _ = mime.ParseMediaType(byExt)
		}
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	return ct
}

// prepare validates meta and reads the content, filling the computed fields.
func prepare(ctx context.Context, meta Attachment, content io.Reader) (Attachment, []byte, error) {
	meta.FileName = path.Base(strings.ReplaceAll(strings.TrimSpace(meta.FileName), "\\", "/"))
	if meta.FileName == "" || meta.FileName == "." || meta.FileName == "/" {
		return meta, nil, ErrMissingFileName
	}
	prefix, err := CleanPathPrefix(meta.PathPrefix)
	if err != nil {
		return meta, nil, err
	}
	meta.PathPrefix = prefix
	meta.ContentType = NormalizeContentType(meta.ContentType, meta.FileName)
	if !AllowedContentTypes[meta.ContentType] {
		return meta, nil, fmt.Errorf("%w: %s", ErrInvalidContentType, meta.ContentType)
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return meta, nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return meta, nil, ErrFileTooLarge
	}

	meta.ID = uuid.New().String()
	meta.Tenant = tenantOf(ctx)
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	meta.CreatedAt = time.Now().UTC()
	return meta, data, nil
}

func hasPrefix(a *Attachment, prefix string) bool {
	return prefix == "" || a.PathPrefix == prefix || strings.HasPrefix(a.PathPrefix, prefix+"/")
}

func sortAttachments(list []*Attachment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

type storedBlob struct {
	meta    Attachment
	content []byte
}

// MemoryStore keeps attachments in memory. It is used in development and
// tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*storedBlob)}
}

func (s *MemoryStore) Upload(ctx context.Context, meta Attachment, content io.Reader) (*Attachment, error) {
	meta, data, err := prepare(ctx, meta, content)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{meta: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemoryStore) lookup(ctx context.Context, id string) (*storedBlob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	if !ok || b.meta.Tenant != tenantOf(ctx) {
		return nil, false
	}
	return b, true
}

func (s *MemoryStore) Download(ctx context.Context, id string) (io.ReadCloser, *Attachment, error) {
	b, ok := s.lookup(ctx, id)
	if !ok {
		return nil, nil, ErrNotFound
	}
	meta := b.meta
	return io.NopCloser(bytes.NewReader(b.content)), &meta, nil
}

func (s *MemoryStore) Metadata(ctx context.Context, id string) (*Attachment, error) {
	b, ok := s.lookup(ctx, id)
	if !ok {
		return nil, ErrNotFound
	}
	meta := b.meta
	return &meta, nil
}

func (s *MemoryStore) List(ctx context.Context, pathPrefix string) ([]*Attachment, error) {
	prefix, err := CleanPathPrefix(pathPrefix)
	if err != nil {
		return nil, err
	}
	tenant := tenantOf(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Attachment{}
	for _, b := range s.blobs {
		if b.meta.Tenant == tenant && hasPrefix(&b.meta, prefix) {
			m := b.meta
			out = append(out, &m)
		}
	}
	sortAttachments(out)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if _, ok := s.lookup(ctx, id); !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	delete(s.blobs, id)
	s.mu.Unlock()
	return nil
}

// Uploader stores a file and returns its download URL.
type Uploader struct {
	store   Store
	baseURL string
}

// NewUploader creates an uploader whose URLs start with baseURL
// (for example "https://sst.example.com/api/v1/attachments").
func NewUploader(store Store, baseURL string) *Uploader {
	return &Uploader{store: store, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload stores content under pathPrefix and returns its download URL.
func (u *Uploader) Upload(ctx context.Context, fileName, contentType, pathPrefix, createdBy string, content io.Reader) (string, *Attachment, error) {
	att, err := u.store.Upload(ctx, Attachment{
		FileName:    fileName,
		ContentType: contentType,
		PathPrefix:  pathPrefix,
		CreatedBy:   createdBy,
	}, content)
	if err != nil {
		return "", nil, err
	}
	return u.URL(att.ID), att, nil
}

// Remove deletes attachment id, for uploads whose owning record could not
// be updated.
func (u *Uploader) Remove(ctx context.Context, id string) error {
	return u.store.Delete(ctx, id)
}

// URL returns the download URL of attachment id.
func (u *Uploader) URL(id string) string {
	return u.baseURL + "/" + id
}

// IDFromURL extracts the attachment id from a URL produced by URL.
func (u *Uploader) IDFromURL(url string) (string, bool) {
	id, ok := strings.CutPrefix(url, u.baseURL+"/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
