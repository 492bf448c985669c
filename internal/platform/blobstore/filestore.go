package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps attachments on the local filesystem:
//
//	<root>/<tenant>/<pathPrefix>/<id>/<fileName>
//	<root>/.index/<id>.json
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, ".index"), 0o750); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) indexPath(id string) string {
	return filepath.Join(s.root, ".index", id+".json")
}

func (s *FileStore) contentPath(meta *Attachment) string {
	return filepath.Join(s.root, meta.Tenant, filepath.FromSlash(meta.PathPrefix), meta.ID, meta.FileName)
}

func (s *FileStore) Upload(ctx context.Context, meta Attachment, content io.Reader) (*Attachment, error) {
	meta, data, err := prepare(ctx, meta, content)
	if err != nil {
		return nil, err
	}

	p := s.contentPath(&meta)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o640); err != nil {
		return nil, fmt.Errorf("write attachment: %w", err)
	}
	idx, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.indexPath(meta.ID), idx, 0o640); err != nil {
		_ = os.Remove(p)
		return nil, fmt.Errorf("write attachment index: %w", err)
	}
	return &meta, nil
}

func (s *FileStore) readIndex(id string) (*Attachment, error) {
	if !segmentPattern.MatchString(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.indexPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var meta Attachment
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode attachment index %s: %w", id, err)
	}
	return &meta, nil
}

func (s *FileStore) Metadata(ctx context.Context, id string) (*Attachment, error) {
	meta, err := s.readIndex(id)
	if err != nil {
		return nil, err
	}
	if meta.Tenant != tenantOf(ctx) {
		return nil, ErrNotFound
	}
	return meta, nil
}

func (s *FileStore) Download(ctx context.Context, id string) (io.ReadCloser, *Attachment, error) {
	meta, err := s.Metadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.contentPath(meta))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return f, meta, nil
}

func (s *FileStore) List(ctx context.Context, pathPrefix string) ([]*Attachment, error) {
	prefix, err := CleanPathPrefix(pathPrefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, ".index"))
	if err != nil {
		return nil, err
	}
	tenant := tenantOf(ctx)
	out := []*Attachment{}
	for _, e := range entries {
		id := e.Name()
		if filepath.Ext(id) != ".json" {
			continue
		}
		meta, err := s.readIndex(id[:len(id)-len(".json")])
		if err != nil {
			continue
		}
		if meta.Tenant == tenant && hasPrefix(meta, prefix) {
			out = append(out, meta)
		}
	}
	sortAttachments(out)
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	meta, err := s.Metadata(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(filepath.Dir(s.contentPath(meta))); err != nil {
		return fmt.Errorf("remove attachment: %w", err)
	}
	return os.Remove(s.indexPath(id))
}
