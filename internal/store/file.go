package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/voyagen/iptvmine/internal/models"
)

// fileDoc is the on-disk layout of a FileStore.
type fileDoc struct {
	Sources   []models.SourceConfig `yaml:"sources"`
	Favorites []string              `yaml:"favorites,omitempty"`
}

// FileStore keeps sources and favorites in one YAML file. Writes go to a
// temp file in the same directory and are renamed over the original.
type FileStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path on fsys. A nil fsys means the OS filesystem.
func NewFileStore(fsys afero.Fs, path string) *FileStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &FileStore{fs: fsys, path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) load() (fileDoc, error) {
	var doc fileDoc
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) save(doc fileDoc) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.fs.Rename(name, s.path); err != nil {
		_ = s.fs.Remove(name)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// update loads the document, applies fn and saves it when fn reports a change.
func (s *FileStore) update(fn func(*fileDoc) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if !fn(&doc) {
		return nil
	}
	return s.save(doc)
}

func (s *FileStore) SourceURLs(ctx context.Context) ([]string, error) {
	sources, err := s.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	return enabledURLs(sources), nil
}

func (s *FileStore) ListSources(context.Context) ([]models.SourceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Sources, nil
}

func (s *FileStore) SetSources(_ context.Context, urls []string) error {
	return s.update(func(doc *fileDoc) bool {
		doc.Sources = doc.Sources[:0]
		for i, u := range cleanURLs(urls) {
			doc.Sources = append(doc.Sources, newSourceConfig(u, i))
		}
		return true
	})
}

func (s *FileStore) AddSource(_ context.Context, url string) (bool, error) {
	url = strings.TrimSpace(url)
	if !ValidSourceURL(url) {
		return false, nil
	}
	added := false
	err := s.update(func(doc *fileDoc) bool {
		if len(doc.Sources) == 0 {
			for i, u := range DefaultSources() {
				doc.Sources = append(doc.Sources, newSourceConfig(u, i))
			}
		}
		if slices.ContainsFunc(doc.Sources, func(c models.SourceConfig) bool { return c.URL == url }) {
			return false
		}
		doc.Sources = append(doc.Sources, newSourceConfig(url, nextPriority(doc.Sources)))
		added = true
		return true
	})
	return added, err
}

func (s *FileStore) RemoveSource(_ context.Context, url string) error {
	url = strings.TrimSpace(url)
	return s.update(func(doc *fileDoc) bool {
		n := len(doc.Sources)
		doc.Sources = slices.DeleteFunc(doc.Sources, func(c models.SourceConfig) bool { return c.URL == url })
		return len(doc.Sources) != n
	})
}

func (s *FileStore) ResetToDefaults(ctx context.Context) error {
	return s.SetSources(ctx, DefaultSources())
}

func nextPriority(sources []models.SourceConfig) int {
	p := 0
	for _, c := range sources {
		if c.Priority >= p {
			p = c.Priority + 1
		}
	}
	return p
}
