package store

import (
	"context"
	"slices"
)

// Favorites is the name-keyed favorite set kept in a FileStore.
type Favorites struct {
	file *FileStore
}

// Favorites returns the favorite set stored alongside the sources.
func (s *FileStore) Favorites() *Favorites {
	return &Favorites{file: s}
}

func (f *Favorites) IsFavorite(_ context.Context, name string) (bool, error) {
	f.file.mu.Lock()
	defer f.file.mu.Unlock()
	doc, err := f.file.load()
	if err != nil {
		return false, err
	}
	return slices.Contains(doc.Favorites, name), nil
}

// Toggle flips name in the set and returns whether it is now a favorite.
func (f *Favorites) Toggle(_ context.Context, name string) (bool, error) {
	var now bool
	err := f.file.update(func(doc *fileDoc) bool {
		if i := slices.Index(doc.Favorites, name); i >= 0 {
			doc.Favorites = slices.Delete(doc.Favorites, i, i+1)
			return true
		}
		doc.Favorites = append(doc.Favorites, name)
		slices.Sort(doc.Favorites)
		now = true
		return true
	})
	return now, err
}

// List returns the favorite names, sorted.
func (f *Favorites) List(context.Context) ([]string, error) {
	f.file.mu.Lock()
	defer f.file.mu.Unlock()
	doc, err := f.file.load()
	if err != nil {
		return nil, err
	}
	return slices.Clone(doc.Favorites), nil
}
