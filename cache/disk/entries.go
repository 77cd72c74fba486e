package disk

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/meigma/mediacache/key"
)

// Entry describes a published cache file.
type Entry struct {
	Name    string
	Key     string
	Ext     string
	Path    string
	Size    int64
	ModTime time.Time
}

// Entries lists the published files in the store, sorted by name.
//
// Temp files and names that are not cache file names are skipped. A missing
// directory yields no entries.
func (s *Store) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if !d.Type().IsRegular() {
			continue
		}
		k, ext, ok := key.Split(d.Name())
		if !ok {
			continue
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		entries = append(entries, Entry{
			Name:    d.Name(),
			Key:     k,
			Ext:     ext,
			Path:    filepath.Join(s.dir, d.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// SizeBytes returns the total size of published files.
func (s *Store) SizeBytes() (int64, error) {
	entries, err := s.Entries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total, nil
}

// RemovePartials deletes temp files last modified more than olderThan ago.
//
// Temp files are left behind only when a process dies mid-transfer. Live
// writers keep touching their files, so a generous age keeps them safe.
// Published files are never removed. It returns the number of files deleted.
func (s *Store) RemovePartials(olderThan time.Duration) (int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, d := range dirEntries {
		if !d.Type().IsRegular() || !strings.HasPrefix(d.Name(), PartialPrefix) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, d.Name())); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}
