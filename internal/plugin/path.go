package plugin

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/scigolib/h5vol/internal/utils"
)

// DefaultPath is searched when no plugin path is configured.
const DefaultPath = "/usr/local/hdf5/lib/plugin"

// NoPlugins is the preload setting that disables dynamic loading entirely.
const NoPlugins = "::"

// ParsePathList splits a search-path list on the platform list separator,
// dropping empty entries.
func ParsePathList(s string) []string {
	var dirs []string
	for _, dir := range strings.Split(s, string(os.PathListSeparator)) {
		if dir = strings.TrimSpace(dir); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// PathTable is the ordered list of directories searched for plugins.
// It is not safe for concurrent use; Loader guards its table.
type PathTable struct {
	dirs []string
}

// NewPathTable returns a table holding dirs, or DefaultPath when dirs is empty.
func NewPathTable(dirs ...string) *PathTable {
	if len(dirs) == 0 {
		dirs = []string{DefaultPath}
	}
	return &PathTable{dirs: slices.Clone(dirs)}
}

// Len returns the number of directories.
func (p *PathTable) Len() int {
	return len(p.dirs)
}

// Dirs returns a copy of the search order.
func (p *PathTable) Dirs() []string {
	return slices.Clone(p.dirs)
}

// Append adds dir at the end of the search order.
func (p *PathTable) Append(dir string) error {
	if err := checkDir(dir); err != nil {
		return err
	}
	p.dirs = append(p.dirs, dir)
	return nil
}

// Prepend adds dir at the front of the search order.
func (p *PathTable) Prepend(dir string) error {
	return p.Insert(dir, 0)
}

// Insert places dir at index idx, shifting later entries back.
func (p *PathTable) Insert(dir string, idx int) error {
	if err := checkDir(dir); err != nil {
		return err
	}
	if idx < 0 || idx > len(p.dirs) {
		return fmt.Errorf("plugin path index %d out of range [0,%d]: %w", idx, len(p.dirs), utils.ErrInvalidArgument)
	}
	p.dirs = slices.Insert(p.dirs, idx, dir)
	return nil
}

// Replace overwrites the entry at idx.
func (p *PathTable) Replace(dir string, idx int) error {
	if err := checkDir(dir); err != nil {
		return err
	}
	if err := p.checkIndex(idx); err != nil {
		return err
	}
	p.dirs[idx] = dir
	return nil
}

// Get returns the entry at idx.
func (p *PathTable) Get(idx int) (string, error) {
	if err := p.checkIndex(idx); err != nil {
		return "", err
	}
	return p.dirs[idx], nil
}

// Remove deletes and returns the entry at idx.
func (p *PathTable) Remove(idx int) (string, error) {
	if err := p.checkIndex(idx); err != nil {
		return "", err
	}
	dir := p.dirs[idx]
	p.dirs = slices.Delete(p.dirs, idx, idx+1)
	return dir, nil
}

func (p *PathTable) checkIndex(idx int) error {
	if idx < 0 || idx >= len(p.dirs) {
		return fmt.Errorf("plugin path index %d out of range [0,%d): %w", idx, len(p.dirs), utils.ErrInvalidArgument)
	}
	return nil
}

func checkDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("plugin path is empty: %w", utils.ErrInvalidArgument)
	}
	if strings.ContainsRune(dir, os.PathListSeparator) {
		return fmt.Errorf("plugin path %q contains a list separator: %w", dir, utils.ErrInvalidArgument)
	}
	return nil
}
