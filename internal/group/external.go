package group

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
)

// ExternalOpener opens the target file of an external link.
type ExternalOpener interface {
	// OpenExternal opens the file at path, which may be relative to the
	// working directory, and returns a location for its root group. from is
	// the file holding the link; fapl is the access list stored on the link
	// access properties, or nil.
	OpenExternal(ctx context.Context, path string, from *File, fapl *plist.List) (*Location, error)
}

// originToken in a prefix is replaced by the directory of the linking file.
const originToken = "${ORIGIN}"

// ExternalCandidates lists the paths tried, in order, when opening the target
// of an external link:
//
//  1. the name itself when it is absolute
//  2. each entry of envPrefix joined with the name
//  3. each entry of laplPrefix joined with the name
//  4. the directory of the linking file joined with the name
//  5. the name relative to the working directory
//
// For an absolute name, steps 2-5 use its base name.
func ExternalCandidates(name, from, envPrefix, laplPrefix string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	rel := name
	if filepath.IsAbs(name) {
		add(name)
		rel = filepath.Base(name)
	}
	origin := filepath.Dir(from)
	for _, list := range []string{envPrefix, laplPrefix} {
		for _, prefix := range strings.Split(list, string(os.PathListSeparator)) {
			if prefix = strings.TrimSpace(prefix); prefix != "" {
				add(filepath.Join(strings.ReplaceAll(prefix, originToken, origin), rel))
			}
		}
	}
	if from != "" {
		add(filepath.Join(origin, rel))
	}
	add(rel)
	return out
}

// openExternal tries each candidate path until one opens. Individual failures
// are not reported; only the final miss is.
func (e *Engine) openExternal(ctx context.Context, from *File, name string, lapl *plist.List) (*Location, error) {
	laplPrefix := plist.String(lapl, plist.ElinkPrefix, "")
	var fapl *plist.List
	if lapl != nil && lapl.Has(plist.ElinkFapl) {
		if v, err := lapl.Get(plist.ElinkFapl); err == nil {
			fapl, _ = v.(*plist.List)
		}
	}

	var errs []error
	for _, path := range ExternalCandidates(name, from.Name(), e.extPrefix, laplPrefix) {
		root, err := e.external.OpenExternal(ctx, path, from, fapl)
		if err == nil {
			return root, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("unable to open external file %q: %w", name,
		errors.Join(utils.ErrNotFound, errors.Join(errs...)))
}
