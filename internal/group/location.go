package group

import (
	"fmt"
	"path"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/utils"
)

// Location is an object address inside a file together with the name it was
// reached by. A live Location holds its file open.
type Location struct {
	file *File
	addr core.Address
	path string
}

// NewLocation returns a location holding f.
func NewLocation(f *File, addr core.Address, name string) *Location {
	f.Hold()
	return &Location{file: f, addr: addr, path: name}
}

// File returns the file owning the object.
func (l *Location) File() *File { return l.file }

// Addr returns the object address.
func (l *Location) Addr() core.Address { return l.addr }

// Path returns the name the object was reached by.
func (l *Location) Path() string { return l.path }

// Token returns the connector-neutral token of the object.
func (l *Location) Token() core.Token { return core.AddressToken(l.addr) }

// Valid reports whether the location still refers to an object.
func (l *Location) Valid() bool { return l != nil && l.file != nil }

// Clone returns an independent copy with its own hold on the file.
func (l *Location) Clone() *Location {
	return NewLocation(l.file, l.addr, l.path)
}

// Move transfers the hold to a new location and invalidates l.
func (l *Location) Move() *Location {
	out := &Location{file: l.file, addr: l.addr, path: l.path}
	l.file = nil
	l.addr = core.AddrUndef
	l.path = ""
	return out
}

// Free releases the file hold. Freeing an invalid location is a no-op.
func (l *Location) Free() error {
	if !l.Valid() {
		return nil
	}
	f := l.file
	l.file = nil
	return f.Release()
}

// Same reports whether both locations name the same object of the same file.
func (l *Location) Same(o *Location) bool {
	return l.file == o.file && l.addr == o.addr
}

// String formats the location for messages.
func (l *Location) String() string {
	if !l.Valid() {
		return "<freed location>"
	}
	return fmt.Sprintf("%s:%s", l.file.name, l.path)
}

func (l *Location) child(name string, addr core.Address) *Location {
	return NewLocation(l.file, addr, joinPath(l.path, name))
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

func freeAll(locs ...*Location) error {
	var err error
	for _, l := range locs {
		if l != nil {
			err = utils.KeepPrimary(err, l.Free())
		}
	}
	return err
}
