package vol

import (
	"cmp"
	"fmt"

	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
)

// ConnectorProp is the connector selection stored on file access lists: a
// referenced connector and its info value.
type ConnectorProp struct {
	Conn *Connector
	Info any
}

// Copy returns a copy holding its own connector reference and info copy.
func (p *ConnectorProp) Copy() (*ConnectorProp, error) {
	info, err := p.Conn.CopyInfo(p.Info)
	if err != nil {
		return nil, err
	}
	p.Conn.incRef()
	return &ConnectorProp{Conn: p.Conn, Info: info}, nil
}

// Release frees the info and drops the connector reference.
func (p *ConnectorProp) Release() error {
	return utils.KeepPrimary(p.Conn.FreeInfo(p.Info), p.Conn.decRef())
}

// Compare orders selections by connector value, then by info.
func (p *ConnectorProp) Compare(q *ConnectorProp) (int, error) {
	if n := cmp.Compare(p.Conn.Value(), q.Conn.Value()); n != 0 {
		return n, nil
	}
	return p.Conn.CompareInfo(p.Info, q.Info)
}

// String formats the selection the way ParseConnectorString reads it.
func (p *ConnectorProp) String() string {
	s, err := p.Conn.InfoToString(p.Info)
	if err != nil || s == "" {
		return p.Conn.Name()
	}
	return p.Conn.Name() + " " + s
}

var connectorHooks = plist.Hooks{
	Copy: func(v any) (any, error) {
		return v.(*ConnectorProp).Copy()
	},
	Compare: func(a, b any) int {
		p, q := a.(*ConnectorProp), b.(*ConnectorProp)
		n, err := p.Compare(q)
		if err != nil {
			// The connector could not order its infos; the string forms
			// still give an order that holds in both directions.
			return cmp.Compare(p.String(), q.String())
		}
		return n
	},
	Close: func(v any) error {
		return v.(*ConnectorProp).Release()
	},
}

// SetConnectorProp stores a copy of p on a file access list.
func SetConnectorProp(fapl *plist.List, p *ConnectorProp) error {
	if fapl == nil || fapl.Class() != plist.FileAccess {
		return fmt.Errorf("connector property needs a file access list: %w", utils.ErrInvalidArgument)
	}
	cp, err := p.Copy()
	if err != nil {
		return err
	}
	if err := fapl.Insert(plist.Connector, cp, connectorHooks); err != nil {
		return utils.KeepPrimary(err, cp.Release())
	}
	return nil
}

// GetConnectorProp returns the selection stored on a file access list. The
// list keeps ownership.
func GetConnectorProp(fapl *plist.List) (*ConnectorProp, error) {
	if fapl == nil {
		return nil, fmt.Errorf("connector property: no file access list: %w", utils.ErrNotFound)
	}
	v, err := fapl.Get(plist.Connector)
	if err != nil {
		return nil, err
	}
	p, ok := v.(*ConnectorProp)
	if !ok || p == nil {
		return nil, fmt.Errorf("connector property holds %T: %w", v, utils.ErrInvalidArgument)
	}
	return p, nil
}
