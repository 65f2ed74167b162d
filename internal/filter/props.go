package filter

import (
	"fmt"

	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
)

var chainHooks = plist.Hooks{
	Copy: func(v any) (any, error) {
		c, ok := v.(*Chain)
		if !ok {
			return nil, fmt.Errorf("pipeline property holds %T: %w", v, utils.ErrInvalidArgument)
		}
		return c.Clone(), nil
	},
	Compare: func(a, b any) int {
		ca, _ := a.(*Chain)
		cb, _ := b.(*Chain)
		return Compare(ca, cb)
	},
}

// GetChain returns a copy of the pipeline stored on pl, or an empty chain
// when none is set.
func GetChain(pl *plist.List) (*Chain, error) {
	if pl == nil || !pl.Has(plist.Pipeline) {
		return &Chain{}, nil
	}
	v, err := pl.Get(plist.Pipeline)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &Chain{}, nil
	}
	c, ok := v.(*Chain)
	if !ok {
		return nil, fmt.Errorf("pipeline property holds %T: %w", v, utils.ErrInvalidArgument)
	}
	return c.Clone(), nil
}

// SetChain stores a copy of c as the pipeline of pl.
func SetChain(pl *plist.List, c *Chain) error {
	return pl.Insert(plist.Pipeline, c.Clone(), chainHooks)
}

// ModifyChain applies fn to the pipeline of pl and stores the result.
func ModifyChain(pl *plist.List, fn func(*Chain) error) error {
	c, err := GetChain(pl)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	return SetChain(pl, c)
}
