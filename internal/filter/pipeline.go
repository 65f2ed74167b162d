package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scigolib/h5vol/internal/utils"
)

// Pipeline runs filter chains over chunk data using codecs from a Registry.
type Pipeline struct {
	reg *Registry
}

// NewPipeline returns a pipeline resolving codecs through reg.
func NewPipeline(reg *Registry) *Pipeline {
	return &Pipeline{reg: reg}
}

// Registry returns the codec registry.
func (p *Pipeline) Registry() *Registry {
	return p.reg
}

// SetLocal binds chain to a datatype element size: codecs implementing
// LocalSetter rewrite their parameters and unnamed entries get their codec
// name. Unavailable optional filters are left alone.
func (p *Pipeline) SetLocal(ctx context.Context, chain *Chain, elemSize uint32) error {
	for i := range chain.Len() {
		d := &chain.filters[i]
		c, err := p.reg.Resolve(ctx, d.ID)
		if err != nil {
			if d.IsOptional() {
				continue
			}
			return err
		}
		if d.Name == "" {
			d.Name = c.Name()
		}
		ls, ok := c.(LocalSetter)
		if !ok {
			continue
		}
		params, err := ls.SetLocal(elemSize, d.Params())
		if err != nil {
			return utils.WrapError(fmt.Sprintf("setting local parameters of filter %d", d.ID), err)
		}
		d.setParams(params)
	}
	return nil
}

// Apply runs the chain over data in insertion order. Optional filters that are
// unavailable or fail are skipped and recorded by setting bit i of the
// returned mask; a failing mandatory filter aborts.
func (p *Pipeline) Apply(ctx context.Context, chain *Chain, data []byte) ([]byte, uint32, error) {
	var mask uint32
	out := data
	for i := range chain.Len() {
		d := &chain.filters[i]
		c, err := p.reg.Resolve(ctx, d.ID)
		if err == nil {
			var res []byte
			if res, err = c.Apply(d.Params(), out); err == nil {
				out = res
				continue
			}
			err = utils.WrapError(fmt.Sprintf("filter %d (%s)", d.ID, c.Name()), err)
		}
		if !d.IsOptional() {
			return nil, 0, err
		}
		p.reg.logger.Debug("optional filter skipped",
			slog.Int("id", int(d.ID)), slog.Int("index", i), slog.String("err", err.Error()))
		mask |= 1 << i
	}
	return out, mask, nil
}

// Remove reverses the chain over data, last filter first, skipping entries
// whose bit is set in mask. With edc false, checksum filters are stripped
// without verification.
func (p *Pipeline) Remove(ctx context.Context, chain *Chain, mask uint32, data []byte, edc bool) ([]byte, error) {
	out := data
	for i := chain.Len() - 1; i >= 0; i-- {
		if mask&(1<<i) != 0 {
			continue
		}
		d := &chain.filters[i]
		c, err := p.reg.Resolve(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if cs, ok := c.(Checksummer); ok && !edc {
			out, err = cs.Strip(out)
		} else {
			out, err = c.Remove(d.Params(), out)
		}
		if err != nil {
			return nil, utils.WrapError(fmt.Sprintf("filter %d (%s) remove", d.ID, c.Name()), err)
		}
	}
	return out, nil
}
