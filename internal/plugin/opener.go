package plugin

import (
	goplugin "plugin"
)

// Module is an opened dynamically loadable module.
type Module interface {
	Lookup(symbol string) (any, error)
}

// Opener opens modules found on the search path.
type Opener interface {
	Open(path string) (Module, error)
}

// GoOpener opens modules built with `go build -buildmode=plugin`.
type GoOpener struct{}

// Open loads the shared object at path.
func (GoOpener) Open(path string) (Module, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	return goModule{p}, nil
}

type goModule struct {
	p *goplugin.Plugin
}

func (m goModule) Lookup(symbol string) (any, error) {
	sym, err := m.p.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return sym, nil
}
