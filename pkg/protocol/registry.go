package protocol

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog maps layout names to layouts. Several protocol versions can live
// side by side in one process, each decoder picking its own.
type Catalog struct {
	mu      sync.RWMutex
	layouts map[string]*FieldLayout
}

func NewCatalog(layouts ...*FieldLayout) *Catalog {
	c := &Catalog{layouts: make(map[string]*FieldLayout, len(layouts))}
	for _, l := range layouts {
		c.Register(l)
	}
	return c
}

// DefaultCatalog holds the built-in layouts.
func DefaultCatalog() *Catalog {
	return NewCatalog(CanphonLayout, Viewer32Layout, LiteLayout)
}

// Register adds or replaces a layout under its own name.
func (c *Catalog) Register(l *FieldLayout) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.layouts[l.Name()] = l
	c.mu.Unlock()
}

func (c *Catalog) Lookup(name string) (*FieldLayout, error) {
	c.mu.RLock()
	l, ok := c.layouts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, name)
	}
	return l, nil
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.layouts))
	for name := range c.layouts {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}
