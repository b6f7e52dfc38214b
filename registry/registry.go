package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is a static table → descriptor lookup, built once at startup
type Registry struct {
	byTable map[string]Descriptor
}

// New builds a registry from descriptors; table names must be unique
// (case-insensitively).
func New(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byTable: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		key := strings.ToLower(d.Table())
		if key == "" {
			return nil, fmt.Errorf("descriptor %q has no table", d.TypeName())
		}
		if existing, ok := r.byTable[key]; ok {
			return nil, fmt.Errorf("table %q registered twice (%s, %s)", d.Table(), existing.TypeName(), d.TypeName())
		}
		r.byTable[key] = d
	}
	return r, nil
}

// Resolve returns the descriptor for a source table
func (r *Registry) Resolve(table string) (Descriptor, error) {
	d, ok := r.byTable[strings.ToLower(table)]
	if !ok {
		return Descriptor{}, &UnknownRecordTypeError{Table: table}
	}
	return d, nil
}

// Tables lists the registered tables in sorted order
func (r *Registry) Tables() []string {
	tables := make([]string, 0, len(r.byTable))
	for _, d := range r.byTable {
		tables = append(tables, d.Table())
	}
	sort.Strings(tables)
	return tables
}

// Len returns the number of registered record types
func (r *Registry) Len() int {
	return len(r.byTable)
}
