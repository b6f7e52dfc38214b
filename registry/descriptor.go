// Package registry maps source tables to immutable record type descriptors.
//
// A descriptor is data, not behavior: it names the record type, the enrichment
// strategy and the source fields each strategy reads. New record types are
// added by appending a descriptor, never by subclassing.
package registry

import (
	"fmt"
	"strings"
)

// Strategy selects how organization/user context is resolved for a record
type Strategy int

const (
	// DirectExtract reads orgId/userId straight from the row
	DirectExtract Strategy = iota
	// ConditionalExtract reads orgId from the row and userId only when a
	// discriminant field holds one of the allowed values
	ConditionalExtract
	// DatabaseLookup resolves orgId through the lookup repository
	DatabaseLookup
)

func (s Strategy) String() string {
	switch s {
	case DirectExtract:
		return "DirectExtract"
	case ConditionalExtract:
		return "ConditionalExtract"
	case DatabaseLookup:
		return "DatabaseLookup"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Logical field names used in descriptor field maps
const (
	FieldOrgID     = "orgId"
	FieldUserID    = "userId"
	FieldLookupKey = "lookupKey"
)

// Condition gates userId extraction on a discriminant field
type Condition struct {
	Field  string
	Values []string
}

// Matches reports whether v is one of the allowed discriminant values
func (c Condition) Matches(v string) bool {
	for _, allowed := range c.Values {
		if strings.EqualFold(allowed, v) {
			return true
		}
	}
	return false
}

// Lookup names the repository row that owns a record's organization
type Lookup struct {
	Table     string // Table holding the owning entity
	KeyColumn string // Column matched against the record's lookup key
	OrgColumn string // Column holding the organization id
}

// Descriptor describes one supported record type. It is immutable once built.
type Descriptor struct {
	typeName  string
	table     string
	strategy  Strategy
	fields    map[string]string
	condition *Condition
	lookup    *Lookup
}

// Option customizes a Descriptor at construction
type Option func(*Descriptor)

// WithCondition gates userId on field holding one of values
func WithCondition(field string, values ...string) Option {
	return func(d *Descriptor) {
		d.condition = &Condition{Field: field, Values: append([]string(nil), values...)}
	}
}

// WithLookup sets the repository row that resolves the organization
func WithLookup(l Lookup) Option {
	return func(d *Descriptor) {
		lookup := l
		d.lookup = &lookup
	}
}

// NewDescriptor builds a validated descriptor. fields maps logical field names
// (FieldOrgID, FieldUserID, FieldLookupKey) to source field names.
func NewDescriptor(typeName, table string, strategy Strategy, fields map[string]string, opts ...Option) (Descriptor, error) {
	d := Descriptor{
		typeName: typeName,
		table:    table,
		strategy: strategy,
		fields:   make(map[string]string, len(fields)),
	}
	for logical, source := range fields {
		d.fields[logical] = source
	}
	for _, opt := range opts {
		opt(&d)
	}

	if d.typeName == "" {
		return Descriptor{}, fmt.Errorf("descriptor type name is required")
	}
	if d.table == "" {
		return Descriptor{}, fmt.Errorf("descriptor %s: table is required", typeName)
	}

	switch strategy {
	case DirectExtract:
	case ConditionalExtract:
		if d.condition == nil || d.condition.Field == "" || len(d.condition.Values) == 0 {
			return Descriptor{}, fmt.Errorf("descriptor %s: conditional extract requires a condition", typeName)
		}
	case DatabaseLookup:
		if d.lookup == nil || d.lookup.Table == "" || d.lookup.KeyColumn == "" || d.lookup.OrgColumn == "" {
			return Descriptor{}, fmt.Errorf("descriptor %s: database lookup requires a lookup", typeName)
		}
		if d.fields[FieldLookupKey] == "" {
			return Descriptor{}, fmt.Errorf("descriptor %s: database lookup requires a %s field", typeName, FieldLookupKey)
		}
	default:
		return Descriptor{}, fmt.Errorf("descriptor %s: unknown strategy %v", typeName, strategy)
	}

	return d, nil
}

// TypeName is the record type used in detail types (e.g. "Users")
func (d Descriptor) TypeName() string { return d.typeName }

// Table is the source table the descriptor is registered under
func (d Descriptor) Table() string { return d.table }

// Strategy is the enrichment strategy
func (d Descriptor) Strategy() Strategy { return d.strategy }

// SourceField returns the source field mapped to a logical field
func (d Descriptor) SourceField(logical string) (string, bool) {
	f, ok := d.fields[logical]
	return f, ok && f != ""
}

// Condition returns a copy of the userId gate, if any
func (d Descriptor) Condition() (Condition, bool) {
	if d.condition == nil {
		return Condition{}, false
	}
	return Condition{Field: d.condition.Field, Values: append([]string(nil), d.condition.Values...)}, true
}

// Lookup returns the repository lookup, if any
func (d Descriptor) Lookup() (Lookup, bool) {
	if d.lookup == nil {
		return Lookup{}, false
	}
	return *d.lookup, true
}
