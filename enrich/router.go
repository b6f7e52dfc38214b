// Package enrich resolves the organization and user that own a change record.
//
// Each record type's descriptor selects one strategy. DirectExtract and
// ConditionalExtract only read the row; DatabaseLookup asks a Repository for
// the organization that owns a parent entity.
package enrich

import (
	"context"
	"fmt"

	"github.com/maxpert/cdcrelay/record"
	"github.com/maxpert/cdcrelay/registry"
)

// Context carries resolved tenant identifiers. A nil field means unresolved.
type Context struct {
	OrgID  *int64 `json:"orgId"`
	UserID *int64 `json:"userId"`
}

// Repository resolves an organization id from a lookup key. found is false
// when no row matches; that is not an error.
type Repository interface {
	LookupOrgByKey(ctx context.Context, lookup registry.Lookup, key string) (orgID int64, found bool, err error)
}

// Router dispatches enrichment by descriptor strategy
type Router struct {
	repo Repository
}

// NewRouter creates a router. repo may be nil when no descriptor uses
// DatabaseLookup.
func NewRouter(repo Repository) *Router {
	return &Router{repo: repo}
}

// Enrich resolves the tenant context of rec. Only DatabaseLookup can fail,
// with *LookupError.
func (r *Router) Enrich(ctx context.Context, rec *record.ChangeRecord, desc registry.Descriptor) (Context, error) {
	state := rec.State()

	switch desc.Strategy() {
	case registry.DirectExtract:
		return Context{
			OrgID:  extractID(state, desc, registry.FieldOrgID),
			UserID: extractID(state, desc, registry.FieldUserID),
		}, nil

	case registry.ConditionalExtract:
		ectx := Context{OrgID: extractID(state, desc, registry.FieldOrgID)}
		if cond, ok := desc.Condition(); ok {
			if v, ok := toText(state[cond.Field]); ok && cond.Matches(v) {
				ectx.UserID = extractID(state, desc, registry.FieldUserID)
			}
		}
		return ectx, nil

	case registry.DatabaseLookup:
		return r.lookup(ctx, state, desc)

	default:
		return Context{}, fmt.Errorf("unsupported enrichment strategy %v for %s", desc.Strategy(), desc.TypeName())
	}
}

func (r *Router) lookup(ctx context.Context, state map[string]any, desc registry.Descriptor) (Context, error) {
	lookup, _ := desc.Lookup()
	keyField, _ := desc.SourceField(registry.FieldLookupKey)

	key, ok := toKey(state[keyField])
	if !ok {
		return Context{}, nil
	}

	if r.repo == nil {
		return Context{}, &LookupError{Table: lookup.Table, Key: key, Err: fmt.Errorf("no lookup repository configured")}
	}

	orgID, found, err := r.repo.LookupOrgByKey(ctx, lookup, key)
	if err != nil {
		return Context{}, &LookupError{Table: lookup.Table, Key: key, Err: err}
	}
	if !found {
		return Context{}, nil
	}

	return Context{
		OrgID:  int64Ptr(orgID),
		UserID: extractID(state, desc, registry.FieldUserID),
	}, nil
}

func extractID(state map[string]any, desc registry.Descriptor, logical string) *int64 {
	field, ok := desc.SourceField(logical)
	if !ok {
		return nil
	}
	id, ok := toInt64(state[field])
	if !ok {
		return nil
	}
	return int64Ptr(id)
}
