package pipeline

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/maxpert/cdcrelay/cfg"
)

// TableFilter selects records by table and schema using glob patterns.
// Empty include lists match everything; excludes win over includes.
type TableFilter struct {
	includeTables  []glob.Glob
	excludeTables  []glob.Glob
	includeSchemas []glob.Glob
}

// NewTableFilter compiles the [filter] patterns. Matching is case-insensitive.
func NewTableFilter(conf cfg.FilterConfiguration) (*TableFilter, error) {
	includeTables, err := compileGlobs("include table", conf.IncludeTables)
	if err != nil {
		return nil, err
	}
	excludeTables, err := compileGlobs("exclude table", conf.ExcludeTables)
	if err != nil {
		return nil, err
	}
	includeSchemas, err := compileGlobs("schema", conf.IncludeSchemas)
	if err != nil {
		return nil, err
	}

	return &TableFilter{
		includeTables:  includeTables,
		excludeTables:  excludeTables,
		includeSchemas: includeSchemas,
	}, nil
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Match returns true if the record for schema.table should be relayed.
// A nil filter matches everything.
func (f *TableFilter) Match(schema, table string) bool {
	if f == nil {
		return true
	}

	schema = strings.ToLower(schema)
	table = strings.ToLower(table)

	if len(f.includeSchemas) > 0 && !matchAny(f.includeSchemas, schema) {
		return false
	}
	if len(f.includeTables) > 0 && !matchAny(f.includeTables, table) {
		return false
	}
	return !matchAny(f.excludeTables, table)
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
