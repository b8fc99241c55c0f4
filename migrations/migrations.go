// Package migrations embeds the database schema so deploy tooling and test
// bootstrap apply the same DDL.
package migrations

import (
	"embed"
	"sort"
)

//go:embed *.sql
var fs embed.FS

// Statements returns the embedded migration files in lexical order.
func Statements() ([]string, error) {
	entries, err := fs.ReadDir(".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, string(data))
	}
	return out, nil
}
