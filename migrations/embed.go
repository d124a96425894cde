// Package migrations embeds the SQL schema and seed files so deployments do
// not need the source tree on disk.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// SQL returns the schema migrations rooted at the file names.
func SQL() fs.FS {
	sub, err := fs.Sub(sqlFiles, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the seed files rooted at the file names.
func Seeds() fs.FS {
	sub, err := fs.Sub(seedFiles, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
