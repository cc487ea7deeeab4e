// Package migrations встраивает SQL-миграции в бинарник (goose.SetBaseFS).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
