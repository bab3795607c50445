// Package migrations embeds the versioned PostgreSQL schema golang-migrate
// applies before GORM's AutoMigrate takes over incremental column changes.
// SQLite deployments rely on AutoMigrate alone; migrate-based versioning
// only pays for itself on the HA PostgreSQL backend where multiple bridge
// instances may start against the same database concurrently.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
