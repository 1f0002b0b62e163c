// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package migrations

import "embed"

// FS contains the embedded SQLite migrations for the record cache.
//
//go:embed *.sql
var FS embed.FS
