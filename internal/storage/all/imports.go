// Package all wires every built-in store backend into the storage registry.
//
// Importing it for side effects makes the kinds "postgres", "mssql", "mysql"
// and "sqlite" available to storage.New and storage.Connect:
//
//	import _ "epcloader/internal/storage/all"
package all

import (
	_ "epcloader/internal/storage/mssql"
	_ "epcloader/internal/storage/mysql"
	_ "epcloader/internal/storage/postgres"
	_ "epcloader/internal/storage/sqlite"
)
