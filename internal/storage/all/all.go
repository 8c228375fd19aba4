// Package all registers every storage backend.
package all

import (
	_ "tabprep/internal/storage/jsonl"
	_ "tabprep/internal/storage/mssql"
	_ "tabprep/internal/storage/postgres"
	_ "tabprep/internal/storage/sqlite"
)
