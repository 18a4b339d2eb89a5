// Package dialect provides SQL fragment helpers for SQLite/PostgreSQL portability.
package dialect

// Driver names as reported by sqlx.DB.DriverName().
const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// BlobType returns the column type for binary data.
//
//	SQLite:   BLOB
//	Postgres: BYTEA
func BlobType(driver string) string {
	if IsPostgres(driver) {
		return "BYTEA"
	}
	return "BLOB"
}

// SerialPrimaryKey returns the column definition for an auto-incrementing
// 64-bit primary key.
//
//	SQLite:   INTEGER PRIMARY KEY AUTOINCREMENT
//	Postgres: BIGSERIAL PRIMARY KEY
func SerialPrimaryKey(driver string) string {
	if IsPostgres(driver) {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}
