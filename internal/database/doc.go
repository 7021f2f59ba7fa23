// Package database opens the PostgreSQL pool used by the event journal.
package database
