package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/channels/internal/channel"
)

// Schema creates the journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS channel_events (
	id          UUID PRIMARY KEY,
	address     TEXT NOT NULL,
	event       TEXT NOT NULL,
	payload     JSONB NOT NULL,
	received_at BIGINT NOT NULL
)`

const insertEvent = `
	INSERT INTO channel_events (id, address, event, payload, received_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING
`

// DB is the subset of *pgxpool.Pool used by the journal.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config contains configuration for the journal writer.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial capacity of the entry queue.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Entry is one received envelope waiting to be written.
type Entry struct {
	ID         uuid.UUID
	Event      channel.Event
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Stats holds writer counters.
type Stats struct {
	Received  int64 // Entries accepted from the channel
	Dropped   int64 // Entries arriving after Stop
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Queued    int // Entries waiting in the queue
}

// eventRow represents a row to be inserted into channel_events.
type eventRow struct {
	ID         string
	Address    string
	Event      string
	Payload    []byte // JSONB
	ReceivedAt int64  // Microseconds
}
