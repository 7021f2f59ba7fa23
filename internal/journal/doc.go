// Package journal persists received channel events to PostgreSQL.
//
// A Writer subscribes to a fixed set of event names, queues every received
// envelope, and flushes batches into the channel_events table. Rows are
// append-only and keyed by a generated id, so replays are ignored with
// ON CONFLICT DO NOTHING. Outbound messages are never journaled.
package journal
