package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/channels/internal/channel"
	"github.com/rickgao/channels/internal/loop"
)

var nullPayload = []byte("null")

type subscription struct {
	event    channel.Event
	listener *channel.Listener
}

// Writer consumes received envelopes and writes them to channel_events.
type Writer struct {
	cfg     Config
	address string
	logger  *slog.Logger

	// Input from channel listeners
	input *loop.Queue[Entry]

	// Database
	db DB

	// Subscriptions
	ch   *channel.Channel
	subs []subscription

	// Batching
	batch   []eventRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// NewWriter creates a new Writer for the channel at address.
func NewWriter(cfg Config, address string, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Writer{
		cfg:     cfg,
		address: address,
		db:      db,
		logger:  logger.With("component", "journal"),
		input:   loop.NewQueue[Entry](cfg.BufferSize),
		batch:   make([]eventRow, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the journal table if it does not exist.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create channel_events: %w", err)
	}
	return nil
}

// Attach subscribes the writer to each event on ch.
func (w *Writer) Attach(ch *channel.Channel, events []channel.Event) {
	w.ch = ch
	for _, event := range events {
		ev := event
		l := ch.On(ev, func(payload json.RawMessage) {
			w.Record(ev, payload)
		})
		w.subs = append(w.subs, subscription{event: ev, listener: l})
	}
}

// Record queues one received envelope. It reports false once the writer
// has been stopped.
func (w *Writer) Record(event channel.Event, payload json.RawMessage) bool {
	ok := w.input.Push(Entry{
		ID:         uuid.New(),
		Event:      event,
		Payload:    payload,
		ReceivedAt: time.Now(),
	})

	w.batchMu.Lock()
	if ok {
		w.stats.Received++
	} else {
		w.stats.Dropped++
	}
	w.batchMu.Unlock()
	return ok
}

// Start begins consuming entries and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"events", len(w.subs),
	)
	return nil
}

// Stop detaches from the channel, drains the queue and flushes what is left.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.ch != nil {
		for _, sub := range w.subs {
			w.ch.Unsubscribe(sub.event, sub.listener)
		}
		w.subs = nil
	}
	w.input.Close()

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	// Entries pushed before Close but not yet consumed
	rest := w.input.DrainTo(0)
	w.batchMu.Lock()
	for _, e := range rest {
		w.batch = append(w.batch, w.transform(e))
	}
	w.batchMu.Unlock()

	err := w.flush(ctx)
	w.logger.Info("journal writer stopped")
	return err
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	s := w.stats
	w.batchMu.Unlock()
	s.Queued = w.input.Len()
	return s
}

// consumeLoop moves entries from the queue into the batch.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.input.Done():
			// Stop drains what is left.
			return
		case <-w.input.Ready():
		}

		for {
			entries := w.input.DrainTo(w.cfg.BatchSize)
			if len(entries) == 0 {
				break
			}
			for _, e := range entries {
				w.handleEntry(e)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			_ = w.flush(w.ctx)
		}
	}
}

// handleEntry transforms and adds an entry to the batch.
func (w *Writer) handleEntry(e Entry) {
	row := w.transform(e)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		_ = w.flush(w.ctx)
	}
}

// transform converts an Entry to an eventRow.
func (w *Writer) transform(e Entry) eventRow {
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = nullPayload
	}
	return eventRow{
		ID:         e.ID.String(),
		Address:    w.address,
		Event:      string(e.Event),
		Payload:    payload,
		ReceivedAt: e.ReceivedAt.UnixMicro(),
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent, r.ID, r.Address, r.Event, r.Payload, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
