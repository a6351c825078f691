package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/model"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/conn"
	"main/pkg/exception"
	"main/pkg/retry"
)

const (
	tickerCategory = "ticker"
	savepointName  = "pre_insert"

	defaultCommitEvery       = 10
	defaultReconnectAttempts = 24
	defaultReconnectInterval = 5 * time.Second
)

// Config assembles a Store.
type Config struct {
	Conn        conn.Option
	Rules       schema.Rules
	CommitEvery int          // <= 1 commits after every write
	Reconnect   retry.Policy // bounded by default
	Metrics     *obs.Metrics
}

// Store owns the single database connection and performs rules-driven,
// schema-on-demand writes.
//
// Single-writer: only the processing loop calls into the store, so there is
// no internal locking. Sharing a Store across goroutines is not supported.
type Store struct {
	opt         conn.Option
	client      *conn.Client
	rules       schema.Rules
	commitEvery int
	remaining   int
	tx          *gorm.DB
	tables      map[string]struct{}
	reconnect   retry.Policy
	metrics     *obs.Metrics
}

// Open connects to the backend and primes the known-table cache.
func Open(cfg Config) (*Store, error) {
	if len(cfg.Rules) == 0 {
		return nil, errors.New("storage: empty rules")
	}
	if cfg.CommitEvery <= 0 {
		cfg.CommitEvery = defaultCommitEvery
	}
	if cfg.Reconnect.MaxAttempts == 0 && cfg.Reconnect.Backoff == (retry.Backoff{}) {
		cfg.Reconnect = retry.Bounded(defaultReconnectAttempts, defaultReconnectInterval)
	}

	client, err := conn.New(cfg.Conn)
	if err != nil {
		return nil, errors.Wrap(err, "open storage")
	}

	s := &Store{
		opt:         cfg.Conn,
		client:      client,
		rules:       cfg.Rules,
		commitEvery: cfg.CommitEvery,
		reconnect:   cfg.Reconnect,
		metrics:     cfg.Metrics,
	}
	if err := s.refreshTables(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// InsertTicker persists one ticker row into {symbol}_ticker, creating the
// table from the rules on first sight and retrying the insert exactly once.
func (s *Store) InsertTicker(rec model.TickerRecord, ignoreDup bool) error {
	rs, ok := s.rules.Resolve(tickerCategory)
	if !ok {
		return errors.Wrapf(exception.ErrUnknownRuleSet, "category %q", tickerCategory)
	}

	data, err := decodePayload(rec.Payload)
	if err != nil {
		return errors.Wrapf(err, "decode ticker payload for %q", rec.Symbol)
	}
	data["timestamp"] = rec.ReceivedAt

	values, err := rs.Values(data)
	if err != nil {
		return errors.Wrapf(err, "apply ticker rules for %q", rec.Symbol)
	}

	table := schema.TickerTable(rec.Symbol)
	if err := s.ensureTable(table, func() error {
		return s.execDDL(rs.CreateTableSQL(table))
	}); err != nil {
		return err
	}

	if err := s.execHealed(rs.InsertSQL(table, ignoreDup), func() error {
		return s.execDDL(rs.CreateTableSQL(table))
	}, values...); err != nil {
		return err
	}
	s.metrics.IncTickerInsert()
	return s.commitStep()
}

// InsertDepth persists one order book observation across three tables.
// Level rows go first and the header last, so a crash mid-write never
// leaves a header pointing at incomplete level rows.
func (s *Store) InsertDepth(snap model.DepthSnapshot, ignoreDup bool) error {
	symbol := strings.ToLower(snap.Symbol)
	asks, bids, book := schema.AsksTable(symbol), schema.BidsTable(symbol), schema.OrderBookTable(symbol)
	levels := snap.Levels()

	heal := func() error {
		if err := s.execDDL(schema.CreateLevelTableSQL(asks, levels)); err != nil {
			return err
		}
		if err := s.execDDL(schema.CreateLevelTableSQL(bids, levels)); err != nil {
			return err
		}
		return s.execDDL(schema.CreateOrderBookTableSQL(book, asks, bids))
	}

	if err := s.ensureTable(asks, heal); err != nil {
		return err
	}

	if err := s.execHealed(schema.InsertLevelsSQL(asks, len(snap.Asks), ignoreDup), heal,
		schema.LevelValues(snap.LastUpdateID, snap.Asks)...); err != nil {
		return errors.Wrapf(err, "insert asks for %q", symbol)
	}
	if err := s.execHealed(schema.InsertLevelsSQL(bids, len(snap.Bids), ignoreDup), heal,
		schema.LevelValues(snap.LastUpdateID, snap.Bids)...); err != nil {
		return errors.Wrapf(err, "insert bids for %q", symbol)
	}
	if err := s.execHealed(schema.InsertOrderBookSQL(book, ignoreDup), heal,
		snap.LastUpdateID, snap.ReceivedAt); err != nil {
		return errors.Wrapf(err, "insert order book header for %q", symbol)
	}

	s.metrics.IncDepthInsert()
	return s.commitStep()
}

// Reconnect blocks until the backend is reachable again or the bounded
// retry budget is exhausted. Any uncommitted batch is lost with the old
// connection; the caller re-drives the failed write afterwards.
func (s *Store) Reconnect(ctx context.Context) error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	_ = s.client.Close()

	err := s.reconnect.Do(ctx, func() error {
		client, err := conn.New(s.opt)
		if err != nil {
			logs.Warnf("storage unreachable, retrying, err: %+v", err)
			return err
		}
		if err := client.Ping(ctx); err != nil {
			_ = client.Close()
			logs.Warnf("storage unreachable, retrying, err: %+v", err)
			return err
		}
		s.client = client
		return nil
	})
	if err != nil {
		return errors.Wrapf(exception.ErrReconnectExhausted, "last err: %+v", err)
	}

	s.metrics.IncStorageReconnect()
	if err := s.refreshTables(); err != nil {
		logs.Warnf("refresh table cache after reconnect, err: %+v", err)
	}
	logs.Info("storage reconnected")
	return nil
}

// Flush commits any pending batched writes.
func (s *Store) Flush() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, "commit batch")
	}
	logs.Debug("committed batched writes")
	return nil
}

// Close flushes the pending batch and releases the connection.
func (s *Store) Close() error {
	flushErr := s.Flush()
	if err := s.client.Close(); err != nil {
		return err
	}
	return flushErr
}

// writer returns the handle writes go through, opening a batch transaction
// lazily when commit batching is enabled.
func (s *Store) writer() (*gorm.DB, error) {
	if s.commitEvery <= 1 {
		return s.client.DB(), nil
	}
	if s.tx == nil {
		tx := s.client.DB().Begin()
		if tx.Error != nil {
			return nil, errors.Wrap(tx.Error, "begin batch")
		}
		s.tx = tx
		s.remaining = s.commitEvery
	}
	return s.tx, nil
}

// exec runs one statement. Inside a batch it is wrapped in a savepoint so a
// failed statement does not poison the rest of the transaction.
func (s *Store) exec(query string, args ...any) error {
	db, err := s.writer()
	if err != nil {
		return err
	}
	if s.tx != nil {
		if err := s.tx.SavePoint(savepointName).Error; err != nil {
			return errors.Wrap(err, "savepoint")
		}
	}
	if err := db.Exec(query, args...).Error; err != nil {
		if s.tx != nil {
			_ = s.tx.RollbackTo(savepointName).Error
		}
		return err
	}
	return nil
}

// execHealed retries a failed statement exactly once after creating the
// missing schema. A second failure escalates to the caller.
func (s *Store) execHealed(query string, heal func() error, args ...any) error {
	err := s.exec(query, args...)
	if err == nil {
		return nil
	}
	if !isUndefinedTable(err) {
		return err
	}
	if herr := heal(); herr != nil {
		return errors.Wrap(herr, "create missing schema")
	}
	if err := s.exec(query, args...); err != nil {
		return errors.Wrap(err, "retry after schema create")
	}
	return nil
}

// execDDL runs schema statements on the base connection (autocommit), never
// inside the batch transaction, and records the table in the cache.
func (s *Store) execDDL(query string) error {
	if err := s.client.DB().Exec(query).Error; err != nil {
		return errors.Wrap(err, "create table")
	}
	if s.tables == nil {
		s.tables = make(map[string]struct{})
	}
	if name := tableNameFromDDL(query); name != "" {
		s.tables[name] = struct{}{}
	}
	return nil
}

func (s *Store) ensureTable(table string, create func() error) error {
	if _, ok := s.tables[table]; ok {
		return nil
	}
	if err := create(); err != nil {
		return err
	}
	logs.Infof("created tables for %q on first sight", table)
	return nil
}

func (s *Store) commitStep() error {
	if s.tx == nil {
		return nil
	}
	s.remaining--
	if s.remaining > 0 {
		return nil
	}
	return s.Flush()
}

func (s *Store) refreshTables() error {
	var names []string
	err := s.client.DB().
		Raw("SELECT tablename FROM pg_tables WHERE schemaname = current_schema()").
		Scan(&names).Error
	if err != nil {
		return errors.Wrap(err, "list tables")
	}
	tables := make(map[string]struct{}, len(names))
	for _, name := range names {
		tables[name] = struct{}{}
	}
	s.tables = tables
	return nil
}

func decodePayload(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// tableNameFromDDL pulls the quoted table name out of our own CREATE TABLE
// statements for the cache. Returns "" for anything unexpected.
func tableNameFromDDL(query string) string {
	const marker = "CREATE TABLE IF NOT EXISTS \""
	idx := strings.Index(query, marker)
	if idx < 0 {
		return ""
	}
	rest := query[idx+len(marker):]
	end := strings.Index(rest, "\"")
	if end < 0 {
		return ""
	}
	return rest[:end]
}
