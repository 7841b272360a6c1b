// Package storage provides SQLite-backed persistence for data sources, symbol states, and alerts.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/scanalert/internal/fields"
	"github.com/rewired-gh/scanalert/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db        *sql.DB
	maxAlerts int
	locks     *keyedMutex
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/scanalert/data.db.
func New(maxAlerts int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "scanalert", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxAlerts: maxAlerts, locks: newKeyedMutex()}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS data_sources (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			algorithm       TEXT NOT NULL,
			grp             TEXT NOT NULL DEFAULT '',
			interval        TEXT NOT NULL,
			price_field     TEXT NOT NULL DEFAULT '',
			file_path       TEXT NOT NULL DEFAULT '',
			headers         BLOB,
			data_version    INTEGER NOT NULL DEFAULT 0,
			last_fetched    INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL,
			UNIQUE (algorithm, grp, interval)
		)`,
		`CREATE TABLE IF NOT EXISTS symbol_state (
			source_id       INTEGER NOT NULL REFERENCES data_sources(id) ON DELETE CASCADE,
			symbol          TEXT NOT NULL,
			state           BLOB,
			position_id     INTEGER NOT NULL DEFAULT 0,
			last_price      REAL,
			last_direction  TEXT NOT NULL DEFAULT '',
			updated_at      INTEGER NOT NULL,
			PRIMARY KEY (source_id, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id              TEXT PRIMARY KEY,
			source_id       INTEGER NOT NULL REFERENCES data_sources(id) ON DELETE CASCADE,
			symbol          TEXT NOT NULL,
			text            TEXT NOT NULL,
			origin          TEXT NOT NULL,
			owner           TEXT NOT NULL DEFAULT '',
			types           TEXT NOT NULL DEFAULT '',
			keys            BLOB,
			created_at      INTEGER NOT NULL,
			notified        INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_pending ON alerts(notified, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSource creates the data source identified by (algorithm, group, interval) or
// refreshes its settings. The stored ID, data version and creation time are written back
// into src.
func (s *Storage) UpsertSource(src *models.DataSource) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("invalid data source: %w", err)
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO data_sources (algorithm, grp, interval, price_field, file_path, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (algorithm, grp, interval) DO UPDATE SET
			price_field = excluded.price_field,
			file_path   = excluded.file_path`,
		src.Algorithm, src.Group, src.Interval, src.PriceField, src.FilePath, src.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert data source: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+sourceCols+` FROM data_sources
		WHERE algorithm = ? AND grp = ? AND interval = ?`, src.Algorithm, src.Group, src.Interval)
	stored, err := scanSource(row.Scan)
	if err != nil {
		return fmt.Errorf("failed to reload data source: %w", err)
	}
	src.ID = stored.ID
	src.DataVersion = stored.DataVersion
	src.Headers = stored.Headers
	src.LastFetched = stored.LastFetched
	src.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Storage) GetSource(id int64) (*models.DataSource, error) {
	row := s.db.QueryRow(`SELECT `+sourceCols+` FROM data_sources WHERE id = ?`, id)
	src, err := scanSource(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data source %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}
	return src, nil
}

func (s *Storage) ListSources() ([]*models.DataSource, error) {
	rows, err := s.db.Query(`SELECT ` + sourceCols + ` FROM data_sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query data sources: %w", err)
	}
	defer rows.Close()
	sources := []*models.DataSource{}
	for rows.Next() {
		src, err := scanSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// BumpDataVersion records a new snapshot for a source and returns the new version.
func (s *Storage) BumpDataVersion(id int64, headers []string, fetched time.Time) (int64, error) {
	blob, err := msgpack.Marshal(headers)
	if err != nil {
		return 0, fmt.Errorf("failed to encode headers: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE data_sources SET data_version = data_version + 1, headers = ?, last_fetched = ?
		WHERE id = ?`, blob, fetched.UnixNano(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to bump data version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("data source %d: %w", id, ErrNotFound)
	}
	var version int64
	if err := s.db.QueryRow(`SELECT data_version FROM data_sources WHERE id = ?`, id).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read data version: %w", err)
	}
	return version, nil
}

// DeleteSource removes a data source together with its states and alerts.
func (s *Storage) DeleteSource(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM data_sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	return nil
}

// UpdateState serializes evaluations of one (source, symbol) pair. The state is created on
// first use; fn works on a private copy. The copy and the messages fn returns are written
// in a single transaction, so fired keys never get ahead of or behind the stored alerts.
// An error from fn discards the copy.
func (s *Storage) UpdateState(ctx context.Context, sourceID int64, symbol string,
	fn func(st *models.SymbolState) ([]models.AlertMessage, error)) ([]models.AlertMessage, error) {
	unlock := s.locks.Lock(fmt.Sprintf("%d/%s", sourceID, symbol))
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO symbol_state (source_id, symbol, updated_at) VALUES (?,?,?)`,
		sourceID, symbol, time.Now().UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to create state: %w", err)
	}
	row := tx.QueryRowContext(ctx, `SELECT `+stateCols+` FROM symbol_state WHERE source_id = ? AND symbol = ?`,
		sourceID, symbol)
	st, err := scanState(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	msgs, err := fn(st)
	if err != nil {
		return nil, err
	}

	if err := saveState(ctx, tx, st); err != nil {
		return nil, err
	}
	if err := insertAlerts(ctx, tx, msgs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit state: %w", err)
	}
	return msgs, nil
}

func (s *Storage) GetState(sourceID int64, symbol string) (*models.SymbolState, error) {
	row := s.db.QueryRow(`SELECT `+stateCols+` FROM symbol_state WHERE source_id = ? AND symbol = ?`,
		sourceID, symbol)
	st, err := scanState(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("state %d/%s: %w", sourceID, symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return st, nil
}

// ListStates returns every symbol state of a source, ordered by symbol.
func (s *Storage) ListStates(sourceID int64) ([]*models.SymbolState, error) {
	rows, err := s.db.Query(`SELECT `+stateCols+` FROM symbol_state WHERE source_id = ? ORDER BY symbol`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()
	var states []*models.SymbolState
	for rows.Next() {
		st, err := scanState(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// AddAlerts stores alert records outside of an evaluation.
func (s *Storage) AddAlerts(msgs []models.AlertMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := insertAlerts(context.Background(), tx, msgs); err != nil {
		return err
	}
	return tx.Commit()
}

// PendingAlerts returns up to limit undelivered alerts, oldest first.
func (s *Storage) PendingAlerts(limit int) ([]models.AlertMessage, error) {
	return s.queryAlerts(`SELECT `+alertCols+` FROM alerts WHERE notified = 0
		ORDER BY created_at, rowid LIMIT ?`, limit)
}

// RecentAlerts returns the k newest alerts.
func (s *Storage) RecentAlerts(k int) ([]models.AlertMessage, error) {
	return s.queryAlerts(`SELECT `+alertCols+` FROM alerts ORDER BY created_at DESC, rowid DESC LIMIT ?`, k)
}

func (s *Storage) queryAlerts(query string, args ...any) ([]models.AlertMessage, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.AlertMessage
	for rows.Next() {
		var a models.AlertMessage
		var origin, types string
		var keys []byte
		var createdAtNano int64
		var notified int
		if err := rows.Scan(&a.ID, &a.SourceID, &a.Symbol, &a.Text, &origin, &a.Owner,
			&types, &keys, &createdAtNano, &notified); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Origin = models.Origin(origin)
		for _, t := range strings.Split(types, ",") {
			if t != "" {
				a.Types = append(a.Types, models.AlertType(t))
			}
		}
		if len(keys) > 0 {
			if err := msgpack.Unmarshal(keys, &a.Keys); err != nil {
				return nil, fmt.Errorf("failed to decode alert keys: %w", err)
			}
		}
		a.CreatedAt = time.Unix(0, createdAtNano)
		a.Notified = notified != 0
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// MarkNotified flags alerts as delivered.
func (s *Storage) MarkNotified(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.Exec(`UPDATE alerts SET notified = 1 WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to mark alerts notified: %w", err)
	}
	return nil
}

// PruneAlerts deletes alerts created before cutoff and returns how many were removed.
func (s *Storage) PruneAlerts(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM alerts WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RotateAlerts keeps at most maxAlerts newest alerts by created_at.
func (s *Storage) RotateAlerts() error {
	if s.maxAlerts <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, s.maxAlerts)
	if err != nil {
		return fmt.Errorf("failed to rotate alerts: %w", err)
	}
	return nil
}

// stateDoc is the encoded form of the variable-shaped parts of a symbol state.
type stateDoc struct {
	PreviousRow []fields.Field    `msgpack:"row"`
	FiredKeys   map[string]int64  `msgpack:"fired"`
	Flags       map[string]bool   `msgpack:"flags"`
	TargetHits  map[int]bool      `msgpack:"hits"`
	RuleValues  map[string]string `msgpack:"rules"`
}

func encodeState(st *models.SymbolState) ([]byte, error) {
	doc := stateDoc{
		PreviousRow: st.PreviousRow.Fields(),
		FiredKeys:   make(map[string]int64, len(st.FiredKeys)),
		Flags:       st.Flags,
		TargetHits:  st.TargetHits,
		RuleValues:  st.RuleValues,
	}
	for k, at := range st.FiredKeys {
		doc.FiredKeys[k] = at.UnixNano()
	}
	return msgpack.Marshal(&doc)
}

func decodeState(blob []byte, st *models.SymbolState) error {
	if len(blob) == 0 {
		return nil
	}
	var doc stateDoc
	if err := msgpack.Unmarshal(blob, &doc); err != nil {
		return err
	}
	st.PreviousRow = fields.RowFromFields(doc.PreviousRow)
	for k, ns := range doc.FiredKeys {
		st.FiredKeys[k] = time.Unix(0, ns)
	}
	for k, v := range doc.Flags {
		st.Flags[k] = v
	}
	for k, v := range doc.TargetHits {
		st.TargetHits[k] = v
	}
	for k, v := range doc.RuleValues {
		st.RuleValues[k] = v
	}
	return nil
}

func saveState(ctx context.Context, tx *sql.Tx, st *models.SymbolState) error {
	blob, err := encodeState(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	var lastPrice sql.NullFloat64
	if st.LastPrice != nil {
		lastPrice = sql.NullFloat64{Float64: *st.LastPrice, Valid: true}
	}
	updatedAt := st.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE symbol_state SET state = ?, position_id = ?, last_price = ?, last_direction = ?, updated_at = ?
		WHERE source_id = ? AND symbol = ?`,
		blob, st.PositionID, lastPrice, st.LastDirection, updatedAt.UnixNano(),
		st.SourceID, st.Symbol,
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func insertAlerts(ctx context.Context, tx *sql.Tx, msgs []models.AlertMessage) error {
	for _, a := range msgs {
		keys, err := msgpack.Marshal(a.Keys)
		if err != nil {
			return fmt.Errorf("failed to encode alert keys: %w", err)
		}
		types := make([]string, len(a.Types))
		for i, t := range a.Types {
			types[i] = string(t)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO alerts (id, source_id, symbol, text, origin, owner, types, keys, created_at, notified)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			a.ID, a.SourceID, a.Symbol, a.Text, string(a.Origin), a.Owner,
			strings.Join(types, ","), keys, a.CreatedAt.UnixNano(), boolToInt(a.Notified),
		)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
	}
	return nil
}

const alertCols = `id, source_id, symbol, text, origin, owner, types, keys, created_at, notified`

const sourceCols = `id, algorithm, grp, interval, price_field, file_path, headers,
	data_version, last_fetched, created_at`

func scanSource(scan func(...any) error) (*models.DataSource, error) {
	var src models.DataSource
	var headers []byte
	var lastFetchedNano, createdAtNano int64
	err := scan(
		&src.ID, &src.Algorithm, &src.Group, &src.Interval, &src.PriceField, &src.FilePath,
		&headers, &src.DataVersion, &lastFetchedNano, &createdAtNano,
	)
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := msgpack.Unmarshal(headers, &src.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode headers: %w", err)
		}
	}
	if lastFetchedNano != 0 {
		src.LastFetched = time.Unix(0, lastFetchedNano)
	}
	src.CreatedAt = time.Unix(0, createdAtNano)
	return &src, nil
}

const stateCols = `source_id, symbol, state, position_id, last_price, last_direction, updated_at`

func scanState(scan func(...any) error) (*models.SymbolState, error) {
	var sourceID int64
	var symbol, lastDirection string
	var blob []byte
	var positionID int
	var lastPrice sql.NullFloat64
	var updatedAtNano int64
	if err := scan(&sourceID, &symbol, &blob, &positionID, &lastPrice, &lastDirection, &updatedAtNano); err != nil {
		return nil, err
	}
	st := models.NewSymbolState(sourceID, symbol)
	if err := decodeState(blob, st); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	st.PositionID = positionID
	st.LastDirection = lastDirection
	if lastPrice.Valid {
		p := lastPrice.Float64
		st.LastPrice = &p
	}
	st.UpdatedAt = time.Unix(0, updatedAtNano)
	return st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
