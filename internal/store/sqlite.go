// Package store persists collected yield batches to a SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/yourorg/lendyield-api/internal/model"
)

// SQLiteStore persists yield batches. Safe for concurrent use; writes are
// serialized because SQLite allows a single writer.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so chart reads do not block the collectors.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	// Needed for the batch -> points cascade on prune.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logrus.Infof("SQLite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS yield_batches (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			collected_at INTEGER NOT NULL,
			granularity  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_gran_ts ON yield_batches(granularity, collected_at)`,

		`CREATE TABLE IF NOT EXISTS yield_points (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id        INTEGER NOT NULL REFERENCES yield_batches(id) ON DELETE CASCADE,
			asset           TEXT NOT NULL,
			price           REAL NOT NULL,
			supply          REAL NOT NULL,
			borrow          REAL NOT NULL,
			supply_rewards  TEXT,
			borrow_rewards  TEXT,
			borrow_negative INTEGER NOT NULL DEFAULT 0,
			error           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_points_batch ON yield_points(batch_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// SaveBatch writes a batch and all its asset records in one transaction.
func (s *SQLiteStore) SaveBatch(batch model.YieldBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO yield_batches (collected_at, granularity) VALUES (?, ?)`,
		batch.CollectedAt.UTC().Unix(), string(batch.Granularity))
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	batchID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("batch id: %w", err)
	}

	for _, y := range batch.Assets {
		supplyRewards, err := json.Marshal(y.SupplyRewards)
		if err != nil {
			return fmt.Errorf("marshal supply rewards for %s: %w", y.Asset, err)
		}
		borrowRewards, err := json.Marshal(y.BorrowRewards)
		if err != nil {
			return fmt.Errorf("marshal borrow rewards for %s: %w", y.Asset, err)
		}

		if _, err := tx.Exec(`INSERT INTO yield_points
			(batch_id, asset, price, supply, borrow, supply_rewards, borrow_rewards, borrow_negative, error)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			batchID, y.Asset, y.Price, y.Supply, y.Borrow,
			string(supplyRewards), string(borrowRewards), y.BorrowNegative, y.Error,
		); err != nil {
			return fmt.Errorf("insert point for %s: %w", y.Asset, err)
		}
	}

	return tx.Commit()
}

// BatchesSince loads all batches of one granularity collected at or after the
// given time, ascending by collection time.
func (s *SQLiteStore) BatchesSince(granularity model.Granularity, since time.Time) ([]model.YieldBatch, error) {
	rows, err := s.db.Query(`SELECT id, collected_at FROM yield_batches
		WHERE granularity = ? AND collected_at >= ?
		ORDER BY collected_at ASC`,
		string(granularity), since.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	type header struct {
		id int64
		at int64
	}
	var headers []header
	for rows.Next() {
		var h header
		if err := rows.Scan(&h.id, &h.at); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}

	batches := make([]model.YieldBatch, 0, len(headers))
	for _, h := range headers {
		assets, err := s.pointsForBatch(h.id)
		if err != nil {
			return nil, err
		}
		batches = append(batches, model.YieldBatch{
			CollectedAt: time.Unix(h.at, 0).UTC(),
			Granularity: granularity,
			Assets:      assets,
		})
	}
	return batches, nil
}

func (s *SQLiteStore) pointsForBatch(batchID int64) ([]model.AssetYield, error) {
	rows, err := s.db.Query(`SELECT asset, price, supply, borrow, supply_rewards, borrow_rewards, borrow_negative, error
		FROM yield_points WHERE batch_id = ? ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var assets []model.AssetYield
	for rows.Next() {
		var (
			y                            model.AssetYield
			supplyRewards, borrowRewards sql.NullString
			errText                      sql.NullString
		)
		if err := rows.Scan(&y.Asset, &y.Price, &y.Supply, &y.Borrow,
			&supplyRewards, &borrowRewards, &y.BorrowNegative, &errText); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}

		if supplyRewards.Valid && supplyRewards.String != "" {
			if err := json.Unmarshal([]byte(supplyRewards.String), &y.SupplyRewards); err != nil {
				return nil, fmt.Errorf("decode supply rewards for %s: %w", y.Asset, err)
			}
		}
		if borrowRewards.Valid && borrowRewards.String != "" {
			if err := json.Unmarshal([]byte(borrowRewards.String), &y.BorrowRewards); err != nil {
				return nil, fmt.Errorf("decode borrow rewards for %s: %w", y.Asset, err)
			}
		}
		y.Error = errText.String

		assets = append(assets, y)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate points: %w", err)
	}
	return assets, nil
}

// Prune deletes batches older than the cutoff for one granularity. Fine
// grained batches only need to live long enough to be re-bucketed.
func (s *SQLiteStore) Prune(granularity model.Granularity, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM yield_batches WHERE granularity = ? AND collected_at < ?`,
		string(granularity), before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune batches: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	logrus.Info("Closing SQLite store")
	return s.db.Close()
}
