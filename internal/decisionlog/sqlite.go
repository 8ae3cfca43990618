package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clawinfra/clawroute/internal/router"
)

// SQLiteStore keeps decisions in a SQLite table for querying.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the decision database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("decisionlog: wal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("decisionlog: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          INTEGER NOT NULL,
			request_id  TEXT NOT NULL,
			channel     TEXT NOT NULL DEFAULT '',
			tier        TEXT NOT NULL,
			model       TEXT NOT NULL,
			fallback    TEXT NOT NULL DEFAULT '',
			substituted INTEGER NOT NULL DEFAULT 0,
			confidence  REAL NOT NULL,
			total_score REAL NOT NULL,
			rule        TEXT NOT NULL,
			rationale   TEXT NOT NULL,
			scores      TEXT NOT NULL,
			elapsed_us  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_tier ON decisions(tier)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Write inserts rec.
func (s *SQLiteStore) Write(ctx context.Context, rec Record) error {
	scores, err := json.Marshal(rec.Scores)
	if err != nil {
		return fmt.Errorf("decisionlog: marshal scores: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (ts, request_id, channel, tier, model, fallback, substituted,
			confidence, total_score, rule, rationale, scores, elapsed_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(), rec.RequestID, rec.Channel, rec.Tier.String(), rec.Model,
		rec.Fallback, rec.Substituted, rec.Confidence, rec.TotalScore, rec.Rule, rec.Rationale,
		string(scores), rec.ElapsedUs,
	)
	if err != nil {
		return fmt.Errorf("decisionlog: insert: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, request_id, channel, tier, model, fallback, substituted,
			confidence, total_score, rule, rationale, scores, elapsed_us
		 FROM decisions ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec    Record
			ts     int64
			tier   string
			scores string
		)
		if err := rows.Scan(&ts, &rec.RequestID, &rec.Channel, &tier, &rec.Model, &rec.Fallback,
			&rec.Substituted, &rec.Confidence, &rec.TotalScore, &rec.Rule, &rec.Rationale,
			&scores, &rec.ElapsedUs); err != nil {
			return nil, fmt.Errorf("decisionlog: scan: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		if rec.Tier, err = router.ParseTier(tier); err != nil {
			return nil, fmt.Errorf("decisionlog: row tier: %w", err)
		}
		if err := json.Unmarshal([]byte(scores), &rec.Scores); err != nil {
			return nil, fmt.Errorf("decisionlog: row scores: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TierCounts returns the number of decisions per tier since the cutoff.
// A zero since counts everything.
func (s *SQLiteStore) TierCounts(ctx context.Context, since time.Time) (map[router.Tier]int64, error) {
	var cutoff int64
	if !since.IsZero() {
		cutoff = since.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM decisions WHERE ts >= ? GROUP BY tier`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: query tier counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[router.Tier]int64)
	for rows.Next() {
		var (
			name  string
			count int64
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("decisionlog: scan: %w", err)
		}
		tier, err := router.ParseTier(name)
		if err != nil {
			continue
		}
		counts[tier] = count
	}
	return counts, rows.Err()
}

// Prune deletes decisions older than the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("decisionlog: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
