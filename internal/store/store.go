package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ironsheep/crownscan/internal/detect"
	"github.com/ironsheep/crownscan/internal/geo"
)

// Store persists runs, per-tile status and detections in sqlite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		bbox TEXT NOT NULL,
		settings_hash TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS tiles (
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		bbox TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		PRIMARY KEY (run_id, name),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tile TEXT NOT NULL,
		longitude REAL NOT NULL,
		latitude REAL NOT NULL,
		radius REAL NOT NULL,
		score REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tiles_status ON tiles(run_id, status);
	CREATE INDEX IF NOT EXISTS idx_detections_tile ON detections(run_id, tile);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun records a new analysis run and returns its id.
func (s *Store) CreateRun(box geo.BBox, settingsHash string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, bbox, settings_hash, started_at) VALUES (?, ?, ?, ?)`,
		id, box.String(), settingsHash, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

// FinishRun stamps a run as complete.
func (s *Store) FinishRun(runID string) error {
	_, err := s.db.Exec(`UPDATE runs SET finished_at = ? WHERE id = ?`,
		time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// SetTileStatus upserts a tile's processing status within a run.
// Status is one of "pending", "success" or "fail".
func (s *Store) SetTileStatus(runID, name string, box geo.BBox, status string) error {
	_, err := s.db.Exec(
		`INSERT INTO tiles (run_id, name, bbox, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT (run_id, name) DO UPDATE SET status = excluded.status`,
		runID, name, box.String(), status,
	)
	if err != nil {
		return fmt.Errorf("set tile status: %w", err)
	}
	return nil
}

// FailedTiles returns the names of tiles that failed in the most recent
// run with the given settings hash. An empty result with a nil error
// means there is nothing to retry.
func (s *Store) FailedTiles(settingsHash string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT t.name FROM tiles t
		 JOIN runs r ON r.id = t.run_id
		 WHERE r.settings_hash = ? AND t.status = 'fail'
		   AND r.started_at = (SELECT MAX(started_at) FROM runs WHERE settings_hash = ?)
		 ORDER BY t.name`,
		settingsHash, settingsHash,
	)
	if err != nil {
		return nil, fmt.Errorf("query failed tiles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TileSucceeded reports whether any prior run with the same settings hash
// already processed the named tile successfully.
func (s *Store) TileSucceeded(settingsHash, name string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM tiles t
		 JOIN runs r ON r.id = t.run_id
		 WHERE r.settings_hash = ? AND t.name = ? AND t.status = 'success'`,
		settingsHash, name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query tile status: %w", err)
	}
	return n > 0, nil
}

// InsertDetections stores a tile's detections in one transaction.
func (s *Store) InsertDetections(runID, tile string, dets []detect.Detection) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO detections (run_id, tile, longitude, latitude, radius, score)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range dets {
		if _, err := stmt.Exec(runID, tile, d.Lon, d.Lat, d.Radius, d.Score); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert detection: %w", err)
		}
	}
	return tx.Commit()
}

// Detections returns all detections recorded for a run, ordered by tile
// then insertion order, for export.
func (s *Store) Detections(runID string) ([]detect.Detection, error) {
	rows, err := s.db.Query(
		`SELECT longitude, latitude, radius, score FROM detections
		 WHERE run_id = ? ORDER BY tile, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var dets []detect.Detection
	for rows.Next() {
		var d detect.Detection
		if err := rows.Scan(&d.Lon, &d.Lat, &d.Radius, &d.Score); err != nil {
			return nil, err
		}
		dets = append(dets, d)
	}
	return dets, rows.Err()
}
