package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for mosaic runs and their tiles.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mosaic_runs (
            id TEXT PRIMARY KEY,
            target_name TEXT,
            ra_deg REAL NOT NULL,
            dec_deg REAL NOT NULL,
            survey TEXT NOT NULL,
            pixel_order INTEGER NOT NULL,
            status TEXT NOT NULL,
            output_path TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS tile_results (
            run_id TEXT NOT NULL,
            grid_x INTEGER NOT NULL,
            grid_y INTEGER NOT NULL,
            pixel INTEGER NOT NULL,
            ra_deg REAL,
            dec_deg REAL,
            edge_fallback BOOLEAN DEFAULT FALSE,
            from_cache BOOLEAN DEFAULT FALSE,
            downloaded BOOLEAN DEFAULT FALSE,
            size INTEGER,
            error_message TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_tile_results_run_id ON tile_results(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_mosaic_runs_status ON mosaic_runs(status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures persisted run info.
type RunRecord struct {
	ID          string
	TargetName  string
	RADeg       float64
	DecDeg      float64
	Survey      string
	Order       int
	Status      string
	OutputPath  string
	MetaJSON    string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// TileRecord captures one grid cell's persisted outcome.
type TileRecord struct {
	RunID        string
	GridX        int
	GridY        int
	Pixel        int64
	RADeg        float64
	DecDeg       float64
	EdgeFallback bool
	FromCache    bool
	Downloaded   bool
	Size         int64
	Error        string
}

// RecordRunQueued inserts a pending run.
func (s *Store) RecordRunQueued(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO mosaic_runs (id, target_name, ra_deg, dec_deg, survey, pixel_order, status, output_path) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.TargetName, rec.RADeg, rec.DecDeg, rec.Survey, rec.Order, rec.Status, rec.OutputPath)
	return err
}

// RecordRunStart marks a run as running.
func (s *Store) RecordRunStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE mosaic_runs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordRunResult finalizes a run with status and meta.
func (s *Store) RecordRunResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE mosaic_runs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=?, meta_json=? WHERE id=?;`,
		status, errMsg, string(metaJSON), id)
	return err
}

// RecordTileResult persists one grid cell's outcome.
func (s *Store) RecordTileResult(rec TileRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO tile_results (run_id, grid_x, grid_y, pixel, ra_deg, dec_deg, edge_fallback, from_cache, downloaded, size, error_message)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.RunID, rec.GridX, rec.GridY, rec.Pixel, rec.RADeg, rec.DecDeg, rec.EdgeFallback, rec.FromCache, rec.Downloaded, rec.Size, rec.Error)
	return err
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, target_name, ra_deg, dec_deg, survey, pixel_order, status, output_path, created_at, started_at, completed_at, error_message FROM mosaic_runs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var created time.Time
		var started, completed sql.NullTime
		var targetName, outputPath, errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &targetName, &rec.RADeg, &rec.DecDeg, &rec.Survey, &rec.Order, &rec.Status, &outputPath, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.TargetName = targetName.String
		rec.OutputPath = outputPath.String
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Run fetches one run by id.
func (s *Store) Run(id string) (*RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	row := s.DB.QueryRow(`SELECT id, target_name, ra_deg, dec_deg, survey, pixel_order, status, output_path, meta_json, error_message, created_at FROM mosaic_runs WHERE id=?;`, id)

	var rec RunRecord
	var targetName, outputPath, metaJSON, errorMsg sql.NullString
	if err := row.Scan(&rec.ID, &targetName, &rec.RADeg, &rec.DecDeg, &rec.Survey, &rec.Order, &rec.Status, &outputPath, &metaJSON, &errorMsg, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.TargetName = targetName.String
	rec.OutputPath = outputPath.String
	rec.MetaJSON = metaJSON.String
	rec.Error = errorMsg.String
	return &rec, nil
}

// RunMeta fetches the meta blob stored with a completed run.
func (s *Store) RunMeta(id string) (map[string]any, error) {
	rec, err := s.Run(id)
	if err != nil {
		return nil, err
	}
	if rec.MetaJSON == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(rec.MetaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// TileResults returns the tile outcomes for a run in grid order.
func (s *Store) TileResults(runID string) ([]TileRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT run_id, grid_x, grid_y, pixel, ra_deg, dec_deg, edge_fallback, from_cache, downloaded, size, error_message FROM tile_results WHERE run_id=? ORDER BY grid_y, grid_x;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []TileRecord
	for rows.Next() {
		var rec TileRecord
		var errorMsg sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&rec.RunID, &rec.GridX, &rec.GridY, &rec.Pixel, &rec.RADeg, &rec.DecDeg, &rec.EdgeFallback, &rec.FromCache, &rec.Downloaded, &size, &errorMsg); err != nil {
			return nil, err
		}
		rec.Size = size.Int64
		rec.Error = errorMsg.String
		recs = append(recs, rec)
	}
	return recs, nil
}
