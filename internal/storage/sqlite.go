// Package storage provides an embedded SQLite vector store: points live in one table
// per database, vectors as little-endian float32 blobs, scored by brute-force cosine.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/pkg/utils"
)

const idLookupBatch = 500

// SQLiteStore stores the points of one collection in a SQLite database. Several
// collections can share a database file.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	collection string
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath, collection string) (*SQLiteStore, error) {
	inMemory := dbPath == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath, collection: collection}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimensions INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS points (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		vector BLOB NOT NULL,
		text TEXT NOT NULL,
		search_text TEXT NOT NULL,
		embedding_model TEXT NOT NULL,
		metadata TEXT,
		indexed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_points_model ON points(collection, embedding_model);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Backend() string    { return "sqlite" }
func (s *SQLiteStore) Collection() string { return s.collection }

// Path returns the database path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) dimensions(ctx context.Context) (int, bool, error) {
	var dims int
	err := s.db.QueryRowContext(ctx, `SELECT dimensions FROM collections WHERE name = ?`, s.collection).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return dims, true, nil
}

// EnsureCollection registers the collection if it is missing.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimensions) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		s.collection, dims)
	if err != nil {
		return s.unavailable(err)
	}
	return nil
}

// ReplaceAll deletes every point of the collection, records the new dimensions and
// inserts points in one transaction, so readers see either the old set or the new one.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, dims int, points []*models.IndexPoint) error {
	if dims <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.unavailable(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE collection = ?`, s.collection); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (name, dimensions) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET dimensions = excluded.dimensions, created_at = CURRENT_TIMESTAMP`,
		s.collection, dims); err != nil {
		return err
	}
	if err := s.writePoints(ctx, tx, dims, points); err != nil {
		return err
	}
	return tx.Commit()
}

// Upsert inserts or replaces points in a single transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, points []*models.IndexPoint) error {
	if len(points) == 0 {
		return nil
	}
	dims, ok, err := s.dimensions(ctx)
	if err != nil {
		return s.unavailable(err)
	}
	if !ok {
		return fmt.Errorf("collection %s does not exist", s.collection)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.unavailable(err)
	}
	defer tx.Rollback()
	if err := s.writePoints(ctx, tx, dims, points); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) writePoints(ctx context.Context, tx *sql.Tx, dims int, points []*models.IndexPoint) error {
	if len(points) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO points (collection, id, vector, text, search_text, embedding_model, metadata, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET
		   vector = excluded.vector,
		   text = excluded.text,
		   search_text = excluded.search_text,
		   embedding_model = excluded.embedding_model,
		   metadata = excluded.metadata,
		   indexed_at = excluded.indexed_at`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if len(p.Vector) != dims {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", p.ID, len(p.Vector), dims)
		}
		metadataJSON, err := json.Marshal(p.Payload.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		searchText := p.Payload.SearchText
		if searchText == "" {
			searchText = strings.ToLower(p.Payload.Text)
		}
		indexedAt := p.Payload.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, s.collection, p.ID, float32SliceToBytes(p.Vector), p.Payload.Text,
			searchText, p.Payload.EmbeddingModel, string(metadataJSON), indexedAt.UTC()); err != nil {
			return err
		}
	}
	return nil
}

// QueryByVector scans every vector of the collection.
func (s *SQLiteStore) QueryByVector(ctx context.Context, vector []float32, topN int) ([]models.ScoredID, error) {
	if topN <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector FROM points WHERE collection = ?`, s.collection)
	if err != nil {
		return nil, s.unavailable(err)
	}
	defer rows.Close()

	var hits []models.ScoredID
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		hits = append(hits, models.ScoredID{ID: id, Score: utils.Cosine(vector, bytesToFloat32Slice(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	models.SortScored(hits)
	if len(hits) > topN {
		hits = hits[:topN]
	}
	return hits, nil
}

// QueryByKeyword matches term as a substring of the lower-cased search text.
func (s *SQLiteStore) QueryByKeyword(ctx context.Context, term string, topN int) ([]string, error) {
	term = strings.ToLower(term)
	if topN <= 0 || term == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM points WHERE collection = ? AND instr(search_text, ?) > 0 ORDER BY id LIMIT ?`,
		s.collection, term, topN)
	if err != nil {
		return nil, s.unavailable(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetPayload returns the payload stored for id.
func (s *SQLiteStore) GetPayload(ctx context.Context, id string) (*models.Payload, error) {
	var p models.Payload
	var metadataJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, text, search_text, embedding_model, metadata, indexed_at
		 FROM points WHERE collection = ? AND id = ?`, s.collection, id,
	).Scan(&p.TranscriptID, &p.Text, &p.SearchText, &p.EmbeddingModel, &metadataJSON, &p.IndexedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, s.unavailable(err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &p, nil
}

// ExistingIDs looks ids up in batches of IN queries.
func (s *SQLiteStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(ids); start += idLookupBatch {
		batch := ids[start:min(start+idLookupBatch, len(ids))]
		args := make([]any, 0, len(batch)+1)
		args = append(args, s.collection)
		for _, id := range batch {
			args = append(args, id)
		}
		query := `SELECT id FROM points WHERE collection = ? AND id IN (?` + strings.Repeat(",?", len(batch)-1) + `)`
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, s.unavailable(err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			found[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return found, nil
}

// Count returns the number of points in the collection.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE collection = ?`, s.collection).Scan(&count)
	if err != nil {
		return 0, s.unavailable(err)
	}
	return count, nil
}

// CountOtherModels counts points embedded by a model other than model.
func (s *SQLiteStore) CountOtherModels(ctx context.Context, model string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM points WHERE collection = ? AND embedding_model <> ?`, s.collection, model).Scan(&count)
	if err != nil {
		return 0, s.unavailable(err)
	}
	return count, nil
}

// Health pings the database and checks that the collection is registered.
func (s *SQLiteStore) Health(ctx context.Context) (models.Health, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return models.HealthUnavailable, s.unavailable(err)
	}
	_, ok, err := s.dimensions(ctx)
	if err != nil {
		return models.HealthUnavailable, s.unavailable(err)
	}
	if !ok {
		return models.HealthDegraded, nil
	}
	return models.HealthConnected, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &models.StoreUnavailableError{Store: "sqlite", Err: err}
}

func float32SliceToBytes(s []float32) []byte {
	b := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func bytesToFloat32Slice(b []byte) []float32 {
	s := make([]float32, len(b)/4)
	for i := range s {
		s[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return s
}
