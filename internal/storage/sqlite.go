package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/temuan/internal/matcherr"
	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/textfeat"
	"github.com/hyperjump/temuan/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		item_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		image_refs TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		claimed_by TEXT NOT NULL DEFAULT '',
		claimed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_collection_status ON items(collection, status);
	CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);

	CREATE TABLE IF NOT EXISTS embeddings (
		item_id TEXT NOT NULL,
		modality TEXT NOT NULL,
		vector BLOB NOT NULL,
		dimensions INTEGER NOT NULL,
		model_version INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (item_id, modality)
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		match_id TEXT NOT NULL,
		is_correct INTEGER NOT NULL,
		match_type TEXT NOT NULL,
		match_score REAL NOT NULL,
		item_category TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		created_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_ns);

	CREATE TABLE IF NOT EXISTS threshold_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS text_model (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// CreateItem stores a new item.
func (s *SQLiteStorage) CreateItem(ctx context.Context, item *models.Item) error {
	refs, err := json.Marshal(nonNilStrings(item.ImageRefs))
	if err != nil {
		return fmt.Errorf("failed to marshal image refs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (id, collection, item_name, description, category, location, image_refs,
			status, claimed_by, claimed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, string(item.Collection), item.Name, item.Description, item.Category, item.Location,
		string(refs), string(item.Status), item.ClaimedBy, nullTime(item.ClaimedAt),
		item.CreatedAt.UTC(), item.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

const itemColumns = `id, collection, item_name, description, category, location, image_refs,
	status, claimed_by, claimed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var item models.Item
	var collection, status, refs string
	var claimedAt sql.NullTime
	if err := row.Scan(&item.ID, &collection, &item.Name, &item.Description, &item.Category,
		&item.Location, &refs, &status, &item.ClaimedBy, &claimedAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Collection = models.Collection(collection)
	item.Status = models.Status(status)
	if refs != "" {
		if err := json.Unmarshal([]byte(refs), &item.ImageRefs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal image refs: %w", err)
		}
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		item.ClaimedAt = &t
	}
	return &item, nil
}

// GetItem returns the item with id or a NotFoundError.
func (s *SQLiteStorage) GetItem(ctx context.Context, id string) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, matcherr.NewNotFound("item", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// ListItems returns items newest first. An empty collection lists both.
func (s *SQLiteStorage) ListItems(ctx context.Context, collection models.Collection, offset, limit int) ([]*models.Item, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + itemColumns + ` FROM items`
	args := []any{}
	if collection != "" {
		query += ` WHERE collection = ?`
		args = append(args, string(collection))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItemStatus moves an item to status. Claiming records the claimant and time.
func (s *SQLiteStorage) UpdateItemStatus(ctx context.Context, id string, status models.Status, claimedBy string) (*models.Item, error) {
	now := time.Now().UTC()
	var claimedAt any
	if status == models.StatusClaimed {
		claimedAt = now
	} else {
		claimedBy = ""
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET status = ?, claimed_by = ?, claimed_at = ?, updated_at = ? WHERE id = ?
	`, string(status), claimedBy, claimedAt, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update item status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, matcherr.NewNotFound("item", id)
	}
	return s.GetItem(ctx, id)
}

// DeleteItem removes an item and its embeddings.
func (s *SQLiteStorage) DeleteItem(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return matcherr.NewNotFound("item", id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE item_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return tx.Commit()
}

// CountItems counts items in collection, or all items when collection is empty.
func (s *SQLiteStorage) CountItems(ctx context.Context, collection models.Collection) (int64, error) {
	var count int64
	var err error
	if collection == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE collection = ?", string(collection)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// Descriptions returns every non-empty description across both collections, oldest first.
func (s *SQLiteStorage) Descriptions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT description FROM items WHERE TRIM(description) != '' ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query descriptions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan description: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Corpus returns the searchable items of collection joined with their modality embedding.
func (s *SQLiteStorage) Corpus(ctx context.Context, modality models.Modality, collection models.Collection) ([]*models.CorpusEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.status, i.category, i.item_name, i.description, i.created_at,
			e.vector, COALESCE(e.model_version, 0)
		FROM items i
		LEFT JOIN embeddings e ON e.item_id = i.id AND e.modality = ?
		WHERE i.collection = ? AND i.status IN (?, ?)
		ORDER BY i.created_at, i.id
	`, string(modality), string(collection), string(models.StatusAvailable), string(models.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query corpus: %w", err)
	}
	defer rows.Close()

	var entries []*models.CorpusEntry
	for rows.Next() {
		entry := &models.CorpusEntry{Modality: modality}
		var status string
		var blob []byte
		if err := rows.Scan(&entry.ID, &status, &entry.Category, &entry.Name, &entry.Description,
			&entry.CreatedAt, &blob, &entry.ModelVersion); err != nil {
			return nil, fmt.Errorf("failed to scan corpus entry: %w", err)
		}
		entry.Status = models.Status(status)
		if len(blob) > 0 {
			if entry.Embedding, err = vector.Decode(blob); err != nil {
				return nil, fmt.Errorf("failed to decode embedding for %s: %w", entry.ID, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PutEmbedding stores or replaces the embedding of one item for modality.
func (s *SQLiteStorage) PutEmbedding(ctx context.Context, itemID string, modality models.Modality, embedding []float32, version int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (item_id, modality, vector, dimensions, model_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, modality) DO UPDATE SET
			vector = excluded.vector,
			dimensions = excluded.dimensions,
			model_version = excluded.model_version,
			updated_at = excluded.updated_at
	`, itemID, string(modality), vector.Encode(embedding), len(embedding), version, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store %s embedding: %w", modality, err)
	}
	return nil
}

// AppendFeedback writes one feedback record. Records are never updated.
func (s *SQLiteStorage) AppendFeedback(ctx context.Context, rec *models.FeedbackRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, match_id, is_correct, match_type, match_score, item_category, user_id, created_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.MatchID, rec.IsCorrect, string(rec.MatchType), rec.MatchScore,
		rec.ItemCategory, rec.UserID, rec.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// RecentFeedback returns records at or after since, most recent first.
func (s *SQLiteStorage) RecentFeedback(ctx context.Context, since time.Time, limit int) ([]*models.FeedbackRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, match_id, is_correct, match_type, match_score, item_category, user_id, created_ns
		FROM feedback WHERE created_ns >= ?
		ORDER BY created_ns DESC, id LIMIT ?
	`, since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []*models.FeedbackRecord
	for rows.Next() {
		var rec models.FeedbackRecord
		var matchType string
		var ns int64
		if err := rows.Scan(&rec.ID, &rec.MatchID, &rec.IsCorrect, &matchType, &rec.MatchScore,
			&rec.ItemCategory, &rec.UserID, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		rec.MatchType = models.MatchType(matchType)
		rec.Timestamp = time.Unix(0, ns).UTC()
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// CountFeedback returns the total number of feedback records.
func (s *SQLiteStorage) CountFeedback(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return count, nil
}

// GetThresholdConfig returns the stored config; ok is false when none was written yet.
func (s *SQLiteStorage) GetThresholdConfig(ctx context.Context) (*models.ThresholdConfig, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM threshold_config WHERE id = 1").Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get threshold config: %w", err)
	}
	var cfg models.ThresholdConfig
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal threshold config: %w", err)
	}
	return &cfg, true, nil
}

// SetThresholdConfig replaces the stored config.
func (s *SQLiteStorage) SetThresholdConfig(ctx context.Context, cfg *models.ThresholdConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal threshold config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threshold_config (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, string(payload), cfg.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store threshold config: %w", err)
	}
	return nil
}

// SaveTextModel persists the fitted text model, replacing the previous one.
func (s *SQLiteStorage) SaveTextModel(ctx context.Context, m *textfeat.Model) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal text model: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO text_model (id, version, fingerprint, payload, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			fingerprint = excluded.fingerprint,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, m.Version, m.Fingerprint, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store text model: %w", err)
	}
	return nil
}

// LoadTextModel returns the persisted text model. The caller restores its lookup tables.
func (s *SQLiteStorage) LoadTextModel(ctx context.Context) (*textfeat.Model, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM text_model WHERE id = 1").Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get text model: %w", err)
	}
	var m textfeat.Model
	if err := json.NewDecoder(strings.NewReader(payload)).Decode(&m); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal text model: %w", err)
	}
	return &m, true, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
