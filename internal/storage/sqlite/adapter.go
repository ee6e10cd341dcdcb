package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/models"
	"visitor-tracker/internal/storage"
)

// Config holds SQLite settings
type Config struct {
	DatabasePath string `json:"database_path"`
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("sqlite database path is required")
	}
	return nil
}

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under the flusher's concurrent batch appends.
	db.SetMaxOpenConns(1)

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS visitors (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			email TEXT DEFAULT '',
			name TEXT DEFAULT '',
			phone TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'ANONYMOUS',
			metadata TEXT DEFAULT '{}',
			enriched TEXT DEFAULT NULL,
			visits INTEGER NOT NULL DEFAULT 1,
			total_time_spent INTEGER NOT NULL DEFAULT 0,
			first_seen DATETIME NOT NULL,
			last_seen DATETIME NOT NULL,
			last_enriched DATETIME DEFAULT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			tags TEXT DEFAULT '[]',
			gdpr_consent BOOLEAN NOT NULL DEFAULT 0,
			retention_date DATETIME DEFAULT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_visitors_company ON visitors (company_id)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id TEXT PRIMARY KEY,
			visitor_id TEXT NOT NULL,
			type TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			data TEXT DEFAULT '{}',
			gdpr_compliant BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_visitor ON activities (visitor_id, occurred_at)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const visitorColumns = `id, company_id, email, name, phone, status, metadata, enriched,
	visits, total_time_spent, first_seen, last_seen, last_enriched, is_active, tags,
	gdpr_consent, retention_date`

func (a *Adapter) GetVisitor(ctx context.Context, id string) (*models.Visitor, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+visitorColumns+` FROM visitors WHERE id = ?`, id)

	visitor, err := scanVisitor(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("visitor").WithContext("id", id)
	}
	if err != nil {
		return nil, errors.TransientStoreError("failed to load visitor", err)
	}

	return visitor, nil
}

func (a *Adapter) CreateVisitor(ctx context.Context, visitor *models.Visitor) error {
	metadata, enriched, tags, err := marshalVisitorJSON(visitor)
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO visitors (`+visitorColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		visitor.ID, visitor.CompanyID, visitor.Email, visitor.Name, visitor.Phone,
		string(visitor.Status), metadata, nullableBytes(enriched), visitor.Visits,
		visitor.TotalTimeSpent, visitor.FirstSeen, visitor.LastSeen, visitor.LastEnriched,
		visitor.IsActive, tags, visitor.GDPRConsent, visitor.RetentionDate)
	if err != nil {
		return errors.TransientStoreError("failed to create visitor", err)
	}

	return nil
}

func (a *Adapter) UpdateVisitor(ctx context.Context, id string, update storage.VisitorUpdate) (*models.Visitor, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.TransientStoreError("failed to begin update", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+visitorColumns+` FROM visitors WHERE id = ?`, id)

	visitor, err := scanVisitor(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("visitor").WithContext("id", id)
	}
	if err != nil {
		return nil, errors.TransientStoreError("failed to load visitor for update", err)
	}

	update.Apply(visitor)

	metadata, enriched, tags, err := marshalVisitorJSON(visitor)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE visitors SET email = ?, name = ?, phone = ?, status = ?, metadata = ?,
		 enriched = ?, visits = ?, total_time_spent = ?, last_seen = ?, last_enriched = ?,
		 is_active = ?, tags = ?, gdpr_consent = ?, retention_date = ?
		 WHERE id = ?`,
		visitor.Email, visitor.Name, visitor.Phone, string(visitor.Status), metadata,
		nullableBytes(enriched), visitor.Visits, visitor.TotalTimeSpent, visitor.LastSeen,
		visitor.LastEnriched, visitor.IsActive, tags, visitor.GDPRConsent,
		visitor.RetentionDate, id)
	if err != nil {
		return nil, errors.TransientStoreError("failed to update visitor", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.TransientStoreError("failed to commit update", err)
	}

	return visitor, nil
}

func (a *Adapter) AppendActivities(ctx context.Context, visitorID string, activities []models.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.TransientStoreError("failed to begin activity append", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO activities (id, visitor_id, type, occurred_at, data, gdpr_compliant)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.TransientStoreError("failed to prepare activity insert", err)
	}
	defer stmt.Close()

	for _, act := range activities {
		data, err := json.Marshal(act.Data)
		if err != nil {
			return errors.InternalError("failed to marshal activity data", err)
		}
		if _, err := stmt.ExecContext(ctx, act.ID, visitorID, act.Type, act.Timestamp, data, act.GDPRCompliant); err != nil {
			return errors.TransientStoreError("failed to append activity", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.TransientStoreError("failed to commit activity append", err)
	}

	return nil
}

func (a *Adapter) GetActivities(ctx context.Context, visitorID string, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, visitor_id, type, occurred_at, data, gdpr_compliant
		 FROM activities WHERE visitor_id = ? ORDER BY occurred_at ASC LIMIT ?`,
		visitorID, limit)
	if err != nil {
		return nil, errors.TransientStoreError("failed to load activities", err)
	}
	defer rows.Close()

	var activities []models.Activity
	for rows.Next() {
		var act models.Activity
		var data []byte
		if err := rows.Scan(&act.ID, &act.VisitorID, &act.Type, &act.Timestamp, &data, &act.GDPRCompliant); err != nil {
			return nil, errors.TransientStoreError("failed to scan activity", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &act.Data); err != nil {
				return nil, errors.InternalError("failed to unmarshal activity data", err)
			}
		}
		activities = append(activities, act)
	}

	return activities, rows.Err()
}

func (a *Adapter) DeleteVisitor(ctx context.Context, id string) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM visitors WHERE id = ?`, id)
	if err != nil {
		return errors.TransientStoreError("failed to delete visitor", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NotFoundError("visitor").WithContext("id", id)
	}

	return nil
}

func (a *Adapter) DeleteActivities(ctx context.Context, visitorID string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM activities WHERE visitor_id = ?`, visitorID); err != nil {
		return errors.TransientStoreError("failed to delete activities", err)
	}
	return nil
}

func (a *Adapter) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Visitor, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT `+visitorColumns+` FROM visitors
		 WHERE retention_date IS NOT NULL AND retention_date < ?
		 ORDER BY retention_date ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, errors.TransientStoreError("failed to list expired visitors", err)
	}
	defer rows.Close()

	var expired []*models.Visitor
	for rows.Next() {
		visitor, err := scanVisitor(rows)
		if err != nil {
			return nil, errors.TransientStoreError("failed to scan visitor", err)
		}
		expired = append(expired, visitor)
	}

	return expired, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVisitor(row scanner) (*models.Visitor, error) {
	var visitor models.Visitor
	var status string
	var metadata, tags []byte
	var enriched sql.NullString
	var lastEnriched, retentionDate sql.NullTime

	err := row.Scan(&visitor.ID, &visitor.CompanyID, &visitor.Email, &visitor.Name,
		&visitor.Phone, &status, &metadata, &enriched, &visitor.Visits,
		&visitor.TotalTimeSpent, &visitor.FirstSeen, &visitor.LastSeen, &lastEnriched,
		&visitor.IsActive, &tags, &visitor.GDPRConsent, &retentionDate)
	if err != nil {
		return nil, err
	}

	visitor.Status = models.VisitorStatus(status)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &visitor.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal visitor metadata: %w", err)
		}
	}
	if enriched.Valid && enriched.String != "" {
		visitor.Enriched = &models.EnrichedData{}
		if err := json.Unmarshal([]byte(enriched.String), visitor.Enriched); err != nil {
			return nil, fmt.Errorf("failed to unmarshal enriched data: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &visitor.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal visitor tags: %w", err)
		}
	}
	if lastEnriched.Valid {
		visitor.LastEnriched = &lastEnriched.Time
	}
	if retentionDate.Valid {
		visitor.RetentionDate = &retentionDate.Time
	}

	return &visitor, nil
}

func marshalVisitorJSON(visitor *models.Visitor) (metadata, enriched, tags []byte, err error) {
	metadata, err = json.Marshal(visitor.Metadata)
	if err != nil {
		return nil, nil, nil, errors.InternalError("failed to marshal visitor metadata", err)
	}

	if visitor.Enriched != nil {
		enriched, err = json.Marshal(visitor.Enriched)
		if err != nil {
			return nil, nil, nil, errors.InternalError("failed to marshal enriched data", err)
		}
	}

	if visitor.Tags == nil {
		tags = []byte("[]")
	} else {
		tags, err = json.Marshal(visitor.Tags)
		if err != nil {
			return nil, nil, nil, errors.InternalError("failed to marshal visitor tags", err)
		}
	}

	return metadata, enriched, tags, nil
}

// nullableBytes maps an empty slice to SQL NULL so absent enrichment stays
// NULL instead of an empty string.
func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
