package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for entity persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetServer retrieves the server row for host and port.
	// Returns ErrServerNotFound if the server has not been seen before.
	GetServer(ctx context.Context, host string, port int) (*Server, error)

	// SaveServer inserts or updates a server row.
	SaveServer(ctx context.Context, s *Server) error

	// ListEntities retrieves all entities of a server, ordered by key.
	ListEntities(ctx context.Context, serverID string) ([]Entity, error)

	// SaveEntity inserts or updates one entity.
	SaveEntity(ctx context.Context, serverID string, e *Entity) error

	// DeleteEntities removes entities by key. Unknown keys are ignored.
	DeleteEntities(ctx context.Context, serverID string, keys []string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetServer retrieves the server row for host and port.
func (r *SQLiteRepository) GetServer(ctx context.Context, host string, port int) (*Server, error) {
	query := `
		SELECT id, unique_id, host, port, client_name, add_leds, config_version,
			created_at, updated_at
		FROM servers
		WHERE host = ? AND port = ?`

	var (
		s                    Server
		addLEDs              int
		createdAt, updatedAt string
	)
	err := r.db.QueryRowContext(ctx, query, host, port).Scan(
		&s.ID, &s.UniqueID, &s.Host, &s.Port, &s.ClientName, &addLEDs,
		&s.ConfigVersion, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServerNotFound
		}
		return nil, fmt.Errorf("querying server: %w", err)
	}
	s.AddLEDs = addLEDs != 0
	if s.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &s, nil
}

// SaveServer inserts or updates a server row. CreatedAt and UpdatedAt
// are set when zero.
func (r *SQLiteRepository) SaveServer(ctx context.Context, s *Server) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	query := `
		INSERT INTO servers (id, unique_id, host, port, client_name, add_leds,
			config_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			unique_id = excluded.unique_id,
			host = excluded.host,
			port = excluded.port,
			client_name = excluded.client_name,
			add_leds = excluded.add_leds,
			config_version = excluded.config_version,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.UniqueID,
		s.Host,
		s.Port,
		s.ClientName,
		boolToInt(s.AddLEDs),
		s.ConfigVersion,
		s.CreatedAt.Format(time.RFC3339),
		s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving server: %w", err)
	}
	return nil
}

// ListEntities retrieves all entities of a server, ordered by key.
func (r *SQLiteRepository) ListEntities(ctx context.Context, serverID string) ([]Entity, error) {
	query := `
		SELECT key, unique_id, kind, device_ref, name, created_at, updated_at
		FROM entities
		WHERE server_id = ?
		ORDER BY key`

	rows, err := r.db.QueryContext(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var (
			e                    Entity
			kind                 string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&e.Key, &e.UniqueID, &kind, &e.DeviceRef, &e.Name, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		e.Kind = Kind(kind)
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return entities, nil
}

// SaveEntity inserts or updates one entity. The original created_at is
// kept on update.
func (r *SQLiteRepository) SaveEntity(ctx context.Context, serverID string, e *Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
		INSERT INTO entities (server_id, key, unique_id, kind, device_ref, name,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id, key) DO UPDATE SET
			unique_id = excluded.unique_id,
			kind = excluded.kind,
			device_ref = excluded.device_ref,
			name = excluded.name,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		serverID,
		e.Key,
		e.UniqueID,
		string(e.Kind),
		e.DeviceRef,
		e.Name,
		e.CreatedAt.Format(time.RFC3339),
		e.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving entity %s: %w", e.Key, err)
	}
	return nil
}

// DeleteEntities removes entities by key in one statement.
func (r *SQLiteRepository) DeleteEntities(ctx context.Context, serverID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	query := `DELETE FROM entities WHERE server_id = ? AND key IN (` + placeholders + `)`

	args := make([]any, 0, len(keys)+1)
	args = append(args, serverID)
	for _, k := range keys {
		args = append(args, k)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting entities: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
