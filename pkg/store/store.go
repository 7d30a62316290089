// Package store contains the persistence adapters for the coordinator.
// All SQL lives here; the coordinator never builds SQL itself. Queries
// run on the shared pool, or on a pinned connection when the caller is
// inside an advisory-lock critical section.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")
)

// Store bundles the persistence adapters over one connection pool.
type Store struct {
	db *sql.DB
}

// New creates a Store over the given pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// marshalDoc serializes a document for a JSONB column. Nil documents
// persist as empty objects.
func marshalDoc(d models.Document) ([]byte, error) {
	if d == nil {
		d = models.Document{}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return b, nil
}

// unmarshalDoc deserializes a JSONB column into a document.
func unmarshalDoc(raw []byte) (models.Document, error) {
	if len(raw) == 0 {
		return models.Document{}, nil
	}
	var d models.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return d, nil
}

// nullUUID converts an optional uuid for a nullable column.
func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	type sqlState interface{ SQLState() string }
	var st sqlState
	return errors.As(err, &st) && st.SQLState() == "23505"
}
