// Package artifacts persists trained model state: a content-addressed blob
// store for the payloads plus a SQLite index of named, versioned artifacts.
package artifacts

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/phishr/phishr/internal/logging"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrArtifactNotFound is returned when no artifact matches a lookup.
var ErrArtifactNotFound = errors.New("artifacts: artifact not found")

// Kind buckets artifacts by role.
type Kind string

const (
	KindNormalization Kind = "normalization-state"
	KindBaseModel     Kind = "base-model"
	KindEnsembleModel Kind = "ensemble-model"
	KindDatasetSplit  Kind = "dataset-split"
)

// Well-known artifact names.
const (
	NameEnsembleBinary     = "ensemble-binary"
	NameEnsembleMulticlass = "ensemble-multiclass"
	NameNormalization      = "standard"
)

// Artifact is one index row.
type Artifact struct {
	ID            string
	Kind          Kind
	Name          string
	BlobID        string
	SchemaVersion string
	Meta          map[string]string
	CreatedAt     time.Time
}

// Store combines the SQLite index with the blob store.
type Store struct {
	db     *sql.DB
	blobs  *FSStore
	logger logging.Logger
}

// NewStore opens (or initializes) an artifact store rooted at dir.
func NewStore(dir string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewStdoutLogger("artifacts")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "artifacts.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	blobs, err := NewFSStore(filepath.Join(dir, "blobs"))
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("artifact store initialized", logging.Field{Key: "dir", Value: dir})
	return &Store{
		db:     db,
		blobs:  blobs,
		logger: logger.With(logging.Field{Key: "component", Value: "artifacts"}),
	}, nil
}

func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Save stores the payload and indexes it under (kind, name). Re-saving
// identical content creates a new index row pointing at the same blob.
func (s *Store) Save(ctx context.Context, kind Kind, name, schemaVersion string, data []byte, meta map[string]string) (*Artifact, error) {
	blobID, err := s.blobs.Put(data)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}

	a := &Artifact{
		ID:            uuid.New().String(),
		Kind:          kind,
		Name:          name,
		BlobID:        blobID,
		SchemaVersion: schemaVersion,
		Meta:          meta,
		CreatedAt:     time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, kind, name, blob_id, schema_version, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Kind), a.Name, a.BlobID, a.SchemaVersion, string(metaJSON),
		a.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("index artifact: %w", err)
	}

	s.logger.Info("artifact saved",
		logging.Field{Key: "kind", Value: string(kind)},
		logging.Field{Key: "name", Value: name},
		logging.Field{Key: "blob_id", Value: blobID},
		logging.Field{Key: "bytes", Value: len(data)})
	return a, nil
}

// Latest returns the newest artifact for (kind, name) along with its payload.
func (s *Store) Latest(ctx context.Context, kind Kind, name string) (*Artifact, []byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, name, blob_id, schema_version, meta, created_at
		 FROM artifacts WHERE kind = ? AND name = ?
		 ORDER BY created_at DESC LIMIT 1`,
		string(kind), name)

	a, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, kind, name)
		}
		return nil, nil, fmt.Errorf("query artifact: %w", err)
	}

	data, err := s.blobs.Get(a.BlobID)
	if err != nil {
		return nil, nil, fmt.Errorf("load blob for %s/%s: %w", kind, name, err)
	}
	return a, data, nil
}

// modelPreference is the deterministic resolution order at load time: the
// binary ensemble first, then the 3-class ensemble, then single base models.
var modelPreference = []struct {
	Kind Kind
	Name string
}{
	{KindEnsembleModel, NameEnsembleBinary},
	{KindEnsembleModel, NameEnsembleMulticlass},
	{KindBaseModel, "random_forest"},
	{KindBaseModel, "gradient_boosting"},
	{KindBaseModel, "gradient_boosting_shallow"},
}

// ResolveModel walks the preference order and returns the first model
// artifact present. Callers decode the payload themselves.
func (s *Store) ResolveModel(ctx context.Context) (*Artifact, []byte, error) {
	for _, pref := range modelPreference {
		a, data, err := s.Latest(ctx, pref.Kind, pref.Name)
		if errors.Is(err, ErrArtifactNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		s.logger.Info("resolved model artifact",
			logging.Field{Key: "kind", Value: string(a.Kind)},
			logging.Field{Key: "name", Value: a.Name},
			logging.Field{Key: "created_at", Value: a.CreatedAt.Format(time.RFC3339)})
		return a, data, nil
	}
	return nil, nil, fmt.Errorf("%w: no model artifact in preference order", ErrArtifactNotFound)
}

// List returns all artifacts of a kind, newest first.
func (s *Store) List(ctx context.Context, kind Kind) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, blob_id, schema_version, meta, created_at
		 FROM artifacts WHERE kind = ? ORDER BY created_at DESC`,
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*Artifact, error) {
	var a Artifact
	var kind, metaJSON, createdAt string
	if err := row.Scan(&a.ID, &kind, &a.Name, &a.BlobID, &a.SchemaVersion, &metaJSON, &createdAt); err != nil {
		return nil, err
	}
	a.Kind = Kind(kind)
	if err := json.Unmarshal([]byte(metaJSON), &a.Meta); err != nil {
		a.Meta = map[string]string{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		a.CreatedAt = ts
	}
	return &a, nil
}
