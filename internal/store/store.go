// Package store keeps the phase history of OdooClusters for the status API.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

// PhaseRecord is one phase transition of a cluster.
type PhaseRecord struct {
	ID         string         `json:"id"`
	Cluster    string         `json:"cluster"`
	Generation int64          `json:"generation"`
	Previous   v1alpha1.Phase `json:"previous,omitempty"`
	Phase      v1alpha1.Phase `json:"phase"`
	Reason     string         `json:"reason,omitempty"`
	Message    string         `json:"message,omitempty"`
	At         time.Time      `json:"at"`
}

// HistoryStore persists phase transitions.
type HistoryStore interface {
	Record(ctx context.Context, r PhaseRecord) error
	// History returns the newest limit records of cluster, newest first.
	History(ctx context.Context, cluster string, limit int) ([]PhaseRecord, error)
	// Forget removes every record of cluster.
	Forget(ctx context.Context, cluster string) error
	Health(ctx context.Context) error
	Close(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

// DefaultHistoryLimit applies when a caller passes a non-positive limit.
const DefaultHistoryLimit = 50

// prepare stamps the id and time fields for a new record.
func prepare(r PhaseRecord) PhaseRecord {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.At = stamp(r.At)
	return r
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

// EnvOrMemory returns a Postgres store when dsn is set, else an in-memory one.
func EnvOrMemory(ctx context.Context, dsn string) (HistoryStore, error) {
	if dsn == "" {
		return NewMemory(), nil
	}
	return NewPostgresStore(ctx, dsn)
}
