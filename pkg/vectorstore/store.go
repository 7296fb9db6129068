// Package vectorstore stores embedded chunks with owner/session payloads and answers scoped
// similarity queries.
package vectorstore

import (
	"context"
	"errors"
)

// Payload keys, shared by every backend and indexed as keywords.
const (
	FieldUserID     = "userId"
	FieldSessionID  = "sessionId"
	FieldFileName   = "fileName"
	FieldUploadedAt = "uploadedAt"
	FieldText       = "text"
)

// IndexedFields are the payload fields declared as keyword indexes.
var IndexedFields = []string{FieldUserID, FieldSessionID, FieldFileName, FieldUploadedAt}

// ErrUnscopedFilter is returned when a filter lacks the owner or session.
var ErrUnscopedFilter = errors.New("vectorstore: filter requires user id and session id")

// ErrDimensionMismatch is returned when an existing collection or a vector has the wrong size.
var ErrDimensionMismatch = errors.New("vectorstore: vector dimension mismatch")

// Payload is the metadata stored alongside each vector.
type Payload struct {
	UserID     string `json:"userId"`
	SessionID  string `json:"sessionId"`
	FileName   string `json:"fileName"`
	UploadedAt string `json:"uploadedAt"`
	Text       string `json:"text"`
}

// Point is one vector entry.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Match is a scored search hit.
type Match struct {
	Score   float32
	Payload Payload
}

// Filter scopes search and delete. FileName is optional.
type Filter struct {
	UserID    string
	SessionID string
	FileName  string
}

// Validate rejects filters without owner and session.
func (f Filter) Validate() error {
	if f.UserID == "" || f.SessionID == "" {
		return ErrUnscopedFilter
	}
	return nil
}

// Store is the vector index contract.
type Store interface {
	// EnsureSchema creates the collection and payload indexes when missing. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error
	// Upsert inserts or replaces points by id. A partial failure is reported as an error.
	Upsert(ctx context.Context, points []Point) error
	// Search returns at most k matches ordered by descending cosine similarity.
	Search(ctx context.Context, vector []float32, filter Filter, k int) ([]Match, error)
	// Delete removes every point matching filter. Matching nothing is not an error.
	Delete(ctx context.Context, filter Filter) error
}

func validatePoints(points []Point, dim int) error {
	for _, p := range points {
		if err := (Filter{UserID: p.Payload.UserID, SessionID: p.Payload.SessionID}).Validate(); err != nil {
			return err
		}
		if dim > 0 && len(p.Vector) != dim {
			return ErrDimensionMismatch
		}
	}
	return nil
}
