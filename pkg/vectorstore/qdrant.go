package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ragchat/pkg/log"
)

// Qdrant is a REST client for one Qdrant collection using cosine distance.
type Qdrant struct {
	baseURL    string
	apiKey     string
	collection string
	dim        int
	client     *http.Client
}

// QdrantOptions configures NewQdrant.
type QdrantOptions struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// NewQdrant creates a client. It performs no I/O.
func NewQdrant(opts QdrantOptions) *Qdrant {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		dim:        opts.Dimension,
		client:     &http.Client{Timeout: timeout},
	}
}

type qdrantCondition struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

type qdrantCollectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
		PayloadSchema map[string]json.RawMessage `json:"payload_schema"`
	} `json:"result"`
}

type qdrantSearchResponse struct {
	Result []struct {
		Score   float32 `json:"score"`
		Payload Payload `json:"payload"`
	} `json:"result"`
}

// statusError carries the HTTP status of a failed Qdrant call.
type statusError struct {
	method string
	path   string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s: status %d: %s", e.method, e.path, e.status, e.body)
}

func isStatus(err error, status int) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == status
}

// EnsureSchema creates the collection when missing, verifies its dimension and declares the
// keyword payload indexes. Concurrent callers are safe: a lost create race returns 409 and is ignored.
func (q *Qdrant) EnsureSchema(ctx context.Context) error {
	var info qdrantCollectionInfo
	err := q.do(ctx, http.MethodGet, q.collectionPath(), nil, &info)
	switch {
	case err == nil:
		if size := info.Result.Config.Params.Vectors.Size; size != q.dim {
			return fmt.Errorf("%w: collection %q has size %d, want %d", ErrDimensionMismatch, q.collection, size, q.dim)
		}
		log.Infof("[Qdrant] collection '%s' exists", q.collection)
	case isStatus(err, http.StatusNotFound):
		body := map[string]any{
			"vectors": map[string]any{"size": q.dim, "distance": "Cosine"},
		}
		if err := q.do(ctx, http.MethodPut, q.collectionPath(), body, nil); err != nil && !isStatus(err, http.StatusConflict) {
			return fmt.Errorf("create collection: %w", err)
		}
		log.Infof("[Qdrant] collection '%s' created, size %d", q.collection, q.dim)
	default:
		return fmt.Errorf("get collection: %w", err)
	}

	for _, field := range IndexedFields {
		if _, ok := info.Result.PayloadSchema[field]; ok {
			continue
		}
		body := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := q.do(ctx, http.MethodPut, q.collectionPath()+"/index?wait=true", body, nil); err != nil {
			return fmt.Errorf("create payload index %s: %w", field, err)
		}
	}
	return nil
}

// Upsert writes the batch and waits for it to be applied.
func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := validatePoints(points, q.dim); err != nil {
		return err
	}
	body := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: make([]qdrantPoint, 0, len(points))}
	for _, p := range points {
		body.Points = append(body.Points, qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}
	if err := q.do(ctx, http.MethodPut, q.collectionPath()+"/points?wait=true", body, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search runs a filtered top-k query. A missing collection yields no matches.
func (q *Qdrant) Search(ctx context.Context, vector []float32, filter Filter, k int) ([]Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"filter":       toQdrantFilter(filter),
	}
	var resp qdrantSearchResponse
	if err := q.do(ctx, http.MethodPost, q.collectionPath()+"/points/search", body, &resp); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return []Match{}, nil
		}
		return nil, fmt.Errorf("search: %w", err)
	}
	matches := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		matches = append(matches, Match{Score: r.Score, Payload: r.Payload})
	}
	return matches, nil
}

// Delete removes points by filter and waits for completion.
func (q *Qdrant) Delete(ctx context.Context, filter Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	body := map[string]any{"filter": toQdrantFilter(filter)}
	if err := q.do(ctx, http.MethodPost, q.collectionPath()+"/points/delete?wait=true", body, nil); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil
		}
		return fmt.Errorf("delete by filter: %w", err)
	}
	return nil
}

func toQdrantFilter(f Filter) qdrantFilter {
	must := []qdrantCondition{cond(FieldUserID, f.UserID), cond(FieldSessionID, f.SessionID)}
	if f.FileName != "" {
		must = append(must, cond(FieldFileName, f.FileName))
	}
	return qdrantFilter{Must: must}
}

func cond(key, value string) qdrantCondition {
	c := qdrantCondition{Key: key}
	c.Match.Value = value
	return c
}

func (q *Qdrant) collectionPath() string {
	return "/collections/" + url.PathEscape(q.collection)
}

func (q *Qdrant) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{method: method, path: path, status: resp.StatusCode, body: string(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	return nil
}
