package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant keeps one collection in memory and answers the REST calls the client makes.
type fakeQdrant struct {
	mu          sync.Mutex
	size        int
	exists      bool
	indexes     map[string]bool
	creates     int
	indexCalls  int
	store       *Memory
	lastAPIKey  string
	lastFilters []qdrantFilter
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	f := &fakeQdrant{indexes: map[string]bool{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQdrant) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAPIKey = r.Header.Get("api-key")

	path := strings.TrimPrefix(r.URL.Path, "/collections/RAG_FILES")
	switch {
	case r.Method == http.MethodGet && path == "":
		if !f.exists {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		schema := map[string]any{}
		for k := range f.indexes {
			schema[k] = map[string]any{"data_type": "keyword"}
		}
		writeJSON(w, map[string]any{"result": map[string]any{
			"config":         map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size, "distance": "Cosine"}}},
			"payload_schema": schema,
		}})
	case r.Method == http.MethodPut && path == "":
		if f.exists {
			http.Error(w, `{"status":{"error":"already exists"}}`, http.StatusConflict)
			return
		}
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.exists, f.size, f.creates = true, body.Vectors.Size, f.creates+1
		f.store = NewMemory(f.size)
		writeJSON(w, map[string]any{"result": true})
	case r.Method == http.MethodPut && path == "/index":
		var body struct {
			FieldName string `json:"field_name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.indexes[body.FieldName] = true
		f.indexCalls++
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	case !f.exists:
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
	case r.Method == http.MethodPut && path == "/points":
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		points := make([]Point, 0, len(body.Points))
		for _, p := range body.Points {
			points = append(points, Point{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
		}
		if err := f.store.Upsert(context.Background(), points); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	case r.Method == http.MethodPost && path == "/points/search":
		var body struct {
			Vector []float32    `json:"vector"`
			Limit  int          `json:"limit"`
			Filter qdrantFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastFilters = append(f.lastFilters, body.Filter)
		matches, _ := f.store.Search(context.Background(), body.Vector, fromQdrantFilter(body.Filter), body.Limit)
		result := make([]map[string]any, 0, len(matches))
		for _, m := range matches {
			result = append(result, map[string]any{"score": m.Score, "payload": m.Payload})
		}
		writeJSON(w, map[string]any{"result": result})
	case r.Method == http.MethodPost && path == "/points/delete":
		var body struct {
			Filter qdrantFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastFilters = append(f.lastFilters, body.Filter)
		_ = f.store.Delete(context.Background(), fromQdrantFilter(body.Filter))
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func fromQdrantFilter(qf qdrantFilter) Filter {
	var f Filter
	for _, c := range qf.Must {
		switch c.Key {
		case FieldUserID:
			f.UserID = c.Match.Value
		case FieldSessionID:
			f.SessionID = c.Match.Value
		case FieldFileName:
			f.FileName = c.Match.Value
		}
	}
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestQdrantEnsureSchemaIsIdempotent(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	q := NewQdrant(QdrantOptions{URL: srv.URL, APIKey: "k", Collection: "RAG_FILES", Dimension: 3})
	ctx := context.Background()

	require.NoError(t, q.EnsureSchema(ctx))
	require.NoError(t, q.EnsureSchema(ctx))

	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, 3, fake.size)
	assert.Equal(t, len(IndexedFields), fake.indexCalls, "indexes are only declared while missing")
	for _, field := range IndexedFields {
		assert.True(t, fake.indexes[field], field)
	}
	assert.Equal(t, "k", fake.lastAPIKey)
}

func TestQdrantEnsureSchemaRejectsDimensionMismatch(t *testing.T) {
	_, srv := newFakeQdrant(t)
	ctx := context.Background()
	require.NoError(t, NewQdrant(QdrantOptions{URL: srv.URL, Collection: "RAG_FILES", Dimension: 3}).EnsureSchema(ctx))

	err := NewQdrant(QdrantOptions{URL: srv.URL, Collection: "RAG_FILES", Dimension: 4}).EnsureSchema(ctx)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQdrantRoundTripScopedBySession(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	q := NewQdrant(QdrantOptions{URL: srv.URL, Collection: "RAG_FILES", Dimension: 2})
	ctx := context.Background()
	require.NoError(t, q.EnsureSchema(ctx))

	require.NoError(t, q.Upsert(ctx, []Point{
		point("7f1d3c1e-0000-4000-8000-000000000001", "u1", "s1", "a.txt", "alpha", 1, 0),
		point("7f1d3c1e-0000-4000-8000-000000000002", "u1", "s1", "a.txt", "beta", 0, 1),
	}))

	got, err := q.Search(ctx, []float32{1, 0}, Filter{UserID: "u1", SessionID: "s1"}, 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Payload.Text)

	got, err = q.Search(ctx, []float32{1, 0}, Filter{UserID: "u1", SessionID: "s2"}, 4)
	require.NoError(t, err)
	assert.Empty(t, got)

	last := fake.lastFilters[len(fake.lastFilters)-1]
	require.Len(t, last.Must, 2)
	assert.Equal(t, FieldUserID, last.Must[0].Key)
	assert.Equal(t, FieldSessionID, last.Must[1].Key)

	require.NoError(t, q.Delete(ctx, Filter{UserID: "u1", SessionID: "s1", FileName: "a.txt"}))
	last = fake.lastFilters[len(fake.lastFilters)-1]
	assert.Len(t, last.Must, 3)

	got, err = q.Search(ctx, []float32{1, 0}, Filter{UserID: "u1", SessionID: "s1"}, 4)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQdrantSearchMissingCollectionIsEmpty(t *testing.T) {
	_, srv := newFakeQdrant(t)
	q := NewQdrant(QdrantOptions{URL: srv.URL, Collection: "RAG_FILES", Dimension: 2})

	got, err := q.Search(context.Background(), []float32{1, 0}, Filter{UserID: "u", SessionID: "s"}, 4)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, q.Delete(context.Background(), Filter{UserID: "u", SessionID: "s"}))
}

func TestQdrantUpsertSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	q := NewQdrant(QdrantOptions{URL: srv.URL, Collection: "RAG_FILES", Dimension: 2})

	err := q.Upsert(context.Background(), []Point{point("id", "u", "s", "f", "t", 1, 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
