package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ragchat/pkg/log"
)

// Elastic stores points in an Elasticsearch index with a dense_vector field and queries it with knn.
type Elastic struct {
	client *elasticsearch.Client
	index  string
	dim    int
}

// ElasticOptions configures NewElastic.
type ElasticOptions struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	Dimension int
}

// NewElastic creates the client. It performs no I/O.
func NewElastic(opts ElasticOptions) (*Elastic, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Elastic{client: client, index: strings.ToLower(opts.Index), dim: opts.Dimension}, nil
}

type esDocument struct {
	Payload
	Vector []float32 `json:"vector"`
}

func (e *Elastic) mapping() string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"userId":     { "type": "keyword" },
				"sessionId":  { "type": "keyword" },
				"fileName":   { "type": "keyword" },
				"uploadedAt": { "type": "keyword" },
				"text":       { "type": "text", "index": false },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, e.dim)
}

// EnsureSchema creates the index when missing and checks the vector dimension of an existing one.
func (e *Elastic) EnsureSchema(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		log.Infof("[Elastic] index '%s' exists", e.index)
		return e.checkDimension(ctx)
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index '%s': unexpected status %d", e.index, res.StatusCode)
	}

	res, err = e.client.Indices.Create(
		e.index,
		e.client.Indices.Create.WithBody(strings.NewReader(e.mapping())),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return e.checkDimension(ctx)
		}
		return fmt.Errorf("create index '%s': %s", e.index, res.Status())
	}
	log.Infof("[Elastic] index '%s' created, dims %d", e.index, e.dim)
	return nil
}

func (e *Elastic) checkDimension(ctx context.Context) error {
	res, err := e.client.Indices.GetMapping(
		e.client.Indices.GetMapping.WithIndex(e.index),
		e.client.Indices.GetMapping.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("get mapping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("get mapping '%s': %s", e.index, res.Status())
	}
	var mappings map[string]struct {
		Mappings struct {
			Properties struct {
				Vector struct {
					Dims int `json:"dims"`
				} `json:"vector"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&mappings); err != nil {
		return fmt.Errorf("decode mapping: %w", err)
	}
	for _, m := range mappings {
		if dims := m.Mappings.Properties.Vector.Dims; dims != e.dim {
			return fmt.Errorf("%w: index %q has dims %d, want %d", ErrDimensionMismatch, e.index, dims, e.dim)
		}
	}
	return nil
}

// Upsert indexes the batch with one bulk request. Per-item failures are reported together.
func (e *Elastic) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := validatePoints(points, e.dim); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range points {
		meta := map[string]any{"index": map[string]any{"_index": e.index, "_id": p.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encode bulk meta: %w", err)
		}
		if err := enc.Encode(esDocument{Payload: p.Payload, Vector: p.Vector}); err != nil {
			return fmt.Errorf("encode bulk doc: %w", err)
		}
	}

	req := esapi.BulkRequest{Body: &buf, Refresh: "true"}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index: %s", res.Status())
	}

	var out struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !out.Errors {
		return nil
	}
	var failed int
	var first string
	for _, item := range out.Items {
		for _, r := range item {
			if r.Status >= 300 {
				failed++
				if first == "" {
					first = r.Error.Reason
				}
			}
		}
	}
	return fmt.Errorf("bulk index: %d of %d documents failed: %s", failed, len(points), first)
}

// Search runs a filtered knn query. Scores are converted back to raw cosine similarity.
func (e *Elastic) Search(ctx context.Context, vector []float32, filter Filter, k int) ([]Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	candidates := k * 10
	if candidates < 100 {
		candidates = 100
	}
	query := map[string]any{
		"size": k,
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": candidates,
			"filter":         esFilter(filter),
		},
		"_source": []string{FieldUserID, FieldSessionID, FieldFileName, FieldUploadedAt, FieldText},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal knn query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return []Match{}, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("knn search: %s", res.Status())
	}

	var out struct {
		Hits struct {
			Hits []struct {
				Score  float32 `json:"_score"`
				Source Payload `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	matches := make([]Match, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		matches = append(matches, Match{Score: 2*h.Score - 1, Payload: h.Source})
	}
	return matches, nil
}

// Delete removes documents by filter with delete_by_query.
func (e *Elastic) Delete(ctx context.Context, filter Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"query": esFilter(filter)})
	if err != nil {
		return fmt.Errorf("marshal delete query: %w", err)
	}
	res, err := e.client.DeleteByQuery(
		[]string{e.index},
		bytes.NewReader(body),
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("delete by query: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return errors.New("delete by query: " + res.Status())
	}
	return nil
}

func esFilter(f Filter) map[string]any {
	terms := []map[string]any{
		{"term": map[string]any{FieldUserID: f.UserID}},
		{"term": map[string]any{FieldSessionID: f.SessionID}},
	}
	if f.FileName != "" {
		terms = append(terms, map[string]any{"term": map[string]any{FieldFileName: f.FileName}})
	}
	return map[string]any{"bool": map[string]any{"filter": terms}}
}
