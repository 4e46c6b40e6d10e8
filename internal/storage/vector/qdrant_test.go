// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"media-platform/pkg/errors"
)

func newTestQdrant(t *testing.T, handler http.HandlerFunc) *QdrantStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewQdrantStore(srv.URL, "qd-test-key", "media_embeddings")
	if err != nil {
		t.Fatalf("NewQdrantStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func qdrantOK(result interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"result": result,
		})
	}
}

func TestQdrantSearch_Request(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]interface{}
	s := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		qdrantOK([]map[string]interface{}{
			{"id": 42, "score": 0.91, "payload": map[string]interface{}{"media_id": "m-1"}},
			{"id": 7, "score": 0.73, "payload": map[string]interface{}{"media_id": "m-2"}},
		})(w, r)
	})

	hits, err := s.Search(context.Background(), SpaceImage, []float32{0.5, 0.5}, 10, 0.6)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotPath != "/collections/media_embeddings/points/search" {
		t.Errorf("path = %s", gotPath)
	}
	if gotKey != "qd-test-key" {
		t.Errorf("api-key = %q", gotKey)
	}
	vec, ok := gotBody["vector"].(map[string]interface{})
	if !ok {
		t.Fatalf("request has no named vector object: %v", gotBody)
	}
	if vec["name"] != string(SpaceImage) {
		t.Errorf("vector name = %v, want %s", vec["name"], SpaceImage)
	}
	if gotBody["limit"] != float64(10) {
		t.Errorf("limit = %v", gotBody["limit"])
	}
	if gotBody["score_threshold"] != 0.6 {
		t.Errorf("score_threshold = %v", gotBody["score_threshold"])
	}
	if gotBody["with_payload"] != true {
		t.Errorf("with_payload = %v", gotBody["with_payload"])
	}

	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].PointID != 42 || hits[0].Score != 0.91 {
		t.Errorf("hits[0] = %+v", hits[0])
	}
	if hits[1].Payload["media_id"] != "m-2" {
		t.Errorf("hits[1].Payload = %v", hits[1].Payload)
	}
}

func TestQdrantEnsureCollection_CreatesNamedVectors(t *testing.T) {
	var createBody map[string]interface{}
	s := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			qdrantOK(map[string]interface{}{"exists": false})(w, r)
		case r.Method == http.MethodPut:
			_ = json.NewDecoder(r.Body).Decode(&createBody)
			qdrantOK(true)(w, r)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	if err := s.EnsureCollection(context.Background(), 1024); err != nil {
		t.Fatalf("EnsureCollection failed: %v", err)
	}

	vectors, ok := createBody["vectors"].(map[string]interface{})
	if !ok {
		t.Fatalf("create body has no vectors: %v", createBody)
	}
	for _, space := range []Space{SpaceText, SpaceImage} {
		cfg, ok := vectors[string(space)].(map[string]interface{})
		if !ok {
			t.Fatalf("missing vector config for %s", space)
		}
		if cfg["size"] != float64(1024) {
			t.Errorf("%s size = %v", space, cfg["size"])
		}
		if cfg["distance"] != "Cosine" {
			t.Errorf("%s distance = %v", space, cfg["distance"])
		}
	}
}

func TestQdrantEnsureCollection_AlreadyExists(t *testing.T) {
	s := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("existing collection should not be recreated: %s %s", r.Method, r.URL.Path)
		}
		qdrantOK(map[string]interface{}{"exists": true})(w, r)
	})

	if err := s.EnsureCollection(context.Background(), 1024); err != nil {
		t.Fatalf("EnsureCollection failed: %v", err)
	}
}

func TestQdrantUpsert_WaitsForVisibility(t *testing.T) {
	var gotWait string
	var gotBody map[string]interface{}
	s := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		gotWait = r.URL.Query().Get("wait")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		qdrantOK(map[string]interface{}{"status": "completed"})(w, r)
	})

	rec := &Record{
		PointID: 99,
		Vectors: map[Space][]float32{
			SpaceText:  {0.1, 0.2},
			SpaceImage: {0, 0},
		},
		Payload: map[string]interface{}{"media_id": "m-9"},
	}
	if err := s.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if gotWait != "true" {
		t.Errorf("wait = %q, want true", gotWait)
	}
	points, ok := gotBody["points"].([]interface{})
	if !ok || len(points) != 1 {
		t.Fatalf("points = %v", gotBody["points"])
	}
	point := points[0].(map[string]interface{})
	if point["id"] != float64(99) {
		t.Errorf("point id = %v", point["id"])
	}
	vectors := point["vector"].(map[string]interface{})
	if _, exists := vectors[string(SpaceText)]; !exists {
		t.Error("text vector missing from upsert body")
	}
	if _, exists := vectors[string(SpaceImage)]; !exists {
		t.Error("image vector missing from upsert body")
	}
}

func TestQdrantRetrieve_NotFound(t *testing.T) {
	s := newTestQdrant(t, qdrantOK([]map[string]interface{}{}))

	_, err := s.Retrieve(context.Background(), 12345)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestQdrantServerError(t *testing.T) {
	s := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"wrong vector size"}}`, http.StatusBadRequest)
	})

	if _, err := s.Search(context.Background(), SpaceText, []float32{1}, 5, 0.5); err == nil {
		t.Fatal("Search should fail on a 4xx response")
	}
}
