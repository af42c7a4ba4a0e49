package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/qrlew/qrlew-go/internal/config"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/observability"
	"github.com/qrlew/qrlew-go/internal/storage"
)

const libraryDatasetJSON = `{"uuid": "4f3e2d1c0b0a49f8e7d6c5b4a3928170", "name": "library"}`

const librarySchemaJSON = `{
	"uuid": "1a2b3c4d5e6f4a7b8c9d0e1f2a3b4c5d",
	"name": "library",
	"type": {"name": "Union", "union": {"fields": [
		{"name": "readers", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "id", "type": {"name": "Integer", "integer": {"min": 1, "max": 500}}},
			{"name": "age", "type": {"name": "Integer", "integer": {"min": 7, "max": 99}}}
		]}}},
		{"name": "loans", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "reader_id", "type": {"name": "Integer", "integer": {"min": 1, "max": 500}}},
			{"name": "days", "type": {"name": "Integer", "integer": {"min": 0, "max": 60}}}
		]}}}
	]}}
}`

const librarySizeJSON = `{
	"uuid": "8e7d6c5b4a3942e1d0c9b8a7f6e5d4c3",
	"statistics": {"name": "Union", "union": {"fields": [
		{"name": "readers", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 500}}},
		{"name": "loans", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 4000}}}
	]}}
}`

const libraryUnitJSON = `[["readers", [], "id"], ["loans", [["reader_id", "readers", "id"]], "id"]]`

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	objects, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	store := storage.NewStore(objects, "")
	cfg := config.DefaultConfig()
	svc := &Service{
		Store:  store,
		Loader: storage.NewBatchLoader(store, 2),
		Stats:  observability.NewRewriteStats(time.Hour),
		Config: cfg,
	}
	srv := httptest.NewServer(NewRouter(svc))
	t.Cleanup(srv.Close)
	return srv, svc
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func putLibrary(t *testing.T, srv *httptest.Server, withUnit bool) {
	t.Helper()
	body := map[string]interface{}{
		"dataset": json.RawMessage(libraryDatasetJSON),
		"schema":  librarySchemaJSON, // as a string document
		"size":    json.RawMessage(librarySizeJSON),
	}
	if withUnit {
		body["privacy_unit"] = json.RawMessage(libraryUnitJSON)
	}
	raw, _ := json.Marshal(body)
	var resp DatasetResponse
	if code := do(t, srv, http.MethodPut, "/v1/datasets/library", string(raw), &resp); code != http.StatusCreated {
		t.Fatalf("PUT library = %d", code)
	}
}

func TestDatasetLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	putLibrary(t, srv, true)

	var list ListDatasetsResponse
	if code := do(t, srv, http.MethodGet, "/v1/datasets", "", &list); code != http.StatusOK {
		t.Fatalf("GET /v1/datasets = %d", code)
	}
	if diff := cmp.Diff([]string{"library"}, list.Datasets); diff != "" {
		t.Errorf("datasets mismatch (-want +got):\n%s", diff)
	}

	var got DatasetResponse
	if code := do(t, srv, http.MethodGet, "/v1/datasets/library?documents=true", "", &got); code != http.StatusOK {
		t.Fatalf("GET library = %d", code)
	}
	if !got.HasPrivacyUnit || len(got.Tables) != 2 || len(got.Schema) == 0 {
		t.Errorf("unexpected dataset: %+v", got)
	}
	for _, table := range got.Tables {
		if table.MaxSize == nil {
			t.Errorf("table %v has no size", table.Path)
		}
	}

	var replaced DatasetResponse
	raw, _ := json.Marshal(map[string]string{"dataset": libraryDatasetJSON, "schema": librarySchemaJSON})
	if code := do(t, srv, http.MethodPut, "/v1/datasets/library", string(raw), &replaced); code != http.StatusOK {
		t.Errorf("replacing PUT = %d, want 200", code)
	}
	if replaced.HasPrivacyUnit {
		t.Error("replaced dataset kept the old privacy unit")
	}

	if code := do(t, srv, http.MethodDelete, "/v1/datasets/library", "", nil); code != http.StatusNoContent {
		t.Errorf("DELETE = %d", code)
	}
	var errResp ErrorResponse
	if code := do(t, srv, http.MethodGet, "/v1/datasets/library", "", &errResp); code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", code)
	}
	if errResp.Code != qerrors.CodeObjectNotFound || errResp.RequestID == "" {
		t.Errorf("error response = %+v", errResp)
	}
	if code := do(t, srv, http.MethodDelete, "/v1/datasets/library", "", &errResp); code != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", code)
	}
}

func TestPutDatasetRejects(t *testing.T) {
	srv, _ := newTestServer(t)
	tests := []struct {
		name string
		body string
		code string
	}{
		{"not json", `{`, qerrors.CodeMalformedInput},
		{"no schema", `{"dataset": {"uuid": "x", "name": "library"}}`, qerrors.CodeMalformedInput},
		{"unknown field", `{"dataset": {}, "schema": {}, "extra": 1}`, qerrors.CodeMalformedInput},
		{"unresolved unit", `{"dataset": ` + libraryDatasetJSON + `, "schema": ` + librarySchemaJSON + `, "privacy_unit": [["books", [], "id"]]}`, qerrors.CodeInvalidPrivacyUnitSpec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			code := do(t, srv, http.MethodPut, "/v1/datasets/library", tt.body, &resp)
			if code != http.StatusBadRequest && code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d", code)
			}
			if resp.Code != tt.code {
				t.Errorf("code = %s, want %s", resp.Code, tt.code)
			}
		})
	}
}

func TestRelationEndpoint(t *testing.T) {
	srv, svc := newTestServer(t)
	putLibrary(t, srv, true)

	var resp RelationResponse
	body := `{"query": "SELECT reader_id, SUM(days) AS total FROM loans GROUP BY reader_id", "dialect": "sqlite"}`
	if code := do(t, srv, http.MethodPost, "/v1/datasets/library/relation?dot=true", body, &resp); code != http.StatusOK {
		t.Fatalf("relation = %d", code)
	}
	if !strings.Contains(resp.Schema, "reader_id") || !strings.Contains(resp.Schema, "total") {
		t.Errorf("schema = %s", resp.Schema)
	}
	if !strings.Contains(strings.ToUpper(resp.Query), "SELECT") || resp.Dot == "" || len(resp.Type) == 0 {
		t.Errorf("incomplete response: %+v", resp)
	}

	var errResp ErrorResponse
	if code := do(t, srv, http.MethodPost, "/v1/datasets/library/relation", `{"query": "SELECT nope FROM loans"}`, &errResp); code != http.StatusUnprocessableEntity && code != http.StatusBadRequest {
		t.Errorf("unknown column status = %d", code)
	}
	if code := do(t, srv, http.MethodPost, "/v1/datasets/library/relation", `{"query": "SELEC"}`, &errResp); code != http.StatusBadRequest {
		t.Errorf("parse error status = %d", code)
	}
	if errResp.Code != qerrors.CodeParseError {
		t.Errorf("code = %s, want %s", errResp.Code, qerrors.CodeParseError)
	}

	stats, ok := svc.Stats.Dataset("library")
	if !ok || stats.Count(observability.OpRelation, observability.OutcomeOK) != 1 || stats.Total != 3 {
		t.Errorf("stats = %+v", stats)
	}
	top := svc.Stats.TopTables(1)
	if len(top) != 1 || !strings.HasSuffix(top[0].Table, "loans") {
		t.Errorf("top tables = %+v", top)
	}
}

func TestRewriteEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	putLibrary(t, srv, true)

	var resp RewriteResponse
	body := `{"query": "SELECT reader_id, days FROM loans", "max_multiplicity": 5}`
	if code := do(t, srv, http.MethodPost, "/v1/datasets/library/rewrite", body, &resp); code != http.StatusOK {
		t.Fatalf("rewrite = %d", code)
	}
	if resp.Unit != "readers.id" {
		t.Errorf("unit = %s, want readers.id", resp.Unit)
	}
	if resp.MaxMultiplicity <= 0 || resp.MaxMultiplicity > 5 {
		t.Errorf("max multiplicity = %d, want in (0, 5]", resp.MaxMultiplicity)
	}
	if resp.Query == "" {
		t.Error("empty query")
	}

	var errResp ErrorResponse
	if code := do(t, srv, http.MethodPost, "/v1/datasets/library/rewrite", `{"query": "SELECT days FROM loans", "strategy": "lenient"}`, &errResp); code != http.StatusBadRequest {
		t.Errorf("bad strategy status = %d", code)
	}
	if code := do(t, srv, http.MethodPost, "/v1/datasets/library/rewrite", `{"query": "SELECT days FROM loans", "max_multiplicity": -1}`, &errResp); code != http.StatusBadRequest {
		t.Errorf("negative multiplicity status = %d", code)
	}
}

func TestRewriteWithoutPrivacyUnit(t *testing.T) {
	srv, _ := newTestServer(t)
	putLibrary(t, srv, false)

	var errResp ErrorResponse
	code := do(t, srv, http.MethodPost, "/v1/datasets/library/rewrite", `{"query": "SELECT days FROM loans"}`, &errResp)
	if code != http.StatusUnprocessableEntity || errResp.Code != qerrors.CodeInvalidPrivacyUnitSpec {
		t.Errorf("status %d, code %s", code, errResp.Code)
	}

	var resp RewriteResponse
	body := `{"query": "SELECT days FROM loans", "privacy_unit": ` + libraryUnitJSON + `}`
	if code := do(t, srv, http.MethodPost, "/v1/datasets/library/rewrite", body, &resp); code != http.StatusOK {
		t.Fatalf("rewrite with request unit = %d", code)
	}
	if resp.Unit != "readers.id" {
		t.Errorf("unit = %s", resp.Unit)
	}
}

func TestDpEndpoint(t *testing.T) {
	srv, svc := newTestServer(t)
	putLibrary(t, srv, true)

	var resp DpResponse
	body := `{"query": "SELECT COUNT(*) AS n FROM loans", "budget": {"epsilon": 1, "delta": 1e-5}}`
	if code := do(t, srv, http.MethodPost, "/v1/datasets/library/dp", body, &resp); code != http.StatusOK {
		t.Fatalf("dp = %d", code)
	}
	if resp.Spent.Epsilon <= 0 || resp.Spent.Epsilon > 1 || resp.Spent.Delta > 1e-5 {
		t.Errorf("spent = %+v, want within the budget", resp.Spent)
	}
	if len(resp.DpEvent) == 0 || resp.Query == "" {
		t.Errorf("incomplete response: %+v", resp)
	}

	var errResp ErrorResponse
	if code := do(t, srv, http.MethodPost, "/v1/datasets/library/dp", `{"query": "SELECT COUNT(*) FROM loans", "budget": {"epsilon": 1}}`, &errResp); code != http.StatusBadRequest {
		t.Errorf("missing delta status = %d", code)
	}
	if errResp.Code != qerrors.CodeMissingKey {
		t.Errorf("code = %s, want %s", errResp.Code, qerrors.CodeMissingKey)
	}
	if code := do(t, srv, http.MethodPost, "/v1/datasets/library/dp", `{"query": "SELECT reader_id, days FROM loans", "budget": {"epsilon": 1, "delta": 0}}`, &errResp); code != http.StatusUnprocessableEntity {
		t.Errorf("row release status = %d", code)
	}
	if errResp.Code != qerrors.CodeUnreachableProperty || !errResp.Retryable {
		t.Errorf("error = %+v, want retryable UNREACHABLE_PROPERTY", errResp)
	}

	stats, _ := svc.Stats.Dataset("library")
	if stats.Count(observability.OpDpRewrite, qerrors.CodeUnreachableProperty) != 1 {
		t.Errorf("outcomes = %v", stats.Outcomes)
	}
}

func TestTablesPrefixEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	var resp TablesPrefixResponse
	body := `{"query": "WITH t AS (SELECT * FROM a.x) SELECT * FROM t JOIN b.y USING (id) JOIN a.z USING (id)"}`
	if code := do(t, srv, http.MethodPost, "/v1/tables_prefix", body, &resp); code != http.StatusOK {
		t.Fatalf("tables_prefix = %d", code)
	}
	if diff := cmp.Diff([]string{"a", "b"}, resp.Prefixes); diff != "" {
		t.Errorf("prefixes mismatch (-want +got):\n%s", diff)
	}

	var errResp ErrorResponse
	if code := do(t, srv, http.MethodPost, "/v1/tables_prefix", `{"query": "SELECT 1", "dialect": "oracle"}`, &errResp); code != http.StatusBadRequest {
		t.Errorf("unknown dialect status = %d", code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	putLibrary(t, srv, true)
	do(t, srv, http.MethodPost, "/v1/datasets/library/relation", `{"query": "SELECT age FROM readers"}`, &RelationResponse{})

	var resp StatsResponse
	if code := do(t, srv, http.MethodGet, "/v1/stats", "", &resp); code != http.StatusOK {
		t.Fatalf("stats = %d", code)
	}
	if len(resp.Datasets) != 1 || resp.Datasets[0].Outcomes["relation/OK"] != 1 {
		t.Errorf("datasets = %+v", resp.Datasets)
	}
	if len(resp.TopTables) != 1 {
		t.Errorf("top tables = %+v", resp.TopTables)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, tt := range []struct{ method, path string }{
		{http.MethodPost, "/v1/datasets"},
		{http.MethodPost, "/v1/datasets/library"},
		{http.MethodGet, "/v1/datasets/library/rewrite"},
		{http.MethodGet, "/v1/tables_prefix"},
		{http.MethodDelete, "/v1/stats"},
	} {
		if code := do(t, srv, tt.method, tt.path, "", nil); code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tt.method, tt.path, code)
		}
	}
}
