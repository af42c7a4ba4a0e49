package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/qrlew/qrlew-go/internal/config"
	"github.com/qrlew/qrlew-go/internal/dataset"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/observability"
	"github.com/qrlew/qrlew-go/internal/storage"
)

// Service holds what the handlers share.
type Service struct {
	Store  *storage.Store
	Loader *storage.BatchLoader
	Stats  *observability.RewriteStats
	Config *config.Config
}

// PutDatasetRequest is the body of PUT /v1/datasets/{name}. Each document
// is either a JSON object or a string holding one.
type PutDatasetRequest struct {
	Dataset     json.RawMessage `json:"dataset" validate:"required"`
	Schema      json.RawMessage `json:"schema" validate:"required"`
	Size        json.RawMessage `json:"size,omitempty"`
	PrivacyUnit json.RawMessage `json:"privacy_unit,omitempty"`
}

// TableInfo describes one table of a dataset.
type TableInfo struct {
	Path    []string `json:"path"`
	Schema  string   `json:"schema"`
	MaxSize *int64   `json:"max_size,omitempty"`
}

// DatasetResponse describes a stored dataset.
type DatasetResponse struct {
	Name           string          `json:"name"`
	Dataset        json.RawMessage `json:"dataset,omitempty"`
	Schema         json.RawMessage `json:"schema,omitempty"`
	Size           json.RawMessage `json:"size,omitempty"`
	PrivacyUnit    json.RawMessage `json:"privacy_unit,omitempty"`
	HasPrivacyUnit bool            `json:"has_privacy_unit"`
	Created        time.Time       `json:"created"`
	Tables         []TableInfo     `json:"tables"`
	RequestID      string          `json:"request_id"`
}

// ListDatasetsResponse is the body of GET /v1/datasets.
type ListDatasetsResponse struct {
	Datasets  []string `json:"datasets"`
	RequestID string   `json:"request_id"`
}

// document returns raw as a wire document string. A JSON string is unquoted,
// anything else is kept verbatim.
func document(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", qerrors.NewMalformedInput("invalid document string", err)
		}
		return s, nil
	}
	return string(raw), nil
}

func tableInfos(ds *dataset.Dataset) []TableInfo {
	rels := ds.Relations()
	out := make([]TableInfo, 0, len(rels))
	for _, nr := range rels {
		info := TableInfo{Path: nr.Path, Schema: nr.Relation.Schema().Struct().String()}
		if _, max := nr.Relation.Size(); max >= 0 {
			info.MaxSize = &max
		}
		out = append(out, info)
	}
	return out
}

// DatasetsHandler handles GET /v1/datasets.
type DatasetsHandler struct {
	svc *Service
}

// NewDatasetsHandler creates a dataset listing handler.
func NewDatasetsHandler(svc *Service) *DatasetsHandler {
	return &DatasetsHandler{svc: svc}
}

func (h *DatasetsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	names, err := h.svc.Store.List(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, ListDatasetsResponse{Datasets: names, RequestID: requestID})
}

// DatasetHandler handles PUT, GET and DELETE /v1/datasets/{name}.
type DatasetHandler struct {
	svc *Service
}

// NewDatasetHandler creates a single dataset handler.
func NewDatasetHandler(svc *Service) *DatasetHandler {
	return &DatasetHandler{svc: svc}
}

func (h *DatasetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		h.put(w, r)
	case http.MethodGet:
		h.get(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
	}
}

func (h *DatasetHandler) put(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req PutDatasetRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, r, err)
		return
	}
	b := &storage.Bundle{Name: name, Created: time.Now().UTC()}
	var err error
	for _, d := range []struct {
		raw json.RawMessage
		dst *string
	}{{req.Dataset, &b.Dataset}, {req.Schema, &b.Schema}, {req.Size, &b.Size}} {
		if *d.dst, err = document(d.raw); err != nil {
			writeEngineError(w, r, err)
			return
		}
	}
	pu, err := document(req.PrivacyUnit)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if pu != "" {
		b.PrivacyUnit = json.RawMessage(pu)
	}

	existed, err := h.svc.Store.Exists(r.Context(), name)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if err := h.svc.Store.Save(r.Context(), b); err != nil {
		writeEngineError(w, r, err)
		return
	}
	h.svc.Loader.Invalidate(name)
	opened, err := h.svc.Loader.Get(r.Context(), name)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, h.describe(opened, false, GetRequestID(r.Context())))
}

func (h *DatasetHandler) get(w http.ResponseWriter, r *http.Request) {
	opened, err := h.svc.Loader.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	full := r.URL.Query().Get("documents") == "true"
	writeJSON(w, http.StatusOK, h.describe(opened, full, GetRequestID(r.Context())))
}

func (h *DatasetHandler) delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	exists, err := h.svc.Store.Exists(r.Context(), name)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if !exists {
		writeEngineError(w, r, qerrors.NewStorageError(qerrors.CodeObjectNotFound, "dataset "+name+" not found", nil))
		return
	}
	if err := h.svc.Store.Delete(r.Context(), name); err != nil {
		writeEngineError(w, r, err)
		return
	}
	h.svc.Loader.Invalidate(name)
	h.svc.Stats.Forget(name)
	w.WriteHeader(http.StatusNoContent)
}

// describe renders o; the wire documents are included when full is set.
func (h *DatasetHandler) describe(o *storage.Opened, full bool, requestID string) DatasetResponse {
	resp := DatasetResponse{
		Name:           o.Bundle.Name,
		HasPrivacyUnit: o.Unit != nil,
		Created:        o.Bundle.Created,
		Tables:         tableInfos(o.Dataset),
		RequestID:      requestID,
	}
	if full {
		resp.Dataset = json.RawMessage(o.Bundle.Dataset)
		resp.Schema = json.RawMessage(o.Bundle.Schema)
		if o.Bundle.Size != "" {
			resp.Size = json.RawMessage(o.Bundle.Size)
		}
		resp.PrivacyUnit = o.Bundle.PrivacyUnit
	}
	return resp
}
