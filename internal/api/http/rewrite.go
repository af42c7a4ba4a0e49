package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/qrlew/qrlew-go/internal/dialect"
	"github.com/qrlew/qrlew-go/internal/dp"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/observability"
	"github.com/qrlew/qrlew-go/internal/privacy"
	"github.com/qrlew/qrlew-go/internal/relation"
	"github.com/qrlew/qrlew-go/internal/sql/parser"
	"github.com/qrlew/qrlew-go/internal/storage"
)

// QueryRequest is a SQL query in a dialect; an empty dialect is the
// configured default.
type QueryRequest struct {
	Query   string `json:"query" validate:"required"`
	Dialect string `json:"dialect,omitempty"`
}

// SyntheticPair maps a protected table to its synthetic replacement.
type SyntheticPair struct {
	Original  []string `json:"original" validate:"required,min=1"`
	Synthetic []string `json:"synthetic" validate:"required,min=1"`
}

// RewriteRequest is the body of POST /v1/datasets/{name}/rewrite. Unset
// parameters take the configured defaults, and PrivacyUnit replaces the
// stored one.
type RewriteRequest struct {
	QueryRequest
	Strategy             string          `json:"strategy,omitempty"`
	MaxMultiplicity      *float64        `json:"max_multiplicity,omitempty" validate:"omitempty,gt=0"`
	MaxMultiplicityShare *float64        `json:"max_multiplicity_share,omitempty" validate:"omitempty,gt=0,lte=1"`
	SyntheticData        []SyntheticPair `json:"synthetic_data,omitempty" validate:"dive"`
	PrivacyUnit          json.RawMessage `json:"privacy_unit,omitempty"`
}

// DpRequest is the body of POST /v1/datasets/{name}/dp. Budget holds the
// "epsilon" and "delta" keys.
type DpRequest struct {
	RewriteRequest
	Budget               map[string]float64 `json:"budget" validate:"required"`
	Mechanism            string             `json:"mechanism,omitempty"`
	TauThresholdingShare *float64           `json:"tau_thresholding_share,omitempty" validate:"omitempty,gt=0,lt=1"`
}

// RelationResponse describes the relation of a query.
type RelationResponse struct {
	Name      string          `json:"name"`
	Schema    string          `json:"schema"`
	MaxSize   *int64          `json:"max_size,omitempty"`
	Query     string          `json:"query"`
	Dot       string          `json:"dot,omitempty"`
	Type      json.RawMessage `json:"type"`
	RequestID string          `json:"request_id"`
}

// RewriteResponse is a privacy unit preserving query.
type RewriteResponse struct {
	Query           string `json:"query"`
	Schema          string `json:"schema"`
	MaxMultiplicity int64  `json:"max_multiplicity"`
	Unit            string `json:"unit"`
	RequestID       string `json:"request_id"`
}

// DpResponse is a differentially private query with its privacy loss.
type DpResponse struct {
	Query     string                 `json:"query"`
	Schema    string                 `json:"schema"`
	DpEvent   map[string]interface{} `json:"dp_event"`
	Spent     dp.Budget              `json:"spent"`
	RequestID string                 `json:"request_id"`
}

// TablesPrefixResponse is the body returned by POST /v1/tables_prefix.
type TablesPrefixResponse struct {
	Prefixes  []string `json:"prefixes"`
	RequestID string   `json:"request_id"`
}

func (s *Service) dialect(name string) (dialect.Dialect, error) {
	if name == "" {
		return s.Config.DefaultDialect(), nil
	}
	return dialect.Parse(name)
}

// privacyParameters merges the request overrides into the defaults.
func (s *Service) privacyParameters(req *RewriteRequest) (privacy.Parameters, error) {
	p, err := s.Config.PrivacyParameters()
	if err != nil {
		return p, err
	}
	if req.Strategy != "" {
		if p.Strategy, err = privacy.ParseStrategy(req.Strategy); err != nil {
			return p, err
		}
	}
	if req.MaxMultiplicity != nil {
		p.MaxMultiplicity = *req.MaxMultiplicity
	}
	if req.MaxMultiplicityShare != nil {
		p.MaxMultiplicityShare = *req.MaxMultiplicityShare
	}
	for _, pair := range req.SyntheticData {
		p.SyntheticData = append(p.SyntheticData, privacy.SyntheticPair{Original: pair.Original, Synthetic: pair.Synthetic})
	}
	return p, nil
}

// unit is the request's privacy unit, or else the stored one.
func unit(o *storage.Opened, raw json.RawMessage) (*privacy.PrivacyUnit, error) {
	if len(raw) > 0 && string(raw) != "null" {
		return privacy.Decode(raw)
	}
	if o.Unit == nil {
		return nil, qerrors.NewInvalidPrivacyUnit("dataset %s has no privacy unit", o.Bundle.Name)
	}
	return o.Unit, nil
}

func tablePaths(r relation.Relation) [][]string {
	var paths [][]string
	relation.Walk(r, func(n relation.Relation) {
		if t, ok := n.(*relation.Table); ok {
			paths = append(paths, t.Path)
		}
	})
	return paths
}

// run loads the dataset of the request path, calls fn on it and records the
// outcome under op.
func (s *Service) run(w http.ResponseWriter, r *http.Request, op observability.Operation, fn func(o *storage.Opened) (interface{}, error)) {
	name := r.PathValue("name")
	start := time.Now()
	opened, err := s.Loader.Get(r.Context(), name)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	resp, err := fn(opened)
	s.Stats.Record(name, op, time.Since(start), err)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// plan parses query into a relation of o and counts the tables it reads.
func (s *Service) plan(o *storage.Opened, req *QueryRequest) (relation.Relation, dialect.Dialect, error) {
	d, err := s.dialect(req.Dialect)
	if err != nil {
		return nil, d, err
	}
	rel, err := o.Dataset.Relation(req.Query, d)
	if err != nil {
		return nil, d, err
	}
	s.Stats.RecordTables(o.Bundle.Name, tablePaths(rel))
	return rel, d, nil
}

// RelationHandler handles POST /v1/datasets/{name}/relation.
type RelationHandler struct {
	svc *Service
}

// NewRelationHandler creates a relation handler.
func NewRelationHandler(svc *Service) *RelationHandler {
	return &RelationHandler{svc: svc}
}

func (h *RelationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
		return
	}
	var req QueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, r, err)
		return
	}
	withDot := r.URL.Query().Get("dot") == "true"
	h.svc.run(w, r, observability.OpRelation, func(o *storage.Opened) (interface{}, error) {
		rel, d, err := h.svc.plan(o, &req)
		if err != nil {
			return nil, err
		}
		typ, err := relation.TypeJSON(rel)
		if err != nil {
			return nil, err
		}
		resp := RelationResponse{
			Name:      rel.Name(),
			Schema:    rel.Schema().Struct().String(),
			Query:     relation.ToQuery(rel, d),
			Type:      json.RawMessage(typ),
			RequestID: GetRequestID(r.Context()),
		}
		if _, max := rel.Size(); max != relation.Unbounded {
			resp.MaxSize = &max
		}
		if withDot {
			resp.Dot = relation.Dot(rel)
		}
		return resp, nil
	})
}

// RewriteHandler handles POST /v1/datasets/{name}/rewrite.
type RewriteHandler struct {
	svc *Service
}

// NewRewriteHandler creates a privacy unit preserving rewrite handler.
func NewRewriteHandler(svc *Service) *RewriteHandler {
	return &RewriteHandler{svc: svc}
}

func (h *RewriteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
		return
	}
	var req RewriteRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, r, err)
		return
	}
	h.svc.run(w, r, observability.OpRewrite, func(o *storage.Opened) (interface{}, error) {
		params, err := h.svc.privacyParameters(&req)
		if err != nil {
			return nil, err
		}
		pu, err := unit(o, req.PrivacyUnit)
		if err != nil {
			return nil, err
		}
		rel, d, err := h.svc.plan(o, &req.QueryRequest)
		if err != nil {
			return nil, err
		}
		rw, err := privacy.NewRewriter(o.Dataset, pu, params)
		if err != nil {
			return nil, err
		}
		res, err := rw.Rewrite(rel)
		if err != nil {
			return nil, err
		}
		return RewriteResponse{
			Query:           relation.ToQuery(res.Relation, d),
			Schema:          res.Relation.Schema().Struct().String(),
			MaxMultiplicity: res.MaxMultiplicity,
			Unit:            res.Unit,
			RequestID:       GetRequestID(r.Context()),
		}, nil
	})
}

// DpHandler handles POST /v1/datasets/{name}/dp.
type DpHandler struct {
	svc *Service
}

// NewDpHandler creates a differentially private rewrite handler.
func NewDpHandler(svc *Service) *DpHandler {
	return &DpHandler{svc: svc}
}

func (h *DpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
		return
	}
	var req DpRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, r, err)
		return
	}
	h.svc.run(w, r, observability.OpDpRewrite, func(o *storage.Opened) (interface{}, error) {
		budget, err := dp.BudgetFromMap(req.Budget)
		if err != nil {
			return nil, err
		}
		params, err := h.svc.Config.DpParameters(budget)
		if err != nil {
			return nil, err
		}
		if params.Privacy, err = h.svc.privacyParameters(&req.RewriteRequest); err != nil {
			return nil, err
		}
		if req.Mechanism != "" {
			if params.Mechanism, err = dp.ParseMechanism(req.Mechanism); err != nil {
				return nil, err
			}
		}
		if req.TauThresholdingShare != nil {
			params.TauThresholdingShare = *req.TauThresholdingShare
		}
		pu, err := unit(o, req.PrivacyUnit)
		if err != nil {
			return nil, err
		}
		rel, d, err := h.svc.plan(o, &req.QueryRequest)
		if err != nil {
			return nil, err
		}
		rw, err := dp.NewRewriter(o.Dataset, pu, params)
		if err != nil {
			return nil, err
		}
		res, err := rw.Rewrite(rel)
		if err != nil {
			return nil, err
		}
		return DpResponse{
			Query:     relation.ToQuery(res.Relation, d),
			Schema:    res.Relation.Schema().Struct().String(),
			DpEvent:   res.Event.ToDict(),
			Spent:     res.Spent,
			RequestID: GetRequestID(r.Context()),
		}, nil
	})
}

// TablesPrefixHandler handles POST /v1/tables_prefix. It needs no dataset.
type TablesPrefixHandler struct {
	svc *Service
}

// NewTablesPrefixHandler creates a tables prefix handler.
func NewTablesPrefixHandler(svc *Service) *TablesPrefixHandler {
	return &TablesPrefixHandler{svc: svc}
}

func (h *TablesPrefixHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	var req QueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, r, err)
		return
	}
	d, err := h.svc.dialect(req.Dialect)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	prefixes, err := parser.TablesPrefix(req.Query, d)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if prefixes == nil {
		prefixes = []string{}
	}
	writeJSON(w, http.StatusOK, TablesPrefixResponse{Prefixes: prefixes, RequestID: requestID})
}
