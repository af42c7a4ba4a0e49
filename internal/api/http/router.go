package http

import (
	"net/http"

	"github.com/qrlew/qrlew-go/internal/observability"
)

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Datasets  []DatasetStatsJSON `json:"datasets"`
	TopTables []TableStatsJSON   `json:"top_tables"`
	RequestID string             `json:"request_id"`
}

// DatasetStatsJSON is the JSON form of observability.DatasetStats.
type DatasetStatsJSON struct {
	Dataset       string           `json:"dataset"`
	Total         int64            `json:"total"`
	Outcomes      map[string]int64 `json:"outcomes"`
	MeanLatencyMs float64          `json:"mean_latency_ms"`
}

// TableStatsJSON is the JSON form of observability.TableStats.
type TableStatsJSON struct {
	Dataset   string `json:"dataset"`
	Table     string `json:"table"`
	Frequency int64  `json:"frequency"`
}

const topTables = 20

// StatsHandler handles GET /v1/stats.
type StatsHandler struct {
	stats *observability.RewriteStats
}

// NewStatsHandler creates a statistics handler.
func NewStatsHandler(stats *observability.RewriteStats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	resp := StatsResponse{
		Datasets:  []DatasetStatsJSON{},
		TopTables: []TableStatsJSON{},
		RequestID: requestID,
	}
	for _, d := range h.stats.Datasets() {
		resp.Datasets = append(resp.Datasets, DatasetStatsJSON{
			Dataset:       d.Dataset,
			Total:         d.Total,
			Outcomes:      d.Outcomes,
			MeanLatencyMs: float64(d.MeanLatency().Microseconds()) / 1000,
		})
	}
	for _, t := range h.stats.TopTables(topTables) {
		resp.TopTables = append(resp.TopTables, TableStatsJSON{Dataset: t.Dataset, Table: t.Table, Frequency: t.Frequency})
	}
	writeJSON(w, http.StatusOK, resp)
}

// NewRouter returns the API routes wrapped in the default middleware.
//
//	GET    /healthz
//	GET    /v1/datasets
//	PUT    /v1/datasets/{name}
//	GET    /v1/datasets/{name}[?documents=true]
//	DELETE /v1/datasets/{name}
//	POST   /v1/datasets/{name}/relation[?dot=true]
//	POST   /v1/datasets/{name}/rewrite
//	POST   /v1/datasets/{name}/dp
//	POST   /v1/tables_prefix
//	GET    /v1/stats
func NewRouter(svc *Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/v1/datasets", NewDatasetsHandler(svc))
	mux.Handle("/v1/datasets/{name}", NewDatasetHandler(svc))
	mux.Handle("/v1/datasets/{name}/relation", NewRelationHandler(svc))
	mux.Handle("/v1/datasets/{name}/rewrite", NewRewriteHandler(svc))
	mux.Handle("/v1/datasets/{name}/dp", NewDpHandler(svc))
	mux.Handle("/v1/tables_prefix", NewTablesPrefixHandler(svc))
	mux.Handle("/v1/stats", NewStatsHandler(svc.Stats))

	var maxBody int64
	if svc.Config != nil {
		maxBody = svc.Config.HTTP.MaxBodyBytes
	}
	return DefaultMiddleware(maxBody)(mux)
}
