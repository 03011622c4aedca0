package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/domain"
	"github.com/arinc653/partitiond/internal/services/alert"
)

type alertDTO struct {
	ID             string  `json:"id"`
	Severity       string  `json:"severity"`
	Title          string  `json:"title"`
	Message        string  `json:"message"`
	SourceType     string  `json:"source_type"`
	SourceID       string  `json:"source_id"`
	SourceName     string  `json:"source_name"`
	Acknowledged   bool    `json:"acknowledged"`
	AcknowledgedBy string  `json:"acknowledged_by,omitempty"`
	Resolved       bool    `json:"resolved"`
	CreatedAt      string  `json:"created_at"`
	AcknowledgedAt *string `json:"acknowledged_at,omitempty"`
	ResolvedAt     *string `json:"resolved_at,omitempty"`
}

func alertToDTO(a *domain.Alert) alertDTO {
	dto := alertDTO{
		ID: a.ID, Severity: string(a.Severity), Title: a.Title, Message: a.Message,
		SourceType: string(a.SourceType), SourceID: a.SourceID, SourceName: a.SourceName,
		Acknowledged: a.Acknowledged, AcknowledgedBy: a.AcknowledgedBy, Resolved: a.Resolved,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
	if a.AcknowledgedAt != nil {
		s := a.AcknowledgedAt.Format(time.RFC3339)
		dto.AcknowledgedAt = &s
	}
	if a.ResolvedAt != nil {
		s := a.ResolvedAt.Format(time.RFC3339)
		dto.ResolvedAt = &s
	}
	return dto
}

// AlertRestHandler serves /api/v1/alerts and
// /api/v1/alerts/{id}/{acknowledge,resolve}.
type AlertRestHandler struct {
	server *Server
	logger *zap.Logger
}

// NewAlertRestHandler creates an alert REST handler.
func NewAlertRestHandler(s *Server) *AlertRestHandler {
	return &AlertRestHandler{server: s, logger: s.logger.Named("alert-rest")}
}

func (h *AlertRestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc := h.server.alertService
	if svc == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "unavailable", "alerting requires PostgreSQL, which is not configured")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/alerts"), "/")

	if path == "" {
		if r.Method != http.MethodGet {
			writeError(h.logger, w, http.StatusMethodNotAllowed, "method_not_allowed", "expected GET")
			return
		}
		h.handleList(svc, w, r)
		return
	}

	parts := strings.Split(path, "/")
	id := parts[0]

	if len(parts) == 2 && r.Method == http.MethodPost {
		switch parts[1] {
		case "acknowledge":
			h.handleAcknowledge(svc, w, r, id)
			return
		case "resolve":
			h.handleResolve(svc, w, r, id)
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(svc, w, r, id)
	case http.MethodDelete:
		h.handleDelete(svc, w, r, id)
	default:
		writeError(h.logger, w, http.StatusMethodNotAllowed, "method_not_allowed", "expected GET or DELETE")
	}
}

func (h *AlertRestHandler) handleList(svc *alert.Service, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := alert.AlertFilter{
		Severity:   domain.AlertSeverity(q.Get("severity")),
		SourceType: domain.AlertSourceType(q.Get("source_type")),
		SourceID:   q.Get("source_id"),
	}
	limit, offset := parsePagination(q)

	alerts, total, err := svc.ListAlerts(r.Context(), filter, limit, offset)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}

	dtos := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		dtos = append(dtos, alertToDTO(a))
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{"alerts": dtos, "total": total})
}

func (h *AlertRestHandler) handleGet(svc *alert.Service, w http.ResponseWriter, r *http.Request, id string) {
	a, err := svc.GetAlert(r.Context(), id)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, alertToDTO(a))
}

func (h *AlertRestHandler) handleAcknowledge(svc *alert.Service, w http.ResponseWriter, r *http.Request, id string) {
	ackBy, _ := ctxUserID(r)
	a, err := svc.AcknowledgeAlert(r.Context(), id, ackBy)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, alertToDTO(a))
}

func (h *AlertRestHandler) handleResolve(svc *alert.Service, w http.ResponseWriter, r *http.Request, id string) {
	a, err := svc.ResolveAlert(r.Context(), id)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, alertToDTO(a))
}

func (h *AlertRestHandler) handleDelete(svc *alert.Service, w http.ResponseWriter, r *http.Request, id string) {
	if err := svc.DeleteAlert(r.Context(), id); err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parsePagination(q map[string][]string) (limit, offset int) {
	limit, offset = 50, 0
	if v := firstOf(q, "limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := firstOf(q, "offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func firstOf(q map[string][]string, key string) string {
	vs, ok := q[key]
	if !ok || len(vs) == 0 {
		return ""
	}
	return vs[0]
}
