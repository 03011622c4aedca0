package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/domain"
	"github.com/arinc653/partitiond/internal/repository/postgres"
)

type hostDTO struct {
	ID            string            `json:"id"`
	Hostname      string            `json:"hostname"`
	ManagementIP  string            `json:"management_ip"`
	Labels        map[string]string `json:"labels,omitempty"`
	PCPUCount     int32             `json:"pcpu_count"`
	Phase         string            `json:"phase"`
	PartitionIDs  []int32           `json:"partition_ids,omitempty"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
	LastHeartbeat *string           `json:"last_heartbeat,omitempty"`
}

func hostToDTO(h *domain.Host) hostDTO {
	dto := hostDTO{
		ID: h.ID, Hostname: h.Hostname, ManagementIP: h.ManagementIP,
		Labels: h.Labels, PCPUCount: h.PCPUCount, Phase: string(h.Phase),
		PartitionIDs: h.PartitionIDs,
		CreatedAt:    h.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    h.UpdatedAt.Format(time.RFC3339),
	}
	if h.LastHeartbeat != nil {
		s := h.LastHeartbeat.Format(time.RFC3339)
		dto.LastHeartbeat = &s
	}
	return dto
}

type hostCreateRequest struct {
	ID           string            `json:"id"`
	Hostname     string            `json:"hostname"`
	ManagementIP string            `json:"management_ip"`
	Labels       map[string]string `json:"labels,omitempty"`
	PCPUCount    int32             `json:"pcpu_count"`
}

// HostRestHandler serves /api/v1/hosts and /api/v1/hosts/{id}: host
// registration directly against postgres.HostRepository. Unlike
// partitions this has no service layer of its own in SPEC_FULL — host
// registration is a straight CRUD record with no dispatcher-side
// counterpart to keep consistent.
type HostRestHandler struct {
	server *Server
	logger *zap.Logger
}

// NewHostRestHandler creates a host registration REST handler.
func NewHostRestHandler(s *Server) *HostRestHandler {
	return &HostRestHandler{server: s, logger: s.logger.Named("host-rest")}
}

func (h *HostRestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	repo := h.server.hostRepo
	if repo == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "unavailable", "host registration requires PostgreSQL, which is not configured")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/hosts"), "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(repo, w, r)
		case http.MethodPost:
			h.handleCreate(repo, w, r)
		default:
			writeError(h.logger, w, http.StatusMethodNotAllowed, "method_not_allowed", "expected GET or POST")
		}
		return
	}

	parts := strings.Split(path, "/")
	hostID := parts[0]

	if len(parts) == 2 && parts[1] == "heartbeat" && r.Method == http.MethodPost {
		h.handleHeartbeat(repo, w, r, hostID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(repo, w, r, hostID)
	case http.MethodDelete:
		h.handleDelete(repo, w, r, hostID)
	default:
		writeError(h.logger, w, http.StatusMethodNotAllowed, "method_not_allowed", "expected GET or DELETE")
	}
}

func (h *HostRestHandler) handleList(repo *postgres.HostRepository, w http.ResponseWriter, r *http.Request) {
	filter := postgres.HostFilter{Phase: domain.HostPhase(r.URL.Query().Get("phase"))}
	hosts, err := repo.List(r.Context(), filter)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	dtos := make([]hostDTO, 0, len(hosts))
	for _, host := range hosts {
		dtos = append(dtos, hostToDTO(host))
	}
	writeJSON(h.logger, w, http.StatusOK, dtos)
}

func (h *HostRestHandler) handleCreate(repo *postgres.HostRepository, w http.ResponseWriter, r *http.Request) {
	var req hostCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_body", "could not decode request: "+err.Error())
		return
	}

	host := &domain.Host{
		ID:           req.ID,
		Hostname:     req.Hostname,
		ManagementIP: req.ManagementIP,
		Labels:       req.Labels,
		PCPUCount:    req.PCPUCount,
		Phase:        domain.HostPhasePending,
	}

	created, err := repo.Create(r.Context(), host)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}

	if h.server.cache != nil {
		if err := h.server.cache.PublishHostEvent(r.Context(), "host.registered", created); err != nil {
			h.logger.Warn("failed to publish host event", zap.Error(err))
		}
	}

	writeJSON(h.logger, w, http.StatusCreated, hostToDTO(created))
}

func (h *HostRestHandler) handleGet(repo *postgres.HostRepository, w http.ResponseWriter, r *http.Request, id string) {
	host, err := repo.Get(r.Context(), id)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, hostToDTO(host))
}

func (h *HostRestHandler) handleHeartbeat(repo *postgres.HostRepository, w http.ResponseWriter, r *http.Request, id string) {
	if err := repo.UpdateHeartbeat(r.Context(), id); err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	if err := repo.UpdatePhase(r.Context(), id, domain.HostPhaseReady); err != nil {
		handleCoreError(h.logger, w, err)
		return
	}

	if h.server.cache != nil {
		if host, err := repo.Get(r.Context(), id); err == nil {
			if err := h.server.cache.PublishHostEvent(r.Context(), "host.heartbeat", host); err != nil {
				h.logger.Warn("failed to publish host event", zap.Error(err))
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HostRestHandler) handleDelete(repo *postgres.HostRepository, w http.ResponseWriter, r *http.Request, id string) {
	host, getErr := repo.Get(r.Context(), id)

	if err := repo.Delete(r.Context(), id); err != nil {
		handleCoreError(h.logger, w, err)
		return
	}

	if h.server.cache != nil && getErr == nil {
		if err := h.server.cache.PublishHostEvent(r.Context(), "host.removed", host); err != nil {
			h.logger.Warn("failed to publish host event", zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
