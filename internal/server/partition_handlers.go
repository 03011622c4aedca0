package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/domain"
	"github.com/arinc653/partitiond/internal/repository/postgres"
	partitionsvc "github.com/arinc653/partitiond/internal/services/partition"
)

type partitionDTO struct {
	DomainID    int32             `json:"domain_id"`
	Handle      string            `json:"handle"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	VCPUCount   int32             `json:"vcpu_count"`
	HostID      string            `json:"host_id"`
	Phase       string            `json:"phase"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
	CreatedBy   string            `json:"created_by,omitempty"`
}

func partitionToDTO(p *domain.Partition) partitionDTO {
	return partitionDTO{
		DomainID:    p.DomainID,
		Handle:      hex.EncodeToString(p.Handle[:]),
		Name:        p.Name,
		Description: p.Description,
		Labels:      p.Labels,
		VCPUCount:   p.VCPUCount,
		HostID:      p.HostID,
		Phase:       string(p.Phase),
		CreatedAt:   p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   p.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		CreatedBy:   p.CreatedBy,
	}
}

type partitionCreateRequest struct {
	DomainID    int32             `json:"domain_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	VCPUCount   int32             `json:"vcpu_count"`
	HostID      string            `json:"host_id"`
}

type partitionUpdateRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// PartitionRestHandler serves /api/v1/partitions and
// /api/v1/partitions/{domainID}: operator-facing partition
// registration, backed by internal/services/partition.
type PartitionRestHandler struct {
	server *Server
	logger *zap.Logger
}

// NewPartitionRestHandler creates a partition registration REST handler.
func NewPartitionRestHandler(s *Server) *PartitionRestHandler {
	return &PartitionRestHandler{server: s, logger: s.logger.Named("partition-rest")}
}

func (h *PartitionRestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc := h.server.partitionService
	if svc == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "unavailable", "partition registration requires PostgreSQL, which is not configured")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/partitions")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(svc, w, r)
		case http.MethodPost:
			h.handleCreate(svc, w, r)
		default:
			writeError(h.logger, w, http.StatusMethodNotAllowed, "method_not_allowed", "expected GET or POST")
		}
		return
	}

	domainID, err := strconv.ParseInt(path, 10, 32)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_domain_id", "domain ID must be an integer")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(svc, w, r, int32(domainID))
	case http.MethodPut:
		h.handleUpdate(svc, w, r, int32(domainID))
	case http.MethodDelete:
		h.handleDelete(svc, w, r, int32(domainID))
	default:
		writeError(h.logger, w, http.StatusMethodNotAllowed, "method_not_allowed", "expected GET, PUT or DELETE")
	}
}

func (h *PartitionRestHandler) handleList(svc *partitionsvc.Service, w http.ResponseWriter, r *http.Request) {
	filter := postgres.PartitionFilter{
		HostID: r.URL.Query().Get("host_id"),
		Phase:  domain.PartitionPhase(r.URL.Query().Get("phase")),
	}

	partitions, err := svc.List(r.Context(), filter)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}

	dtos := make([]partitionDTO, 0, len(partitions))
	for _, p := range partitions {
		dtos = append(dtos, partitionToDTO(p))
	}
	writeJSON(h.logger, w, http.StatusOK, dtos)
}

func (h *PartitionRestHandler) handleCreate(svc *partitionsvc.Service, w http.ResponseWriter, r *http.Request) {
	var req partitionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_body", "could not decode request: "+err.Error())
		return
	}

	createdBy := ""
	if claims, ok := ctxClaims(r); ok {
		createdBy = claims.UserID
	}

	p, err := svc.Register(r.Context(), partitionsvc.CreateRequest{
		DomainID:    req.DomainID,
		Name:        req.Name,
		Description: req.Description,
		Labels:      req.Labels,
		VCPUCount:   req.VCPUCount,
		HostID:      req.HostID,
		CreatedBy:   createdBy,
	})
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusCreated, partitionToDTO(p))
}

func (h *PartitionRestHandler) handleGet(svc *partitionsvc.Service, w http.ResponseWriter, r *http.Request, domainID int32) {
	p, err := svc.Get(r.Context(), domainID)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, partitionToDTO(p))
}

func (h *PartitionRestHandler) handleUpdate(svc *partitionsvc.Service, w http.ResponseWriter, r *http.Request, domainID int32) {
	var req partitionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_body", "could not decode request: "+err.Error())
		return
	}

	p, err := svc.Update(r.Context(), domainID, req.Name, req.Description, req.Labels)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, partitionToDTO(p))
}

func (h *PartitionRestHandler) handleDelete(svc *partitionsvc.Service, w http.ResponseWriter, r *http.Request, domainID int32) {
	if err := svc.Deregister(r.Context(), domainID); err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
