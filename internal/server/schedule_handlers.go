package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/partition"
	"github.com/arinc653/partitiond/internal/repository/redis"
)

// providerDTO is the wire representation of a partition.Provider. The
// 16-byte DomainHandle is hex-encoded: spec.md scopes the literal wire
// format out of the dispatcher core, so this HTTP encoding is this
// server's own choice, not a format the core cares about.
type providerDTO struct {
	DomHandle string `json:"dom_handle"`
	VCPUID    int32  `json:"vcpu_id"`
}

type scheduleEntryDTO struct {
	ServiceID int32         `json:"service_id"`
	RuntimeNs int64         `json:"runtime_ns"`
	Providers []providerDTO `json:"providers"`
}

type scheduleTableDTO struct {
	MajorFrameNs int64              `json:"major_frame_ns"`
	Entries      []scheduleEntryDTO `json:"entries"`
}

func scheduleTableToDTO(t partition.ScheduleTable) scheduleTableDTO {
	dto := scheduleTableDTO{MajorFrameNs: int64(t.MajorFrame)}
	for _, e := range t.Entries {
		entry := scheduleEntryDTO{ServiceID: e.ServiceID, RuntimeNs: int64(e.Runtime)}
		for _, p := range e.Providers {
			entry.Providers = append(entry.Providers, providerDTO{
				DomHandle: hex.EncodeToString(p.DomHandle[:]),
				VCPUID:    p.VCPUID,
			})
		}
		dto.Entries = append(dto.Entries, entry)
	}
	return dto
}

func scheduleTableFromDTO(dto scheduleTableDTO) (partition.ScheduleTable, error) {
	table := partition.ScheduleTable{MajorFrame: partition.Nanos(dto.MajorFrameNs)}
	for _, e := range dto.Entries {
		entry := partition.ScheduleEntry{ServiceID: e.ServiceID, Runtime: partition.Nanos(e.RuntimeNs)}
		for _, p := range e.Providers {
			raw, err := hex.DecodeString(p.DomHandle)
			if err != nil || len(raw) != 16 {
				return partition.ScheduleTable{}, partition.ErrInvalidArgument
			}
			var handle partition.DomainHandle
			copy(handle[:], raw)
			entry.Providers = append(entry.Providers, partition.Provider{DomHandle: handle, VCPUID: p.VCPUID})
		}
		table.Entries = append(table.Entries, entry)
	}
	return table, nil
}

// ScheduleRestHandler serves GET/POST /api/v1/schedule: read and
// install the dispatcher's installed schedule table.
type ScheduleRestHandler struct {
	server *Server
	logger *zap.Logger
}

// NewScheduleRestHandler creates a schedule REST handler.
func NewScheduleRestHandler(s *Server) *ScheduleRestHandler {
	return &ScheduleRestHandler{server: s, logger: s.logger.Named("schedule-rest")}
}

func (h *ScheduleRestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPost:
		h.handleInstall(w, r)
	default:
		writeError(h.logger, w, http.StatusMethodNotAllowed, "method_not_allowed", "expected GET or POST")
	}
}

// handleGet prefers the cached snapshot when available: on a
// multi-replica control plane, only the leader's InstallSchedule calls
// mutate that replica's own embedded dispatcher, so a follower's live
// instance never reflects an install made elsewhere. The Redis-cached
// snapshot is shared across replicas and is what a follower actually
// has to go on; falling back to the live instance covers the
// single-replica and cache-miss cases.
func (h *ScheduleRestHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if h.server.cache != nil {
		if table, err := h.server.cache.GetSchedule(r.Context(), h.server.config.Server.Address()); err == nil {
			writeJSON(h.logger, w, http.StatusOK, scheduleTableToDTO(*table))
			return
		}
	}

	table := h.server.instance.GetSchedule()
	writeJSON(h.logger, w, http.StatusOK, scheduleTableToDTO(table))
}

func (h *ScheduleRestHandler) handleInstall(w http.ResponseWriter, r *http.Request) {
	var dto scheduleTableDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_body", "could not decode schedule table: "+err.Error())
		return
	}

	table, err := scheduleTableFromDTO(dto)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_handle", "malformed domain handle")
		return
	}

	now := partition.Nanos(time.Now().UnixNano())
	if err := h.server.instance.InstallSchedule(now, table); err != nil {
		handleCoreError(h.logger, w, err)
		return
	}

	if h.server.cache != nil {
		if err := h.server.cache.SetSchedule(r.Context(), h.server.config.Server.Address(), table); err != nil {
			h.logger.Warn("failed to cache installed schedule", zap.Error(err))
		}
		if err := h.server.cache.Publish(r.Context(), "events:schedule", redis.Event{
			Type:       "schedule.installed",
			ResourceID: h.server.config.Server.Address(),
			Data:       scheduleTableToDTO(table),
		}); err != nil {
			h.logger.Warn("failed to publish schedule event", zap.Error(err))
		}
	}

	writeJSON(h.logger, w, http.StatusOK, scheduleTableToDTO(table))
}

// domainParamsDTO is the wire representation of a partition.DomainRecord.
type domainParamsDTO struct {
	DomainID int32 `json:"domain_id"`
	Parent   int32 `json:"parent"`
	Primary  bool  `json:"primary"`
	Healthy  bool  `json:"healthy"`
}

// domainParamsRequest is the body of a PUT params request. Parent is a
// pointer so "omitted" (leave unchanged) is distinguishable from an
// explicit 0; an omitted parent is passed on as -1, which is
// Instance.SetDomainParams' own "leave unchanged" value.
type domainParamsRequest struct {
	Parent  *int32 `json:"parent"`
	Healthy bool   `json:"healthy"`
}

// DomainRestHandler serves GET/PUT /api/v1/domains/{domainID}/params.
type DomainRestHandler struct {
	server *Server
	logger *zap.Logger
}

// NewDomainRestHandler creates a domain params REST handler.
func NewDomainRestHandler(s *Server) *DomainRestHandler {
	return &DomainRestHandler{server: s, logger: s.logger.Named("domain-rest")}
}

func (h *DomainRestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/domains/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "params" {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_path", "expected /api/v1/domains/{domainID}/params")
		return
	}

	domainID, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_domain_id", "domain ID must be an integer")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, int32(domainID))
	case http.MethodPut:
		h.handlePut(w, r, int32(domainID))
	default:
		writeError(h.logger, w, http.StatusMethodNotAllowed, "method_not_allowed", "expected GET or PUT")
	}
}

func (h *DomainRestHandler) handleGet(w http.ResponseWriter, r *http.Request, domainID int32) {
	rec, err := h.server.instance.GetDomainParams(domainID)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, domainParamsDTO{
		DomainID: rec.DomainID, Parent: rec.Parent, Primary: rec.Primary, Healthy: rec.Healthy,
	})
}

func (h *DomainRestHandler) handlePut(w http.ResponseWriter, r *http.Request, domainID int32) {
	var req domainParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_body", "could not decode request: "+err.Error())
		return
	}

	parent := int32(-1)
	if req.Parent != nil {
		parent = *req.Parent
	}

	if err := h.server.instance.SetDomainParams(domainID, parent, req.Healthy); err != nil {
		handleCoreError(h.logger, w, err)
		return
	}

	if h.server.haManager != nil {
		h.server.haManager.Heartbeat(domainID)
	}

	rec, err := h.server.instance.GetDomainParams(domainID)
	if err != nil {
		handleCoreError(h.logger, w, err)
		return
	}

	dto := domainParamsDTO{
		DomainID: rec.DomainID, Parent: rec.Parent, Primary: rec.Primary, Healthy: rec.Healthy,
	}

	if h.server.cache != nil {
		if err := h.server.cache.Publish(r.Context(), "events:schedule", redis.Event{
			Type:       "domain.params_set",
			ResourceID: fmt.Sprintf("%d", domainID),
			Data:       dto,
		}); err != nil {
			h.logger.Warn("failed to publish domain params event", zap.Error(err))
		}
	}

	writeJSON(h.logger, w, http.StatusOK, dto)
}
