package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/lumen-erp/be-procurement/internal/errors"
	"github.com/lumen-erp/be-procurement/internal/logger"
	"github.com/lumen-erp/be-procurement/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.WorkflowService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service *service.WorkflowService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// OpenPurchasingCase handles requests to open a new purchasing case with
// its first stage case.
func (h *HTTPHandler) OpenPurchasingCase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.OpenPurchasingCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := h.service.OpenPurchasingCase(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// CreateCase handles requests to create a stage case against an existing
// purchasing case.
func (h *HTTPHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.CreateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := h.service.CreateStageCase(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// GetCase handles get case HTTP requests
func (h *HTTPHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	caseID := r.URL.Query().Get("id")
	if caseID == "" {
		http.Error(w, "Case ID is required", http.StatusBadRequest)
		return
	}

	snap, err := h.service.GetCaseSnapshot(r.Context(), caseID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// ListCases handles list cases HTTP requests
func (h *HTTPHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	purchasingCaseID := r.URL.Query().Get("purchasing_case_id")
	stageKind := r.URL.Query().Get("stage_kind")
	nextAction := r.URL.Query().Get("next_action")

	var purchasingCaseIDPtr *string
	if purchasingCaseID != "" {
		purchasingCaseIDPtr = &purchasingCaseID
	}

	var stageKindPtr *string
	if stageKind != "" {
		stageKindPtr = &stageKind
	}

	var nextActionPtr *string
	if nextAction != "" {
		nextActionPtr = &nextAction
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	cases, total, err := h.service.ListCases(r.Context(), purchasingCaseIDPtr, stageKindPtr, nextActionPtr, page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases":    cases,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// SubmitReview handles review submission HTTP requests
func (h *HTTPHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.service.SubmitReview)
}

// SubmitApproval handles approval submission HTTP requests
func (h *HTTPHandler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.service.SubmitApproval)
}

func (h *HTTPHandler) submit(w http.ResponseWriter, r *http.Request, fn func(context.Context, *service.SubmitActionRequest) (*service.CaseSnapshot, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.SubmitActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := fn(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// CreateNextStage handles manual successor creation HTTP requests
func (h *HTTPHandler) CreateNextStage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SourceCaseID string `json:"source_case_id"`
		CreatedBy    string `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SourceCaseID == "" {
		http.Error(w, "Source case ID is required", http.StatusBadRequest)
		return
	}

	snap, err := h.service.CreateNextStage(r.Context(), req.SourceCaseID, req.CreatedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// ListPurchasingCases handles purchasing case listing HTTP requests
func (h *HTTPHandler) ListPurchasingCases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	purchasingCases, total, err := h.service.ListPurchasingCases(r.Context(), page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"purchasing_cases": purchasingCases,
		"total":            total,
		"page":             page,
		"pageSize":         pageSize,
	})
}

// GetPurchasingCase handles purchasing case aggregate HTTP requests
func (h *HTTPHandler) GetPurchasingCase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Purchasing case ID is required", http.StatusBadRequest)
		return
	}

	agg, err := h.service.GetAggregate(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

// GetPendingCases handles pending-work queue HTTP requests
func (h *HTTPHandler) GetPendingCases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	cases, err := h.service.GetPendingForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"cases": cases})
}

// GetAuditTrail handles audit trail HTTP requests. Accepts either a case
// ID or a purchasing case ID.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	caseID := r.URL.Query().Get("case_id")
	purchasingCaseID := r.URL.Query().Get("purchasing_case_id")

	var entries interface{}
	var err error
	switch {
	case caseID != "":
		entries, err = h.service.GetAuditTrail(r.Context(), caseID)
	case purchasingCaseID != "":
		entries, err = h.service.GetPipelineAuditTrail(r.Context(), purchasingCaseID)
	default:
		http.Error(w, "Case ID or Purchasing case ID is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// writeError translates coded service errors into HTTP statuses.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConflict, errors.ErrCodeStaleCase:
		status = http.StatusConflict
	case errors.ErrCodeInvalidChain:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(code),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
