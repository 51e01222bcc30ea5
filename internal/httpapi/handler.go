package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strconv"
	"strings"
	"time"

	"frontdesk/queue-service/internal/models"
	"frontdesk/queue-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.QueueStore
}

func NewHandler(st store.QueueStore) *Handler {
	return &Handler{store: st}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/tickets", h.handleIssueTicket)
	mux.HandleFunc("/api/tickets/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/tickets/", h.handleTicketSubroutes)
	mux.HandleFunc("/api/quotas", h.handleListQuotas)
	mux.HandleFunc("/api/quotas/actions/generate", h.handleGenerateQuotas)
	mux.HandleFunc("/api/doctors", h.handleListDoctors)
	mux.HandleFunc("/api/doctors/", h.handleDoctorSubroutes)
	mux.HandleFunc("/api/clinics", h.handleListClinics)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

type issueTicketRequest struct {
	RequestID string `json:"request_id"`
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	Date      string `json:"date"`
}

type callNextRequest struct {
	RequestID string `json:"request_id"`
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"`
}

type ticketActionRequest struct {
	RequestID string `json:"request_id"`
}

type setStatusRequest struct {
	Status   string `json:"status"`
	MaxQuota int    `json:"max_quota"`
	Date     string `json:"date"`
}

type generateQuotasRequest struct {
	Date string `json:"date"`
}

type queueResponse struct {
	Ticket models.Ticket     `json:"ticket"`
	Quota  models.DailyQuota `json:"quota"`
}

type ticketStatusResponse struct {
	Ticket     models.Ticket `json:"ticket"`
	AheadCount int           `json:"ahead_count"`
}

type generateQuotasResponse struct {
	Created int    `json:"created"`
	Date    string `json:"date"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req issueTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.PatientID = strings.TrimSpace(req.PatientID)

	if req.RequestID == "" || req.DoctorID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and doctor_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.DoctorID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and doctor_id must be UUIDs")
		return
	}
	if len(req.PatientID) > 64 {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "patient_id must be at most 64 characters")
		return
	}
	date, ok := parseDate(w, req.RequestID, req.Date)
	if !ok {
		return
	}

	ticket, quota, _, err := h.store.IssueTicket(r.Context(), store.IssueTicketInput{
		RequestID: req.RequestID,
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      date,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, queueResponse{Ticket: ticket, Quota: quota})
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.DoctorID = strings.TrimSpace(req.DoctorID)

	if req.RequestID == "" || req.DoctorID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and doctor_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.DoctorID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and doctor_id must be UUIDs")
		return
	}
	date, ok := parseDate(w, req.RequestID, req.Date)
	if !ok {
		return
	}

	ticket, quota, _, err := h.store.CallNext(r.Context(), store.CallNextInput{
		RequestID: req.RequestID,
		DoctorID:  req.DoctorID,
		Date:      date,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		// An empty queue is not a failure, just nothing to call.
		if errors.Is(err, store.ErrNoTicket) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, queueResponse{Ticket: ticket, Quota: quota})
}

func (h *Handler) handleTicketSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		h.handleGetTicket(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleTicketAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	ticket, ahead, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticketStatusResponse{Ticket: ticket, AheadCount: ahead})
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	var req ticketActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" || !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}

	input := store.TicketActionInput{
		RequestID:  req.RequestID,
		TicketID:   ticketID,
		OccurredAt: time.Now().UTC(),
	}

	var ticket models.Ticket
	var err error
	switch action {
	case "serve":
		ticket, _, err = h.store.ServeTicket(r.Context(), input)
	case "skip":
		ticket, _, err = h.store.SkipTicket(r.Context(), input)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if doctorID == "" || !isValidUUID(doctorID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "doctor_id must be a UUID")
		return
	}
	date, ok := parseDate(w, "", r.URL.Query().Get("date"))
	if !ok {
		return
	}

	tickets, err := h.store.SnapshotTickets(r.Context(), doctorID, date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleListQuotas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date, ok := parseDate(w, "", r.URL.Query().Get("date"))
	if !ok {
		return
	}

	quotas, err := h.store.ListQuotas(r.Context(), date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, quotas)
}

func (h *Handler) handleGenerateQuotas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req generateQuotasRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	date, ok := parseDate(w, "", req.Date)
	if !ok {
		return
	}

	created, err := h.store.GenerateDailyQuotas(r.Context(), date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, generateQuotasResponse{Created: created, Date: store.DateKey(date)})
}

func (h *Handler) handleDoctorSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/doctors/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "status" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.handleSetDoctorStatus(w, r, parts[0])
}

func (h *Handler) handleSetDoctorStatus(w http.ResponseWriter, r *http.Request, doctorID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(doctorID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "doctor_id must be a UUID")
		return
	}

	var req setStatusRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if !store.ValidQuotaStatus(req.Status) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "status must be open, closed, break, or full")
		return
	}
	if req.MaxQuota < 1 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "max_quota must be a positive integer")
		return
	}
	date, ok := parseDate(w, "", req.Date)
	if !ok {
		return
	}

	quota, err := h.store.SetQuotaStatus(r.Context(), store.SetQuotaStatusInput{
		DoctorID: doctorID,
		Date:     date,
		Status:   req.Status,
		MaxQuota: req.MaxQuota,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, quota)
}

func (h *Handler) handleListDoctors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if clinicID != "" && !isValidUUID(clinicID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID when provided")
		return
	}

	doctors, err := h.store.ListDoctors(r.Context(), clinicID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

func (h *Handler) handleListClinics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clinics, err := h.store.ListClinics(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, clinics)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var after int64
	if afterRaw := strings.TrimSpace(r.URL.Query().Get("after")); afterRaw != "" {
		parsed, err := strconv.ParseInt(afterRaw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be a non-negative integer")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func parseDate(w http.ResponseWriter, requestID, raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), true
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return parsed, true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrDoctorNotFound):
		return http.StatusNotFound, "doctor_not_found", "doctor not found"
	case errors.Is(err, store.ErrClinicNotFound):
		return http.StatusNotFound, "clinic_not_found", "clinic not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrQuotaNotFound):
		return http.StatusNotFound, "quota_not_found", "quota not found"
	case errors.Is(err, store.ErrQuotaClosed):
		return http.StatusConflict, "quota_closed", "clinic is closed for today"
	case errors.Is(err, store.ErrQuotaBreak):
		return http.StatusConflict, "quota_break", "doctor is on break"
	case errors.Is(err, store.ErrQuotaFull):
		return http.StatusConflict, "quota_full", "daily quota is full"
	case errors.Is(err, store.ErrQuotaBelowCount):
		return http.StatusConflict, "quota_below_count", "max quota cannot be lower than tickets already issued"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrInvalidQuotaState):
		return http.StatusBadRequest, "invalid_request", "status must be open, closed, break, or full"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
