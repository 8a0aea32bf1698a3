package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jashmhtaaa/theatre-scheduler/internal/application"
	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/logging"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

type bookingService interface {
	Submit(ctx context.Context, principal application.Principal, req scheduler.BookingRequest) (scheduler.Decision, error)
	Hold(ctx context.Context, principal application.Principal, req scheduler.BookingRequest) (scheduler.Booking, error)
	Confirm(ctx context.Context, params application.TransitionParams) (scheduler.Decision, error)
	Start(ctx context.Context, params application.TransitionParams) (scheduler.Booking, error)
	Complete(ctx context.Context, params application.TransitionParams) (scheduler.Booking, error)
	Cancel(ctx context.Context, params application.TransitionParams) (scheduler.Booking, error)
	Reschedule(ctx context.Context, params application.RescheduleParams) (scheduler.Decision, error)
	GetBooking(ctx context.Context, principal application.Principal, bookingID string) (scheduler.Booking, error)
	FindSlots(ctx context.Context, principal application.Principal, query application.SlotQuery) ([]scheduler.Slot, error)
	SignChecklist(ctx context.Context, principal application.Principal, bookingID, phase string) (checklist.SignOff, error)
	ChecklistStatus(ctx context.Context, principal application.Principal, bookingID string) ([]checklist.SignOff, error)
}

// BookingHandler serves the booking lifecycle and slot search endpoints.
type BookingHandler struct {
	service   bookingService
	responder responder
	logger    *slog.Logger
}

func NewBookingHandler(service bookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{service: service, responder: newResponder(logger), logger: logging.OrDefault(logger)}
}

func (h *BookingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	coreReq, err := req.toCore()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	decision, err := h.service.Submit(r.Context(), principal, coreReq)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderDecision(r.Context(), w, decision, http.StatusCreated)
}

func (h *BookingHandler) Hold(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	coreReq, err := req.toCore()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	booking, err := h.service.Hold(r.Context(), principal, coreReq)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toBookingDTO(booking))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := bookingIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	booking, err := h.service.GetBooking(r.Context(), principal, bookingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBookingDTO(booking))
}

// Transition handles POST /bookings/{id}/{action}.
func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := bookingIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}
	action := mux.Vars(r)["action"]

	var req versionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	params := application.TransitionParams{Principal: principal, BookingID: bookingID, Version: req.Version}
	logger := logging.Scoped(r.Context(), h.logger, "handler", "BookingHandler", action, "booking_id", bookingID)

	var (
		booking scheduler.Booking
		err     error
	)
	switch action {
	case "confirm":
		var decision scheduler.Decision
		if decision, err = h.service.Confirm(r.Context(), params); err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		h.renderDecision(r.Context(), w, decision, http.StatusOK)
		return
	case "start":
		booking, err = h.service.Start(r.Context(), params)
	case "complete":
		booking, err = h.service.Complete(r.Context(), params)
	case "cancel":
		booking, err = h.service.Cancel(r.Context(), params)
	default:
		logger.DebugContext(r.Context(), "unknown booking action")
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBookingDTO(booking))
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := bookingIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	decision, err := h.service.Reschedule(r.Context(), application.RescheduleParams{
		Principal: principal,
		BookingID: bookingID,
		Version:   req.Version,
		Request:   req.toCore(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderDecision(r.Context(), w, decision, http.StatusOK)
}

func (h *BookingHandler) SignChecklist(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := bookingIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	signOff, err := h.service.SignChecklist(r.Context(), principal, bookingID, mux.Vars(r)["phase"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toSignOffDTO(signOff))
}

func (h *BookingHandler) ChecklistStatus(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := bookingIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	signOffs, err := h.service.ChecklistStatus(r.Context(), principal, bookingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]signOffDTO, 0, len(signOffs))
	for _, s := range signOffs {
		out = append(out, toSignOffDTO(s))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, checklistResponse{BookingID: bookingID, SignOffs: out})
}

// Slots handles GET /slots.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	query, vErr := buildSlotQuery(r.URL.Query())
	if vErr.HasErrors() {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	slots, err := h.service.FindSlots(r.Context(), principal, query)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, slotsResponse{Slots: toSlotDTOs(slots)})
}

func (h *BookingHandler) renderDecision(ctx context.Context, w http.ResponseWriter, decision scheduler.Decision, admittedStatus int) {
	payload := decisionResponse{
		Admitted:    decision.Admitted,
		Report:      toReportDTO(decision.Report),
		Suggestions: toSlotDTOs(decision.Suggestions),
	}
	if decision.Booking.ID != "" {
		dto := toBookingDTO(decision.Booking)
		payload.Booking = &dto
	}
	status := admittedStatus
	if !decision.Admitted {
		status = http.StatusConflict
	}
	h.responder.writeJSON(ctx, w, status, payload)
}

func bookingIDFromRequest(r *http.Request) (string, bool) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	return id, id != ""
}

type bookingRequest struct {
	ResourceIDs []string `json:"resource_ids"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Priority    string   `json:"priority"`
	Notes       string   `json:"notes"`
}

func (r bookingRequest) toCore() (scheduler.BookingRequest, error) {
	priority, err := scheduler.ParsePriority(r.Priority)
	if err != nil {
		vErr := &application.ValidationError{FieldErrors: map[string]string{"priority": "priority must be elective, urgent or emergency"}}
		return scheduler.BookingRequest{}, vErr
	}
	return scheduler.BookingRequest{
		ResourceIDs: trimAll(r.ResourceIDs),
		Start:       parseTime(r.Start),
		End:         parseTime(r.End),
		Priority:    priority,
		Notes:       r.Notes,
	}, nil
}

type versionRequest struct {
	Version int64 `json:"version"`
}

type rescheduleRequest struct {
	Version     int64    `json:"version"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	ResourceIDs []string `json:"resource_ids"`
}

func (r rescheduleRequest) toCore() scheduler.RescheduleRequest {
	req := scheduler.RescheduleRequest{
		Start: parseTime(r.Start),
		End:   parseTime(r.End),
	}
	if r.ResourceIDs != nil {
		req.ResourceIDs = trimAll(r.ResourceIDs)
	}
	return req
}

type bookingDTO struct {
	ID               string   `json:"id"`
	ResourceIDs      []string `json:"resource_ids"`
	Start            string   `json:"start"`
	End              string   `json:"end"`
	Status           string   `json:"status"`
	Priority         string   `json:"priority"`
	Version          int64    `json:"version"`
	RequestedBy      string   `json:"requested_by"`
	Notes            string   `json:"notes,omitempty"`
	CreatedAt        string   `json:"created_at"`
	LastTransitionAt string   `json:"last_transition_at"`
}

func toBookingDTO(b scheduler.Booking) bookingDTO {
	return bookingDTO{
		ID:               b.ID,
		ResourceIDs:      append([]string(nil), b.ResourceIDs...),
		Start:            formatTime(b.Window.Start),
		End:              formatTime(b.Window.End),
		Status:           string(b.Status),
		Priority:         string(b.Priority),
		Version:          b.Version,
		RequestedBy:      b.RequestedBy,
		Notes:            b.Notes,
		CreatedAt:        formatTime(b.CreatedAt),
		LastTransitionAt: formatTime(b.LastTransitionAt),
	}
}

func toBookingDTOs(bookings []scheduler.Booking) []bookingDTO {
	out := make([]bookingDTO, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingDTO(b))
	}
	return out
}

type decisionResponse struct {
	Admitted    bool              `json:"admitted"`
	Booking     *bookingDTO       `json:"booking,omitempty"`
	Report      conflictReportDTO `json:"report"`
	Suggestions []slotDTO         `json:"suggestions,omitempty"`
}

type conflictReportDTO struct {
	Conflicts []conflictDTO `json:"conflicts"`
}

type conflictDTO struct {
	ResourceID string   `json:"resource_id"`
	Kind       string   `json:"kind"`
	BookingIDs []string `json:"booking_ids,omitempty"`
}

func toReportDTO(report scheduler.ConflictReport) conflictReportDTO {
	out := conflictReportDTO{Conflicts: make([]conflictDTO, 0, len(report.Conflicts))}
	for _, c := range report.Conflicts {
		out.Conflicts = append(out.Conflicts, conflictDTO{
			ResourceID: c.ResourceID,
			Kind:       string(c.Kind),
			BookingIDs: append([]string(nil), c.BookingIDs...),
		})
	}
	return out
}

type slotDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type slotsResponse struct {
	Slots []slotDTO `json:"slots"`
}

func toSlotDTOs(slots []scheduler.Slot) []slotDTO {
	if len(slots) == 0 {
		return nil
	}
	out := make([]slotDTO, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotDTO{Start: formatTime(s.Start), End: formatTime(s.End)})
	}
	return out
}

type signOffDTO struct {
	Phase    string `json:"phase"`
	SignedBy string `json:"signed_by"`
	SignedAt string `json:"signed_at"`
}

type checklistResponse struct {
	BookingID string       `json:"booking_id"`
	SignOffs  []signOffDTO `json:"sign_offs"`
}

func toSignOffDTO(s checklist.SignOff) signOffDTO {
	return signOffDTO{Phase: string(s.Phase), SignedBy: s.SignedBy, SignedAt: formatTime(s.SignedAt)}
}

// buildSlotQuery parses /slots query parameters. Durations use Go syntax
// ("90m", "2h"); resource_id may repeat or hold a comma separated list.
func buildSlotQuery(values url.Values) (application.SlotQuery, *application.ValidationError) {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	var query application.SlotQuery

	for _, raw := range values["resource_id"] {
		query.ResourceIDs = append(query.ResourceIDs, parseCSV(raw)...)
	}

	if raw := strings.TrimSpace(values.Get("duration")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			vErr.FieldErrors["duration"] = "duration must be a Go duration such as 90m"
		}
		query.Duration = d
	}
	if raw := strings.TrimSpace(values.Get("horizon")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			vErr.FieldErrors["horizon"] = "horizon must be a Go duration such as 48h"
		}
		query.Horizon = d
	}
	if raw := strings.TrimSpace(values.Get("from")); raw != "" {
		query.EarliestStart = parseTime(raw)
		if query.EarliestStart.IsZero() {
			vErr.FieldErrors["from"] = "from must be an RFC 3339 timestamp"
		}
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			vErr.FieldErrors["limit"] = "limit must be a non-negative integer"
		}
		query.Limit = n
	}
	return query, vErr
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
