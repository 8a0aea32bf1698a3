package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jashmhtaaa/theatre-scheduler/internal/application"
	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

type resourceService interface {
	CreateResource(ctx context.Context, params application.CreateResourceParams) (scheduler.Resource, error)
	UpdateResource(ctx context.Context, params application.UpdateResourceParams) (scheduler.Resource, error)
	DeactivateResource(ctx context.Context, principal application.Principal, resourceID string) (scheduler.Resource, error)
	GetResource(ctx context.Context, resourceID string) (scheduler.Resource, error)
	ListResources(ctx context.Context) ([]scheduler.Resource, error)
	Calendar(ctx context.Context, params application.CalendarParams) ([]scheduler.Booking, error)
}

// ResourceHandler serves the resource registry.
type ResourceHandler struct {
	service   resourceService
	responder responder
}

func NewResourceHandler(service resourceService, logger *slog.Logger) *ResourceHandler {
	return &ResourceHandler{service: service, responder: newResponder(logger)}
}

func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req resourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	input, vErr := req.toInput()
	if vErr.HasErrors() {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	resource, err := h.service.CreateResource(r.Context(), application.CreateResourceParams{
		Principal:  principal,
		ResourceID: strings.TrimSpace(req.ID),
		Input:      input,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toResourceDTO(resource))
}

func (h *ResourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resourceID, ok := resourceIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidResourceID)
		return
	}

	var req resourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	input, vErr := req.toInput()
	if vErr.HasErrors() {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	resource, err := h.service.UpdateResource(r.Context(), application.UpdateResourceParams{
		Principal:  principal,
		ResourceID: resourceID,
		Input:      input,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toResourceDTO(resource))
}

func (h *ResourceHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resourceID, ok := resourceIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidResourceID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	resource, err := h.service.DeactivateResource(r.Context(), principal, resourceID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toResourceDTO(resource))
}

func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resourceID, ok := resourceIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidResourceID)
		return
	}

	resource, err := h.service.GetResource(r.Context(), resourceID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toResourceDTO(resource))
}

func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resources, err := h.service.ListResources(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]resourceDTO, 0, len(resources))
	for _, resource := range resources {
		out = append(out, toResourceDTO(resource))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listResourcesResponse{Resources: out})
}

// Calendar handles GET /resources/{id}/bookings?from=..&to=.. and defaults
// to the next seven days.
func (h *ResourceHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resourceID, ok := resourceIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidResourceID)
		return
	}

	values := r.URL.Query()
	from := parseTime(values.Get("from"))
	if from.IsZero() {
		from = time.Now().UTC().Truncate(24 * time.Hour)
	}
	to := parseTime(values.Get("to"))
	if to.IsZero() {
		to = from.Add(7 * 24 * time.Hour)
	}

	principal, _ := PrincipalFromContext(r.Context())
	bookings, err := h.service.Calendar(r.Context(), application.CalendarParams{
		Principal:  principal,
		ResourceID: resourceID,
		From:       from,
		To:         to,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, calendarResponse{
		ResourceID: resourceID,
		From:       formatTime(from),
		To:         formatTime(to),
		Bookings:   toBookingDTOs(bookings),
	})
}

func resourceIDFromRequest(r *http.Request) (string, bool) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	return id, id != ""
}

type resourceRequest struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Capacity     int         `json:"capacity"`
	Availability []windowDTO `json:"availability"`
	Blackouts    []windowDTO `json:"blackouts"`
	Granularity  string      `json:"granularity"`
}

func (r resourceRequest) toInput() (application.ResourceInput, *application.ValidationError) {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	input := application.ResourceInput{
		Name:     r.Name,
		Type:     scheduler.ResourceType(r.Type),
		Capacity: r.Capacity,
	}

	if raw := strings.TrimSpace(r.Granularity); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			vErr.FieldErrors["granularity"] = "granularity must be a Go duration such as 15m"
		}
		input.Granularity = d
	}

	var err error
	if input.Availability, err = toWindows(r.Availability); err != nil {
		vErr.FieldErrors["availability"] = err.Error()
	}
	if input.Blackouts, err = toWindows(r.Blackouts); err != nil {
		vErr.FieldErrors["blackouts"] = err.Error()
	}
	return input, vErr
}

type windowDTO struct {
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Frequency string   `json:"frequency,omitempty"`
	Weekdays  []string `json:"weekdays,omitempty"`
	Until     string   `json:"until,omitempty"`
}

func toWindows(dtos []windowDTO) ([]recurrence.Window, error) {
	if len(dtos) == 0 {
		return nil, nil
	}
	out := make([]recurrence.Window, 0, len(dtos))
	for i, dto := range dtos {
		freq, err := recurrence.ParseFrequency(dto.Frequency)
		if err != nil {
			return nil, fmt.Errorf("window %d: frequency must be none, daily or weekly", i)
		}
		w := recurrence.Window{
			Start: parseTime(dto.Start),
			End:   parseTime(dto.End),
			Rule:  recurrence.Rule{Frequency: freq},
		}
		if w.Start.IsZero() || w.End.IsZero() {
			return nil, fmt.Errorf("window %d: start and end must be RFC 3339 timestamps", i)
		}
		for _, name := range dto.Weekdays {
			day, ok := parseWeekday(name)
			if !ok {
				return nil, fmt.Errorf("window %d: unknown weekday %q", i, name)
			}
			w.Rule.Weekdays = append(w.Rule.Weekdays, day)
		}
		if dto.Until != "" {
			until := parseTime(dto.Until)
			if until.IsZero() {
				return nil, fmt.Errorf("window %d: until must be an RFC 3339 timestamp", i)
			}
			w.Rule.Until = &until
		}
		out = append(out, w)
	}
	return out, nil
}

func parseWeekday(name string) (time.Weekday, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, true
		}
	}
	return 0, false
}

func toWindowDTOs(windows []recurrence.Window) []windowDTO {
	if len(windows) == 0 {
		return nil
	}
	out := make([]windowDTO, 0, len(windows))
	for _, w := range windows {
		dto := windowDTO{
			Start:     w.Start.Format(time.RFC3339),
			End:       w.End.Format(time.RFC3339),
			Frequency: w.Rule.Frequency.String(),
		}
		for _, d := range w.Rule.Weekdays {
			dto.Weekdays = append(dto.Weekdays, strings.ToLower(d.String()))
		}
		if w.Rule.Until != nil {
			dto.Until = w.Rule.Until.Format(time.RFC3339)
		}
		out = append(out, dto)
	}
	return out
}

type resourceDTO struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Capacity     int         `json:"capacity"`
	Availability []windowDTO `json:"availability"`
	Blackouts    []windowDTO `json:"blackouts,omitempty"`
	Granularity  string      `json:"granularity,omitempty"`
	Active       bool        `json:"active"`
	CreatedAt    string      `json:"created_at"`
	UpdatedAt    string      `json:"updated_at"`
}

func toResourceDTO(resource scheduler.Resource) resourceDTO {
	dto := resourceDTO{
		ID:           resource.ID,
		Name:         resource.Name,
		Type:         string(resource.Type),
		Capacity:     resource.Capacity,
		Availability: toWindowDTOs(resource.Availability),
		Blackouts:    toWindowDTOs(resource.Blackouts),
		Active:       resource.Active,
		CreatedAt:    formatTime(resource.CreatedAt),
		UpdatedAt:    formatTime(resource.UpdatedAt),
	}
	if resource.Granularity > 0 {
		dto.Granularity = resource.Granularity.String()
	}
	return dto
}

type listResourcesResponse struct {
	Resources []resourceDTO `json:"resources"`
}

type calendarResponse struct {
	ResourceID string       `json:"resource_id"`
	From       string       `json:"from"`
	To         string       `json:"to"`
	Bookings   []bookingDTO `json:"bookings"`
}
