package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jashmhtaaa/theatre-scheduler/internal/application"
	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/metrics"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence/memory"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
	"github.com/jashmhtaaa/theatre-scheduler/internal/testfixtures"
)

type apiHarness struct {
	handler http.Handler
	theatre scheduler.Resource
	surgeon scheduler.Resource
	metrics *metrics.Collector
}

func newAPIHarness(t *testing.T) apiHarness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := memory.New()
	clock := testfixtures.NewClock(time.Time{})
	tracker := checklist.NewTracker(store, clock.NowFunc())
	theatre := testfixtures.NewResource()
	surgeon := testfixtures.NewResource(testfixtures.WithType(scheduler.ResourceStaff))
	h := testfixtures.NewSchedulerHarness(t, []scheduler.Resource{theatre, surgeon},
		testfixtures.WithStore(store), testfixtures.WithClock(clock), testfixtures.WithGuard(tracker))
	collector := metrics.New("api")

	bookings := application.NewBookingService(application.BookingServiceDeps{
		Scheduler: h.Scheduler,
		Checklist: tracker,
		Metrics:   collector,
		Policy:    h.Scheduler.Policy(),
		Now:       clock.NowFunc(),
		Logger:    logger,
	})
	resources := application.NewResourceService(store, h.Scheduler.Directory(),
		testfixtures.NewIDGenerator("resource").NextFunc(), clock.NowFunc(), logger)

	handler := NewRouter(RouterConfig{
		Bookings:  NewBookingHandler(bookings, logger),
		Resources: NewResourceHandler(resources, logger),
		Metrics:   collector,
		Middleware: []func(http.Handler) http.Handler{
			RequestLogger(logger),
			IdentifyPrincipal,
		},
	})
	return apiHarness{handler: handler, theatre: theatre, surgeon: surgeon, metrics: collector}
}

func (a apiHarness) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		parts := strings.SplitN(user, ":", 2)
		req.Header.Set(headerUserID, parts[0])
		if len(parts) == 2 {
			req.Header.Set(headerUserRole, parts[1])
		}
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func rfc(ts time.Time) string { return ts.Format(time.RFC3339) }

func TestBookingEndpoints(t *testing.T) {
	api := newAPIHarness(t)
	resources := []string{api.theatre.ID, api.surgeon.ID}
	body := map[string]any{
		"resource_ids": resources,
		"start":        rfc(testfixtures.At(0, 10, 0)),
		"end":          rfc(testfixtures.At(0, 11, 0)),
	}

	t.Run("anonymous submit is rejected", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/bookings", "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	rec := api.do(t, http.MethodPost, "/bookings", "surgeon-9", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	admitted := decode[decisionResponse](t, rec)
	require.True(t, admitted.Admitted)
	require.NotNil(t, admitted.Booking)
	assert.Equal(t, "confirmed", admitted.Booking.Status)
	assert.Equal(t, int64(1), admitted.Booking.Version)
	assert.Equal(t, "surgeon-9", admitted.Booking.RequestedBy)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	bookingID := admitted.Booking.ID

	t.Run("overlapping submit returns the report and suggestions", func(t *testing.T) {
		overlap := map[string]any{
			"resource_ids": []string{api.theatre.ID},
			"start":        rfc(testfixtures.At(0, 10, 30)),
			"end":          rfc(testfixtures.At(0, 11, 30)),
		}
		rec := api.do(t, http.MethodPost, "/bookings", "surgeon-9", overlap)
		require.Equal(t, http.StatusConflict, rec.Code)
		rejected := decode[decisionResponse](t, rec)
		assert.False(t, rejected.Admitted)
		assert.Nil(t, rejected.Booking)
		require.Len(t, rejected.Report.Conflicts, 1)
		assert.Equal(t, "double_booked", rejected.Report.Conflicts[0].Kind)
		assert.Equal(t, []string{bookingID}, rejected.Report.Conflicts[0].BookingIDs)
		assert.NotEmpty(t, rejected.Suggestions)
	})

	t.Run("invalid window is a validation failure", func(t *testing.T) {
		bad := map[string]any{
			"resource_ids": resources,
			"start":        rfc(testfixtures.At(0, 11, 0)),
			"end":          rfc(testfixtures.At(0, 10, 0)),
		}
		rec := api.do(t, http.MethodPost, "/bookings", "surgeon-9", bad)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		payload := decode[errorResponse](t, rec)
		assert.Equal(t, "INVALID_REQUEST", payload.ErrorCode)
		assert.NotEmpty(t, payload.Errors)
	})

	t.Run("unknown resource", func(t *testing.T) {
		missing := map[string]any{
			"resource_ids": []string{"theatre-missing"},
			"start":        rfc(testfixtures.At(0, 10, 0)),
			"end":          rfc(testfixtures.At(0, 11, 0)),
		}
		rec := api.do(t, http.MethodPost, "/bookings", "surgeon-9", missing)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader("{"))
		req.Header.Set(headerUserID, "surgeon-9")
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get booking", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/bookings/"+bookingID, "surgeon-9", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, bookingID, decode[bookingDTO](t, rec).ID)

		rec = api.do(t, http.MethodGet, "/bookings/nope", "surgeon-9", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("start is gated by the checklist", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/bookings/"+bookingID+"/start", "surgeon-9", map[string]any{"version": 1})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "CHECKLIST_INCOMPLETE", decode[errorResponse](t, rec).ErrorCode)

		rec = api.do(t, http.MethodPost, "/bookings/"+bookingID+"/checklist/pre_op", "surgeon-9", nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = api.do(t, http.MethodGet, "/bookings/"+bookingID+"/checklist", "surgeon-9", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[checklistResponse](t, rec).SignOffs, 1)
	})

	t.Run("stale version", func(t *testing.T) {
		rec := api.do(t, http.MethodPut, "/bookings/"+bookingID+"/window", "surgeon-9", map[string]any{
			"version": 7,
			"start":   rfc(testfixtures.At(0, 14, 0)),
			"end":     rfc(testfixtures.At(0, 15, 0)),
		})
		require.Equal(t, http.StatusPreconditionFailed, rec.Code)
		payload := decode[staleVersionResponse](t, rec)
		assert.Equal(t, int64(7), payload.ExpectedVersion)
		assert.Equal(t, int64(1), payload.CurrentVersion)
	})

	t.Run("reschedule then cancel", func(t *testing.T) {
		rec := api.do(t, http.MethodPut, "/bookings/"+bookingID+"/window", "surgeon-9", map[string]any{
			"version": 1,
			"start":   rfc(testfixtures.At(0, 14, 0)),
			"end":     rfc(testfixtures.At(0, 15, 0)),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		moved := decode[decisionResponse](t, rec)
		require.True(t, moved.Admitted)
		assert.Equal(t, int64(2), moved.Booking.Version)

		rec = api.do(t, http.MethodPost, "/bookings/"+bookingID+"/cancel", "surgeon-9", map[string]any{"version": 2})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cancelled", decode[bookingDTO](t, rec).Status)

		rec = api.do(t, http.MethodPost, "/bookings/"+bookingID+"/complete", "surgeon-9", map[string]any{"version": 3})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "ILLEGAL_TRANSITION", decode[errorResponse](t, rec).ErrorCode)
	})

	t.Run("hold then confirm", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/bookings/holds", "surgeon-9", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		held := decode[bookingDTO](t, rec)
		assert.Equal(t, "requested", held.Status)

		rec = api.do(t, http.MethodPost, "/bookings/"+held.ID+"/confirm", "surgeon-9", map[string]any{"version": held.Version})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		confirmed := decode[decisionResponse](t, rec)
		assert.True(t, confirmed.Admitted)
		assert.Equal(t, "confirmed", confirmed.Booking.Status)
	})

	t.Run("unknown action is not routed", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/bookings/"+bookingID+"/archive", "surgeon-9", map[string]any{"version": 1})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSlotsEndpoint(t *testing.T) {
	api := newAPIHarness(t)

	rec := api.do(t, http.MethodGet, "/slots?resource_id="+api.theatre.ID+"&duration=2h&limit=2", "surgeon-9", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	slots := decode[slotsResponse](t, rec).Slots
	require.Len(t, slots, 2)
	assert.Equal(t, rfc(testfixtures.At(0, 9, 0)), slots[0].Start)

	rec = api.do(t, http.MethodGet, "/slots?resource_id="+api.theatre.ID+"&duration=soon", "surgeon-9", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Errors, "duration")
}

func TestResourceEndpoints(t *testing.T) {
	api := newAPIHarness(t)

	create := map[string]any{
		"id":       "or-7",
		"name":     "Operating Room 7",
		"type":     "theatre",
		"capacity": 1,
		"availability": []map[string]any{{
			"start":     rfc(testfixtures.At(0, 8, 0)),
			"end":       rfc(testfixtures.At(0, 18, 0)),
			"frequency": "weekly",
			"weekdays":  []string{"mon", "wednesday"},
		}},
		"granularity": "30m",
	}

	rec := api.do(t, http.MethodPost, "/resources", "nurse-1", create)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/resources", "admin-1:admin", create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[resourceDTO](t, rec)
	assert.Equal(t, "or-7", created.ID)
	assert.True(t, created.Active)
	assert.Equal(t, "30m0s", created.Granularity)
	require.Len(t, created.Availability, 1)
	assert.Equal(t, []string{"monday", "wednesday"}, created.Availability[0].Weekdays)

	rec = api.do(t, http.MethodPost, "/resources", "admin-1:admin", create)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/resources", "nurse-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[listResourcesResponse](t, rec).Resources, 3)

	bad := map[string]any{"name": "", "type": "robot"}
	rec = api.do(t, http.MethodPut, "/resources/or-7", "admin-1:admin", bad)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	payload := decode[errorResponse](t, rec)
	assert.Contains(t, payload.Errors, "name")
	assert.Contains(t, payload.Errors, "type")

	rec = api.do(t, http.MethodPost, "/resources/or-7/deactivate", "admin-1:admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[resourceDTO](t, rec).Active)

	booking := map[string]any{
		"resource_ids": []string{"or-7"},
		"start":        rfc(testfixtures.At(0, 10, 0)),
		"end":          rfc(testfixtures.At(0, 11, 0)),
	}
	rec = api.do(t, http.MethodPost, "/bookings", "surgeon-9", booking)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "outside_availability", decode[decisionResponse](t, rec).Report.Conflicts[0].Kind)

	rec = api.do(t, http.MethodGet, "/resources/"+api.theatre.ID+"/bookings?from="+rfc(testfixtures.At(0, 0, 0))+"&to="+rfc(testfixtures.At(1, 0, 0)), "nurse-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[calendarResponse](t, rec).Bookings)

	rec = api.do(t, http.MethodGet, "/resources/missing", "nurse-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	api := newAPIHarness(t)

	rec := api.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)

	api.do(t, http.MethodGet, "/bookings/abc", "surgeon-9", nil)
	rec = api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `api_http_requests_total{method="GET",route="/bookings/{id}",status="404"} 1`)

	failing := NewRouter(RouterConfig{Health: func(context.Context) error { return errors.New("store down") }})
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
