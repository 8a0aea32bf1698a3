package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	t.Parallel()

	c := New("test")
	c.Decision("submit", true, nil)
	c.Decision("submit", false, []string{"double_booked", "outside_availability"})
	c.Decision("submit", false, []string{"double_booked"})
	c.Transition("cancelled")
	c.LockTimeout()
	c.EventDelivered("amqp", "BookingConfirmed", errors.New("down"))
	c.EventDropped("BookingConfirmed")
	c.ObserveHTTP("/bookings", http.MethodPost, http.StatusCreated, 10*time.Millisecond)
	c.ObserveOperation("submit", "ok", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisions.WithLabelValues("submit", "admitted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.decisions.WithLabelValues("submit", "rejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.conflicts.WithLabelValues("double_booked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lockTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("amqp", "BookingConfirmed", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/bookings", "POST", "201")))
}

func TestCollectorHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	c := New("test")
	c.Transition("confirmed")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `test_booking_transitions_total{status="confirmed"} 1`))
}

func TestNilCollectorIsSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.Decision("submit", true, nil)
	c.Transition("x")
	c.LockTimeout()
	c.ObserveHTTP("/", "GET", 200, 0)
	c.EventDelivered("log", "x", nil)
	c.EventDropped("x")
	c.ObserveOperation("x", "ok", 0)
	assert.Nil(t, c.Registry())
}
