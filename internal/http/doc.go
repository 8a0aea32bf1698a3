// Package http exposes the theatre scheduler over JSON/HTTP.
//
// The router exposes the following endpoints:
//   - POST /bookings: submit a booking for immediate admission. Body:
//     {"resource_ids","start","end","priority","notes"}. Responds 201 with the
//     booking, or 409 with the conflict report and suggested slots.
//   - POST /bookings/holds: record a Requested booking without reserving.
//   - GET /bookings/{id}: current booking state.
//   - POST /bookings/{id}/confirm|start|complete|cancel: lifecycle moves.
//     Body: {"version"}. A stale version yields 412.
//   - PUT /bookings/{id}/window: reschedule. Body:
//     {"version","start","end","resource_ids"}.
//   - GET /bookings/{id}/checklist, POST /bookings/{id}/checklist/{phase}:
//     surgical safety sign-offs.
//   - GET /slots?resource_id=..&duration=..&from=..&horizon=..&limit=..: free
//     windows across a resource set.
//   - GET /resources, POST /resources, GET /resources/{id}, PUT /resources/{id},
//     POST /resources/{id}/deactivate, GET /resources/{id}/bookings?from=..&to=..:
//     the resource registry. Mutations require the admin role.
//   - GET /metrics, GET /healthz.
//
// The acting user is read from the X-User-ID header and the admin role from
// X-User-Role. Authentication happens in front of this service.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
