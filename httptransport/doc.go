// Package httptransport carries offsync pushes over HTTP.
//
// Client implements offsync.Transport by posting a PushRequest as JSON to
// POST /v1/push. Handler serves that route in front of any offsync.Transport,
// usually a *server.Receiver. Transient failures (network errors, 408, 429
// and 5xx) are retried with backoff honoring Retry-After; other 4xx answers
// are returned as offsync.Permanent errors so the engine dead-letters the batch
// instead of retrying it forever.
package httptransport
