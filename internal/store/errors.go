// Package store persists slots, booking sessions, analysis job records and
// lot analytics behind a narrow interface so the transition engine and the
// periodic tracker can be unit-tested without a live database.
package store

import "errors"

// ErrNotFound is returned when a slot, booking, job or subscription does not
// exist. Handlers translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an operation cannot proceed because the
// record is already in the requested or a terminal state, such as booking an
// occupied slot or cancelling a job that is no longer pending. Handlers
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
