// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import (
	"errors"
	"net/http"
)

// Error is a processing failure carrying an HTTP-equivalent status code.
// Client errors (4xx) indicate that the device sent something the gateway will
// never accept; server errors (5xx) indicate a downstream or internal failure
// that the device may retry.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewClientError returns an Error with a 4xx status.
func NewClientError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// NewServerError returns an Error with a 5xx status.
func NewServerError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// ErrorStatus returns the status code carried by err, or 500 for errors
// without one.
func ErrorStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// IsClientError reports whether err carries a 4xx status.
func IsClientError(err error) bool {
	status := ErrorStatus(err)
	return status >= 400 && status < 500
}
