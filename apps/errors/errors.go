// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package errors holds the error types returned by tunelens clients.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kylelemons/godebug/pretty"
)

var prettyConf = &pretty.Config{IncludeUnexported: false, SkipZeroFields: true, TrackCycles: true}

var (
	// ErrUnauthorized is wrapped by a CallErr when the Web API rejected a call's credential
	// and it could not be renewed.
	ErrUnauthorized = errors.New("the Web API rejected the access token")

	// ErrLoggedOut is returned when a call needs credentials and none are stored.
	ErrLoggedOut = errors.New("not logged in")
)

type verboser interface {
	Verbose() string
}

// Verbose prints the most verbose error that the error message has.
func Verbose(err error) string {
	var v verboser
	if errors.As(err, &v) {
		return v.Verbose()
	}
	return err.Error()
}

// New is equivalent to errors.New().
func New(text string) error {
	return errors.New(text)
}

// Is is equivalent to errors.Is().
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is equivalent to errors.As().
func As(err error, target any) bool {
	return errors.As(err, target)
}

// CallErr represents an HTTP call error. Has a Verbose() method that allows getting the
// http.Request and Response objects. Implements error.
type CallErr struct {
	Req *http.Request
	// Resp contains response body
	Resp *http.Response
	Err  error
}

// Error implements error.Error().
func (e CallErr) Error() string {
	return e.Err.Error()
}

// Unwrap implements errors.Unwrap().
func (e CallErr) Unwrap() error {
	return e.Err
}

// Verbose prints a versbose error message with the request or response.
func (e CallErr) Verbose() string {
	var resp *http.Response
	if e.Resp != nil {
		cp := *e.Resp
		// Request and TLS bring in a lot of state we don't need.
		cp.Request = nil
		cp.TLS = nil
		resp = &cp
	}
	return fmt.Sprintf("%s:\nRequest:\n%s\nResponse:\n%s", e.Err, prettyConf.Sprint(e.Req), prettyConf.Sprint(resp))
}

// StatusCode returns the HTTP status code of the response that caused err, or 0 if err
// did not come from an HTTP response.
func StatusCode(err error) int {
	var ce CallErr
	if errors.As(err, &ce) && ce.Resp != nil {
		return ce.Resp.StatusCode
	}
	return 0
}
