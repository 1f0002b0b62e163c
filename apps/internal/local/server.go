// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package local contains the loopback HTTP server that receives the authorization code
// at the end of an interactive sign in.
package local

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"
)

var pages = template.Must(template.New("ok").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8" /><title>Signed in</title></head>
<body><p>You are signed in to tunelens. You can close this tab and go back to the terminal.</p></body>
</html>
`))

func init() {
	template.Must(pages.New("fail").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8" /><title>Sign in failed</title></head>
<body>
	<p>Sign in failed. You can close this tab and go back to the terminal.</p>
	<p>Error: {{.Code}}{{with .Description}}: {{.}}{{end}}</p>
</body>
</html>
`))
}

// Result is the result from the redirect.
type Result struct {
	// Code is the authorization code sent by the accounts service.
	Code string
	// Err is set if there was an error.
	Err error
}

// Server is the loopback server. It accepts a single redirect.
type Server struct {
	// Addr is the base URL the server is listening on, such as http://127.0.0.1:8888.
	Addr string

	path     string
	reqState string
	resultCh chan Result
	s        *http.Server
}

// New starts a server on 127.0.0.1:port that expects the redirect at path carrying
// reqState. A port of 0 picks a free port.
func New(reqState string, port int, path string) (*Server, error) {
	if reqState == "" {
		return nil, errors.New("local server needs an OAuth state to check")
	}
	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen for the redirect: %w", err)
	}

	serv := &Server{
		Addr:     "http://" + l.Addr().String(),
		path:     path,
		reqState: reqState,
		resultCh: make(chan Result, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, serv.handler)
	serv.s = &http.Server{Handler: mux, ReadHeaderTimeout: time.Second}

	go func() {
		if err := serv.s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serv.putResult(Result{Err: err})
		}
	}()
	return serv, nil
}

// RedirectURI is the URI to register as the redirect of the sign in request.
func (s *Server) RedirectURI() string {
	return s.Addr + s.path
}

// Result waits for the redirect. ctx deadline will be honored.
func (s *Server) Result(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case r := <-s.resultCh:
		return r
	}
}

// Shutdown shuts down the server.
func (s *Server) Shutdown() {
	// This can't run from handler, Shutdown waits for handlers to return.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.s.Shutdown(ctx)
}

func (s *Server) putResult(r Result) {
	select {
	case s.resultCh <- r:
	default:
	}
}

func (s *Server) handler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// The accounts service reports a denied consent as ?error=access_denied.
	if code := q.Get("error"); code != "" {
		desc := q.Get("error_description")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = pages.ExecuteTemplate(w, "fail", struct{ Code, Description string }{code, desc})
		if desc != "" {
			code += ": " + desc
		}
		s.putResult(Result{Err: fmt.Errorf("sign in failed: %s", code)})
		return
	}

	switch respState := q.Get("state"); respState {
	case s.reqState:
	case "":
		s.error(w, http.StatusBadRequest, "server didn't send OAuth state")
		return
	default:
		s.error(w, http.StatusBadRequest, "mismatched OAuth state, req(%s), resp(%s)", s.reqState, respState)
		return
	}

	code := q.Get("code")
	if code == "" {
		s.error(w, http.StatusBadRequest, "authorization code missing in query string")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = pages.ExecuteTemplate(w, "ok", nil)
	s.putResult(Result{Code: code})
}

func (s *Server) error(w http.ResponseWriter, code int, str string, i ...interface{}) {
	err := fmt.Errorf(str, i...)
	http.Error(w, err.Error(), code)
	s.putResult(Result{Err: err})
}
