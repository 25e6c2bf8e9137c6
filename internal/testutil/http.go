package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Request describes a request sent through a gin engine in tests.
type Request struct {
	Method  string
	Path    string
	Body    io.Reader
	Headers map[string]string
	Cookies []*http.Cookie
	User    string
	Pass    string
}

// Do sends req through handler and returns the recorder.
func Do(t *testing.T, handler http.Handler, req Request) *httptest.ResponseRecorder {
	t.Helper()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	path := req.Path
	if path == "" {
		path = "/"
	}
	r := httptest.NewRequest(method, path, req.Body)
	for k, v := range req.Headers {
		r.Header.Set(k, v)
	}
	for _, c := range req.Cookies {
		r.AddCookie(c)
	}
	if req.User != "" {
		r.SetBasicAuth(req.User, req.Pass)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

// Lines splits a text/plain exchange response into its lines.
func Lines(w *httptest.ResponseRecorder) []string {
	body := strings.TrimRight(w.Body.String(), "\n")
	if body == "" {
		return nil
	}
	return strings.Split(body, "\n")
}

// AssertFailure asserts a `failure\n<reason>` response.
func AssertFailure(t *testing.T, w *httptest.ResponseRecorder, status int, reason string) {
	t.Helper()

	assert.Equal(t, status, w.Code, "Unexpected status code")
	lines := Lines(w)
	if assert.NotEmpty(t, lines) {
		assert.Equal(t, "failure", lines[0])
	}
	if reason != "" && assert.Len(t, lines, 2) {
		assert.Contains(t, lines[1], reason)
	}
}
