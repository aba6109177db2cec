// Package testutil holds helpers shared by the grasp package tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

// LocalhostRequest builds a request that tsweb's debug access check
// accepts, i.e. one that appears to come from the loopback interface.
func LocalhostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// FormRequest builds a localhost POST carrying url-encoded form values.
func FormRequest(path string, values url.Values) *http.Request {
	req := LocalhostRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// Serve runs req through mux and returns the recorded response.
func Serve(mux http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

// TempDBPath returns a fresh SQLite path inside a test temp directory.
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "grasp_test.db")
}
