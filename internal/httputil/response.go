// Package httputil holds the response helpers shared by the debug routes.
package httputil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/grasp/internal/monitoring"
)

// WriteJSON encodes data as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Debugf("failed to encode json response: %v", err)
	}
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// BadRequest writes a 400 with err's message.
func BadRequest(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusBadRequest, err.Error())
}

// AllowMethods reports whether r uses one of methods. Otherwise it writes
// a 405 listing them in the Allow header.
func AllowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// Renderer is anything that renders a full HTML page, e.g. a go-echarts
// chart.
type Renderer interface {
	Render(w io.Writer) error
}

// WriteHTML renders page into a buffer first so a render failure can
// still produce a 500.
func WriteHTML(w http.ResponseWriter, page Renderer) {
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to render page: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
