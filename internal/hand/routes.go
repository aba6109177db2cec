package hand

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/grasp/internal/calibration"
	"github.com/banshee-data/grasp/internal/httputil"
	"github.com/banshee-data/grasp/internal/tof"
)

type sessionStatus struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	Mode      string `json:"mode"`
	Collected int    `json:"collected"`
	Capacity  int    `json:"capacity"`
}

type status struct {
	Frame    Frame             `json:"frame"`
	Complete map[string]bool   `json:"complete"`
	Sessions []sessionStatus   `json:"sessions"`
	Commands []string          `json:"commands"`
	Table    calibration.Table `json:"coefficients"`
}

func (h *Hand) status() status {
	st := status{
		Frame:    h.Last(),
		Complete: make(map[string]bool, tof.NumChannels),
		Sessions: []sessionStatus{},
		Commands: CommandHelp(),
		Table:    h.store.Snapshot(),
	}
	for _, ch := range tof.Channels() {
		st.Complete[ch.String()] = h.store.Complete(ch)
	}
	for _, s := range h.ActiveSessions() {
		st.Sessions = append(st.Sessions, sessionStatus{
			ID:        s.ID,
			Channel:   s.Channel.String(),
			Mode:      s.Mode.String(),
			Collected: s.Samples().Len(),
			Capacity:  s.Samples().Cap(),
		})
	}
	return st
}

// AttachAdminRoutes registers the hand's debug endpoints on mux.
func (h *Hand) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("hand", "grasp state, calibration and active sessions", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, h.status())
	})

	debug.HandleSilentFunc("hand-command", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.AllowMethods(w, r, http.MethodPost) {
			return
		}
		key := strings.TrimSpace(r.FormValue("key"))
		if key == "" {
			httputil.BadRequest(w, errors.New("missing key"))
			return
		}
		if err := h.Command(r.Context(), key); err != nil {
			httputil.BadRequest(w, err)
			return
		}
		fmt.Fprintf(w, "ran command %q\n", key)
	})

	debug.HandleSilentFunc("hand-label", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.AllowMethods(w, r, http.MethodPost) {
			return
		}
		ch, err := tof.ParseChannel(r.FormValue("channel"))
		if err != nil {
			httputil.BadRequest(w, err)
			return
		}
		label, err := strconv.ParseFloat(r.FormValue("label"), 64)
		if err != nil {
			httputil.BadRequest(w, fmt.Errorf("invalid label %q", r.FormValue("label")))
			return
		}
		if err := h.SetLabel(ch, label); err != nil {
			httputil.BadRequest(w, err)
			return
		}
		fmt.Fprintf(w, "%s label %g\n", ch, label)
	})

	// GET exports the table as text, POST imports a text file body
	debug.HandleSilentFunc("hand-coefficients", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.AllowMethods(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if err := h.ExportText(w); err != nil {
				logf("export coefficients: %v", err)
			}
		case http.MethodPost:
			n, err := h.ImportText(http.MaxBytesReader(w, r.Body, 1<<20))
			if err != nil {
				httputil.BadRequest(w, err)
				return
			}
			fmt.Fprintf(w, "imported %d curves\n", n)
		}
	})
}
