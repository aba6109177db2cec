package serialmux

import (
	"context"
	"net/http"
)

// DisabledSerialMux stands in when no sensor board is configured. It never
// produces lines but still closes subscriber channels on shutdown.
type DisabledSerialMux struct {
	subs *hub
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: newHub(0)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) { return d.subs.subscribe() }

func (d *DisabledSerialMux) Unsubscribe(id string) { d.subs.unsubscribe(id) }

func (d *DisabledSerialMux) SendCommand(string) error { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.subs.close()
	return nil
}

// AttachAdminRoutes serves the usual serial pages; the tail stays silent.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d)
}
