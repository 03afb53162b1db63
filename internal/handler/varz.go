package handler

import (
	"net/http"

	"tailscale.com/tsweb"
)

// VarzHandler writes the published expvars in the prometheus text format
func VarzHandler(w http.ResponseWriter, r *http.Request) {
	tsweb.VarzHandler(w, r)
}
