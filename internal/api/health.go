package api

import "net/http"

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Health handles GET /health. Unauthenticated, unversioned, stable forever —
// this is what a load balancer polls.
func Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, healthResponse{Status: "ok", Service: "hermes"})
}
