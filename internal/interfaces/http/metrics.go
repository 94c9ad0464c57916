package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// instrumentMiddleware records request counts and latency by route
// template. Unmatched paths share one label.
func (s *Server) instrumentMiddleware(next http.Handler) http.Handler {
	if s.deps.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.deps.Metrics.ObserveHTTP(route, r.Method, wrapper.statusCode, time.Since(start))
	})
}
