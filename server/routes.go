package server

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// Routes returns the default server-under-test handler. Any GET path is
// answered with 200 and a plain-text body naming the path.
func Routes() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "hello %s\n", r.URL.Path)
	})
}

// FailAfter wraps next so that the n-th request and every request after it
// are answered with 500.
func FailAfter(n int64, next http.Handler) http.Handler {
	var served atomic.Int64

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) >= n {
			http.Error(w, "injected failure", http.StatusInternalServerError)

			return
		}

		next.ServeHTTP(w, r)
	})
}
