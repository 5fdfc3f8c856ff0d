package app

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/JiscSD/lightning-observation-map/cache"
)

const notReadyMessage = "cache not ready yet, please try again later"

// mapHandler serves the cached map. It never waits for a refresh cycle.
func mapHandler(store *cache.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		a := store.Get()
		if a == nil {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, notReadyMessage)
			return
		}

		w.Header().Set("Content-Type", a.ContentType)
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, "", a.GeneratedAt, bytes.NewReader(a.Image))
	})
}
