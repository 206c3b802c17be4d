package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sho7650/media-stage/internal/activity"
	"github.com/sho7650/media-stage/internal/preload"
)

type handlers struct {
	counter *activity.Counter
	cache   *preload.Cache
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) busy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.counter.Snapshot())
}

// busyEvents streams every visibility change as "data: true|false". The
// current value is sent first.
func (h *handlers) busyEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.counter.Subscribe()
	defer cancel()

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case visible, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %t\n\n", visible); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type resourceView struct {
	Key       string  `json:"key"`
	SourceURL string  `json:"source_url"`
	Location  string  `json:"location"`
	Readiness string  `json:"readiness"`
	SizeBytes int64   `json:"size_bytes"`
	LoopStart float64 `json:"loop_start"`
	LoopEnd   float64 `json:"loop_end"`
	Error     string  `json:"error,omitempty"`
}

func newResourceView(res *preload.Resource) resourceView {
	loop := res.Loop()
	view := resourceView{
		Key:       res.Key(),
		SourceURL: res.SourceURL(),
		Location:  res.Location(),
		Readiness: res.Readiness().String(),
		SizeBytes: res.Size(),
		LoopStart: loop.Start.Seconds(),
		LoopEnd:   loop.End.Seconds(),
	}
	if err := res.Err(); err != nil {
		view.Error = err.Error()
	}
	return view
}

func (h *handlers) listResources(w http.ResponseWriter, r *http.Request) {
	resources := h.cache.Resources()
	views := make([]resourceView, 0, len(resources))
	for _, res := range resources {
		views = append(views, newResourceView(res))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) getResource(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	res, ok := h.cache.Lookup(key)
	if !ok {
		writeProblem(w, http.StatusNotFound, fmt.Sprintf("resource %q has not been preloaded", key))
		return
	}
	writeJSON(w, http.StatusOK, newResourceView(res))
}

func (h *handlers) clearResources(w http.ResponseWriter, r *http.Request) {
	h.cache.Clear()
	w.WriteHeader(http.StatusNoContent)
}

type preloadView struct {
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// preload starts preloading key. With ?wait=false it answers 202 at once;
// otherwise it waits for the future, which resolves within the preload
// timeout.
func (h *handlers) preload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, ok := h.cache.Config(key); !ok {
		writeProblem(w, http.StatusNotFound, fmt.Sprintf("no media configured for %q", key))
		return
	}

	future := h.cache.Preload(key)
	if r.URL.Query().Get("wait") == "false" {
		writeJSON(w, http.StatusAccepted, map[string]string{"key": key})
		return
	}

	res, err := future.Wait(r.Context())
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "gave up waiting for preload")
		return
	}

	view := preloadView{Key: res.Key, Outcome: res.Outcome.String()}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, view)
}
