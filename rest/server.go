// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/gdamore/runnable"
)

// Handler wraps a Container, adding http.Handler functionality.  The
// container may be replaced while the handler is serving, which is how a
// daemon keeps its API across reloads.
type Handler struct {
	c    *runnable.Container
	r    *mux.Router
	user string
	hash []byte
	mx   sync.Mutex
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAuth requires HTTP Basic authentication as user, checking the
// password against a bcrypt hash.
func WithAuth(user string, hash []byte) HandlerOption {
	return func(h *Handler) {
		h.user = user
		h.hash = hash
	}
}

// WithGatherer serves the gatherer's metrics at /metrics.
func WithGatherer(g prometheus.Gatherer) HandlerOption {
	return func(h *Handler) {
		h.r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).
			Methods("GET")
	}
}

func (h *Handler) container() *runnable.Container {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.c
}

// SetContainer replaces the container being served.
func (h *Handler) SetContainer(c *runnable.Container) {
	h.mx.Lock()
	h.c = c
	h.mx.Unlock()
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// writeTagged writes v with an Etag, or 304 if the client already has it.
func (h *Handler) writeTagged(w http.ResponseWriter, r *http.Request, tag int64, v interface{}) {
	etag := formatEtag(tag)
	w.Header().Set("Etag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.writeJson(w, v)
}

// pollWait holds a long poll until watch reports a change, the time
// requested by the client passes, or the client goes away.
func (h *Handler) pollWait(r *http.Request, watch func(int64, time.Duration) int64) {
	tag := r.Header.Get(PollEtagHeader)
	if tag == "" {
		return
	}
	old, e := parseEtag(tag)
	if e != nil {
		return
	}
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if e != nil || secs <= 0 {
		return
	}
	d := time.Duration(secs) * time.Second
	if d > MaxPollTime {
		d = MaxPollTime
	}
	done := make(chan struct{})
	go func() {
		watch(old, d)
		close(done)
	}()
	select {
	case <-done:
	case <-r.Context().Done():
	}
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	c := h.container()
	h.pollWait(r, c.WatchSerial)
	info := c.Info()
	h.writeTagged(w, r, info.Serial, info)
}

func (h *Handler) listInstances(w http.ResponseWriter, r *http.Request) {
	c := h.container()
	h.pollWait(r, c.WatchSerial)
	infos, serial := c.Instances()
	h.writeTagged(w, r, serial, infos)
}

func (h *Handler) getInstance(w http.ResponseWriter, r *http.Request) {
	c := h.container()
	h.pollWait(r, c.WatchSerial)
	id := mux.Vars(r)["id"]
	info, e := c.GetInstance(id)
	if e != nil {
		h.writeError(w, &Error{http.StatusNotFound, e.Error()})
		return
	}
	h.writeTagged(w, r, c.Info().Serial, info)
}

func (h *Handler) restartInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if e := h.container().RestartInstance(id); errors.Is(e, runnable.ErrUnknownInstance) {
		h.writeError(w, &Error{http.StatusNotFound, e.Error()})
	} else if e != nil {
		h.writeError(w, &Error{http.StatusBadRequest, e.Error()})
	} else {
		h.writeJson(w, ok)
	}
}

func (h *Handler) interrupt(w http.ResponseWriter, r *http.Request) {
	h.container().Interrupt()
	h.writeJson(w, ok)
}

func (h *Handler) terminate(w http.ResponseWriter, r *http.Request) {
	h.container().Terminate()
	h.writeJson(w, ok)
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{}
	b, e := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if e != nil {
		h.writeError(w, &Error{http.StatusBadRequest, e.Error()})
		return
	}
	if len(b) != 0 {
		if e := json.Unmarshal(b, &payload); e != nil {
			h.writeError(w, &Error{http.StatusBadRequest, e.Error()})
			return
		}
	}
	h.container().Restart(payload)
	h.writeJson(w, ok)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	c := h.container()
	h.pollWait(r, c.WatchLog)
	recs, id := c.GetLog(0)
	if recs == nil {
		recs = []LogRecord{}
	}
	h.writeTagged(w, r, id, recs)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.hash != nil {
			user, pass, ok := r.BasicAuth()
			if !ok || user != h.user ||
				bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="runnable"`)
				h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ready(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.container() == nil {
			h.writeError(w, &Error{http.StatusServiceUnavailable, "No container"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

func NewHandler(c *runnable.Container, opts ...HandlerOption) *Handler {
	r := mux.NewRouter()
	h := &Handler{c: c, r: r}
	r.Use(h.authenticate, h.ready)
	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/instances", h.listInstances).Methods("GET")
	r.HandleFunc("/instances/{id}", h.getInstance).Methods("GET")
	r.HandleFunc("/instances/{id}/restart", h.restartInstance).Methods("POST")
	r.HandleFunc("/interrupt", h.interrupt).Methods("POST")
	r.HandleFunc("/terminate", h.terminate).Methods("POST")
	r.HandleFunc("/restart", h.restart).Methods("POST")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	for _, o := range opts {
		o(h)
	}
	return h
}
