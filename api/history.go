package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"vidprompt/apperr"
	"vidprompt/db"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	maxOffset    = 10_000
)

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := clamp(queryInt(q.Get("limit"), defaultLimit), 1, maxLimit)
	offset := clamp(queryInt(q.Get("offset"), 0), 0, maxOffset)

	runs, err := db.ListRuns(r.Context(), s.DB, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, map[string]any{"items": runs, "limit": limit, "offset": offset})
}

func historyID(r *http.Request) (uint, error) {
	id := queryInt(mux.Vars(r)["id"], 0)
	if id < 1 {
		return 0, apperr.Validation("invalid id")
	}
	return uint(id), nil
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	id, err := historyID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := db.GetRun(r.Context(), s.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, map[string]any{"item": run})
}

func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := historyID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := db.DeleteRun(r.Context(), s.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if n == 0 {
		fail(w, http.StatusNotFound, "not found")
		return
	}
	ok(w, map[string]any{"deleted": true})
}
