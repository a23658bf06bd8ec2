package httpadapter

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (rt *Router) listJobs(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	jobs, err := rt.services.Jobs.List(r.Context(), user)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	job, err := rt.services.Jobs.Get(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
