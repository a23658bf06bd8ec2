package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/ports"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type recordHandlers[T domain.Record] struct {
	rt   *Router
	name string
	svc  ports.RecordManager[T]
}

// mountRecords registers the CRUD routes of one record kind on r.
func mountRecords[T domain.Record](r chi.Router, rt *Router, name string, svc ports.RecordManager[T]) {
	h := recordHandlers[T]{rt: rt, name: name, svc: svc}
	r.Get("/", h.list)
	r.Get("/counts", h.counts)
	r.Get("/export", h.export)
	r.Get("/{id}", h.get)
	r.Patch("/{id}/status", h.updateStatus)
	r.Delete("/{id}", h.delete)
}

func (h recordHandlers[T]) list(w http.ResponseWriter, r *http.Request) {
	query, err := recordQuery(r)
	if err != nil {
		h.rt.writeError(w, r, err)
		return
	}
	page, err := h.svc.List(r.Context(), query)
	if err != nil {
		h.rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h recordHandlers[T]) counts(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	counts, err := h.svc.Counts(r.Context(), user)
	if err != nil {
		h.rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h recordHandlers[T]) export(w http.ResponseWriter, r *http.Request) {
	query, err := recordQuery(r)
	if err != nil {
		h.rt.writeError(w, r, err)
		return
	}
	body, err := h.svc.Export(r.Context(), query)
	if err != nil {
		h.rt.writeError(w, r, err)
		return
	}
	fileName := fmt.Sprintf("%s-%s.xlsx", h.name, time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h recordHandlers[T]) get(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	record, err := h.svc.Get(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type statusUpdateRequest struct {
	Status domain.RecordStatus `json:"status"`
}

func (h recordHandlers[T]) updateStatus(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req statusUpdateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode status update", err))
		return
	}
	if !req.Status.Valid() {
		h.rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "update status", fmt.Errorf("unknown status %q", req.Status)))
		return
	}

	record, err := h.svc.UpdateStatus(r.Context(), user, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h recordHandlers[T]) delete(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		h.rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func recordQuery(r *http.Request) (domain.RecordQuery, error) {
	user, _ := userFromContext(r.Context())
	values := r.URL.Query()

	page, err := optionalInt(values.Get("page"), "page")
	if err != nil {
		return domain.RecordQuery{}, err
	}
	perPage, err := optionalInt(values.Get("per_page"), "per_page")
	if err != nil {
		return domain.RecordQuery{}, err
	}
	return domain.RecordQuery{
		Owner:     user,
		Page:      page,
		PerPage:   perPage,
		SortBy:    values.Get("sort_by"),
		SortOrder: values.Get("sort_order"),
		Search:    values.Get("search"),
	}.Normalize(), nil
}

func optionalInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse query", fmt.Errorf("%s must be an integer", name))
	}
	return n, nil
}
