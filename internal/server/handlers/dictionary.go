package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// DictionaryHandler exports the dictionary and edits categories and terms.
// Edits take effect on the next matching pass.
type DictionaryHandler struct {
	store store.Store
}

// NewDictionaryHandler creates a dictionary handler.
func NewDictionaryHandler(st store.Store) *DictionaryHandler {
	return &DictionaryHandler{store: st}
}

type createCategoryRequest struct {
	Name   string `json:"name"`
	Policy string `json:"policy"`
	Active *bool  `json:"active"`
}

type createTermRequest struct {
	CategoryID int64    `json:"category_id"`
	Text       string   `json:"text"`
	Active     *bool    `json:"active"`
	Industry   string   `json:"industry"`
	Keywords   []string `json:"keywords"`
}

type updateTermRequest struct {
	Active   *bool   `json:"active"`
	Industry *string `json:"industry"`
}

type keywordRequest struct {
	Keyword string `json:"keyword"`
}

// Export returns the dictionary in its YAML seed form.
func (h *DictionaryHandler) Export(w http.ResponseWriter, r *http.Request) {
	seed, err := dictionary.Export(r.Context(), h.store)
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to export dictionary", err)
		return
	}
	data, err := yaml.Marshal(seed)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to encode dictionary", err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ListCategories returns every category.
func (h *DictionaryHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.store.ListCategories(r.Context())
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to list categories", err)
		return
	}
	out := make([]categoryResponse, 0, len(cats))
	for _, c := range cats {
		out = append(out, toCategory(c))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// CreateCategory creates a category, or updates the one with the same name.
func (h *DictionaryHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c := dictionary.Category{Name: strings.TrimSpace(req.Name), Active: req.Active == nil || *req.Active}
	if c.Name == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", errors.New("name is required"))
		return
	}
	policy, err := dictionary.ParsePolicy(req.Policy)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid policy", err)
		return
	}
	c.Policy = policy

	if c.ID, err = h.store.UpsertCategory(r.Context(), c); err != nil {
		respondWithError(w, statusFor(err), "Failed to save category", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toCategory(c))
}

// ListTerms returns terms; ?category_id= limits them to one category.
func (h *DictionaryHandler) ListTerms(w http.ResponseWriter, r *http.Request) {
	var catID int64
	if v := r.URL.Query().Get("category_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid category_id", errors.New("category_id must be a positive integer"))
			return
		}
		catID = id
	}

	terms, err := h.store.ListTerms(r.Context())
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to list terms", err)
		return
	}
	out := make([]termResponse, 0, len(terms))
	for _, t := range terms {
		if catID != 0 && t.CategoryID != catID {
			continue
		}
		out = append(out, toTerm(t))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// GetTerm returns a term with the surfaces it currently compiles to.
func (h *DictionaryHandler) GetTerm(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid term ID", err)
		return
	}
	t, err := dictionary.FindTerm(r.Context(), h.store, id)
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to get term", err)
		return
	}
	snap, problems, err := dictionary.Load(r.Context(), h.store)
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to compile dictionary", err)
		return
	}

	out := termDetailResponse{termResponse: toTerm(t), Surfaces: []string{}, Problems: []string{}}
	if c, ok := snap.Category(t.CategoryID); ok {
		out.Category = c.Name
		out.Policy = string(c.Policy)
	}
	if ct, ok := snap.Term(id); ok {
		out.Compiled = true
		out.Surfaces = ct.Surfaces
	}
	for _, p := range problems {
		var tp *dictionary.TermProblem
		if errors.As(p, &tp) && tp.TermID == id {
			out.Problems = append(out.Problems, p.Error())
		}
	}
	respondWithJSON(w, http.StatusOK, out)
}

// CreateTerm creates a term, or updates the one with the same text in the
// same category.
func (h *DictionaryHandler) CreateTerm(w http.ResponseWriter, r *http.Request) {
	var req createTermRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	t := dictionary.Term{
		CategoryID: req.CategoryID,
		Text:       strings.TrimSpace(req.Text),
		Active:     req.Active == nil || *req.Active,
	}
	if t.CategoryID <= 0 || t.Text == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", errors.New("category_id and text are required"))
		return
	}
	meta := dictionary.Metadata{}.WithIndustry(req.Industry)
	for _, kw := range req.Keywords {
		meta = meta.WithKeyword(kw)
	}
	t.Metadata = meta

	id, err := h.store.UpsertTerm(r.Context(), t)
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to save term", err)
		return
	}
	t.ID = id
	respondWithJSON(w, http.StatusCreated, toTerm(t))
}

// UpdateTerm toggles a term and sets or clears its industry.
func (h *DictionaryHandler) UpdateTerm(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid term ID", err)
		return
	}
	var req updateTermRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Active == nil && req.Industry == nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", errors.New("nothing to update"))
		return
	}

	var t dictionary.Term
	if req.Industry != nil {
		if t, err = dictionary.SetIndustry(r.Context(), h.store, id, *req.Industry); err != nil {
			respondWithError(w, statusFor(err), "Failed to update term", err)
			return
		}
	}
	if req.Active != nil {
		if t, err = dictionary.SetActive(r.Context(), h.store, id, *req.Active); err != nil {
			respondWithError(w, statusFor(err), "Failed to update term", err)
			return
		}
	}
	respondWithJSON(w, http.StatusOK, toTerm(t))
}

// AddKeyword adds a keyword surface to a term.
func (h *DictionaryHandler) AddKeyword(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid term ID", err)
		return
	}
	var req keywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	t, err := dictionary.AddKeyword(r.Context(), h.store, id, req.Keyword)
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to add keyword", err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTerm(t))
}

// RemoveKeyword removes the ?keyword= surface from a term.
func (h *DictionaryHandler) RemoveKeyword(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid term ID", err)
		return
	}
	t, err := dictionary.RemoveKeyword(r.Context(), h.store, id, r.URL.Query().Get("keyword"))
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to remove keyword", err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTerm(t))
}
