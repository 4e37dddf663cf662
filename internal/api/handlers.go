package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/unitlens/internal/workspace"
)

// Handler holds API route handlers.
type Handler struct {
	svc *workspace.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *workspace.Service) *Handler {
	return &Handler{svc: svc}
}

// ListUnits handles GET /api/units.
//
//	@Summary		List the recognised unit labels
//	@Tags			units
//	@Produce		json
//	@Success		200	{object}	UnitListResponse
//	@Security		BearerAuth
//	@Router			/units [get]
func (h *Handler) ListUnits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, UnitListResponse{Units: h.svc.Units()})
}

// Convert handles POST /api/convert.
//
//	@Summary		Convert a bare value
//	@Tags			units
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ConvertRequest	true	"Label and value"
//	@Success		200		{object}	models.Conversion
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/convert [post]
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	c, err := h.svc.Convert(req.Label, req.Value)
	if err != nil {
		writeServiceError(w, "convert", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List live documents
//	@Tags			documents
//	@Produce		json
//	@Success		200	{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs := h.svc.List(r.Context())
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs, Total: len(docs)})
}

// OpenDocument handles POST /api/documents.
//
//	@Summary		Open a document from content or from the documents directory
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenDocumentRequest	true	"Document to open"
//	@Success		201		{object}	models.DocumentInfo
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	var req OpenDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	var content []byte
	if req.Content != nil {
		content = []byte(*req.Content)
	}
	info, err := h.svc.Create(r.Context(), req.Path, content, req.Replace)
	if err != nil {
		writeServiceError(w, "open document", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// GetDocument handles GET /api/documents/{id}.
//
//	@Summary		Get a live document and its current markup
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document id"
//	@Success		200	{object}	DocumentDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, "get document", err)
		return
	}
	content, err := h.svc.Render(r.Context(), id)
	if err != nil {
		writeServiceError(w, "render document", err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentDetail{DocumentInfo: *info, Content: string(content)})
}

// CloseDocument handles DELETE /api/documents/{id}.
//
//	@Summary		Close a live document
//	@Tags			documents
//	@Param			id	path	string	true	"Document id"
//	@Success		204	"Document closed"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [delete]
func (h *Handler) CloseDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "close document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Insert handles POST /api/documents/{id}/insert.
//
//	@Summary		Append markup to matching elements
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Document id"
//	@Param			body	body		InsertRequest	true	"Target and markup"
//	@Success		202		{object}	MutationResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/insert [post]
func (h *Handler) Insert(w http.ResponseWriter, r *http.Request) {
	var req InsertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	n, err := h.svc.Insert(r.Context(), chi.URLParam(r, "id"), req.Target, req.Markup)
	if err != nil {
		writeServiceError(w, "insert", err)
		return
	}
	// Conversion happens asynchronously once the dispatcher sees the mutation.
	writeJSON(w, http.StatusAccepted, MutationResponse{Matched: n})
}

// SetAttribute handles POST /api/documents/{id}/attributes.
//
//	@Summary		Set an attribute on matching elements
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Document id"
//	@Param			body	body		SetAttributeRequest	true	"Target, name and value"
//	@Success		200		{object}	MutationResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/attributes [post]
func (h *Handler) SetAttribute(w http.ResponseWriter, r *http.Request) {
	var req SetAttributeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	n, err := h.svc.SetAttribute(r.Context(), chi.URLParam(r, "id"), req.Target, req.Name, req.Value)
	if err != nil {
		writeServiceError(w, "set attribute", err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Matched: n})
}

// Conversions handles GET /api/documents/{id}/conversions.
//
//	@Summary		List recorded conversions for a document, newest first
//	@Tags			documents
//	@Produce		json
//	@Param			id		path		string	true	"Document id"
//	@Param			limit	query		int		false	"Max entries"
//	@Success		200		{object}	ConversionListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/conversions [get]
func (h *Handler) Conversions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	convs, err := h.svc.Conversions(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, "conversions", err)
		return
	}
	slog.Debug("conversions listed", slog.String("id", id), slog.Int("count", len(convs)))
	writeJSON(w, http.StatusOK, ConversionListResponse{Conversions: convs})
}
