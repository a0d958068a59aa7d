// Package handler exposes the consent endpoints: the public active-document
// listing, acceptance, and the platform-admin document lifecycle.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"docflow/internal/authz"
	"docflow/internal/consent/models"
	consentservice "docflow/internal/consent/service"
	"docflow/internal/guard"
	"docflow/internal/platform/metrics"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/httputil"
	"docflow/pkg/requestcontext"
)

// Service defines the consent operations the handler needs. Role checks live
// in the service; the acceptance path must stay reachable for principals the
// consent gate would otherwise block.
type Service interface {
	ActiveDocuments(ctx context.Context) ([]*models.LegalDocument, error)
	Accept(ctx context.Context, principal id.Principal, docIDs []id.DocumentID) (consentservice.AcceptResult, error)
	CreateDocument(ctx context.Context, actor id.Principal, input consentservice.DocumentInput) (*models.LegalDocument, error)
	ActivateDocument(ctx context.Context, actor id.Principal, docID id.DocumentID) (*models.LegalDocument, error)
	ListDocuments(ctx context.Context, actor id.Principal) ([]*models.LegalDocument, error)
}

// Guard runs the access pipeline for guarded operations.
type Guard interface {
	Check(ctx context.Context, principal id.Principal, resource authz.Resource, op authz.Operation, path string) (context.Context, guard.Decision)
}

// Handler wires consent endpoints to the consent service. The guarded
// endpoints sit on the consent-exempt path list, so the pipeline still runs
// its tenancy and role stages here while the consent stage stands aside.
type Handler struct {
	service Service
	guard   Guard
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(service Service, g Guard, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{service: service, guard: g, metrics: m, logger: logger}
}

// RegisterPublic mounts the anonymous document listing used before
// registration.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/legal-documents/active", h.HandleActiveDocuments)
}

// Register mounts the authenticated endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/consents", h.HandleAccept)
	r.Get("/legal-documents", h.HandleListDocuments)
	r.Post("/legal-documents", h.HandleCreateDocument)
	r.Post("/legal-documents/{documentID}/activate", h.HandleActivateDocument)
}

type documentResponse struct {
	ID      id.DocumentID `json:"id"`
	DocType id.DocType    `json:"doc_type"`
	Version int           `json:"version"`
	Title   string        `json:"title"`
	Content string        `json:"content"`
}

// HandleActiveDocuments serves the documents a registrant must accept.
func (h *Handler) HandleActiveDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ActiveDocuments(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list active documents failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentResponse{
			ID: doc.ID, DocType: doc.DocType, Version: doc.Version,
			Title: doc.Title, Content: doc.Content,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type acceptRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// HandleAccept handles POST /consents. The path is consent-exempt so a
// principal blocked by a new document version can unblock themselves, but
// tenancy and role checks still apply.
func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	ctx, principal, ok := h.authorize(w, r, authz.OpRead)
	if !ok {
		return
	}
	req, ok := httputil.Decode[acceptRequest](w, r, h.logger)
	if !ok {
		return
	}
	docIDs := make([]id.DocumentID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		docID, err := id.ParseDocumentID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		docIDs = append(docIDs, docID)
	}
	result, err := h.service.Accept(ctx, principal, docIDs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.metrics.AddConsentAcceptances(result.CreatedCount)
	httputil.WriteJSON(w, http.StatusOK, result)
}

type createDocumentRequest struct {
	DocType string `json:"doc_type"`
	Version int    `json:"version"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// HandleCreateDocument handles POST /legal-documents. The capability matrix
// grants no role a create on legal documents, so only the platform-admin
// bypass passes the guard here.
func (h *Handler) HandleCreateDocument(w http.ResponseWriter, r *http.Request) {
	ctx, principal, ok := h.authorize(w, r, authz.OpCreate)
	if !ok {
		return
	}
	req, ok := httputil.Decode[createDocumentRequest](w, r, h.logger)
	if !ok {
		return
	}
	docType, err := id.ParseDocType(req.DocType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	doc, err := h.service.CreateDocument(ctx, principal, consentservice.DocumentInput{
		DocType: docType,
		Version: req.Version,
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, doc)
}

// HandleActivateDocument handles POST /legal-documents/{documentID}/activate.
func (h *Handler) HandleActivateDocument(w http.ResponseWriter, r *http.Request) {
	ctx, principal, ok := h.authorize(w, r, authz.OpUpdate)
	if !ok {
		return
	}
	docID, err := id.ParseDocumentID(chi.URLParam(r, "documentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	doc, err := h.service.ActivateDocument(ctx, principal, docID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

// HandleListDocuments handles GET /legal-documents.
func (h *Handler) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx, principal, ok := h.authorize(w, r, authz.OpRead)
	if !ok {
		return
	}
	docs, err := h.service.ListDocuments(ctx, principal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, docs)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, op authz.Operation) (context.Context, id.Principal, bool) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	ctx, decision := h.guard.Check(ctx, principal, authz.ResourceLegalDocument, op, r.URL.Path)
	if !decision.Allowed {
		h.metrics.IncrementGuardDenial(string(decision.Reason))
		httputil.WriteError(w, decision.Err)
		return ctx, principal, false
	}
	return ctx, principal, true
}
