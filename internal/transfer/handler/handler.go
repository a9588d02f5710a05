package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nexus/internal/transfer/models"
	"nexus/internal/transfer/service"
	id "nexus/pkg/domain"
	dErrors "nexus/pkg/domain-errors"
	"nexus/pkg/platform/httputil"
	"nexus/pkg/requestcontext"
)

// Service is the transfer coordinator as seen from HTTP.
type Service interface {
	CreateRequest(ctx context.Context, in service.CreateRequestInput) (*models.TransferRequest, error)
	AssignReviewer(ctx context.Context, requestID id.TransferID, reviewer id.ActorID) (bool, error)
	Reject(ctx context.Context, requestID id.TransferID, actor id.ActorID, reason string) (*models.TransferRequest, error)
	Approve(ctx context.Context, requestID id.TransferID, actor id.ActorID) (*models.TransferRequest, error)
	ListIncoming(ctx context.Context, viewer id.ActorID, tenant id.TenantID) ([]service.RequestView, error)
	ListOutgoing(ctx context.Context, viewer id.ActorID, tenant id.TenantID) ([]service.RequestView, error)
	GetRequest(ctx context.Context, viewer id.ActorID, viewerTenant id.TenantID, requestID id.TransferID) (*service.RequestDetail, error)
}

type Handler struct {
	service Service
	events  http.Handler
	logger  *slog.Logger
}

// New builds the handler. events serves the realtime channel and may be nil.
func New(svc Service, events http.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: svc, events: events, logger: logger}
}

// Register mounts transfer endpoints. Callers act in the tenant carried by
// their access token.
func (h *Handler) Register(r chi.Router) {
	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/incoming", h.HandleListIncoming)
		r.Get("/outgoing", h.HandleListOutgoing)
		if h.events != nil {
			r.Method(http.MethodGet, "/events", h.events)
		}
		r.Get("/{id}", h.HandleGet)
		r.Post("/{id}/claim", h.HandleClaim)
		r.Post("/{id}/reject", h.HandleReject)
		r.Post("/{id}/accept", h.HandleAccept)
	})
}

// HandleCreate handles POST /transfers.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, tenant, ok := h.caller(w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeAndPrepare[CreateTransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	req, err := h.service.CreateRequest(ctx, service.CreateRequestInput{
		Initiator:         actor,
		SourceTenant:      tenant,
		DestinationTenant: body.destination,
		DataType:          models.DataType(body.DataType),
		ItemIDs:           body.ItemIDs,
		Mode:              models.Mode(body.Mode),
		Notes:             body.Notes,
	})
	if err != nil {
		h.writeError(ctx, w, "failed to create transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(req))
}

// HandleListIncoming handles GET /transfers/incoming.
func (h *Handler) HandleListIncoming(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, h.service.ListIncoming)
}

// HandleListOutgoing handles GET /transfers/outgoing.
func (h *Handler) HandleListOutgoing(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, h.service.ListOutgoing)
}

func (h *Handler) handleList(
	w http.ResponseWriter,
	r *http.Request,
	list func(context.Context, id.ActorID, id.TenantID) ([]service.RequestView, error),
) {
	ctx := r.Context()
	actor, tenant, ok := h.caller(w, r)
	if !ok {
		return
	}
	views, err := list(ctx, actor, tenant)
	if err != nil {
		h.writeError(ctx, w, "failed to list transfer requests", err)
		return
	}
	out := make([]TransferResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toViewResponse(v))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transfers": out})
}

// HandleGet handles GET /transfers/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, tenant, ok := h.caller(w, r)
	if !ok {
		return
	}
	transferID, ok := transferIDParam(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetRequest(ctx, actor, tenant, transferID)
	if err != nil {
		h.writeError(ctx, w, "failed to load transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDetailResponse(detail))
}

// HandleClaim handles POST /transfers/{id}/claim.
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	transferID, ok := transferIDParam(w, r)
	if !ok {
		return
	}
	claimed, err := h.service.AssignReviewer(ctx, transferID, actor)
	if err != nil {
		h.writeError(ctx, w, "failed to claim transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ClaimResponse{Claimed: claimed})
}

// HandleReject handles POST /transfers/{id}/reject. The body is optional.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	transferID, ok := transferIDParam(w, r)
	if !ok {
		return
	}
	var reason string
	if r.ContentLength != 0 {
		body, ok := httputil.DecodeAndPrepare[RejectTransferRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		reason = body.Reason
	}
	req, err := h.service.Reject(ctx, transferID, actor, reason)
	if err != nil {
		h.writeError(ctx, w, "failed to reject transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(req))
}

// HandleAccept handles POST /transfers/{id}/accept, the single atomic
// approve call.
func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	transferID, ok := transferIDParam(w, r)
	if !ok {
		return
	}
	req, err := h.service.Approve(ctx, transferID, actor)
	if err != nil {
		h.writeError(ctx, w, "failed to accept transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(req))
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (id.ActorID, id.TenantID, bool) {
	ctx := r.Context()
	actor := requestcontext.ActorID(ctx)
	tenant := requestcontext.TenantID(ctx)
	if actor.IsNil() || tenant.IsNil() {
		// RequireAuth should have rejected the request already.
		h.logger.ErrorContext(ctx, "actor missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.ActorID{}, id.TenantID{}, false
	}
	return actor, tenant, true
}

func transferIDParam(w http.ResponseWriter, r *http.Request) (id.TransferID, bool) {
	transferID, err := id.ParseTransferID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid transfer id"))
		return id.TransferID{}, false
	}
	return transferID, true
}

// writeError logs unexpected failures and writes the error body. Partial
// validation failures also list the offending item ids.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := dErrors.CodeOf(err)
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	var pv *models.PartialValidationError
	if errors.As(err, &pv) {
		httputil.WriteJSON(w, httputil.StatusFor(code), PartialValidationBody{
			ErrorBody: httputil.ErrorBody{Error: string(code), Description: dErrors.Message(err)},
			ItemIDs:   pv.ItemIDs,
		})
		return
	}
	httputil.WriteError(w, err)
}
