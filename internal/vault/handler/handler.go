package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"policyvault/internal/vault/models"
	"policyvault/internal/vault/service"
	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
	"policyvault/pkg/platform/httputil"
	"policyvault/pkg/requestcontext"
)

// Service defines the vault operations exposed over HTTP.
type Service interface {
	CreateVault(ctx context.Context, owner id.Identity) (*models.Vault, error)
	GetVault(ctx context.Context, vaultID id.VaultID) (*models.Vault, error)
	Deposit(ctx context.Context, vaultID id.VaultID, caller id.Identity, amount uint64) (uint64, error)
	CreatePolicy(ctx context.Context, req service.CreatePolicyRequest) (*models.Policy, error)
	GetPolicy(ctx context.Context, policyID id.PolicyID) (*models.Policy, error)
	SetPolicy(ctx context.Context, policyID id.PolicyID, caller id.Identity, params models.PolicyParams) (*models.Policy, error)
	SpendIntent(ctx context.Context, policyID id.PolicyID, caller, recipient id.Identity, amount uint64) (*service.SpendResult, error)
	ListAuditEvents(ctx context.Context, policyID id.PolicyID, fromSequence uint64, limit int) ([]*models.AuditEvent, error)
	ReclaimAuditEvent(ctx context.Context, policyID id.PolicyID, caller id.Identity, sequence uint64) error
	GetRecipientSpend(ctx context.Context, policyID id.PolicyID, recipient id.Identity) (*models.RecipientSpend, error)
	ReclaimRecipientTracker(ctx context.Context, policyID id.PolicyID, caller, recipient id.Identity) error
}

// Handler wires vault and policy endpoints to the vault service.
type Handler struct {
	service    Service
	logger     *slog.Logger
	spendLimit []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithSpendMiddleware adds middleware that runs only on the spend endpoint.
func WithSpendMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.spendLimit = append(h.spendLimit, mw...)
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts vault endpoints on the router. Authentication is applied by
// the caller's middleware chain.
func (h *Handler) Register(r chi.Router) {
	r.Route("/vaults", func(r chi.Router) {
		r.Post("/", h.HandleCreateVault)
		r.Get("/{vaultID}", h.HandleGetVault)
		r.Post("/{vaultID}/deposits", h.HandleDeposit)
		r.Post("/{vaultID}/policy", h.HandleCreatePolicy)
	})
	r.Route("/policies/{policyID}", func(r chi.Router) {
		r.Get("/", h.HandleGetPolicy)
		r.Put("/", h.HandleSetPolicy)
		r.With(h.spendLimit...).Post("/spend", h.HandleSpend)
		r.Get("/audit", h.HandleListAudit)
		r.Delete("/audit/{sequence}", h.HandleReclaimAuditEvent)
		r.Get("/recipients/{recipient}", h.HandleGetRecipientSpend)
		r.Delete("/recipients/{recipient}", h.HandleReclaimRecipientTracker)
	})
}

// HandleCreateVault handles POST /vaults. The caller becomes the owner.
func (h *Handler) HandleCreateVault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	vault, err := h.service.CreateVault(ctx, caller)
	if err != nil {
		h.fail(w, r, "create vault failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toVaultResponse(vault))
}

func (h *Handler) HandleGetVault(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCaller(w, r); !ok {
		return
	}
	vaultID, err := id.ParseVaultID(chi.URLParam(r, "vaultID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	vault, err := h.service.GetVault(r.Context(), vaultID)
	if err != nil {
		h.fail(w, r, "get vault failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVaultResponse(vault))
}

// HandleDeposit handles POST /vaults/{vaultID}/deposits.
func (h *Handler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	vaultID, err := id.ParseVaultID(chi.URLParam(r, "vaultID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[DepositRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	balance, err := h.service.Deposit(ctx, vaultID, caller, req.Amount)
	if err != nil {
		h.fail(w, r, "deposit failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DepositResponse{VaultID: vaultID.String(), Balance: balance})
}

// HandleCreatePolicy handles POST /vaults/{vaultID}/policy. The caller is the
// policy authority and must own the vault.
func (h *Handler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	vaultID, err := id.ParseVaultID(chi.URLParam(r, "vaultID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreatePolicyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	policy, err := h.service.CreatePolicy(ctx, service.CreatePolicyRequest{
		VaultID:         vaultID,
		Authority:       caller,
		Agent:           req.ParsedAgent(),
		DailyBudget:     *req.DailyBudget,
		CooldownSeconds: req.CooldownSeconds,
	})
	if err != nil {
		h.fail(w, r, "create policy failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toPolicyResponse(policy))
}

func (h *Handler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCaller(w, r); !ok {
		return
	}
	policyID, ok := policyParam(w, r)
	if !ok {
		return
	}

	policy, err := h.service.GetPolicy(r.Context(), policyID)
	if err != nil {
		h.fail(w, r, "get policy failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPolicyResponse(policy))
}

// HandleSetPolicy handles PUT /policies/{policyID}.
func (h *Handler) HandleSetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	policyID, ok := policyParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetPolicyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	policy, err := h.service.SetPolicy(ctx, policyID, caller, req.Params())
	if err != nil {
		h.fail(w, r, "set policy failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPolicyResponse(policy))
}

// HandleSpend handles POST /policies/{policyID}/spend. A denied intent is a
// 200 with allowed=false; only hard failures produce error statuses.
func (h *Handler) HandleSpend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	policyID, ok := policyParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SpendRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	result, err := h.service.SpendIntent(ctx, policyID, caller, req.ParsedRecipient(), *req.Amount)
	if err != nil {
		h.fail(w, r, "spend intent failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleListAudit handles GET /policies/{policyID}/audit?from=&limit=.
func (h *Handler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCaller(w, r); !ok {
		return
	}
	policyID, ok := policyParam(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	var from uint64
	if raw := query.Get("from"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "from must be a non-negative integer"))
			return
		}
		from = v
	}
	var limit int
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = v
	}

	events, err := h.service.ListAuditEvents(r.Context(), policyID, from, limit)
	if err != nil {
		h.fail(w, r, "list audit events failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuditPage(events))
}

// HandleReclaimAuditEvent handles DELETE /policies/{policyID}/audit/{sequence}.
func (h *Handler) HandleReclaimAuditEvent(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	policyID, ok := policyParam(w, r)
	if !ok {
		return
	}
	sequence, err := strconv.ParseUint(chi.URLParam(r, "sequence"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "sequence must be a non-negative integer"))
		return
	}

	if err := h.service.ReclaimAuditEvent(r.Context(), policyID, caller, sequence); err != nil {
		h.fail(w, r, "reclaim audit event failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleGetRecipientSpend(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCaller(w, r); !ok {
		return
	}
	policyID, ok := policyParam(w, r)
	if !ok {
		return
	}
	recipient, err := id.ParseIdentity(chi.URLParam(r, "recipient"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	spend, err := h.service.GetRecipientSpend(r.Context(), policyID, recipient)
	if err != nil {
		h.fail(w, r, "get recipient spend failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecipientSpendResponse(spend))
}

// HandleReclaimRecipientTracker handles DELETE /policies/{policyID}/recipients/{recipient}.
func (h *Handler) HandleReclaimRecipientTracker(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	policyID, ok := policyParam(w, r)
	if !ok {
		return
	}
	recipient, err := id.ParseIdentity(chi.URLParam(r, "recipient"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.ReclaimRecipientTracker(r.Context(), policyID, caller, recipient); err != nil {
		h.fail(w, r, "reclaim recipient tracker failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireCaller(w http.ResponseWriter, r *http.Request) (id.Identity, bool) {
	caller := requestcontext.Caller(r.Context())
	if caller.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return caller, true
}

func policyParam(w http.ResponseWriter, r *http.Request) (id.PolicyID, bool) {
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.PolicyID{}, false
	}
	return policyID, true
}

// fail logs server-side failures at error level and client mistakes at debug,
// then writes the error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	level := slog.LevelDebug
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"caller", requestcontext.Caller(ctx),
		"path", r.URL.Path,
		"error", err,
	)
	httputil.WriteError(w, err)
}
