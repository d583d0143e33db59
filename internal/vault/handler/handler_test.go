package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"policyvault/internal/vault/handler/mocks"
	"policyvault/internal/vault/models"
	"policyvault/internal/vault/service"
	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
	"policyvault/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// =============================================================================
// Vault Handler Test Suite
// =============================================================================
// Justification for unit tests: the handler owns request parsing and the
// mapping from domain error codes to HTTP statuses. Policy denials must stay
// 200 responses while hard failures keep their codes.

const caller = id.Identity("owner")

type HandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	router  http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	h := New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	req := testutil.WithCaller(testutil.NewJSONRequest(s.T(), method, path, body), caller)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) doRaw(method, path, body string) *httptest.ResponseRecorder {
	req := testutil.WithCaller(testutil.NewJSONRequest(s.T(), method, path, nil), caller)
	req.Body = io.NopCloser(strings.NewReader(body))
	return testutil.DoRequest(s.router, req)
}

func u64(v uint64) *uint64 { return &v }

func boolPtr(v bool) *bool { return &v }

// =============================================================================
// Authentication
// =============================================================================

func (s *HandlerSuite) TestMissingCallerIsUnauthorized() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/vaults", nil)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

// =============================================================================
// Vaults
// =============================================================================

func (s *HandlerSuite) TestCreateVault() {
	vaultID := id.NewVaultID()
	created := time.Unix(1_700_000_000, 0).UTC()
	s.service.EXPECT().CreateVault(gomock.Any(), caller).
		Return(&models.Vault{ID: vaultID, Owner: caller, CreatedAt: created}, nil)

	res := s.do(http.MethodPost, "/vaults", nil)
	testutil.AssertStatus(s.T(), res, http.StatusCreated)
	body := testutil.UnmarshalResponse[VaultResponse](s.T(), res)
	s.Equal(vaultID.String(), body.ID)
	s.Equal("owner", body.Owner)
}

func (s *HandlerSuite) TestCreateVaultConflict() {
	s.service.EXPECT().CreateVault(gomock.Any(), caller).
		Return(nil, dErrors.New(dErrors.CodeConflict, "owner already has a vault"))

	res := s.do(http.MethodPost, "/vaults", nil)
	testutil.AssertStatusAndError(s.T(), res, http.StatusConflict, "conflict")
}

func (s *HandlerSuite) TestGetVault() {
	vaultID := id.NewVaultID()
	s.service.EXPECT().GetVault(gomock.Any(), vaultID).
		Return(&models.Vault{ID: vaultID, Owner: caller}, nil)

	res := s.do(http.MethodGet, "/vaults/"+vaultID.String(), nil)
	testutil.AssertStatus(s.T(), res, http.StatusOK)
	s.Equal(vaultID.String(), testutil.UnmarshalResponse[VaultResponse](s.T(), res).ID)

	missing := id.NewVaultID()
	s.service.EXPECT().GetVault(gomock.Any(), missing).
		Return(nil, dErrors.New(dErrors.CodeNotFound, "vault not found"))
	res = s.do(http.MethodGet, "/vaults/"+missing.String(), nil)
	testutil.AssertStatusAndError(s.T(), res, http.StatusNotFound, "not_found")

	res = s.do(http.MethodGet, "/vaults/not-a-uuid", nil)
	testutil.AssertStatus(s.T(), res, http.StatusBadRequest)
}

func (s *HandlerSuite) TestDeposit() {
	vaultID := id.NewVaultID()

	s.Run("credits the vault", func() {
		s.service.EXPECT().Deposit(gomock.Any(), vaultID, caller, uint64(250)).Return(uint64(750), nil)

		res := s.do(http.MethodPost, "/vaults/"+vaultID.String()+"/deposits", DepositRequest{Amount: 250})
		testutil.AssertStatus(s.T(), res, http.StatusOK)
		body := testutil.UnmarshalResponse[DepositResponse](s.T(), res)
		s.Equal(uint64(750), body.Balance)
	})

	s.Run("zero amount is a validation error", func() {
		res := s.do(http.MethodPost, "/vaults/"+vaultID.String()+"/deposits", DepositRequest{Amount: 0})
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "validation_error")
	})

	s.Run("ledger without deposits", func() {
		s.service.EXPECT().Deposit(gomock.Any(), vaultID, caller, uint64(1)).
			Return(uint64(0), dErrors.New(dErrors.CodeNotImplemented, "custody ledger does not accept deposits"))

		res := s.do(http.MethodPost, "/vaults/"+vaultID.String()+"/deposits", DepositRequest{Amount: 1})
		testutil.AssertStatusAndError(s.T(), res, http.StatusNotImplemented, "not_implemented")
	})
}

// =============================================================================
// Policies
// =============================================================================

func (s *HandlerSuite) TestCreatePolicy() {
	vaultID := id.NewVaultID()

	s.Run("caller becomes the authority", func() {
		s.service.EXPECT().CreatePolicy(gomock.Any(), service.CreatePolicyRequest{
			VaultID:         vaultID,
			Authority:       caller,
			Agent:           "agent-1",
			DailyBudget:     1000,
			CooldownSeconds: 60,
		}).Return(&models.Policy{ID: id.NewPolicyID(), VaultID: vaultID, Authority: caller, Agent: "agent-1", DailyBudget: 1000, CooldownSeconds: 60, Version: 1}, nil)

		res := s.do(http.MethodPost, "/vaults/"+vaultID.String()+"/policy", CreatePolicyRequest{
			Agent:           "agent-1",
			DailyBudget:     u64(1000),
			CooldownSeconds: 60,
		})
		testutil.AssertStatus(s.T(), res, http.StatusCreated)
		body := testutil.UnmarshalResponse[PolicyResponse](s.T(), res)
		s.Equal(uint64(1), body.PolicyVersion)
		s.Equal("agent-1", body.Agent)
	})

	s.Run("daily budget is required", func() {
		res := s.doRaw(http.MethodPost, "/vaults/"+vaultID.String()+"/policy", `{"cooldown_seconds":5}`)
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "validation_error")
	})

	s.Run("agent must be a valid identity", func() {
		res := s.doRaw(http.MethodPost, "/vaults/"+vaultID.String()+"/policy", `{"daily_budget":10,"agent":"has space"}`)
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "invalid_input")
	})

	s.Run("invalid vault id", func() {
		res := s.do(http.MethodPost, "/vaults/not-a-uuid/policy", CreatePolicyRequest{DailyBudget: u64(1)})
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "invalid_input")
	})
}

func (s *HandlerSuite) TestSetPolicy() {
	policyID := id.NewPolicyID()

	s.Run("optional fields are forwarded only when present", func() {
		s.service.EXPECT().SetPolicy(gomock.Any(), policyID, caller, gomock.Any()).
			DoAndReturn(func(_ any, _ id.PolicyID, _ id.Identity, params models.PolicyParams) (*models.Policy, error) {
				s.Equal(uint64(500), params.DailyBudget)
				s.Equal(uint32(30), params.CooldownSeconds)
				s.Require().NotNil(params.Paused)
				s.True(*params.Paused)
				s.Require().NotNil(params.AllowedRecipient)
				s.Equal(id.Identity("merchant"), *params.AllowedRecipient)
				s.Nil(params.AllowlistEnabled)
				s.Nil(params.PerRecipientDailyCap)
				return &models.Policy{ID: policyID, DailyBudget: 500, Paused: true, Version: 2}, nil
			})

		allowed := "merchant"
		res := s.do(http.MethodPut, "/policies/"+policyID.String(), SetPolicyRequest{
			DailyBudget:      u64(500),
			CooldownSeconds:  30,
			Paused:           boolPtr(true),
			AllowedRecipient: &allowed,
		})
		testutil.AssertStatus(s.T(), res, http.StatusOK)
		body := testutil.UnmarshalResponse[PolicyResponse](s.T(), res)
		s.Equal(uint64(2), body.PolicyVersion)
		s.True(body.Paused)
	})

	s.Run("non-authority is rejected", func() {
		s.service.EXPECT().SetPolicy(gomock.Any(), policyID, caller, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeUnauthorized, "caller is not the policy authority"))

		res := s.do(http.MethodPut, "/policies/"+policyID.String(), SetPolicyRequest{DailyBudget: u64(1)})
		testutil.AssertStatusAndError(s.T(), res, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("unknown fields are rejected", func() {
		res := s.doRaw(http.MethodPut, "/policies/"+policyID.String(), `{"daily_budget":1,"spent_today":0}`)
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "bad_request")
	})
}

func (s *HandlerSuite) TestGetPolicy() {
	policyID := id.NewPolicyID()
	s.service.EXPECT().GetPolicy(gomock.Any(), policyID).
		Return(&models.Policy{ID: policyID, DailyBudget: 100, SpentToday: 40, NextSequence: 3, Version: 1}, nil)

	res := s.do(http.MethodGet, "/policies/"+policyID.String(), nil)
	testutil.AssertStatus(s.T(), res, http.StatusOK)
	body := testutil.UnmarshalResponse[PolicyResponse](s.T(), res)
	s.Equal(uint64(40), body.SpentToday)
	s.Equal(uint64(3), body.NextSequence)
}

// =============================================================================
// Spend intents
// =============================================================================

func TestSpendIntent(t *testing.T) {
	policyID := id.NewPolicyID()
	path := "/policies/" + policyID.String() + "/spend"

	setup := func(t *testing.T) (*mocks.MockService, http.Handler) {
		ctrl := gomock.NewController(t)
		svc := mocks.NewMockService(ctrl)
		r := chi.NewRouter()
		New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
		return svc, r
	}
	send := func(t *testing.T, router http.Handler, body any) *httptest.ResponseRecorder {
		req := testutil.WithCaller(testutil.NewJSONRequest(t, http.MethodPost, path, body), caller)
		return testutil.DoRequest(router, req)
	}

	testutil.Given(t, "a policy with budget left", func(t *testing.T) {
		testutil.When(t, "the intent is allowed", func(t *testing.T) {
			svc, router := setup(t)
			svc.EXPECT().SpendIntent(gomock.Any(), policyID, caller, id.Identity("merchant"), uint64(60)).
				Return(&service.SpendResult{Sequence: 4, Allowed: true, ReasonCode: models.ReasonOK, Reason: "OK", Timestamp: 1_700_000_000}, nil)

			res := send(t, router, SpendRequest{Recipient: "merchant", Amount: u64(60)})

			testutil.Then(t, "the result carries the sequence and reason", func(t *testing.T) {
				testutil.AssertStatus(t, res, http.StatusOK)
				body := testutil.UnmarshalResponse[service.SpendResult](t, res)
				assert.True(t, body.Allowed)
				assert.Equal(t, uint64(4), body.Sequence)
				assert.Equal(t, models.ReasonOK, body.ReasonCode)
			})
		})

		testutil.When(t, "the intent is denied by the policy", func(t *testing.T) {
			svc, router := setup(t)
			svc.EXPECT().SpendIntent(gomock.Any(), policyID, caller, id.Identity("merchant"), uint64(0)).
				Return(&service.SpendResult{Sequence: 5, Allowed: false, ReasonCode: models.ReasonInvalidAmount, Reason: "INVALID_AMOUNT"}, nil)

			res := send(t, router, SpendRequest{Recipient: "merchant", Amount: u64(0)})

			testutil.Then(t, "the denial is a successful response", func(t *testing.T) {
				testutil.AssertStatus(t, res, http.StatusOK)
				body := testutil.UnmarshalResponse[service.SpendResult](t, res)
				assert.False(t, body.Allowed)
				assert.Equal(t, models.ReasonInvalidAmount, body.ReasonCode)
			})
		})
	})

	testutil.Given(t, "a malformed request", func(t *testing.T) {
		testutil.When(t, "the amount is missing", func(t *testing.T) {
			_, router := setup(t)
			res := send(t, router, map[string]string{"recipient": "merchant"})
			testutil.Then(t, "it is a validation error", func(t *testing.T) {
				testutil.AssertStatusAndError(t, res, http.StatusBadRequest, "validation_error")
			})
		})

		testutil.When(t, "the recipient is missing", func(t *testing.T) {
			_, router := setup(t)
			res := send(t, router, map[string]uint64{"amount": 5})
			testutil.Then(t, "it is a validation error", func(t *testing.T) {
				testutil.AssertStatusAndError(t, res, http.StatusBadRequest, "validation_error")
			})
		})
	})

	testutil.Given(t, "a hard failure in the service", func(t *testing.T) {
		cases := []struct {
			name   string
			err    error
			status int
			code   string
		}{
			{"caller is neither authority nor agent", dErrors.New(dErrors.CodeUnauthorized, "caller may not submit spend intents"), http.StatusUnauthorized, "unauthorized"},
			{"policy does not exist", dErrors.New(dErrors.CodeNotFound, "policy not found"), http.StatusNotFound, "not_found"},
			{"vault balance is short", dErrors.New(dErrors.CodeInsufficientFunds, "insufficient vault balance"), http.StatusUnprocessableEntity, "insufficient_funds"},
			{"custody circuit is open", dErrors.New(dErrors.CodeUnavailable, "custody unavailable"), http.StatusServiceUnavailable, "service_unavailable"},
			{"sequence exhausted", dErrors.New(dErrors.CodeOverflow, "sequence exhausted"), http.StatusUnprocessableEntity, "arithmetic_overflow"},
		}
		for _, tc := range cases {
			testutil.When(t, tc.name, func(t *testing.T) {
				svc, router := setup(t)
				svc.EXPECT().SpendIntent(gomock.Any(), policyID, caller, id.Identity("merchant"), uint64(10)).Return(nil, tc.err)

				res := send(t, router, SpendRequest{Recipient: "merchant", Amount: u64(10)})
				testutil.Then(t, "the code maps to its status", func(t *testing.T) {
					testutil.AssertStatusAndError(t, res, tc.status, tc.code)
				})
			})
		}
	})
}

// =============================================================================
// Audit trail and recipient trackers
// =============================================================================

func (s *HandlerSuite) TestListAudit() {
	policyID := id.NewPolicyID()
	base := "/policies/" + policyID.String() + "/audit"

	s.Run("passes paging and reports the next cursor", func() {
		s.service.EXPECT().ListAuditEvents(gomock.Any(), policyID, uint64(10), 2).
			Return([]*models.AuditEvent{
				{PolicyID: policyID, Sequence: 10, Allowed: true, Reason: models.ReasonOK, Amount: 5},
				{PolicyID: policyID, Sequence: 11, Allowed: false, Reason: models.ReasonCooldown, Amount: 5},
			}, nil)

		res := s.do(http.MethodGet, base+"?from=10&limit=2", nil)
		testutil.AssertStatus(s.T(), res, http.StatusOK)
		body := testutil.UnmarshalResponse[AuditPageResponse](s.T(), res)
		s.Require().Len(body.Events, 2)
		s.Equal("COOLDOWN", body.Events[1].Reason)
		s.Equal(uint16(3), body.Events[1].ReasonCode)
		s.Require().NotNil(body.NextFrom)
		s.Equal(uint64(12), *body.NextFrom)
	})

	s.Run("empty page has no cursor", func() {
		s.service.EXPECT().ListAuditEvents(gomock.Any(), policyID, uint64(0), 0).Return(nil, nil)

		res := s.do(http.MethodGet, base, nil)
		testutil.AssertStatus(s.T(), res, http.StatusOK)
		body := testutil.UnmarshalResponse[AuditPageResponse](s.T(), res)
		s.Empty(body.Events)
		s.Nil(body.NextFrom)
	})

	s.Run("rejects malformed paging", func() {
		for _, q := range []string{"?from=-1", "?limit=abc", "?limit=-5"} {
			res := s.do(http.MethodGet, base+q, nil)
			testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "bad_request")
		}
	})
}

func (s *HandlerSuite) TestReclaimAuditEvent() {
	policyID := id.NewPolicyID()

	s.Run("deletes the record", func() {
		s.service.EXPECT().ReclaimAuditEvent(gomock.Any(), policyID, caller, uint64(7)).Return(nil)
		res := s.do(http.MethodDelete, "/policies/"+policyID.String()+"/audit/7", nil)
		testutil.AssertStatus(s.T(), res, http.StatusNoContent)
	})

	s.Run("unknown record", func() {
		s.service.EXPECT().ReclaimAuditEvent(gomock.Any(), policyID, caller, uint64(8)).
			Return(dErrors.New(dErrors.CodeNotFound, "audit event not found"))
		res := s.do(http.MethodDelete, "/policies/"+policyID.String()+"/audit/8", nil)
		testutil.AssertStatusAndError(s.T(), res, http.StatusNotFound, "not_found")
	})

	s.Run("sequence must be numeric", func() {
		res := s.do(http.MethodDelete, "/policies/"+policyID.String()+"/audit/latest", nil)
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "bad_request")
	})
}

func (s *HandlerSuite) TestRecipientTracker() {
	policyID := id.NewPolicyID()
	path := "/policies/" + policyID.String() + "/recipients/merchant"

	s.service.EXPECT().GetRecipientSpend(gomock.Any(), policyID, id.Identity("merchant")).
		Return(&models.RecipientSpend{PolicyID: policyID, Recipient: "merchant", SpentToday: 70, DayIndex: 19675}, nil)
	res := s.do(http.MethodGet, path, nil)
	testutil.AssertStatus(s.T(), res, http.StatusOK)
	body := testutil.UnmarshalResponse[RecipientSpendResponse](s.T(), res)
	s.Equal(uint64(70), body.SpentToday)
	s.Equal(int64(19675), body.DayIndex)

	s.service.EXPECT().ReclaimRecipientTracker(gomock.Any(), policyID, caller, id.Identity("merchant")).Return(nil)
	res = s.do(http.MethodDelete, path, nil)
	testutil.AssertStatus(s.T(), res, http.StatusNoContent)
}

func TestSpendMiddleware(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)

	var hits []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits = append(hits, r.URL.Path)
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), WithSpendMiddleware(mw))
	r := chi.NewRouter()
	h.Register(r)

	policyID := id.NewPolicyID()
	policy := &models.Policy{ID: policyID, VaultID: id.NewVaultID(), Authority: caller}
	svc.EXPECT().GetPolicy(gomock.Any(), policyID).Return(policy, nil)

	get := testutil.WithCaller(testutil.NewJSONRequest(t, http.MethodGet, "/policies/"+policyID.String(), nil), caller)
	testutil.AssertStatus(t, testutil.DoRequest(r, get), http.StatusOK)

	spend := testutil.WithCaller(testutil.NewJSONRequest(t, http.MethodPost, "/policies/"+policyID.String()+"/spend",
		map[string]any{"recipient": "merchant", "amount": 1}), caller)
	testutil.AssertStatus(t, testutil.DoRequest(r, spend), http.StatusTooManyRequests)

	assert.Equal(t, []string{"/policies/" + policyID.String() + "/spend"}, hits)
}
