package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"policyvault/internal/vault/models"
	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
)

// =============================================================================
// Spend Evaluator Test Suite
// =============================================================================
// Justification for unit tests: the rule chain has a fixed precedence, saturating
// arithmetic and day-window edge cases that are cheapest to pin down against the
// pure function, without stores or custody in the way.

type EvaluatorSuite struct {
	suite.Suite
	t0     time.Time
	policy *models.Policy
}

func TestEvaluatorSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorSuite))
}

func (s *EvaluatorSuite) SetupTest() {
	s.t0 = time.Unix(1_700_000_000, 0).UTC()
	p, err := models.NewPolicy(id.NewPolicyID(), id.NewVaultID(), "owner", "agent", 100, 60, s.t0)
	s.Require().NoError(err)
	s.policy = p
}

// spend runs one intent and carries the resulting state forward.
func (s *EvaluatorSuite) spend(tracker *models.RecipientSpend, recipient id.Identity, amount uint64, at time.Time) *Decision {
	d, err := Evaluate(Intent{Policy: s.policy, Tracker: tracker, Recipient: recipient, Amount: amount, Now: at})
	s.Require().NoError(err)
	s.policy = d.Policy
	return d
}

// =============================================================================
// Sequencing
// =============================================================================

func (s *EvaluatorSuite) TestSequenceAdvancesOnEveryOutcome() {
	at := s.t0
	outcomes := []uint64{10, 0, 500, 10}
	for i, amount := range outcomes {
		d := s.spend(nil, "r1", amount, at)
		s.Equal(uint64(i), d.Audit.Sequence)
		at = at.Add(2 * time.Minute)
	}
	s.Equal(uint64(len(outcomes)), s.policy.NextSequence)
}

func (s *EvaluatorSuite) TestInputsAreNotMutated() {
	before := *s.policy
	tracker := models.NewRecipientSpend(s.policy.ID, "r1", models.DayOf(s.t0))

	d, err := Evaluate(Intent{Policy: s.policy, Tracker: tracker, Recipient: "r1", Amount: 10, Now: s.t0})
	s.Require().NoError(err)
	s.True(d.Allowed)
	s.Equal(before, *s.policy)
	s.Zero(tracker.SpentToday)
}

func (s *EvaluatorSuite) TestSequenceExhaustionIsHardFailure() {
	s.policy.NextSequence = math.MaxUint64
	_, err := Evaluate(Intent{Policy: s.policy, Recipient: "r1", Amount: 1, Now: s.t0})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeOverflow))
}

// =============================================================================
// Budget and day window
// =============================================================================

func (s *EvaluatorSuite) TestBudgetBoundary() {
	s.policy.CooldownSeconds = 0

	d := s.spend(nil, "r1", 60, s.t0)
	s.True(d.Allowed)

	d = s.spend(d.Tracker, "r1", 41, s.t0)
	s.False(d.Allowed)
	s.Equal(models.ReasonBudgetExceeded, d.Reason)
	s.Equal(uint64(60), s.policy.SpentToday)

	d = s.spend(d.Tracker, "r1", 40, s.t0)
	s.True(d.Allowed, "spending exactly up to the budget is allowed")
	s.Equal(uint64(100), s.policy.SpentToday)
}

func (s *EvaluatorSuite) TestDayRolloverResetsBudget() {
	s.policy.DailyBudget = 150

	d := s.spend(nil, "r1", 100, s.t0)
	s.True(d.Allowed)

	d = s.spend(d.Tracker, "r1", 100, s.t0.Add(24*time.Hour))
	s.True(d.Allowed)
	s.Equal(uint64(100), s.policy.SpentToday)
	s.Equal(models.DayOf(s.t0)+1, s.policy.DayIndex)
	s.False(d.Regressed)
}

func (s *EvaluatorSuite) TestBudgetOverflowSaturatesToExceeded() {
	s.policy.DailyBudget = math.MaxUint64
	s.policy.SpentToday = math.MaxUint64 - 5
	s.policy.DayIndex = models.DayOf(s.t0)

	d := s.spend(nil, "r1", 10, s.t0)
	s.False(d.Allowed)
	s.Equal(models.ReasonBudgetExceeded, d.Reason)
}

func (s *EvaluatorSuite) TestClockRegressionIsAppliedAndFlagged() {
	s.policy.SpentToday = 90
	earlier := s.t0.Add(-48 * time.Hour)

	d := s.spend(nil, "r1", 50, earlier)
	s.True(d.Regressed)
	s.True(d.Allowed)
	s.Equal(models.DayOf(earlier), s.policy.DayIndex)
	s.Equal(uint64(50), s.policy.SpentToday)
}

func (s *EvaluatorSuite) TestNegativeTimestamps() {
	pre := time.Unix(-1, 0)
	d := s.spend(nil, "r1", 10, pre)
	s.True(d.Regressed)
	s.Equal(int64(-1), s.policy.DayIndex)
	s.Equal(int64(-1), d.Audit.Timestamp)
}

// =============================================================================
// Cooldown
// =============================================================================

func (s *EvaluatorSuite) TestCooldown() {
	d := s.spend(nil, "r1", 10, s.t0)
	s.True(d.Allowed)

	d = s.spend(d.Tracker, "r1", 10, s.t0.Add(59*time.Second))
	s.False(d.Allowed)
	s.Equal(models.ReasonCooldown, d.Reason)
	s.Equal(s.t0.Unix(), s.policy.LastSpendTime, "denials never move the cooldown anchor")

	d = s.spend(d.Tracker, "r1", 10, s.t0.Add(60*time.Second))
	s.True(d.Allowed)
}

func (s *EvaluatorSuite) TestCooldownAppliesWhenClockMovesBackwards() {
	d := s.spend(nil, "r1", 10, s.t0)
	s.True(d.Allowed)

	d = s.spend(d.Tracker, "r1", 10, s.t0.Add(-time.Hour))
	s.False(d.Allowed)
	s.Equal(models.ReasonCooldown, d.Reason)
}

func (s *EvaluatorSuite) TestZeroCooldownNeverBlocks() {
	s.policy.CooldownSeconds = 0
	d := s.spend(nil, "r1", 10, s.t0)
	d = s.spend(d.Tracker, "r1", 10, s.t0)
	s.True(d.Allowed)
}

// =============================================================================
// Rule precedence
// =============================================================================

func (s *EvaluatorSuite) TestZeroAmountBeatsPause() {
	s.policy.Paused = true
	d := s.spend(nil, "r1", 0, s.t0)
	s.Equal(models.ReasonInvalidAmount, d.Reason)
}

func (s *EvaluatorSuite) TestPauseBeatsEverythingElse() {
	s.policy.Paused = true
	s.policy.AllowlistEnabled = true
	s.policy.AllowedRecipient = "r2"
	d := s.spend(nil, "r1", 1_000, s.t0)
	s.Equal(models.ReasonPaused, d.Reason)
}

func (s *EvaluatorSuite) TestAllowlistBeatsBudget() {
	s.policy.AllowlistEnabled = true
	s.policy.AllowedRecipient = "r2"

	d := s.spend(nil, "r1", 1_000, s.t0)
	s.Equal(models.ReasonRecipientNotAllowed, d.Reason)

	d = s.spend(nil, "r2", 1_000, s.t0)
	s.Equal(models.ReasonBudgetExceeded, d.Reason)

	d = s.spend(d.Tracker, "r2", 10, s.t0)
	s.True(d.Allowed)
}

func (s *EvaluatorSuite) TestBudgetBeatsCooldown() {
	d := s.spend(nil, "r1", 10, s.t0)
	d = s.spend(d.Tracker, "r1", 500, s.t0.Add(time.Second))
	s.Equal(models.ReasonBudgetExceeded, d.Reason)
}

func (s *EvaluatorSuite) TestCooldownBeatsRecipientCap() {
	s.policy.PerRecipientDailyCap = 10
	d := s.spend(nil, "r1", 10, s.t0)
	s.True(d.Allowed)
	d = s.spend(d.Tracker, "r1", 5, s.t0.Add(time.Second))
	s.Equal(models.ReasonCooldown, d.Reason)
}

// =============================================================================
// Recipient tracker
// =============================================================================

func (s *EvaluatorSuite) TestRecipientCap() {
	s.policy.CooldownSeconds = 0
	s.policy.PerRecipientDailyCap = 30

	d := s.spend(nil, "r1", 20, s.t0)
	s.True(d.Allowed)
	s.True(d.TrackerCreated)
	r1 := d.Tracker

	d = s.spend(r1, "r1", 11, s.t0)
	s.Equal(models.ReasonRecipientCapExceeded, d.Reason)
	s.Equal(uint64(20), d.Tracker.SpentToday)

	d = s.spend(nil, "r2", 25, s.t0)
	s.True(d.Allowed, "caps are per recipient")
	s.Equal(uint64(45), s.policy.SpentToday)
}

func (s *EvaluatorSuite) TestTrackerCreatedOnDenial() {
	s.policy.Paused = true
	d := s.spend(nil, "r1", 5, s.t0)
	s.False(d.Allowed)
	s.True(d.TrackerCreated)
	s.Equal(id.Identity("r1"), d.Tracker.Recipient)
	s.Zero(d.Tracker.SpentToday)
}

func (s *EvaluatorSuite) TestTrackerRollsIndependently() {
	stale := models.NewRecipientSpend(s.policy.ID, "r1", models.DayOf(s.t0)-3)
	stale.SpentToday = 1_000
	s.policy.PerRecipientDailyCap = 50

	d := s.spend(stale, "r1", 40, s.t0)
	s.True(d.Allowed)
	s.Equal(uint64(40), d.Tracker.SpentToday)
	s.Equal(models.DayOf(s.t0), d.Tracker.DayIndex)
	s.False(d.Regressed)
}

func (s *EvaluatorSuite) TestUncappedTrackerOverflowIsHardFailure() {
	s.policy.DailyBudget = math.MaxUint64
	tracker := models.NewRecipientSpend(s.policy.ID, "r1", models.DayOf(s.t0))
	tracker.SpentToday = math.MaxUint64

	_, err := Evaluate(Intent{Policy: s.policy, Tracker: tracker, Recipient: "r1", Amount: 1, Now: s.t0})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeOverflow))
}

// =============================================================================
// Audit record
// =============================================================================

func (s *EvaluatorSuite) TestAuditSnapshotsPolicyVersion() {
	d := s.spend(nil, "r1", 10, s.t0)
	first := d.Audit
	s.Equal(uint64(1), first.PolicyVersion)

	s.Require().NoError(s.policy.ApplyParams(models.PolicyParams{DailyBudget: 500}, s.t0))
	d = s.spend(d.Tracker, "r1", 10, s.t0.Add(time.Hour))
	s.Equal(uint64(2), d.Audit.PolicyVersion)
	s.Equal(uint64(1), first.PolicyVersion)
}

func (s *EvaluatorSuite) TestAuditChainLinksEveryDecision() {
	var events []*models.AuditEvent
	var tracker *models.RecipientSpend
	at := s.t0
	for i := 0; i < 5; i++ {
		d := s.spend(tracker, "r1", uint64(i*30), at)
		tracker = d.Tracker
		events = append(events, d.Audit)
		at = at.Add(30 * time.Second)
	}

	s.NoError(models.VerifyChain(events))
	s.True(events[0].PrevHash.IsZero())
	s.Equal(events[len(events)-1].Hash, s.policy.LastAuditHash)
}

func (s *EvaluatorSuite) TestAuditRecordsDenialDetails() {
	d := s.spend(nil, "r9", 0, s.t0)
	s.Equal(s.policy.ID, d.Audit.PolicyID)
	s.Equal(id.Identity("r9"), d.Audit.Recipient)
	s.Zero(d.Audit.Amount)
	s.False(d.Audit.Allowed)
	s.Equal(models.ReasonInvalidAmount, d.Audit.Reason)
	s.Equal(s.t0.Unix(), d.Audit.Timestamp)
}
