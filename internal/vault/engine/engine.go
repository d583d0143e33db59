// Package engine evaluates spend intents against a policy.
//
// Evaluate is pure domain logic: it receives the stored policy and recipient
// tracker, returns the updated copies and the audit event, and never performs
// I/O. Persisting the result, calling custody and authorizing the caller are
// the service's job.
package engine

import (
	"math"
	"time"

	"policyvault/internal/vault/models"
	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
)

// Intent is one spend request after the caller has been authorized.
type Intent struct {
	Policy    *models.Policy
	Tracker   *models.RecipientSpend // nil when the recipient has never been seen
	Recipient id.Identity
	Amount    uint64
	Now       time.Time
}

// Decision is the outcome of an evaluation. Policy and Tracker are updated
// copies; the inputs are never modified.
type Decision struct {
	Allowed bool
	Reason  models.ReasonCode
	Policy  *models.Policy
	Tracker *models.RecipientSpend
	Audit   *models.AuditEvent

	// TrackerCreated is set when the tracker did not exist before this intent.
	TrackerCreated bool
	// Regressed is set when the clock moved to an earlier day than a stored
	// window. The rollover is still applied.
	Regressed bool
}

// Evaluate applies day rollover, the rule chain, and the audit append for one
// spend intent. The only errors are arithmetic overflows of counters that
// must grow; denials are returned as data.
func Evaluate(in Intent) (*Decision, error) {
	if in.Policy == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "policy is required")
	}
	now := in.Now.Unix()
	day := models.DayIndex(now)

	policy := *in.Policy
	var tracker models.RecipientSpend
	created := in.Tracker == nil
	if created {
		tracker = *models.NewRecipientSpend(policy.ID, in.Recipient, day)
	} else {
		tracker = *in.Tracker
	}

	_, policyRegressed := policy.RollDay(day)
	_, trackerRegressed := tracker.RollDay(day)

	if policy.NextSequence == math.MaxUint64 {
		return nil, dErrors.New(dErrors.CodeOverflow, "audit sequence exhausted")
	}

	reason := evaluateRules(&policy, &tracker, in.Recipient, in.Amount, now)
	allowed := reason == models.ReasonOK

	if allowed {
		// Budget and cap rules already bounded these sums, except an uncapped
		// tracker which may still wrap.
		policy.SpentToday += in.Amount
		sum, ok := addUint64(tracker.SpentToday, in.Amount)
		if !ok {
			return nil, dErrors.New(dErrors.CodeOverflow, "recipient spend counter overflow")
		}
		tracker.SpentToday = sum
		policy.LastSpendTime = now
	}

	event := &models.AuditEvent{
		PolicyID:      policy.ID,
		Sequence:      policy.NextSequence,
		Timestamp:     now,
		Recipient:     in.Recipient,
		Amount:        in.Amount,
		Allowed:       allowed,
		Reason:        reason,
		PolicyVersion: policy.Version,
	}
	event.Seal(policy.LastAuditHash)
	policy.NextSequence++
	policy.LastAuditHash = event.Hash

	return &Decision{
		Allowed:        allowed,
		Reason:         reason,
		Policy:         &policy,
		Tracker:        &tracker,
		Audit:          event,
		TrackerCreated: created,
		Regressed:      policyRegressed || trackerRegressed,
	}, nil
}

// evaluateRules applies the spend rule chain to rolled-over state.
// Rule priority (fail-fast):
//  1. Amount must be positive
//  2. Kill switch
//  3. Recipient allowlist
//  4. Daily budget
//  5. Cooldown since the last allowed spend
//  6. Per-recipient daily cap
func evaluateRules(p *models.Policy, t *models.RecipientSpend, recipient id.Identity, amount uint64, now int64) models.ReasonCode {
	// Rule 1: a zero amount is never meaningful, even on a paused policy
	if amount == 0 {
		return models.ReasonInvalidAmount
	}

	// Rule 2: pause blocks everything else
	if p.Paused {
		return models.ReasonPaused
	}

	// Rule 3: allowlist
	if p.AllowlistEnabled && recipient != p.AllowedRecipient {
		return models.ReasonRecipientNotAllowed
	}

	// Rule 4: budget, overflow counts as exceeded
	if exceeds(p.SpentToday, amount, p.DailyBudget) {
		return models.ReasonBudgetExceeded
	}

	// Rule 5: cooldown
	if inCooldown(p.LastSpendTime, p.CooldownSeconds, now) {
		return models.ReasonCooldown
	}

	// Rule 6: per-recipient cap, 0 disables it
	if p.PerRecipientDailyCap > 0 && exceeds(t.SpentToday, amount, p.PerRecipientDailyCap) {
		return models.ReasonRecipientCapExceeded
	}

	return models.ReasonOK
}

// exceeds reports whether spent+amount > limit, treating overflow as exceeded.
func exceeds(spent, amount, limit uint64) bool {
	sum, ok := addUint64(spent, amount)
	return !ok || sum > limit
}

// inCooldown reports whether fewer than cooldown seconds have passed since
// lastSpend. A clock that moved behind lastSpend is still inside the cooldown.
func inCooldown(lastSpend int64, cooldown uint32, now int64) bool {
	if lastSpend <= 0 {
		return false
	}
	if now < lastSpend {
		return true
	}
	return now-lastSpend < int64(cooldown)
}

func addUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}
