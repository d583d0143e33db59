package models

import (
	id "policyvault/pkg/domain"
)

// RecipientSpend tracks what one recipient received under a policy today. Its
// day window rolls independently of the policy's own window.
type RecipientSpend struct {
	PolicyID   id.PolicyID `json:"policy_id"`
	Recipient  id.Identity `json:"recipient"`
	SpentToday uint64      `json:"spent_today"`
	DayIndex   int64       `json:"day_index"`
}

func NewRecipientSpend(policyID id.PolicyID, recipient id.Identity, currentDay int64) *RecipientSpend {
	return &RecipientSpend{PolicyID: policyID, Recipient: recipient, DayIndex: currentDay}
}

// RollDay resets the counter when currentDay differs from the stored window.
func (r *RecipientSpend) RollDay(currentDay int64) (rolled, regressed bool) {
	if currentDay == r.DayIndex {
		return false, false
	}
	regressed = currentDay < r.DayIndex
	r.SpentToday = 0
	r.DayIndex = currentDay
	return true, regressed
}
