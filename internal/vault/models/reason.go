package models

// ReasonCode explains a spend decision. The numbering is a stable contract with
// reconciliation systems: codes are append-only and never renumbered.
type ReasonCode uint16

const (
	ReasonOK                   ReasonCode = 1
	ReasonBudgetExceeded       ReasonCode = 2
	ReasonCooldown             ReasonCode = 3
	ReasonInvalidAmount        ReasonCode = 4
	ReasonPaused               ReasonCode = 5
	ReasonRecipientNotAllowed  ReasonCode = 6
	ReasonRecipientCapExceeded ReasonCode = 7
)

var reasonNames = map[ReasonCode]string{
	ReasonOK:                   "OK",
	ReasonBudgetExceeded:       "BUDGET_EXCEEDED",
	ReasonCooldown:             "COOLDOWN",
	ReasonInvalidAmount:        "INVALID_AMOUNT",
	ReasonPaused:               "PAUSED",
	ReasonRecipientNotAllowed:  "RECIPIENT_NOT_ALLOWED",
	ReasonRecipientCapExceeded: "RECIPIENT_CAP_EXCEEDED",
}

func (r ReasonCode) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsValid reports whether r is a known code.
func (r ReasonCode) IsValid() bool {
	_, ok := reasonNames[r]
	return ok
}
