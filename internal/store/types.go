package store

import (
	"time"

	"mailcast/internal/domain"
)

// DeliveryOutcome is the terminal result of one send, applied to the ledger
// row and the campaign aggregate in a single transaction.
type DeliveryOutcome struct {
	RecordID   int
	CampaignID int
	Status     domain.DeliveryStatus // delivered or bounced
	Response   string
	ResponseID string
	Now        time.Time
}
