package models

import (
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
)

// Voucher is store value. ClientID nil means any client of the school may use it;
// once transferred only TransferredToClientID may.
type Voucher struct {
	ID                    uint            `gorm:"primarykey" json:"id"`
	SchoolID              uint            `gorm:"index" json:"school_id"`
	Code                  string          `gorm:"size:64;index" json:"code"`
	Quantity              decimal.Decimal `gorm:"type:decimal(12,2)" json:"quantity"`
	RemainingBalance      decimal.Decimal `gorm:"type:decimal(12,2)" json:"remaining_balance"`
	Payed                 bool            `json:"payed"`
	Active                bool            `json:"active"`
	ClientID              *uint           `json:"client_id,omitempty"`
	TransferredToClientID *uint           `json:"transferred_to_client_id,omitempty"`
	ExpiresAt             *time.Time      `json:"expires_at,omitempty"`
	MaxUses               *int            `json:"max_uses,omitempty"`
	Uses                  int             `json:"uses"`

	types.Timestamps
}

// VoucherUsageLog is append only. Positive amounts are debits, negative are refunds.
type VoucherUsageLog struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	VoucherID uint            `gorm:"index" json:"voucher_id"`
	BookingID uint            `gorm:"index" json:"booking_id"`
	ClientID  uint            `json:"client_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
