package models

import (
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/types"
)

const DefaultPrivateLeadMinutes = 30

// School is the tenant. Every booking, voucher and discount code belongs to one.
type School struct {
	ID                   uint    `gorm:"primarykey" json:"id"`
	Name                 string  `json:"name"`
	Email                string  `json:"email,omitempty"`
	Currency             string  `gorm:"size:3" json:"currency"`
	Timezone             string  `json:"timezone,omitempty"`
	OverbookingAllowance int     `json:"overbooking_allowance"`
	PrivateLeadMinutes   *int    `json:"private_lead_minutes,omitempty"`
	HoldMinutes          int     `json:"hold_minutes"`
	StripeAccountID      *string `json:"stripe_account_id,omitempty"`
	Active               bool    `json:"active"`

	types.Timestamps
}

func (s School) LeadTime() time.Duration {
	if s.PrivateLeadMinutes == nil {
		return DefaultPrivateLeadMinutes * time.Minute
	}
	return time.Duration(*s.PrivateLeadMinutes) * time.Minute
}

func (s School) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
