package settlement

import (
	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
)

// HelperEarnings сводка исполнителя. Все суммы это доля исполнителя после комиссии.
type HelperEarnings struct {
	Pending   int64 `json:"pending"`
	Released  int64 `json:"released"`
	Withdrawn int64 `json:"withdrawn"`
	Available int64 `json:"available"`
}

// Summarize считает заработок по платежам исполнителя и сумме учтённых выводов.
func Summarize(payments []*entity.Payment, withdrawn int64) HelperEarnings {
	var earnings HelperEarnings
	for _, p := range payments {
		switch p.EscrowState {
		case valueobject.EscrowHeld:
			share, _ := valueobject.SplitAmount(p.Amount)
			earnings.Pending += share
		case valueobject.EscrowReleased:
			share := p.HelperShare
			if share == nil {
				s, _ := valueobject.SplitAmount(p.Amount)
				share = &s
			}
			earnings.Released += *share
		}
	}
	earnings.Withdrawn = withdrawn
	earnings.Available = earnings.Released - withdrawn
	if earnings.Available < 0 {
		earnings.Available = 0
	}
	return earnings
}

type RequesterSummary struct {
	Held     int64 `json:"held"`
	Spent    int64 `json:"spent"`
	Refunded int64 `json:"refunded"`
}

// SummarizeRequester: потрачено это выплаченные исполнителям суммы целиком.
func SummarizeRequester(payments []*entity.Payment) RequesterSummary {
	var summary RequesterSummary
	for _, p := range payments {
		switch p.EscrowState {
		case valueobject.EscrowHeld:
			summary.Held += p.Amount
		case valueobject.EscrowReleased:
			summary.Spent += p.Amount
		case valueobject.EscrowRefunded:
			summary.Refunded += p.Amount
		}
	}
	return summary
}

type AdminSummary struct {
	Held         int64 `json:"held"`
	Released     int64 `json:"released"`
	PlatformFee  int64 `json:"platform_fee"`
	Refunded     int64 `json:"refunded"`
	OpenDisputes int   `json:"open_disputes"`
}
