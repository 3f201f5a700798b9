package valueobject

import "github.com/ignatzorin/helper-escrow/internal/pkg/apperror"

// Rail платёжный канал, через который пополняется удержание.
type Rail string

const (
	RailCard     Rail = "card"
	RailRegional Rail = "regional_gateway"
	RailManual   Rail = "manual_transfer"
)

func (r Rail) IsValid() bool {
	switch r {
	case RailCard, RailRegional, RailManual:
		return true
	}
	return false
}

func NewRail(rail string) (Rail, error) {
	r := Rail(rail)
	if !r.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "неизвестный платёжный канал")
	}
	return r, nil
}

// TrustLevel уровень доверия к подтверждению платежа, учитывается при разборе споров.
type TrustLevel string

const (
	TrustStandard TrustLevel = "standard"
	TrustLow      TrustLevel = "low"
)

// DefaultTrust: ручной перевод подтверждается человеком без криптографии.
func (r Rail) DefaultTrust() TrustLevel {
	if r == RailManual {
		return TrustLow
	}
	return TrustStandard
}
