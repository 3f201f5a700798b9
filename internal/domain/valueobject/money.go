package valueobject

import (
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// helperRate доля исполнителя при выплате.
var helperRate = decimal.New(9, -1)

// Amount сумма в минимальных единицах валюты платформы.
type Amount int64

func NewAmount(v int64) (Amount, error) {
	if v <= 0 {
		return 0, apperror.ErrInvalidAmount
	}
	return Amount(v), nil
}

func (a Amount) Int64() int64 {
	return int64(a)
}

// Split делит сумму на долю исполнителя и комиссию платформы.
// helperShare = floor(amount * 0.9), комиссия это остаток, поэтому сумма частей всегда равна amount.
func (a Amount) Split() (helperShare, platformFee Amount) {
	share := decimal.NewFromInt(int64(a)).Mul(helperRate).Floor().IntPart()
	return Amount(share), a - Amount(share)
}

// SplitAmount то же самое для сырых int64 сумм.
func SplitAmount(amount int64) (helperShare, platformFee int64) {
	h, f := Amount(amount).Split()
	return int64(h), int64(f)
}
