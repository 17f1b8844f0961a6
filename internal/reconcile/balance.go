package reconcile

import "saldo/internal/core"

// Balance is the lifetime savings/deficit pair of a user.
type Balance struct {
	Savings core.Money
	Deficit core.Money
}

// Apply folds one performance figure into b. A surplus first pays down the
// deficit and the rest becomes savings; a loss first drains savings and the
// rest becomes deficit. Amounts are cents, so every step is already rounded
// to two decimals.
func (b Balance) Apply(p core.Money) Balance {
	if !p.IsNegative() {
		offset := core.MinMoney(p, b.Deficit)
		return Balance{
			Savings: b.Savings.Add(p.Sub(offset)),
			Deficit: b.Deficit.Sub(offset),
		}
	}
	loss := p.Neg()
	offset := core.MinMoney(loss, b.Savings)
	return Balance{
		Savings: b.Savings.Sub(offset),
		Deficit: b.Deficit.Add(loss.Sub(offset)),
	}
}

// Fold applies every summary's performance, in the given order, starting
// from zero.
func Fold(summaries []core.MonthlySummary) Balance {
	var b Balance
	for _, s := range summaries {
		b = b.Apply(s.Performance())
	}
	return b
}

// Net returns savings minus deficit.
func (b Balance) Net() core.Money {
	return b.Savings.Sub(b.Deficit)
}
