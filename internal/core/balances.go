package core

import "github.com/shopspring/decimal"

// Balances holds one signed amount per payment method. The zero value is a
// valid all-zero record, so a profile missing an entry still reads as 0.
type Balances struct {
	Bank      decimal.Decimal `json:"bank"`
	Cash      decimal.Decimal `json:"cash"`
	Splitwise decimal.Decimal `json:"splitwise"`
}

func (b Balances) Get(method PaymentMethod) decimal.Decimal {
	switch method {
	case Bank:
		return b.Bank
	case Cash:
		return b.Cash
	case Splitwise:
		return b.Splitwise
	}
	return decimal.Zero
}

func (b *Balances) Set(method PaymentMethod, amount decimal.Decimal) {
	switch method {
	case Bank:
		b.Bank = amount
	case Cash:
		b.Cash = amount
	case Splitwise:
		b.Splitwise = amount
	}
}

func (b *Balances) Add(method PaymentMethod, amount decimal.Decimal) {
	b.Set(method, b.Get(method).Add(amount))
}

// Apply mutates the balances by a transaction's signed effect: income adds,
// expense subtracts, and an expense with a positive split amount credits the
// splitwise bucket by what the counterparty owes back.
func (b *Balances) Apply(method PaymentMethod, amount decimal.Decimal, txType TransactionType, splitAmount decimal.Decimal) {
	signed := amount
	if txType == Expense {
		signed = amount.Neg()
	}
	b.Add(method, signed)

	if txType == Expense && splitAmount.IsPositive() {
		b.Add(Splitwise, splitAmount)
	}
}

// Reverse undoes a previously applied transaction effect.
func (b *Balances) Reverse(method PaymentMethod, amount decimal.Decimal, txType TransactionType, splitAmount decimal.Decimal) {
	signed := amount.Neg()
	if txType == Expense {
		signed = amount
	}
	b.Add(method, signed)

	if txType == Expense && splitAmount.IsPositive() {
		b.Add(Splitwise, splitAmount.Neg())
	}
}

// Plus returns the memberwise sum of two balance records.
func (b Balances) Plus(other Balances) Balances {
	return Balances{
		Bank:      b.Bank.Add(other.Bank),
		Cash:      b.Cash.Add(other.Cash),
		Splitwise: b.Splitwise.Add(other.Splitwise),
	}
}

// Minus returns the memberwise difference of two balance records.
func (b Balances) Minus(other Balances) Balances {
	return Balances{
		Bank:      b.Bank.Sub(other.Bank),
		Cash:      b.Cash.Sub(other.Cash),
		Splitwise: b.Splitwise.Sub(other.Splitwise),
	}
}

// Total sums the balances of the given methods only.
func (b Balances) Total(methods []PaymentMethod) decimal.Decimal {
	total := decimal.Zero
	for _, m := range methods {
		total = total.Add(b.Get(m))
	}
	return total
}

func (b Balances) Equal(other Balances) bool {
	return b.Bank.Equal(other.Bank) &&
		b.Cash.Equal(other.Cash) &&
		b.Splitwise.Equal(other.Splitwise)
}
