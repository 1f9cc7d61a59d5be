package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBalancesApply(t *testing.T) {
	tests := []struct {
		name        string
		start       Balances
		method      PaymentMethod
		amount      string
		txType      TransactionType
		splitAmount string
		want        Balances
	}{
		{
			name:   "income adds to the method",
			start:  Balances{Bank: dec("1000")},
			method: Bank, amount: "500", txType: Income, splitAmount: "0",
			want: Balances{Bank: dec("1500")},
		},
		{
			name:   "expense subtracts from the method",
			start:  Balances{Bank: dec("1000")},
			method: Bank, amount: "200", txType: Expense, splitAmount: "0",
			want: Balances{Bank: dec("800")},
		},
		{
			name:   "expense with split credits splitwise",
			start:  Balances{Bank: dec("2000")},
			method: Bank, amount: "1000", txType: Expense, splitAmount: "400",
			want: Balances{Bank: dec("1000"), Splitwise: dec("400")},
		},
		{
			name:   "income ignores split amount",
			start:  Balances{Cash: dec("50")},
			method: Cash, amount: "25", txType: Income, splitAmount: "10",
			want: Balances{Cash: dec("75")},
		},
		{
			name:   "expense on splitwise itself",
			start:  Balances{Splitwise: dec("100")},
			method: Splitwise, amount: "30", txType: Expense, splitAmount: "0",
			want: Balances{Splitwise: dec("70")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.start
			got.Apply(tt.method, dec(tt.amount), tt.txType, dec(tt.splitAmount))
			if !got.Equal(tt.want) {
				t.Errorf("Apply() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBalancesReverseUndoesApply(t *testing.T) {
	start := Balances{Bank: dec("1000"), Cash: dec("10"), Splitwise: dec("5")}

	b := start
	b.Apply(Bank, dec("1000"), Expense, dec("400"))
	b.Reverse(Bank, dec("1000"), Expense, dec("400"))

	if !b.Equal(start) {
		t.Errorf("Reverse did not undo Apply: got %+v, want %+v", b, start)
	}
}

func TestBalancesTotal(t *testing.T) {
	b := Balances{Bank: dec("800"), Cash: dec("100"), Splitwise: dec("400")}

	if got := b.Total([]PaymentMethod{Bank}); !got.Equal(dec("800")) {
		t.Errorf("Total(bank) = %s, want 800", got)
	}
	if got := b.Total(AllPaymentMethods()); !got.Equal(dec("1300")) {
		t.Errorf("Total(all) = %s, want 1300", got)
	}
	if got := b.Total(nil); !got.IsZero() {
		t.Errorf("Total(none) = %s, want 0", got)
	}
}

func TestBalancesGetUnknownMethod(t *testing.T) {
	b := Balances{Bank: dec("42")}
	if got := b.Get(PaymentMethod("paypal")); !got.IsZero() {
		t.Errorf("Get(unknown) = %s, want 0", got)
	}
}
