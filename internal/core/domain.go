// Package core holds the domain model shared by the client and the server:
// transactions, workflows, profiles and the balance arithmetic that ties
// them together.
package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	Bank      PaymentMethod = "bank"
	Cash      PaymentMethod = "cash"
	Splitwise PaymentMethod = "splitwise"
)

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

type (
	TransactionType string

	PaymentMethod string

	// SyncStatus tracks a record's position in the offline sync lifecycle.
	SyncStatus string

	Transaction struct {
		ID            string          `json:"id"`
		UserID        string          `json:"userId"`
		Type          TransactionType `json:"type"`
		Amount        decimal.Decimal `json:"amount"`
		Description   string          `json:"description"`
		Category      string          `json:"category"`
		PaymentMethod PaymentMethod   `json:"paymentMethod"`
		SplitAmount   decimal.Decimal `json:"splitAmount"`
		Date          time.Time       `json:"date"`
		CreatedAt     time.Time       `json:"createdAt"`
		UpdatedAt     time.Time       `json:"updatedAt"`

		// Local-only fields, never persisted by the server.
		IsLocal    bool       `json:"isLocal,omitempty"`
		SyncStatus SyncStatus `json:"syncStatus,omitempty"`
	}

	// Workflow is a saved transaction template. It has no balance effect of
	// its own; it is consumed to pre-fill a new transaction.
	Workflow struct {
		ID            string          `json:"id"`
		UserID        string          `json:"userId"`
		Name          string          `json:"name"`
		Type          TransactionType `json:"type"`
		Amount        decimal.Decimal `json:"amount"`
		Description   string          `json:"description"`
		Category      string          `json:"category"`
		PaymentMethod PaymentMethod   `json:"paymentMethod"`
		SplitAmount   decimal.Decimal `json:"splitAmount"`
		CreatedAt     time.Time       `json:"createdAt"`
		UpdatedAt     time.Time       `json:"updatedAt"`

		IsLocal    bool       `json:"isLocal,omitempty"`
		SyncStatus SyncStatus `json:"syncStatus,omitempty"`
	}

	Profile struct {
		UserID         string          `json:"userId"`
		Name           string          `json:"name"`
		Email          string          `json:"email"`
		Occupation     string          `json:"occupation"`
		PaymentMethods []PaymentMethod `json:"paymentMethods"`
		Balances       Balances        `json:"balances"`
		Onboarded      bool            `json:"onboarded"`
		CreatedAt      time.Time       `json:"createdAt"`
		UpdatedAt      time.Time       `json:"updatedAt"`
	}

	CreateTransaction struct {
		Type          TransactionType `json:"type"`
		Amount        decimal.Decimal `json:"amount"`
		Description   string          `json:"description"`
		Category      string          `json:"category"`
		PaymentMethod PaymentMethod   `json:"paymentMethod"`
		SplitAmount   decimal.Decimal `json:"splitAmount"`
		Date          time.Time       `json:"date,omitempty"`
	}

	CreateWorkflow struct {
		Name          string          `json:"name"`
		Type          TransactionType `json:"type"`
		Amount        decimal.Decimal `json:"amount"`
		Description   string          `json:"description"`
		Category      string          `json:"category"`
		PaymentMethod PaymentMethod   `json:"paymentMethod"`
		SplitAmount   decimal.Decimal `json:"splitAmount"`
	}

	// UpdateProfile carries partial profile changes. Nil fields are left
	// untouched by the server.
	UpdateProfile struct {
		Name           *string          `json:"name,omitempty"`
		Occupation     *string          `json:"occupation,omitempty"`
		PaymentMethods []PaymentMethod  `json:"paymentMethods,omitempty"`
		Balances       *Balances        `json:"balances,omitempty"`
		Onboarded      *bool            `json:"onboarded,omitempty"`
	}

	// UpdateTransaction carries partial transaction changes.
	UpdateTransaction struct {
		Type          *TransactionType `json:"type,omitempty"`
		Amount        *decimal.Decimal `json:"amount,omitempty"`
		Description   *string          `json:"description,omitempty"`
		Category      *string          `json:"category,omitempty"`
		PaymentMethod *PaymentMethod   `json:"paymentMethod,omitempty"`
		SplitAmount   *decimal.Decimal `json:"splitAmount,omitempty"`
		Date          *time.Time       `json:"date,omitempty"`
	}
)

// DefaultCategory is applied when a transaction is created without one.
const DefaultCategory = "General"

var (
	ErrInvalidType          = errors.New("invalid transaction type")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidSplitAmount   = errors.New("split amount cannot be negative")
	ErrEmptyDescription     = errors.New("empty description")
	ErrEmptyName            = errors.New("empty name")
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (m PaymentMethod) Valid() bool {
	return m == Bank || m == Cash || m == Splitwise
}

// AllPaymentMethods lists every account bucket the system knows about.
func AllPaymentMethods() []PaymentMethod {
	return []PaymentMethod{Bank, Cash, Splitwise}
}

func (p CreateTransaction) Validate() error {
	if !p.Type.Valid() {
		return ErrInvalidType
	}
	if !p.PaymentMethod.Valid() {
		return ErrInvalidPaymentMethod
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if p.SplitAmount.IsNegative() {
		return ErrInvalidSplitAmount
	}
	if strings.TrimSpace(p.Description) == "" {
		return ErrEmptyDescription
	}
	return nil
}

func (p CreateWorkflow) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if !p.Type.Valid() {
		return ErrInvalidType
	}
	if !p.PaymentMethod.Valid() {
		return ErrInvalidPaymentMethod
	}
	if p.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if p.SplitAmount.IsNegative() {
		return ErrInvalidSplitAmount
	}
	return nil
}

// CategoryOrDefault normalizes an optional category.
func CategoryOrDefault(category string) string {
	if strings.TrimSpace(category) == "" {
		return DefaultCategory
	}
	return category
}

// HasMethod reports whether the profile has the payment method enabled.
func (p Profile) HasMethod(method PaymentMethod) bool {
	for _, m := range p.PaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}
