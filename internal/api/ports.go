package api

import (
	"context"

	"expenser/internal/core"
)

// Remote is the surface of the backend API the client depends on. The sync
// engine and the application facade consume this interface; tests substitute
// an in-memory fake.
type Remote interface {
	ListTransactions(ctx context.Context) ([]core.Transaction, error)
	CreateTransaction(ctx context.Context, payload core.CreateTransaction) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, payload core.UpdateTransaction) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error

	ListWorkflows(ctx context.Context) ([]core.Workflow, error)
	CreateWorkflow(ctx context.Context, payload core.CreateWorkflow) (core.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, payload core.CreateWorkflow) (core.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	GetProfile(ctx context.Context) (core.Profile, error)
	UpdateProfile(ctx context.Context, payload core.UpdateProfile) (core.Profile, error)
}

// TokenProvider supplies bearer credentials. Implementations typically wrap
// the identity provider's SDK and return a fresh token per call.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed credential. Useful for
// development setups and tests.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
