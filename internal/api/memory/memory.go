// Package memory provides an in-memory implementation of the backend API,
// including the server's balance bookkeeping. It backs tests and the agent's
// standalone mode.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"expenser/internal/api"
	"expenser/internal/core"
)

type Remote struct {
	mu sync.Mutex

	transactions []core.Transaction // newest first
	workflows    []core.Workflow
	profile      core.Profile
	nextID       int

	createTxnCalls int
	deleteCalls    int

	failAll        error
	failTxnCreates error
	failDeletes    error
}

func New(profile core.Profile) *Remote {
	return &Remote{profile: profile}
}

// FailAll makes every call return err until reset with nil. Simulates a
// network outage.
func (r *Remote) FailAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAll = err
}

// FailTransactionCreates makes only transaction creations fail.
func (r *Remote) FailTransactionCreates(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failTxnCreates = err
}

// FailDeletes makes only delete calls fail.
func (r *Remote) FailDeletes(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failDeletes = err
}

// CreateTransactionCalls reports how many creations reached the server.
func (r *Remote) CreateTransactionCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createTxnCalls
}

func (r *Remote) DeleteCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteCalls
}

func (r *Remote) assignID() string {
	r.nextID++
	return fmt.Sprintf("srv-%d", r.nextID)
}

func (r *Remote) ListTransactions(context.Context) ([]core.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return nil, r.failAll
	}
	out := make([]core.Transaction, len(r.transactions))
	copy(out, r.transactions)
	return out, nil
}

func (r *Remote) CreateTransaction(_ context.Context, payload core.CreateTransaction) (core.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return core.Transaction{}, r.failAll
	}
	if r.failTxnCreates != nil {
		return core.Transaction{}, r.failTxnCreates
	}
	if err := payload.Validate(); err != nil {
		return core.Transaction{}, &api.APIError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	r.createTxnCalls++
	now := time.Now()
	date := payload.Date
	if date.IsZero() {
		date = now
	}
	txn := core.Transaction{
		ID:            r.assignID(),
		UserID:        r.profile.UserID,
		Type:          payload.Type,
		Amount:        payload.Amount,
		Description:   payload.Description,
		Category:      core.CategoryOrDefault(payload.Category),
		PaymentMethod: payload.PaymentMethod,
		SplitAmount:   payload.SplitAmount,
		Date:          date,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.transactions = append([]core.Transaction{txn}, r.transactions...)
	r.profile.Balances.Apply(txn.PaymentMethod, txn.Amount, txn.Type, txn.SplitAmount)
	return txn, nil
}

func (r *Remote) UpdateTransaction(_ context.Context, id string, payload core.UpdateTransaction) (core.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return core.Transaction{}, r.failAll
	}
	for i, txn := range r.transactions {
		if txn.ID != id {
			continue
		}
		if payload.Description != nil {
			txn.Description = *payload.Description
		}
		if payload.Category != nil {
			txn.Category = *payload.Category
		}
		if payload.Date != nil {
			txn.Date = *payload.Date
		}
		txn.UpdatedAt = time.Now()
		r.transactions[i] = txn
		return txn, nil
	}
	return core.Transaction{}, &api.APIError{StatusCode: http.StatusNotFound, Message: "transaction not found"}
}

func (r *Remote) DeleteTransaction(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return r.failAll
	}
	if r.failDeletes != nil {
		return r.failDeletes
	}
	r.deleteCalls++
	for i, txn := range r.transactions {
		if txn.ID == id {
			r.transactions = append(r.transactions[:i], r.transactions[i+1:]...)
			r.profile.Balances.Reverse(txn.PaymentMethod, txn.Amount, txn.Type, txn.SplitAmount)
			return nil
		}
	}
	return &api.APIError{StatusCode: http.StatusNotFound, Message: "transaction not found"}
}

func (r *Remote) ListWorkflows(context.Context) ([]core.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return nil, r.failAll
	}
	out := make([]core.Workflow, len(r.workflows))
	copy(out, r.workflows)
	return out, nil
}

func (r *Remote) CreateWorkflow(_ context.Context, payload core.CreateWorkflow) (core.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return core.Workflow{}, r.failAll
	}
	if err := payload.Validate(); err != nil {
		return core.Workflow{}, &api.APIError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	now := time.Now()
	wf := core.Workflow{
		ID:            r.assignID(),
		UserID:        r.profile.UserID,
		Name:          payload.Name,
		Type:          payload.Type,
		Amount:        payload.Amount,
		Description:   payload.Description,
		Category:      core.CategoryOrDefault(payload.Category),
		PaymentMethod: payload.PaymentMethod,
		SplitAmount:   payload.SplitAmount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.workflows = append([]core.Workflow{wf}, r.workflows...)
	return wf, nil
}

func (r *Remote) UpdateWorkflow(_ context.Context, id string, payload core.CreateWorkflow) (core.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return core.Workflow{}, r.failAll
	}
	for i, wf := range r.workflows {
		if wf.ID != id {
			continue
		}
		wf.Name = payload.Name
		wf.Type = payload.Type
		wf.Amount = payload.Amount
		wf.Description = payload.Description
		wf.Category = core.CategoryOrDefault(payload.Category)
		wf.PaymentMethod = payload.PaymentMethod
		wf.SplitAmount = payload.SplitAmount
		wf.UpdatedAt = time.Now()
		r.workflows[i] = wf
		return wf, nil
	}
	return core.Workflow{}, &api.APIError{StatusCode: http.StatusNotFound, Message: "workflow not found"}
}

func (r *Remote) DeleteWorkflow(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return r.failAll
	}
	if r.failDeletes != nil {
		return r.failDeletes
	}
	r.deleteCalls++
	for i, wf := range r.workflows {
		if wf.ID == id {
			r.workflows = append(r.workflows[:i], r.workflows[i+1:]...)
			return nil
		}
	}
	return &api.APIError{StatusCode: http.StatusNotFound, Message: "workflow not found"}
}

func (r *Remote) GetProfile(context.Context) (core.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return core.Profile{}, r.failAll
	}
	return r.profile, nil
}

func (r *Remote) UpdateProfile(_ context.Context, payload core.UpdateProfile) (core.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return core.Profile{}, r.failAll
	}
	if payload.Name != nil {
		r.profile.Name = *payload.Name
	}
	if payload.Occupation != nil {
		r.profile.Occupation = *payload.Occupation
	}
	if payload.PaymentMethods != nil {
		r.profile.PaymentMethods = payload.PaymentMethods
	}
	if payload.Balances != nil {
		r.profile.Balances = *payload.Balances
	}
	if payload.Onboarded != nil {
		r.profile.Onboarded = *payload.Onboarded
	}
	r.profile.UpdatedAt = time.Now()
	return r.profile, nil
}

var _ api.Remote = (*Remote)(nil)
