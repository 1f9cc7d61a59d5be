package core

const (
	EntityTransaction EntityType = "transaction"
	EntityWorkflow    EntityType = "workflow"
)

type (
	EntityType string

	// PendingDelete is a queued request to delete a server-confirmed record
	// once connectivity returns.
	PendingDelete struct {
		EntityType EntityType `json:"type"`
		ID         string     `json:"id"`
	}
)
