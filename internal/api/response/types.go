package response

import (
	"time"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/storage"
	"github.com/mcoot/sideline/internal/txn"
)

// Saved is the response for entity writes
type Saved[T any] struct {
	Data    T                    `json:"data"`
	Outcome storage.WriteOutcome `json:"outcome"`
}

// List wraps a collection listing
type List[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// ListOf builds a List, never encoding a null array
func ListOf[T any](items []T) List[T] {
	if items == nil {
		items = []T{}
	}
	return List[T]{Items: items, Count: len(items)}
}

// Deleted is the response for entity deletes
type Deleted struct {
	ID      string               `json:"id"`
	Outcome storage.WriteOutcome `json:"outcome"`
}

// Auth is the response for PUT /auth
type Auth struct {
	model.AuthState
	Provider string `json:"provider"`
}

// Connectivity is the response for connectivity endpoints
type Connectivity struct {
	Online bool `json:"online"`
}

// Providers lists the remote providers and the active one
type Providers struct {
	Active    string   `json:"active"`
	Available []string `json:"available"`
}

// Transaction summarises a finished transaction
type Transaction struct {
	TransactionID        string    `json:"transactionId"`
	Status               string    `json:"status"`
	CompletedOperations  []string  `json:"completedOperations"`
	RolledBackOperations []string  `json:"rolledBackOperations,omitempty"`
	FailedOperation      string    `json:"failedOperation,omitempty"`
	Attempts             int       `json:"attempts"`
	StartedAt            time.Time `json:"startedAt"`
	FinishedAt           time.Time `json:"finishedAt"`
	Error                string    `json:"error,omitempty"`
	RollbackErrors       []string  `json:"rollbackErrors,omitempty"`
}

// TransactionFromResult converts a txn.Result
func TransactionFromResult(r txn.Result) Transaction {
	t := Transaction{
		TransactionID:        r.TransactionID,
		Status:               string(r.Status),
		CompletedOperations:  r.CompletedOperations,
		RolledBackOperations: r.RolledBackOperations,
		FailedOperation:      r.FailedOperation,
		Attempts:             r.Attempts,
		StartedAt:            r.StartedAt,
		FinishedAt:           r.FinishedAt,
	}
	if t.CompletedOperations == nil {
		t.CompletedOperations = []string{}
	}
	if r.Err != nil {
		t.Error = r.Err.Error()
	}
	for _, err := range r.RollbackErrors {
		t.RollbackErrors = append(t.RollbackErrors, err.Error())
	}
	return t
}

// ActiveTransactions lists in-flight transaction ids
type ActiveTransactions struct {
	Active []string `json:"active"`
}
