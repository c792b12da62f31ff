package handler

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/mcoot/sideline/internal/api/apierr"
	"github.com/mcoot/sideline/internal/api/response"
	"github.com/mcoot/sideline/internal/services/backup"
	"github.com/mcoot/sideline/internal/txn"
)

// Transactions lists and cancels in-flight transactions
type Transactions interface {
	Active() []string
	CancelTransaction(id string) error
}

// BackupHandler serves export, import, reset and transaction control
type BackupHandler struct {
	backups *backup.Service
	txns    Transactions
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(backups *backup.Service, txns Transactions) *BackupHandler {
	return &BackupHandler{backups: backups, txns: txns}
}

// Export handles GET /api/v1/backup
func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	doc, err := h.backups.Export(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="sideline-backup.json"`)
	response.JSON(w, http.StatusOK, doc)
}

// Import handles POST /api/v1/backup
func (h *BackupHandler) Import(w http.ResponseWriter, r *http.Request) {
	var doc backup.Backup
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		WriteError(w, NewInvalidRequestError("invalid backup document"))
		return
	}
	h.transaction(w, func() (txn.Result, error) { return h.backups.Import(r.Context(), &doc) })
}

// Reset handles POST /api/v1/reset
func (h *BackupHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.transaction(w, func() (txn.Result, error) { return h.backups.Reset(r.Context()) })
}

func (h *BackupHandler) transaction(w http.ResponseWriter, run func() (txn.Result, error)) {
	result, err := run()
	if err != nil {
		WriteError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Succeeded() {
		status = apierr.Status(result.Err)
	}
	response.JSON(w, status, response.TransactionFromResult(result))
}

// ActiveTransactions handles GET /api/v1/transactions
func (h *BackupHandler) ActiveTransactions(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, response.ActiveTransactions{Active: h.txns.Active()})
}

// CancelTransaction handles DELETE /api/v1/transactions/{id}
func (h *BackupHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.txns.CancelTransaction(mux.Vars(r)["id"]); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}

var _ Transactions = (*txn.Manager)(nil)
