/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sparynx/ledger-service/internal/app"
	"github.com/sparynx/ledger-service/internal/domain"
	"github.com/sparynx/ledger-service/internal/store"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// transferResponse mirrors the completed ledger record sent back to clients
// after a successful transfer.
type transferResponse struct {
	TransferID            string `json:"transfer_id"`
	Reference             string `json:"reference"`
	Status                string `json:"status"`
	Message               string `json:"message"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
	SenderAccountNumber   string `json:"sender_account_number"`
	ReceiverAccountNumber string `json:"receiver_account_number"`
}

// CreateAccountHandler handles requests to open a new ledger account.
func (h *LedgerHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get owner ID from context")
		return
	}

	var req domain.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_account outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	account, err := h.service.CreateAccount(r.Context(), ownerID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_account outcome=failed owner_id=%s err=%v", ownerID, err)
		switch {
		case errors.Is(err, app.ErrInvalidAccountName),
			errors.Is(err, app.ErrInvalidAccountType),
			errors.Is(err, app.ErrUnsupportedCurrency),
			errors.Is(err, app.ErrNegativeBalance):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrAccountNumberTaken):
			h.writeError(w, http.StatusConflict, "Could not allocate a unique account number, please retry")
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	log.Printf("level=info component=api endpoint=create_account outcome=created owner_id=%s account_number=%s", ownerID, account.AccountNumber)
	h.writeJSON(w, http.StatusCreated, account)
}

// ListAccountsHandler handles requests to list the caller's accounts.
func (h *LedgerHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get owner ID from context")
		return
	}

	accounts, err := h.service.GetAccounts(r.Context(), ownerID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_accounts outcome=failed owner_id=%s err=%v", ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, accounts)
}

// GetAccountHandler handles requests to fetch a single account by its number.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get owner ID from context")
		return
	}

	accountNumber := strings.TrimSpace(chi.URLParam(r, "accountNumber"))
	if accountNumber == "" {
		h.writeError(w, http.StatusBadRequest, "Account number is required")
		return
	}

	account, err := h.service.GetAccountByNumber(r.Context(), ownerID, accountNumber)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_account outcome=failed account_number=%s err=%v", accountNumber, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, account)
}

// VerifyAccountHandler resolves an account number to the holder's display
// details so a sender can confirm the recipient before transferring.
func (h *LedgerHandlers) VerifyAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountNumber := strings.TrimSpace(chi.URLParam(r, "accountNumber"))
	if accountNumber == "" {
		h.writeError(w, http.StatusBadRequest, "Account number is required")
		return
	}

	verification, err := h.service.VerifyAccount(r.Context(), accountNumber)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=verify_account outcome=failed account_number=%s err=%v", accountNumber, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, verification)
}

// SetPINHandler handles requests to set the transaction PIN on an account.
// The PIN can only be set once; subsequent attempts are rejected.
func (h *LedgerHandlers) SetPINHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get owner ID from context")
		return
	}

	accountNumber := strings.TrimSpace(chi.URLParam(r, "accountNumber"))
	if accountNumber == "" {
		h.writeError(w, http.StatusBadRequest, "Account number is required")
		return
	}

	var req domain.SetPINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=set_pin outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetTransactionPIN(r.Context(), ownerID, accountNumber, req.PIN); err != nil {
		log.Printf("level=warn component=api endpoint=set_pin outcome=failed account_number=%s err=%v", accountNumber, err)
		switch {
		case errors.Is(err, app.ErrInvalidPINFormat):
			h.writeError(w, http.StatusBadRequest, "Transaction PIN must be exactly 4 digits")
		case errors.Is(err, store.ErrAccountNotFound):
			h.writeError(w, http.StatusNotFound, "Account not found")
		case errors.Is(err, store.ErrPINAlreadySet):
			h.writeError(w, http.StatusConflict, "Transaction PIN is already set")
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Transaction PIN set successfully"})
}

// TransferHandler handles requests to move funds between two accounts.
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get owner ID from context")
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	log.Printf("level=info component=api endpoint=transfer outcome=accepted owner_id=%s sender_account=%s receiver_account=%s amount=%d",
		ownerID, req.SenderAccountNumber, req.ReceiverAccountNumber, req.Amount)

	transfer, err := h.service.Transfer(r.Context(), ownerID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=transfer outcome=failed owner_id=%s err=%v", ownerID, err)
		h.writeTransferError(w, err)
		return
	}

	response := transferResponse{
		TransferID:            transfer.ID.String(),
		Reference:             transfer.Reference,
		Status:                transfer.Status,
		Message:               "Transfer completed",
		Amount:                transfer.Amount,
		Currency:              transfer.Currency,
		SenderAccountNumber:   transfer.SenderAccountNumber,
		ReceiverAccountNumber: transfer.ReceiverAccountNumber,
	}
	h.writeJSON(w, http.StatusCreated, response)
}

// writeTransferError maps transfer failures to their HTTP statuses. The gate
// order in the service guarantees a stable mapping for concurrent failures.
func (h *LedgerHandlers) writeTransferError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrMissingField),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrInvalidCurrency),
		errors.Is(err, app.ErrSelfTransfer),
		errors.Is(err, app.ErrCurrencyMismatch):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidPINFormat):
		h.writeError(w, http.StatusBadRequest, "Transaction PIN must be exactly 4 digits")
	case errors.Is(err, app.ErrPINRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many PIN verification attempts. Please slow down.")
	case errors.Is(err, app.ErrPINLocked):
		h.writeError(w, http.StatusLocked, "Too many incorrect PIN attempts. Please wait and try again.")
	case errors.Is(err, app.ErrInvalidPIN):
		h.writeError(w, http.StatusUnauthorized, "Invalid transaction PIN.")
	case errors.Is(err, store.ErrPINNotSet):
		h.writeError(w, http.StatusPreconditionFailed, "Transaction PIN is not set. Please create your PIN first.")
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, "Insufficient funds")
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// GetTransferHistoryHandler handles requests to list the ledger records in
// which an account participated, newest first.
func (h *LedgerHandlers) GetTransferHistoryHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get owner ID from context")
		return
	}

	accountNumber := strings.TrimSpace(chi.URLParam(r, "accountNumber"))
	if accountNumber == "" {
		h.writeError(w, http.StatusBadRequest, "Account number is required")
		return
	}

	transfers, err := h.service.GetTransferHistory(r.Context(), ownerID, accountNumber)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_history outcome=failed account_number=%s err=%v", accountNumber, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, transfers)
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
