package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/harborbank/backend/internal/ledger"
	"github.com/harborbank/backend/internal/models"
)

type TransactionService struct {
	db        *sql.DB
	engine    *ledger.Engine
	validator *validator.Validate
}

// CreateTransactionRequest represents a new ledger entry. Amount is raw JSON
// so clients may send it as a number or a string; the ledger engine owns its
// validation either way.
type CreateTransactionRequest struct {
	Email       string          `json:"email" validate:"required,email"`
	Description string          `json:"description" validate:"required"`
	Amount      json.RawMessage `json:"amount" validate:"required"`
	Type        string          `json:"type" validate:"required"`
	Date        string          `json:"date"`
	IsPending   bool            `json:"isPending"`
}

// UpdateTransactionRequest is a partial edit; absent fields keep their values.
type UpdateTransactionRequest struct {
	Description *string          `json:"description"`
	Amount      *json.RawMessage `json:"amount"`
	Type        *string          `json:"type"`
	Date        *string          `json:"date"`
	IsPending   *bool            `json:"isPending"`
}

// CreateTransactionResponse returns the stored row plus the account balance
// after the ledger pass.
type CreateTransactionResponse struct {
	Status      string              `json:"status"`
	Transaction *models.Transaction `json:"transaction"`
	NewBalance  decimal.Decimal     `json:"newBalance"`
}

func NewTransactionService(db *sql.DB, engine *ledger.Engine) *TransactionService {
	return &TransactionService{
		db:        db,
		engine:    engine,
		validator: validator.New(),
	}
}

func (s *TransactionService) sendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	SendErrorResponse(w, message, statusCode, validationErr)
}

func (s *TransactionService) sendLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		s.sendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrTransactionNotFound):
		s.sendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrInvalidAmount):
		s.sendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrInvalidTransactionType):
		s.sendErrorResponse(w, "Invalid transaction type", http.StatusBadRequest, nil)
	default:
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

// ListTransactions returns one page of all transactions with their owning
// user joined in, newest first unless sort=asc.
func (s *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	offset := (page - 1) * limit

	dir := "DESC"
	if r.URL.Query().Get("sort") == "asc" {
		dir = "ASC"
	}

	rows, err := s.db.Query(
		`SELECT t.id, t.user_id, t.description, t.amount, t.type, t.date, t.updated_balance, t.is_pending, t.created_at,
		        u.name, u.account_name, u.account_number
		 FROM transactions t
		 JOIN users u ON u.id = t.user_id
		 ORDER BY t.date `+dir+`, t.created_at `+dir+`, t.id `+dir+`
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		log.Printf("[TXN] Failed to list transactions: %v", err)
		s.sendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		owner := &models.UserSummary{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &t.Amount, &t.Type, &t.Date,
			&t.UpdatedBalance, &t.IsPending, &t.CreatedAt,
			&owner.Name, &owner.AccountName, &owner.AccountNumber); err != nil {
			log.Printf("[TXN] Failed to scan transaction row: %v", err)
			s.sendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		owner.ID = t.UserID
		t.User = owner
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[TXN] Transaction rows error: %v", err)
		s.sendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&total); err != nil {
		log.Printf("[TXN] Failed to count transactions: %v", err)
		s.sendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendPaginatedResponse(w, transactions, len(transactions), total, limit, page)
}

// GetTransaction returns a single transaction by id.
func (s *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "txId")

	t, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.sendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

// CreateTransaction records a new transaction against the account resolved by
// email and returns the row plus the recomputed balance.
func (s *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateTransactionRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[TXN] Create failed - invalid request: %v", err)
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[TXN] Multiple JSON objects detected")
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		log.Printf("[TXN] Create validation failed: %v", err)
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		s.sendErrorResponse(w, "Invalid date", http.StatusBadRequest, nil)
		return
	}

	row, balance, err := s.engine.Create(r.Context(), ledger.CreateParams{
		Email:       req.Email,
		Description: req.Description,
		Amount:      rawAmount(req.Amount),
		Type:        req.Type,
		Date:        date,
		IsPending:   req.IsPending,
	})
	if err != nil {
		log.Printf("[TXN] Create failed for %s: %v", req.Email, err)
		s.sendLedgerError(w, err)
		return
	}

	log.Printf("[TXN] Transaction %s created for user %d, balance %s", row.ID, row.UserID, balance)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateTransactionResponse{
		Status:      "success",
		Transaction: row,
		NewBalance:  balance,
	})
}

// UpdateTransaction patches a transaction and triggers a full ledger
// recompute for its account.
func (s *TransactionService) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "txId")

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req UpdateTransactionRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[TXN] Update failed - invalid request: %v", err)
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[TXN] Multiple JSON objects detected")
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	patch := ledger.Patch{
		Description: req.Description,
		Type:        req.Type,
		IsPending:   req.IsPending,
	}
	if req.Amount != nil {
		amount := rawAmount(*req.Amount)
		patch.Amount = &amount
	}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			s.sendErrorResponse(w, "Invalid date", http.StatusBadRequest, nil)
			return
		}
		patch.Date = &date
	}

	balance, err := s.engine.Update(r.Context(), id, patch)
	if err != nil {
		log.Printf("[TXN] Update failed for %s: %v", id, err)
		s.sendLedgerError(w, err)
		return
	}

	log.Printf("[TXN] Transaction %s updated, balance %s", id, balance)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":     "success",
		"newBalance": balance,
	})
}

// DeleteTransaction removes a transaction and reverses its balance effect.
func (s *TransactionService) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "txId")

	if err := s.engine.Delete(r.Context(), id); err != nil {
		log.Printf("[TXN] Delete failed for %s: %v", id, err)
		s.sendLedgerError(w, err)
		return
	}

	log.Printf("[TXN] Transaction %s deleted", id)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "Transaction deleted",
	})
}

// rawAmount normalizes a JSON amount that may arrive as a number or a quoted
// string into the raw string the ledger engine validates.
func rawAmount(raw json.RawMessage) string {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// parseDate accepts RFC 3339 timestamps or bare YYYY-MM-DD dates. An empty
// string is valid and means "now", decided downstream.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
