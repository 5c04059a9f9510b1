package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/harborbank/backend/internal/ledger"
)

var listColumns = []string{
	"id", "user_id", "description", "amount", "type", "date",
	"updated_balance", "is_pending", "created_at",
	"name", "account_name", "account_number",
}

func newTransactionService(t *testing.T) (*TransactionService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewTransactionService(db, ledger.NewEngine(db)), mock
}

func TestTransactionService_CreateTransaction(t *testing.T) {
	service, mock := newTransactionService(t)

	t.Run("successful transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance FROM users WHERE email = \\$1 FOR UPDATE").
			WithArgs("jane@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow(1, "1000.00"))
		mock.ExpectQuery("FROM transactions WHERE user_id = \\$1 ORDER BY date ASC").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(listColumns[:9]))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), 1, "Direct Deposit", "500", "credit",
				sqlmock.AnyArg(), "1500", false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE users SET balance = \\$1, updated_at = NOW\\(\\) WHERE id = \\$2").
			WithArgs("1500", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		body := []byte(`{"email":"jane@example.com","description":"Direct Deposit","amount":500,"type":"credit","date":"2024-01-01"}`)
		r := httptest.NewRequest("POST", "/api/transactions", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateTransaction(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response struct {
			Status     string `json:"status"`
			NewBalance string `json:"newBalance"`
			Transaction struct {
				UpdatedBalance string `json:"updatedBalance"`
			} `json:"transaction"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "success", response.Status)
		assert.Equal(t, "1500", response.NewBalance)
		assert.Equal(t, "1500", response.Transaction.UpdatedBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("amount accepted as a quoted string", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance FROM users WHERE email = \\$1 FOR UPDATE").
			WithArgs("jane@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow(1, "1500.00"))
		mock.ExpectQuery("FROM transactions WHERE user_id = \\$1 ORDER BY date ASC").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(listColumns[:9]))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), 1, "Vendor Payment", "200", "debit",
				sqlmock.AnyArg(), "1300", false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE users SET balance = \\$1, updated_at = NOW\\(\\) WHERE id = \\$2").
			WithArgs("1300", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		body := []byte(`{"email":"jane@example.com","description":"Vendor Payment","amount":"200.00","type":"debit"}`)
		r := httptest.NewRequest("POST", "/api/transactions", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateTransaction(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown transaction type", func(t *testing.T) {
		body := []byte(`{"email":"jane@example.com","description":"x","amount":10,"type":"bogus"}`)
		r := httptest.NewRequest("POST", "/api/transactions", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateTransaction(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unparseable amount", func(t *testing.T) {
		body := []byte(`{"email":"jane@example.com","description":"x","amount":"ten dollars","type":"credit"}`)
		r := httptest.NewRequest("POST", "/api/transactions", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateTransaction(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance FROM users WHERE email = \\$1 FOR UPDATE").
			WithArgs("ghost@example.com").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		body := []byte(`{"email":"ghost@example.com","description":"x","amount":10,"type":"credit"}`)
		r := httptest.NewRequest("POST", "/api/transactions", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateTransaction(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/transactions", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()

		service.CreateTransaction(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTransactionService_UpdateTransaction(t *testing.T) {
	service, mock := newTransactionService(t)

	t.Run("amount edit shifts downstream snapshots", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id FROM transactions WHERE id = \\$1").
			WithArgs("a").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(1))
		mock.ExpectQuery("SELECT balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("1300.00"))
		mock.ExpectQuery("FROM transactions WHERE user_id = \\$1 ORDER BY date ASC").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(listColumns[:9]).
				AddRow("a", 1, "Customer Payment", "500.00", "credit",
					time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "1500.00", false,
					time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)).
				AddRow("b", 1, "Vendor Payment", "200.00", "debit",
					time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "1300.00", false,
					time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
		mock.ExpectExec("UPDATE transactions SET description = .+ WHERE id = \\$7").
			WithArgs("Customer Payment", "300", "credit", sqlmock.AnyArg(), false, "1300", "a").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE transactions SET updated_balance = \\$1 WHERE id = \\$2").
			WithArgs("1100", "b").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE users SET balance = \\$1, updated_at = NOW\\(\\) WHERE id = \\$2").
			WithArgs("1100", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		router := chi.NewRouter()
		router.Put("/api/transactions/{txId}", service.UpdateTransaction)

		body := []byte(`{"amount":"300.00"}`)
		req := httptest.NewRequest("PUT", "/api/transactions/a", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Status     string `json:"status"`
			NewBalance string `json:"newBalance"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "success", response.Status)
		assert.Equal(t, "1100", response.NewBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transaction not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id FROM transactions WHERE id = \\$1").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		router := chi.NewRouter()
		router.Put("/api/transactions/{txId}", service.UpdateTransaction)

		req := httptest.NewRequest("PUT", "/api/transactions/missing", bytes.NewBuffer([]byte(`{"description":"x"}`)))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid date", func(t *testing.T) {
		router := chi.NewRouter()
		router.Put("/api/transactions/{txId}", service.UpdateTransaction)

		req := httptest.NewRequest("PUT", "/api/transactions/a", bytes.NewBuffer([]byte(`{"date":"tomorrow"}`)))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTransactionService_DeleteTransaction(t *testing.T) {
	service, mock := newTransactionService(t)

	t.Run("reverses the deleted row's effect", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id FROM transactions WHERE id = \\$1").
			WithArgs("b").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(1))
		mock.ExpectQuery("SELECT balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("1100.00"))
		mock.ExpectQuery("FROM transactions WHERE user_id = \\$1 ORDER BY date ASC").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(listColumns[:9]).
				AddRow("a", 1, "Customer Payment", "300.00", "credit",
					time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "1300.00", false,
					time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)).
				AddRow("b", 1, "Vendor Payment", "200.00", "debit",
					time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "1100.00", false,
					time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
		mock.ExpectExec("DELETE FROM transactions WHERE id = \\$1").
			WithArgs("b").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE users SET balance = \\$1, updated_at = NOW\\(\\) WHERE id = \\$2").
			WithArgs("1300", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		router := chi.NewRouter()
		router.Delete("/api/transactions/{txId}", service.DeleteTransaction)

		req := httptest.NewRequest("DELETE", "/api/transactions/b", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transaction not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id FROM transactions WHERE id = \\$1").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		router := chi.NewRouter()
		router.Delete("/api/transactions/{txId}", service.DeleteTransaction)

		req := httptest.NewRequest("DELETE", "/api/transactions/missing", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionService_GetTransaction(t *testing.T) {
	service, mock := newTransactionService(t)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("FROM transactions WHERE id = \\$1").
			WithArgs("a").
			WillReturnRows(sqlmock.NewRows(listColumns[:9]).
				AddRow("a", 1, "Refund", "25.00", "refund",
					time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), "1025.00", false,
					time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)))

		router := chi.NewRouter()
		router.Get("/api/transactions/{txId}", service.GetTransaction)

		req := httptest.NewRequest("GET", "/api/transactions/a", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var tx struct {
			Type           string `json:"type"`
			UpdatedBalance string `json:"updatedBalance"`
		}
		json.Unmarshal(w.Body.Bytes(), &tx)
		assert.Equal(t, "refund", tx.Type)
		assert.Equal(t, "1025", tx.UpdatedBalance)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("FROM transactions WHERE id = \\$1").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		router := chi.NewRouter()
		router.Get("/api/transactions/{txId}", service.GetTransaction)

		req := httptest.NewRequest("GET", "/api/transactions/missing", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTransactionService_ListTransactions(t *testing.T) {
	service, mock := newTransactionService(t)

	t.Run("paginated list with joined owners", func(t *testing.T) {
		mock.ExpectQuery("FROM transactions t JOIN users u ON u.id = t.user_id ORDER BY t.date DESC").
			WithArgs(10, 0).
			WillReturnRows(sqlmock.NewRows(listColumns).
				AddRow("b", 1, "Vendor Payment", "200.00", "debit",
					time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "1300.00", false,
					time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
					"Jane Doe", "Jane Doe", "1234567890").
				AddRow("a", 1, "Customer Payment", "500.00", "credit",
					time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "1500.00", false,
					time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
					"Jane Doe", "Jane Doe", "1234567890"))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM transactions").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))

		r := httptest.NewRequest("GET", "/api/transactions", nil)
		w := httptest.NewRecorder()

		service.ListTransactions(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Status      string `json:"status"`
			Results     int    `json:"results"`
			TotalPages  int    `json:"totalPages"`
			CurrentPage int    `json:"currentPage"`
			Data        []struct {
				ID   string `json:"id"`
				User struct {
					Name string `json:"name"`
				} `json:"user"`
			} `json:"data"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "success", response.Status)
		assert.Equal(t, 2, response.Results)
		assert.Equal(t, 3, response.TotalPages)
		assert.Equal(t, 1, response.CurrentPage)
		assert.Equal(t, "b", response.Data[0].ID)
		assert.Equal(t, "Jane Doe", response.Data[0].User.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ascending sort honors the query parameter", func(t *testing.T) {
		mock.ExpectQuery("FROM transactions t JOIN users u ON u.id = t.user_id ORDER BY t.date ASC").
			WithArgs(5, 5).
			WillReturnRows(sqlmock.NewRows(listColumns))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM transactions").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

		r := httptest.NewRequest("GET", "/api/transactions?sort=asc&page=2&limit=5", nil)
		w := httptest.NewRecorder()

		service.ListTransactions(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
