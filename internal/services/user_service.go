package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/harborbank/backend/internal/ledger"
	"github.com/harborbank/backend/internal/models"
)

const userCacheTTL = 5 * time.Minute

type UserService struct {
	db        *sql.DB
	redis     *redis.Client
	engine    *ledger.Engine
	validator *validator.Validate
}

// CreateUserRequest is the admin-side user creation payload. Unlike
// registration it can seed an opening balance.
type CreateUserRequest struct {
	Name            string `json:"name" validate:"required,min=2"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	Phone           string `json:"phone"`
	Address         string `json:"address"`
	AccountName     string `json:"accountName"`
	AccountType     string `json:"accountType"`
	Role            bool   `json:"role"`
	Balance         string `json:"balance"`
	AvailableCredit string `json:"availableCredit"`
}

// UpdateUserRequest is a partial profile edit; absent fields keep their values.
type UpdateUserRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=2"`
	Email       *string `json:"email" validate:"omitempty,email"`
	Phone       *string `json:"phone"`
	Address     *string `json:"address"`
	AccountName *string `json:"accountName"`
	AccountType *string `json:"accountType"`
	Role        *bool   `json:"role"`
}

func NewUserService(db *sql.DB, redisClient *redis.Client, engine *ledger.Engine) *UserService {
	return &UserService{
		db:        db,
		redis:     redisClient,
		engine:    engine,
		validator: validator.New(),
	}
}

func (s *UserService) sendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	SendErrorResponse(w, message, statusCode, validationErr)
}

const userColumns = "id, name, email, phone, address, account_name, account_type, account_number, role, balance, available_credit, created_at, updated_at"

func scanUser(row *sql.Row, u *models.User) error {
	return row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Address,
		&u.AccountName, &u.AccountType, &u.AccountNumber, &u.Role,
		&u.Balance, &u.AvailableCredit, &u.CreatedAt, &u.UpdatedAt)
}

// GetAllUsers returns one page of users, newest first.
func (s *UserService) GetAllUsers(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	offset := (page - 1) * limit

	rows, err := s.db.Query(
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		log.Printf("[USER] Failed to list users: %v", err)
		s.sendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Address,
			&u.AccountName, &u.AccountType, &u.AccountNumber, &u.Role,
			&u.Balance, &u.AvailableCredit, &u.CreatedAt, &u.UpdatedAt); err != nil {
			log.Printf("[USER] Failed to scan user row: %v", err)
			s.sendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[USER] User rows error: %v", err)
		s.sendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		log.Printf("[USER] Failed to count users: %v", err)
		s.sendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}

	SendPaginatedResponse(w, users, len(users), total, limit, page)
}

// GetUserByID returns a single user, served from the Redis cache when warm.
func (s *UserService) GetUserByID(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		s.sendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	cacheKey := fmt.Sprintf("user:%d", userID)
	if s.redis != nil {
		if cached, err := s.redis.Get(r.Context(), cacheKey).Result(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(cached))
			return
		}
	}

	var user models.User
	err = scanUser(s.db.QueryRow(
		"SELECT "+userColumns+" FROM users WHERE id = $1", userID), &user)
	if err == sql.ErrNoRows {
		s.sendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[USER] Failed to fetch user %d: %v", userID, err)
		s.sendErrorResponse(w, "Failed to fetch user", http.StatusInternalServerError, nil)
		return
	}

	body, err := json.Marshal(user)
	if err != nil {
		s.sendErrorResponse(w, "Failed to fetch user", http.StatusInternalServerError, nil)
		return
	}
	if s.redis != nil {
		if err := s.redis.Set(r.Context(), cacheKey, body, userCacheTTL).Err(); err != nil {
			log.Printf("[USER] Failed to cache user %d: %v", userID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// CreateUser provisions a user with an optional opening balance. Admin only,
// enforced at the router.
func (s *UserService) CreateUser(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateUserRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[USER] Create failed - invalid request: %v", err)
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[USER] Password hashing failed for %s: %v", req.Email, err)
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	if req.AccountName == "" {
		req.AccountName = req.Name
	}
	if req.AccountType == "" {
		req.AccountType = "PERSONAL CHECKING"
	}
	if req.Balance == "" {
		req.Balance = "0"
	}
	if req.AvailableCredit == "" {
		req.AvailableCredit = "0"
	}

	user := models.User{
		Name:          req.Name,
		Email:         strings.ToLower(req.Email),
		Phone:         req.Phone,
		Address:       req.Address,
		AccountName:   req.AccountName,
		AccountType:   req.AccountType,
		AccountNumber: generateAccountNumber(),
		Role:          req.Role,
	}

	err = s.db.QueryRow(
		"INSERT INTO users (name, email, password, phone, address, account_name, account_type, account_number, role, balance, available_credit) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id, balance, available_credit, created_at, updated_at",
		user.Name, user.Email, string(hashedPassword), user.Phone, user.Address,
		user.AccountName, user.AccountType, user.AccountNumber, user.Role,
		req.Balance, req.AvailableCredit).
		Scan(&user.ID, &user.Balance, &user.AvailableCredit, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		log.Printf("[USER] User creation failed for %s: %v", req.Email, err)
		s.sendErrorResponse(w, "Email Already Exists", http.StatusConflict, nil)
		return
	}

	log.Printf("[USER] User created - ID: %d, Email: %s", user.ID, user.Email)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// UpdateUser patches profile fields. Balance is deliberately not editable
// here; it only moves through the transaction ledger.
func (s *UserService) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		s.sendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req UpdateUserRequest
	if err := dec.Decode(&req); err != nil {
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	set := []string{}
	args := []any{}
	add := func(column string, value any) {
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)+1))
		args = append(args, value)
	}
	if req.Name != nil {
		add("name", *req.Name)
	}
	if req.Email != nil {
		add("email", strings.ToLower(*req.Email))
	}
	if req.Phone != nil {
		add("phone", *req.Phone)
	}
	if req.Address != nil {
		add("address", *req.Address)
	}
	if req.AccountName != nil {
		add("account_name", *req.AccountName)
	}
	if req.AccountType != nil {
		add("account_type", *req.AccountType)
	}
	if req.Role != nil {
		add("role", *req.Role)
	}
	if len(set) == 0 {
		s.sendErrorResponse(w, "Nothing to update", http.StatusBadRequest, nil)
		return
	}
	set = append(set, "updated_at = NOW()")
	args = append(args, userID)

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d RETURNING %s",
		strings.Join(set, ", "), len(args), userColumns)

	var user models.User
	err = scanUser(s.db.QueryRow(query, args...), &user)
	if err == sql.ErrNoRows {
		s.sendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[USER] Failed to update user %d: %v", userID, err)
		s.sendErrorResponse(w, "Failed to update user", http.StatusInternalServerError, nil)
		return
	}

	s.invalidateCache(r, userID)

	log.Printf("[USER] User %d updated", userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// DeleteUser removes a user and, through the schema's cascade, their
// transactions.
func (s *UserService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		s.sendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	res, err := s.db.Exec("DELETE FROM users WHERE id = $1", userID)
	if err != nil {
		log.Printf("[USER] Failed to delete user %d: %v", userID, err)
		s.sendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.sendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	s.invalidateCache(r, userID)

	log.Printf("[USER] User %d deleted", userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "User deleted",
	})
}

// GetUserTransactions returns one page of a user's ledger, newest first
// unless sort=asc.
func (s *UserService) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		s.sendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	page, limit := pageParams(r)
	order := "desc"
	if r.URL.Query().Get("sort") == "asc" {
		order = "asc"
	}

	transactions, total, err := s.engine.ListByUser(r.Context(), userID, order, limit, (page-1)*limit)
	if err != nil {
		log.Printf("[USER] Failed to list transactions for user %d: %v", userID, err)
		s.sendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendPaginatedResponse(w, transactions, len(transactions), total, limit, page)
}

func (s *UserService) invalidateCache(r *http.Request, userID int) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(r.Context(), fmt.Sprintf("user:%d", userID)).Err(); err != nil {
		log.Printf("[USER] Failed to invalidate cache for user %d: %v", userID, err)
	}
}
