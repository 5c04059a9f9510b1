package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/harborbank/backend/internal/config"
	"github.com/harborbank/backend/internal/database"
	"github.com/harborbank/backend/internal/ledger"
	mW "github.com/harborbank/backend/internal/middleware"
	"github.com/harborbank/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	config.BindEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	serverCfg := config.GetServerConfig()

	db := database.InitDatabase()
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	engine := ledger.NewEngine(db)

	authService := services.NewAuthService(db, redisClient)
	userService := services.NewUserService(db, redisClient, engine)
	transactionService := services.NewTransactionService(db, engine)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(serverCfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/me", authService.GetCurrentUser)

			r.Get("/users/{userId}", userService.GetUserByID)
			r.Get("/users/{userId}/transactions", userService.GetUserTransactions)

			r.Get("/transactions", transactionService.ListTransactions)
			r.Get("/transactions/{txId}", transactionService.GetTransaction)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin(db))

				r.Get("/users", userService.GetAllUsers)
				r.Post("/users", userService.CreateUser)
				r.Put("/users/{userId}", userService.UpdateUser)
				r.Patch("/users/{userId}", userService.UpdateUser)
				r.Delete("/users/{userId}", userService.DeleteUser)

				r.Post("/transactions", transactionService.CreateTransaction)
				r.Put("/transactions/{txId}", transactionService.UpdateTransaction)
				r.Patch("/transactions/{txId}", transactionService.UpdateTransaction)
				r.Delete("/transactions/{txId}", transactionService.DeleteTransaction)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + serverCfg.Port,
		Handler:      r,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
		IdleTimeout:  serverCfg.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", serverCfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
