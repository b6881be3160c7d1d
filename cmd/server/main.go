package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"tangent/internal/auth"
	"tangent/internal/cache"
	"tangent/internal/completion"
	"tangent/internal/config"
	"tangent/internal/domain/repositories"
	"tangent/internal/handler"
	"tangent/internal/middleware"
	"tangent/internal/realtime"
	"tangent/internal/repository/memory"
	mongoRepo "tangent/internal/repository/mongo"
	"tangent/internal/repository/postgres"
	branchSvc "tangent/internal/service/branch"
	chatSvc "tangent/internal/service/chat"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Token verifier for the shared HMAC secret
	verifier, err := auth.NewHMACVerifier(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to create token verifier: %v", err)
	}

	ctx := context.Background()

	// Chat directory: postgres, or in-memory for local development
	var directory repositories.ChatDirectory
	if cfg.DatabaseURL != "" {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		logger.Info("database connected",
			"max_conns", 25,
			"min_conns", 5,
		)

		directory = postgres.NewChatDirectory(&postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.TablePrefix),
			Logger: logger,
		})
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory chat directory")
		directory = memory.NewChatDirectory()
	}

	// Conversation store: mongo, or in-memory for local development
	var store repositories.ConversationStore
	if cfg.MongoURL != "" {
		client, err := mongoRepo.Connect(ctx, cfg.MongoURL)
		if err != nil {
			log.Fatalf("Failed to connect to mongo: %v", err)
		}
		defer client.Disconnect(ctx)

		db := client.Database("tangent")
		if err := mongoRepo.EnsureIndexes(ctx, db); err != nil {
			log.Fatalf("Failed to ensure mongo indexes: %v", err)
		}
		logger.Info("conversation store connected")

		store = mongoRepo.NewConversationStore(db, logger)
	} else {
		logger.Warn("MONGO_URL not set, using in-memory conversation store")
		store = memory.NewConversationStore()
	}

	// Chat metadata cache, optional
	var chats *cache.ChatCache
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		chats = cache.NewChatCache(rdb, time.Duration(cfg.CacheExpire)*time.Second, logger)
		logger.Info("chat cache enabled", "ttl_seconds", cfg.CacheExpire)
	}

	// Completion provider
	var provider completion.Provider
	if cfg.GroqAPIKey != "" {
		provider = completion.NewGroqProvider(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel, logger)
	} else {
		logger.Warn("GROQ_API_KEY not set, using echo provider")
		provider = completion.NewEchoProvider()
	}

	// Realtime hub and services
	hub := realtime.NewHub(logger)
	chatService := chatSvc.NewService(directory, store, provider, hub, chats, logger)
	branchService := branchSvc.NewService(directory, store, logger)

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")

	// Handlers
	chatHandler := handler.NewChatHandler(chatService, logger)
	branchHandler := handler.NewBranchHandler(branchService, logger)
	wsHandler := handler.NewWSHandler(chatService, hub, corsOrigins, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Chat routes
	mux.HandleFunc("POST /api/chats", chatHandler.CreateChat)
	mux.HandleFunc("GET /api/chats", chatHandler.ListChats)
	mux.HandleFunc("GET /api/chats/{id}", chatHandler.GetChat)
	mux.HandleFunc("PATCH /api/chats/{id}", chatHandler.RenameChat)
	mux.HandleFunc("DELETE /api/chats/{id}", chatHandler.DeleteChat)

	// Turn routes
	mux.HandleFunc("GET /api/chats/{id}/turns", chatHandler.ListTurns)
	mux.HandleFunc("POST /api/chats/{id}/turns", chatHandler.Ask)
	mux.HandleFunc("GET /api/chats/{id}/turns/search", chatHandler.SearchTurns) // Must come before {turnId} routes
	mux.HandleFunc("POST /api/chats/{id}/turns/{turnId}/complete", chatHandler.CompleteTurn)

	// Branch routes
	mux.HandleFunc("POST /api/chats/{id}/branches", branchHandler.CreateBranch)
	mux.HandleFunc("GET /api/chats/{id}/branches", branchHandler.ListBranches)
	mux.HandleFunc("GET /api/chats/{id}/branches/tree", branchHandler.GetBranchTree)

	// Realtime routes
	mux.HandleFunc("GET /ws/chats/{id}", wsHandler.Serve)

	// Build middleware chain
	var protected http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	protected = middleware.Auth(verifier)(protected)
	protected = middleware.Recovery(logger)(protected)

	// Health check stays outside auth so probes need no token
	root := http.NewServeMux()
	root.HandleFunc("GET /health", handler.HealthCheck)
	root.Handle("/", protected)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler.Handler(root),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived websocket connections
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
