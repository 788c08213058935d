package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-sync-server/internal/config"
	"collab-sync-server/internal/events"
	"collab-sync-server/internal/handler"
	"collab-sync-server/internal/middleware"
	"collab-sync-server/internal/repository"
	"collab-sync-server/internal/service"
	"collab-sync-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	exists, err := client.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}

	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	sessionRepo := repository.NewSessionRepository(client, cfg.Database.Name)
	operationRepo := repository.NewOperationRepository(client, cfg.Database.Name)
	settingsRepo := repository.NewSettingsRepository(client, cfg.Database.Name)

	baseURL := fmt.Sprintf("%s/%s", couchURL, cfg.Database.Name)
	syncEventRepo := repository.NewSyncEventRepository(baseURL)
	conflictRepo := repository.NewConflictRepository(baseURL)

	gateway := events.NewGateway()

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerSession,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	go wsManager.Run()

	sessionService := service.NewSessionService(sessionRepo, gateway)
	operationService := service.NewOperationService(operationRepo, sessionService, gateway)
	conflictService := service.NewConflictService(conflictRepo, settingsRepo, syncEventRepo, gateway)

	handler.BindBroadcast(gateway, wsManager, sessionService)

	// A dropped connection is a leave: the participant goes offline but
	// keeps its last-seen history.
	wsManager.SetDisconnectHandler(func(c *websocket.Client) {
		if err := sessionService.Leave(c.ActorID, c.SessionID); err != nil {
			log.Printf("[WebSocket] leave on disconnect failed for %s: %v", c.ActorID, err)
		}
	})

	wsMessageHandler := handler.NewWebSocketMessageHandler(operationService, sessionService)
	wsManager.SetMessageHandler(wsMessageHandler)

	sweeper := service.NewPresenceSweeper(
		sessionService,
		cfg.Presence.SweepInterval,
		cfg.Presence.AwayTimeout,
		cfg.Presence.SessionRetention,
	)
	go sweeper.Run()

	sessionHandler := handler.NewSessionHandler(sessionService)
	operationHandler := handler.NewOperationHandler(operationService)
	settingsHandler := handler.NewSettingsHandler(conflictService)
	wsHandler := handler.NewWebSocketHandler(wsManager, sessionService, cfg.JWT.Secret)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/sessions", sessionHandler.Create).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions", sessionHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/join", sessionHandler.Join).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/leave", sessionHandler.Leave).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/close", sessionHandler.Close).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/presence", sessionHandler.UpdatePresence).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/status", sessionHandler.SetStatus).Methods("PUT", "OPTIONS")

	protected.HandleFunc("/sessions/{id}/operations", operationHandler.Append).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/operations", operationHandler.Since).Methods("GET", "OPTIONS")
	protected.HandleFunc("/operations/{id}/ack", operationHandler.Acknowledge).Methods("POST", "OPTIONS")
	protected.HandleFunc("/operations/{id}/wait-acks", operationHandler.WaitForAcks).Methods("POST", "OPTIONS")

	protected.HandleFunc("/settings/propose", settingsHandler.Propose).Methods("POST", "OPTIONS")
	protected.HandleFunc("/settings/conflicts", settingsHandler.ListConflicts).Methods("GET", "OPTIONS")
	protected.HandleFunc("/settings/conflicts/{id}", settingsHandler.GetConflict).Methods("GET", "OPTIONS")
	protected.HandleFunc("/settings/conflicts/{id}/resolve", settingsHandler.Resolve).Methods("POST", "OPTIONS")
	protected.HandleFunc("/settings/events", settingsHandler.History).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting Collab Sync Server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	sweeper.Stop()
	gateway.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"collab-sync-server"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"Collab Sync Server API","version":"1.0.0","endpoints":{"/api/v1/sessions":"POST (protected)","/api/v1/settings/propose":"POST (protected)","/ws":"WebSocket"}}`))
}
