package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/arush/chatcore/pkg/auth"
	"github.com/arush/chatcore/pkg/config"
	"github.com/arush/chatcore/pkg/gateway"
	"github.com/arush/chatcore/pkg/logger"
	"github.com/arush/chatcore/pkg/presence"
	"github.com/arush/chatcore/pkg/queue"
	"github.com/arush/chatcore/pkg/snowflake"
	"github.com/arush/chatcore/pkg/store"
	"github.com/arush/chatcore/pkg/workers"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Node id should come from service discovery when running more than one
	// instance; a single node is fine with a constant.
	ids, err := snowflake.NewGenerator(1)
	if err != nil {
		logger.Log.Error("snowflake init failed", "err", err)
		return
	}

	st := store.Open(cfg)
	defer st.Close()
	reg := presence.Open(cfg)
	defer reg.Close()

	broker := queue.OpenBroker(cfg)
	defer broker.Close()
	dispatcher := queue.NewDispatcher(broker)
	for _, qc := range workers.DefaultQueues() {
		dispatcher.Register(qc)
	}

	emailClient := workers.NewEmailClient(cfg.EmailServiceURL)
	notifyClient := workers.NewNotificationClient(cfg.NotificationServiceURL)
	var firehose workers.Firehose
	if fh := workers.NewFirehose(cfg.KafkaBrokers, cfg.KafkaTopic); fh != nil {
		firehose = fh
		defer fh.Close()
	}

	pool := []*queue.Worker{
		queue.NewWorker("email", workers.EmailQueue, dispatcher, workers.EmailHandler(emailClient), cfg.WorkerPollInterval),
		queue.NewWorker("notification", workers.NotificationQueue, dispatcher, workers.NotificationHandler(notifyClient), cfg.WorkerPollInterval),
		queue.NewWorker("analytics", workers.AnalyticsQueue, dispatcher, workers.AnalyticsHandler(firehose), cfg.WorkerPollInterval),
	}
	for _, wk := range pool {
		go wk.Run(ctx)
	}

	hub := gateway.NewHub()
	authenticator := auth.New(cfg.JWTSecret)
	coordinator := gateway.NewCoordinator(hub, st, reg, authenticator, dispatcher, ids, cfg)

	a := &api{
		cfg:      cfg,
		auth:     authenticator,
		store:    st,
		presence: reg,
		jobs:     dispatcher,
		workers:  pool,
	}

	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/ws", coordinator.ServeWS)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(a.authMiddleware)
	protected.HandleFunc("/rooms/{identity}", a.handleListRooms).Methods(http.MethodGet)
	protected.HandleFunc("/rooms", a.handleCreateRoom).Methods(http.MethodPost)
	protected.HandleFunc("/messages/{room}", a.handleHistory).Methods(http.MethodGet)
	protected.HandleFunc("/messages/{room}/read", a.handleMarkRead).Methods(http.MethodPut)
	protected.HandleFunc("/messages/{room}/{id}/reactions", a.handleAddReaction).Methods(http.MethodPost)
	protected.HandleFunc("/messages/{room}/{id}/reactions", a.handleRemoveReaction).Methods(http.MethodDelete)
	protected.HandleFunc("/search", a.handleSearch).Methods(http.MethodGet)
	protected.HandleFunc("/presence", a.handlePresenceUpdate).Methods(http.MethodPost)
	protected.HandleFunc("/queue/process", a.handleQueueProcess).Methods(http.MethodPost)
	protected.HandleFunc("/queue/stats", a.handleQueueStats).Methods(http.MethodGet)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Log.Info("chatcore server starting",
		"addr", cfg.HTTPAddr, "store", st.Kind(), "presence", reg.Kind(), "queue", broker.Kind())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log.Error("server exited", "err", err)
	}
}
