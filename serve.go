package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chat-sync/internal/backend"
	"chat-sync/internal/chatsync"
	"chat-sync/internal/config"
	"chat-sync/internal/handlers"
	"chat-sync/internal/logger"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/tracing"
	"chat-sync/internal/ws"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync bridge HTTP and websocket server",
		RunE:  runServe,
	}
}

type app struct {
	cfg      *config.Config
	api      backend.API
	inbox    *chatsync.Inbox
	sessions *chatsync.Sessions
	hub      *ws.Hub
	audit    *telemetry.AuditEmitter
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Service.Name, cfg.Service.Environment, cfg.OTel.Endpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	if cfg.Backend.Username != "" {
		if err := client.Login(ctx, cfg.Backend.Username, cfg.Backend.Password); err != nil {
			return errors.Wrap(err, "backend login")
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)

	inbox := chatsync.NewInbox(client, cfg.Poll.InboxInterval)
	sessions := chatsync.NewSessions(client, inbox, chatsync.ThreadOptions{
		MinInterval: cfg.Poll.ThreadMinInterval,
		MaxInterval: cfg.Poll.ThreadMaxInterval,
	})
	hub := ws.NewHub()
	hub.Attach(inbox, sessions)

	a := &app{
		cfg:      cfg,
		api:      client,
		inbox:    inbox,
		sessions: sessions,
		hub:      hub,
		audit:    telemetry.NewAuditEmitter(publisher, "audit.chat_sync", cfg.Service.Name, cfg.Service.Environment),
	}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("bridge listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		inbox.Stop()
		sessions.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *app) router() *gin.Engine {
	if !a.cfg.Debug.Enabled {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(a.cfg.Service.Name))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	inboxHandler := handlers.NewInboxHandler(a.inbox, a.audit)
	threadHandler := handlers.NewThreadHandler(a.sessions, a.audit)
	userHandler := handlers.NewUserHandler(a.api)
	inboxWS := ws.NewInboxWebSocketHandler(a.hub, a.inbox, a.cfg.Search.Debounce)
	threadWS := ws.NewThreadWebSocketHandler(a.hub, a.sessions)

	api := router.Group("/", middleware.BridgeAuth(a.cfg.HTTP.BridgeToken))
	api.GET("/chats", inboxHandler.ListConversations)
	api.GET("/chats/search", inboxHandler.Search)
	api.POST("/chats/focus", inboxHandler.Focus)
	api.POST("/chats/blur", inboxHandler.Blur)
	api.POST("/chats/refresh", inboxHandler.Refresh)
	api.POST("/chats/:thread_id/seen", inboxHandler.MarkSeen)
	api.DELETE("/chats/:thread_id", inboxHandler.DeleteThread)
	api.POST("/chats/:thread_id/open", threadHandler.OpenThread)
	api.DELETE("/chats/:thread_id/open", threadHandler.CloseThread)
	api.GET("/chats/:thread_id/messages", threadHandler.GetMessages)
	api.POST("/chats/:thread_id/messages", threadHandler.SendMessage)
	api.POST("/chats/:thread_id/messages/older", threadHandler.LoadOlder)
	api.GET("/users/search", userHandler.SearchUsers)

	api.GET("/ws/chats", inboxWS.Handle)
	api.GET("/ws/chats/:thread_id", threadWS.Handle)

	handlers.RegisterDebugRoutes(api, a.audit, a.cfg.Debug.Enabled)
	return router
}
