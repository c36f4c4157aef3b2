package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"

	"tutor/app/agent"
	"tutor/app/api"
	"tutor/app/chat"
	"tutor/app/middleware"
	"tutor/config"
	"tutor/loader/service"
	"tutor/model"
	"tutor/store"
)

var fiberConfig = fiber.Config{
	ErrorHandler: api.ErrorHandler,
}

// AppDeps are the services the HTTP routes are built on.
type AppDeps struct {
	Assistants store.AssistantStorer
	Chat       api.ChatService
	Digester   api.Digester
	SourceDir  string
	JWTSecret  string
}

// NewApp registers every route on a new fiber app.
func NewApp(d AppDeps) *fiber.App {
	var (
		app              = fiber.New(fiberConfig)
		checkHandler     = api.NewCheckHandler()
		assistantHandler = api.NewAssistantHandler(d.Assistants)
		digestHandler    = api.NewDigestHandler(d.Assistants, d.Digester)
		fileHandler      = api.NewFileHandler(d.Assistants, d.SourceDir)
		chatHandler      = api.NewChatHandler(d.Chat)
		check            = app.Group("/check")
		apiv1            = app.Group("/api/v1", middleware.JWTAuth(d.JWTSecret))
		owner            = middleware.RequireRole(middleware.RoleOwner)
		user             = middleware.RequireRole(middleware.RoleUser, middleware.RoleOwner)
	)

	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1.Post("/assistants", owner, assistantHandler.HandleCreate)
	apiv1.Get("/assistants", owner, assistantHandler.HandleList)
	apiv1.Get("/assistants/:id", owner, assistantHandler.HandleGet)
	apiv1.Patch("/assistants/:id", owner, assistantHandler.HandleUpdate)
	apiv1.Post("/assistants/:id/users", owner, assistantHandler.HandleAddUser)
	apiv1.Delete("/assistants/:id/users/:userID", owner, assistantHandler.HandleRemoveUser)
	apiv1.Post("/assistants/:id/upload", owner, fileHandler.HandleUpload)
	apiv1.Post("/digest", owner, digestHandler.HandleDigest)

	apiv1.Get("/me/assistants", user, assistantHandler.HandleListForUser)
	apiv1.Post("/chat", user, chatHandler.HandleChat)
	apiv1.Get("/conversations", user, chatHandler.HandleListConversations)
	apiv1.Get("/conversations/:id", user, chatHandler.HandleGetConversation)

	return app
}

type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	mu  sync.Mutex
	app *fiber.App
	db  store.DBStorer
}

func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Stop shuts the listener down and closes the database.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.app != nil {
		if err := s.app.Shutdown(); err != nil {
			s.logger.Error("error to shut down http server", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("error closing database", "error", err)
		}
	}
	s.logger.Info("server stopped")
}

// Run opens the storage backend and serves until Stop.
func (s *Server) Run() error {
	app, err := s.open(context.Background())
	if err != nil {
		return err
	}
	s.logger.Info("server listening", "addr", s.cfg.App.ServerAddr, "store", s.cfg.App.StoreBackend)
	if err := app.Listen(s.cfg.App.ServerAddr); err != nil {
		s.logger.Error("error to start server", "error", err)
		return err
	}
	return nil
}

func (s *Server) open(ctx context.Context) (*fiber.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, index, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}
	s.db = db

	assistants := store.NewCachedAssistants(db, s.cfg.App.CacheTTL)

	pipeline, err := service.NewPipelineFromConfig(s.cfg, assistants, index, s.logger)
	if err != nil {
		return nil, err
	}

	llm := model.NewOllamaLLM(s.cfg.AI.LLMURL, s.cfg.AI.LLMModel, s.cfg.AI.Timeout)
	engine := chat.NewEngine(chat.EngineDeps{
		Metadata:  agent.NewMetadataExtractor(llm, s.cfg.AI.RepairAttempts, s.logger),
		Embedder:  model.NewLoggingEmbedder(model.NewOllamaEmbedder(s.cfg.AI.EmbeddingURL, s.cfg.AI.EmbeddingModel, s.cfg.AI.Timeout), s.logger),
		Index:     index,
		Generator: agent.NewResponder(llm, s.logger),
		Memory:    agent.NewMemory(llm, s.logger),
		Store:     db,
		Logger:    s.logger,
	})

	s.app = NewApp(AppDeps{
		Assistants: assistants,
		Chat:       chat.NewService(assistants, db, engine, s.logger),
		Digester:   pipeline,
		SourceDir:  s.cfg.Loader.SourceDir,
		JWTSecret:  s.cfg.App.JWTSecret,
	})
	return s.app, nil
}

func (s *Server) openStore(ctx context.Context) (store.DBStorer, store.EmbeddingIndex, error) {
	switch s.cfg.App.StoreBackend {
	case "memory":
		s.logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), store.NewMemoryIndex(s.cfg.AI.EmbeddingDim), nil
	case "postgres", "":
		pool, err := store.NewPostgresStore(ctx, s.cfg.Database.DSN(), s.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("error to connect to Postgres database: %w", err)
		}
		if err := pool.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("error to create tables: %w", err)
		}
		index := store.NewPgVectorIndex(pool.Pool(), s.cfg.AI.EmbeddingDim)
		if err := index.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("error to create vector index: %w", err)
		}
		return pool, index, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", s.cfg.App.StoreBackend)
}
