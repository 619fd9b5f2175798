// -----------------------------------------------------------------------
// App - dependency wiring and component lifecycle
// -----------------------------------------------------------------------

package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/argus/internal/client"
	"github.com/ternarybob/argus/internal/common"
	"github.com/ternarybob/argus/internal/engine"
	"github.com/ternarybob/argus/internal/handlers"
	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/plugins"
	"github.com/ternarybob/argus/internal/services/events"
	"github.com/ternarybob/argus/internal/services/maintain"
	badgerstorage "github.com/ternarybob/argus/internal/storage/badger"
	"github.com/ternarybob/argus/internal/ws"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB         *badgerstorage.BadgerDB
	JobStorage interfaces.JobStorage

	EventService interfaces.EventService
	WSManager    *ws.Manager

	// ReconnectPolicy is the backoff schedule embedded subscribers use when
	// dialing this server, built from the [reconnect] config section.
	ReconnectPolicy client.ReconnectPolicy

	Registry *engine.Registry
	Prober   interfaces.UnitProber
	Tracker  *engine.Tracker
	Engine   *engine.Engine

	MaintainService *maintain.Service
	LogRelay        *handlers.LogRelayWriter

	// HTTP handlers
	APIHandler *handlers.APIHandler
	JobHandler *handlers.JobHandler
	WSHandler  *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Storage
	db, err := badgerstorage.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db
	app.JobStorage = badgerstorage.NewJobStorage(db, logger)

	// Event distribution and the real-time delivery layer
	app.EventService = events.NewService(logger)
	app.WSManager = ws.NewManager(cfg.WebSocket.MailboxSize, logger)
	app.ReconnectPolicy = client.PolicyFromConfig(cfg.Reconnect)

	// Plugin registry: built-in plugin plus manifest-declared ones
	app.Registry = engine.NewRegistry(logger)
	if err := plugins.Register(app.Registry); err != nil {
		return nil, fmt.Errorf("failed to register builtin plugin: %w", err)
	}
	if err := app.Registry.LoadManifestDir(cfg.Registry.ManifestDir); err != nil {
		return nil, fmt.Errorf("failed to load plugin manifests: %w", err)
	}

	// Execution pipeline
	app.Prober = engine.NewMetadataProber()
	app.Tracker = engine.NewTracker(app.JobStorage, app.EventService, cfg.Engine.ProgressStep, logger)
	app.Engine = engine.NewEngine(app.Registry, app.JobStorage, app.Tracker, app.EventService, app.Prober, cfg.Engine, logger)

	// HTTP handlers
	app.APIHandler = handlers.NewAPIHandler()
	app.JobHandler = handlers.NewJobHandler(app.Engine, app.JobStorage, logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.WSManager, app.JobStorage, app.EventService, logger, &cfg.WebSocket)

	// Relay warn/error log lines to real-time subscribers
	relay, err := handlers.NewLogRelayWriter(app.WSManager, arbormodels.WriterConfiguration{
		TimeFormat: "15:04:05",
	}, &cfg.WebSocket)
	if err != nil {
		logger.Warn().Err(err).Msg("Log relay disabled")
	} else {
		app.LogRelay = relay
	}

	// Background maintenance
	app.MaintainService = maintain.NewService(db, app.JobStorage, cfg.Maintain, logger)
	if err := app.MaintainService.Start(); err != nil {
		return nil, fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}

	logger.Info().
		Str("storage", "badger").
		Int("plugins", len(app.Registry.Plugins())).
		Msg("Application initialization complete")

	return app, nil
}

// Close shuts down components in dependency order: stop producing work,
// flush progress, then tear down delivery and storage.
func (a *App) Close() error {
	if a.MaintainService != nil {
		a.MaintainService.Stop()
	}

	if a.Engine != nil {
		a.Engine.Close()
		a.Logger.Info().Msg("Engine stopped")
	}

	if a.Tracker != nil {
		a.Tracker.Close()
		a.Logger.Info().Msg("Progress tracker stopped")
	}

	if a.WSManager != nil {
		a.WSManager.Close()
	}

	if a.LogRelay != nil {
		if err := a.LogRelay.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close log relay")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close database")
			return err
		}
		a.Logger.Info().Msg("Database closed")
	}

	return nil
}
