package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/config"
	"github.com/bobmcallan/vire-openapi-mcp/internal/handlers"
	"github.com/bobmcallan/vire-openapi-mcp/internal/interfaces"
	"github.com/bobmcallan/vire-openapi-mcp/internal/mcp"
	"github.com/bobmcallan/vire-openapi-mcp/internal/openapi"
	"github.com/bobmcallan/vire-openapi-mcp/internal/storage"
	"github.com/bobmcallan/vire-openapi-mcp/internal/tools"
)

// App holds all application components and dependencies.
type App struct {
	Config *config.Config
	Logger *common.Logger

	Document *openapi.Document
	APIURL   string
	Store    interfaces.ActiveSetStore
	Registry *tools.Registry
	Metrics  *mcp.Metrics

	// HTTP handlers
	HealthHandler  *handlers.HealthHandler
	VersionHandler *handlers.VersionHandler
	StatusHandler  *handlers.StatusHandler
	ToolsHandler   *handlers.ToolsHandler
	MCPHandler     *mcp.Handler
}

// New initializes the application with all dependencies. A specification
// that cannot be loaded is not fatal: the server starts with the management
// tool only. A storage backend that cannot be opened falls back to the file
// store; only an unknown backend name fails.
func New(ctx context.Context, cfg *config.Config, logger *common.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	store, err := storage.OpenActiveSetStore(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open active set store: %w", err)
	}
	a.Store = store

	descriptors := a.loadTools(ctx)
	a.APIURL = apiBaseURL(cfg, a.Document)
	if a.APIURL == "" && len(descriptors) > 0 {
		logger.Warn().Msg("No API base URL configured or declared by the document, tool calls will fail")
	}

	proxy := mcp.NewAPIProxy(a.APIURL, logger, &cfg.API)
	compiler := tools.NewCompiler(proxy, tools.WithArgumentValidation(cfg.MCP.ValidateArguments))

	manageName := cfg.MCP.ManageToolName
	if manageName == "" {
		manageName = mcp.DefaultManageToolName
	}
	a.Registry = tools.NewRegistry(descriptors, compiler, store, logger, tools.WithReservedNames(manageName))
	if err := a.Registry.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore active resource groups, starting with none")
	}

	a.Metrics = mcp.NewMetrics()
	a.initHandlers()

	logger.Info().
		Int("tools", len(descriptors)).
		Str("api_url", a.APIURL).
		Msg("application initialization complete")

	return a, nil
}

// loadTools fetches the document and derives the tool descriptors. Any
// failure is logged and yields no descriptors.
func (a *App) loadTools(ctx context.Context) []*openapi.ToolDescriptor {
	spec := a.Config.Spec
	if spec.URL == "" && spec.IndexURL == "" {
		a.Logger.Warn().Msg("No specification source configured, serving the management tool only")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, spec.GetTimeout())
	defer cancel()

	loader := openapi.NewLoader(a.Logger, openapi.WithMaxPages(spec.MaxPages))

	var (
		doc *openapi.Document
		err error
	)
	if spec.URL != "" {
		doc, err = loader.Load(ctx, spec.URL)
	} else {
		doc, err = loader.LoadFromIndex(ctx, spec.IndexURL, spec.Service)
	}
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Specification unavailable, serving the management tool only")
		return nil
	}
	a.Document = doc

	ops := openapi.BuildOperations(doc.Resolver(), a.Logger)
	descriptors := openapi.BuildTools(ops, spec.Resources)

	a.Logger.Info().
		Str("source", doc.Source).
		Int("operations", len(ops)).
		Int("tools", len(descriptors)).
		Msg("Tool descriptors built")

	return descriptors
}

// initHandlers initializes all HTTP handlers.
func (a *App) initHandlers() {
	a.HealthHandler = handlers.NewHealthHandler(a.Logger)
	a.VersionHandler = handlers.NewVersionHandler(a.Logger)
	a.ToolsHandler = handlers.NewToolsHandler(a.Logger, a.Registry)

	source := ""
	if a.Document != nil {
		source = a.Document.Source
	}
	a.StatusHandler = handlers.NewStatusHandler(a.Logger, source, a.Document != nil, a.APIURL)

	a.MCPHandler = mcp.NewHandler(a.Config, a.Registry, a.Logger, a.Metrics)

	a.Logger.Debug().Msg("HTTP handlers initialized")
}

// Close closes all application resources.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// apiBaseURL is the configured API URL, or the server URL declared by the
// document. A relative server URL is resolved against the document location.
func apiBaseURL(cfg *config.Config, doc *openapi.Document) string {
	if cfg.API.URL != "" {
		return strings.TrimRight(cfg.API.URL, "/")
	}
	if doc == nil {
		return ""
	}
	server := openapi.ServerURL(doc.Root)
	if server == "" {
		return ""
	}

	ref, err := url.Parse(server)
	if err != nil || ref.IsAbs() {
		return server
	}
	base, err := url.Parse(doc.Source)
	if err != nil || !base.IsAbs() || (base.Scheme != "http" && base.Scheme != "https") {
		return server
	}
	return strings.TrimRight(base.ResolveReference(ref).String(), "/")
}
