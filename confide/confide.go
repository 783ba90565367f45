package confide

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var defaultLogWriter io.Writer = os.Stdout

// Set at build time:
// -ldflags "-X github.com/confideapp/confide/confide.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Confide is the anonymous confession bot: it accepts submissions via
// discord modals, assigns each a guild-scoped sequence number, publishes
// it to the configured channel, and manages the discussion threads and
// reply chains hanging off each confession.
type Confide struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. The only
	// difference between this and [Confide.db] is that, when using
	// sqlite, a mutex is used.
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Provides the back-end admin API
	api *API

	// Propagates stop signals across instances sharing a database
	dbNotifier DBNotifier

	// Lazily creates discussion threads, one per confession
	resolver *threadResolver

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished
	// initializing: database migrated, API listening, discord session
	// open, commands registered, and persistent controls verified
	signalReady chan struct{}

	// A signal is sent on this channel when [Confide.shutdown] finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// If true, incoming submissions are rejected with a maintenance
	// message
	paused atomic.Bool

	// The time Run was called
	startedAt time.Time

	// getInteractionHandlerFunc returns the InteractionHandler for an
	// incoming interaction. Overridable for tests.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates a Confide instance from the given config. The instance
// isn't live until [Confide.Run] is called.
func New(config *Config) (*Confide, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	c := &Confide{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	c.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     c.config.LogLevel,
			AddSource: true,
		},
	)

	c.logger = slog.New(c.logHandler)
	slog.SetDefault(c.logger)

	c.config.Discord.httpClient = c.config.HTTPClient

	disc, err := newDiscord(c.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     c.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     c.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")

	c.discord = disc
	disc.c = c

	api, err := newAPI(c, config.API)
	errs = append(errs, err)
	c.api = api

	return c, errors.Join(errs...)
}

func (c *Confide) ValidateConfig() error {
	return structValidator.Struct(c.config)
}

// RegisterSlashCommands sends the bot's application commands to the
// discord bulk overwrite endpoint.
func (c *Confide) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return c.discord.registerCommands(options...)
}

// Paused reports whether the bot is currently rejecting submissions.
func (c *Confide) Paused() bool {
	return c.paused.Load()
}

// Run starts the bot and blocks until the given context is canceled or
// a stop signal arrives (interrupt, `/api/quit`, or a NOTIFY from
// another instance sharing the database).
func (c *Confide) Run(ctx context.Context) error {
	// prevents concurrent runs
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.signalStop = make(chan struct{}, 1)
	c.startedAt = time.Now()
	logger := c.logger

	if err := c.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	notifier, err := newDBNotifier(c)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	c.dbNotifier = notifier

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", c.config))

	if c.signalReady == nil {
		c.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runtimeWG := &sync.WaitGroup{}

	go func() {
		select {
		case <-c.signalStop:
			c.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			c.logger.Warn("context canceled, sending stop signal")
			c.signalStop <- struct{}{}
		}
	}()

	go func() {
		httpErr := c.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			c.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- c.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case e := <-initErr:
		if e != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(e))
			return e
		}
	}

	if discErr := c.initDiscordSession(ctx, runtimeWG); discErr != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	logger.InfoContext(ctx, "connecting to discord")
	if openErr := c.discord.session.Open(); openErr != nil {
		logger.ErrorContext(ctx, "error connecting to discord", tint.Err(openErr))
		return fmt.Errorf("error connecting to discord: %w", openErr)
	}

	if _, cmdErr := c.RegisterSlashCommands(); cmdErr != nil {
		return fmt.Errorf("error registering commands: %w", cmdErr)
	}

	c.rehydratePersistentControls(ctx)

	c.signalReady <- struct{}{}
	logger.InfoContext(ctx, "ready")

	if c.dbNotifier.StopChannelName() != "" {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			if e := c.dbNotifier.Listen(
				ctx, c.dbNotifier.StopChannelName(),
			); e != nil {
				logger.ErrorContext(ctx, "error listening on stop channel", tint.Err(e))
			}
		}()
	}

	// block until something cancels the main runtime context
	<-ctx.Done()

	return c.shutdown(runtimeWG)
}

// initRun initializes database connections and the thread resolver.
func (c *Confide) initRun(startCtx context.Context) error {
	if err := c.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	c.resolver = newThreadResolver(c)
	return nil
}

func (c *Confide) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = c.logger
	}

	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     c.config.DatabaseLogLevel,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, c.config.DatabaseSlowThreshold)
	db, err := getDB(c.config.DatabaseType, c.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	c.db = db
	c.writeDB = NewDatabase(db, nil, c.config.DatabaseType == dbTypePostgres)

	logger.Debug("migrating database...")
	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&GuildConfessionConfig{},
		&Confession{},
		&InteractionLog{},
	)
	if err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}

	commitErr := txn.Commit().Error
	if commitErr != nil {
		return fmt.Errorf("error committing transaction: %w", commitErr)
	}
	return nil
}

func (c *Confide) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := c.logger.With(loggerNameKey, "discord_session")

	if c.discord.session == nil {
		disc, discErr := c.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		c.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range c.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	c.discord.discordgoRemoveHandlerFuncs = []func(){
		c.discord.session.AddHandler(c.discord.handlerConnect()),
		c.discord.session.AddHandler(c.discord.handlerDisconnect()),
		c.discord.session.AddHandler(c.discord.handlerReady()),
		c.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				handler := c.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					c.handleInteraction(ctx, handler)
				}()
			},
		),
	}

	if c.getInteractionHandlerFunc == nil {
		c.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     c.discord.session,
				interaction: i,
				logger: c.logger.With(
					slog.Group(
						"interaction",
						interactionLogAttrs(*i)...,
					),
				),
			}
		}
	}
	return nil
}

// handleInteraction logs and dispatches a single incoming interaction.
// Each interaction runs in its own goroutine; submissions from
// different users proceed concurrently and serialize only at the
// sequence allocator and per-confession thread locks.
func (c *Confide) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	defer func() {
		if rc := recover(); rc != nil {
			c.handleRecover(ctx, rc)
		}
	}()

	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	logger = logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)

	interactionLog, err := newInteractionLog(i, discordUser, handler)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	}

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	if interactionLog != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, createErr := c.writeDB.Create(ctx, interactionLog); createErr != nil {
				logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
			}
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	if c.paused.Load() && i.Type != discordgo.InteractionPing {
		respondEphemeral(ctx, handler, "The confession system is temporarily paused.")
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionModalSubmit:
		c.handleModalSubmit(ctx, handler)
	case discordgo.InteractionMessageComponent:
		c.handleMessageComponent(ctx, handler)
	case discordgo.InteractionApplicationCommand:
		c.handleApplicationCommand(ctx, handler)
	default:
		logger.WarnContext(ctx, "unhandled interaction type", "type", i.Type)
	}
}

func (c *Confide) shutdown(runtimeWG *sync.WaitGroup) error {
	c.logger.Warn("shutting down")
	defer func() {
		if c.eventShutdown != nil {
			go func() {
				c.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownTimeout := c.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		c.logger.Warn("immediate shutdown")
		go func() {
			_ = c.api.httpServer.Close()
		}()
		if c.discord != nil && c.discord.session != nil {
			_ = c.discord.session.Close()
		}
		return nil
	}

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownStart.Add(shutdownTimeout),
	)
	defer closeCancel()

	// wait for in-flight submissions and listeners, up to the deadline
	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-gracefulShutdownCh:
		c.logger.Info(
			"finished handling in-flight requests",
			"shutdown_duration", time.Since(shutdownStart),
		)
	case <-closeCtx.Done():
		c.logger.Warn("shutdown deadline reached with work in flight")
	}

	if c.discord != nil && c.discord.session != nil {
		if closeErr := c.discord.session.Close(); closeErr != nil {
			c.logger.Error("error closing discord session", tint.Err(closeErr))
		}
	}

	if c.api != nil && c.api.httpServer != nil {
		if apiErr := c.api.httpServer.Shutdown(closeCtx); apiErr != nil {
			c.logger.Error("error shutting down api server", tint.Err(apiErr))
		}
	}

	return nil
}

// handleRecover logs a recovered panic from an interaction goroutine.
func (*Confide) handleRecover(ctx context.Context, rc any) {
	if rc == nil {
		return
	}
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if nerr, isErr := rc.(error); isErr {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}
