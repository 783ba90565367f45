package confide

import (
	"context"
	cryprand "crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiPathLogin            = "/login"
	apiPathLogout           = "/logout"
	apiPathLoggedIn         = "/logged_in"
	apiHealthCheck          = "/healthz"
	apiPathQuit             = "/quit"
	apiPathPause            = "/pause"
	apiPathResume           = "/resume"
	apiPathGuilds           = "/guilds"
	apiPathGuildDetail      = "/guilds/:guild_id"
	apiPathGuildStats       = "/guilds/:guild_id/stats"
	apiPathGuildConfessions = "/guilds/:guild_id/confessions"
	apiPathConfessionDetail = "/guilds/:guild_id/confessions/:number"
	apiPathInteractionLogs  = "/interaction_logs"
	apiPathRegisterCommands = "/discord/register_commands"
	apiPathGatewayBot       = "/discord/gateway/bot"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var (
	structValidator = validator.New()
)

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

// API is the admin backend: login-gated endpoints for inspecting guild
// configs, confession records (author included), interaction logs, and
// for operational actions like re-registering commands or stopping the
// bot.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI initializes the admin API: session store, TLS, middleware and
// routes. If no certificate is configured, a self-signed one is
// generated at startup.
func newAPI(c *Confide, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	apiHandlers := NewAPIHandlers(c)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	var tlsCfg *tls.Config
	if config.SSL.Cert == "" && config.SSL.Key == "" {
		cert, e := generateSelfSignedCert()
		if e != nil {
			return nil, fmt.Errorf("error generating self-signed cert: %w", e)
		}
		tlsCfg = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   config.SSL.TLSMinVersion,
			ClientAuth:   tls.NoClientCert,
		}
	} else {
		var e error
		tlsCfg, e = tlsConfig(
			config.SSL.Cert,
			config.SSL.Key,
			config.SSL.TLSMinVersion,
		)
		if e != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", e)
		}
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer
	api.logger = setupLogger.With(loggerNameKey, "api")

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && api.config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		cors.New(corsConfig),
	)

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
		runtime.SetMutexProfileFraction(1)
		runtime.SetBlockProfileRate(1)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(c))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathGuilds, apiHandlers.getGuilds)
	protected.GET(apiPathGuildDetail, apiHandlers.getGuild)
	protected.PATCH(apiPathGuildDetail, apiHandlers.updateGuild)
	protected.GET(apiPathGuildStats, apiHandlers.getGuildStats)
	protected.GET(apiPathGuildConfessions, apiHandlers.getConfessions)
	protected.GET(apiPathConfessionDetail, apiHandlers.getConfessionDetail)
	protected.GET(apiPathInteractionLogs, apiHandlers.getInteractionLogs)
	protected.POST(apiPathRegisterCommands, apiHandlers.discordRegisterCommands)
	protected.GET(apiPathGatewayBot, apiHandlers.getDiscordGatewayBot)
	protected.POST(apiPathPause, apiHandlers.botPause)
	protected.POST(apiPathResume, apiHandlers.botResume)
	protected.POST(apiPathQuit, apiHandlers.botQuit)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if e != nil {
		return e
	}
	ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	a.listener = ln
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	session, err := a.store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("username not found in session")
	}
	s, ok := username.(string)
	if !ok {
		return "", errors.New("username not a string")
	}
	return s, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the various API endpoints.
type APIHandlers struct {
	c      *Confide
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers sets up the logger and the session store for the API
// handlers.
func NewAPIHandlers(c *Confide) *APIHandlers {
	logger := c.logger.With(loggerNameKey, "api")

	var secretKey []byte
	switch sk := c.config.API.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	sameSite := http.SameSiteStrictMode
	if c.config.API.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			HttpOnly: true,
			Secure:   true,
			MaxAge:   int(c.config.API.SessionMaxAge.Seconds()),
			SameSite: sameSite,
		},
	)
	return &APIHandlers{c: c, logger: logger, store: store}
}

// loginHandler validates the login request against the configured admin
// credentials and creates a new session. Login attempts are rate
// limited.
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.c.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	apiCfg := h.c.config.API
	if apiCfg.AdminUsername == "" || apiCfg.AdminPasswordHash == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, httpError{Error: "Unauthorized"})
		return
	}
	if login.Username != apiCfg.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, httpError{Error: "Unauthorized"})
		return
	}
	valid, err := VerifyPassword(apiCfg.AdminPasswordHash, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "Internal Server Error"})
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, httpError{Error: "Unauthorized"})
		return
	}

	session, err := h.c.api.store.New(c.Request, sessionVarName)
	if err != nil || session == nil {
		logger.Error("error creating session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	sameSite := http.SameSiteStrictMode
	if apiCfg.Development {
		sameSite = http.SameSiteNoneMode
	}
	session.Options = &gsessions.Options{
		MaxAge:   int(apiCfg.SessionMaxAge.Seconds()),
		SameSite: sameSite,
		HttpOnly: true,
		Secure:   true,
	}
	session.Values[sessionVarField] = login.Username
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.c.api.getSessionUsername(c)
	if err != nil {
		ginContextLogger(c).Warn("error getting session username", tint.Err(err))
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	var uptime float64
	if !h.c.startedAt.IsZero() {
		uptime = time.Since(h.c.startedAt).Seconds()
	}
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.c.paused.Load(),
			DiscordGatewayConnected: h.c.discord.connected.Load(),
			UptimeSeconds:           uptime,
		},
	)
}

// getGuilds returns all guild confession configs.
func (h *APIHandlers) getGuilds(c *gin.Context) {
	var configs []GuildConfessionConfig
	if err := h.c.db.Find(&configs).Error; err != nil {
		ginContextLogger(c).Error("error getting guild configs", tint.Err(err))
		ginReplyError(c, "error getting guild configs")
		return
	}
	c.JSON(http.StatusOK, configs)
}

func (h *APIHandlers) getGuild(c *gin.Context) {
	cfg, err := getGuildConfig(h.c.db, c.Param("guild_id"))
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			c.JSON(http.StatusNotFound, httpError{Error: "guild not configured"})
			return
		}
		ginContextLogger(c).Error("error getting guild config", tint.Err(err))
		ginReplyError(c, "error getting guild config")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// apiPatchGuild accepts a payload to update a guild's audit log
// channels. Any non-nil value is applied; an empty string disables the
// corresponding log.
type apiPatchGuild struct {
	PublicLogChannelID  *string `json:"public_log_channel_id,omitempty" binding:"omitnil"`
	PrivateLogChannelID *string `json:"private_log_channel_id,omitempty" binding:"omitnil"`
}

func (h *APIHandlers) updateGuild(c *gin.Context) {
	logger := ginContextLogger(c)
	guildID := c.Param("guild_id")

	var patch apiPatchGuild
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	if patch.PublicLogChannelID != nil {
		if err := h.c.SetPublicLog(ctx, guildID, *patch.PublicLogChannelID); err != nil {
			h.replyGuildUpdateError(c, logger, err)
			return
		}
	}
	if patch.PrivateLogChannelID != nil {
		if err := h.c.SetPrivateLog(ctx, guildID, *patch.PrivateLogChannelID); err != nil {
			h.replyGuildUpdateError(c, logger, err)
			return
		}
	}

	cfg, err := getGuildConfig(h.c.db, guildID)
	if err != nil {
		h.replyGuildUpdateError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (*APIHandlers) replyGuildUpdateError(
	c *gin.Context,
	logger *slog.Logger,
	err error,
) {
	if errors.Is(err, ErrNotConfigured) {
		c.JSON(http.StatusNotFound, httpError{Error: "guild not configured"})
		return
	}
	logger.Error("error updating guild config", tint.Err(err))
	ginReplyError(c, "error updating guild config")
}

func (h *APIHandlers) getGuildStats(c *gin.Context) {
	stats, err := h.c.GetStats(c.Request.Context(), c.Param("guild_id"))
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			c.JSON(http.StatusNotFound, httpError{Error: "guild not configured"})
			return
		}
		ginContextLogger(c).Error("error getting stats", tint.Err(err))
		ginReplyError(c, "error getting stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getConfessions returns a page of confession records for a guild.
// Supports filtering by reply status and creation date.
func (h *APIHandlers) getConfessions(c *gin.Context) {
	var query GetConfessionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}

	if query.Order == "" {
		query.Order = Descending
	}
	if query.Limit == 0 {
		query.Limit = 25
	}

	dbQuery := h.c.db.Model(&Confession{}).
		Where("guild_id = ?", c.Param("guild_id")).
		Limit(query.Limit).
		Offset(query.Offset)

	if query.IsReply != nil {
		dbQuery = dbQuery.Where("is_reply = ?", *query.IsReply)
	}

	if query.StartDate != "" {
		startDate, err := time.Parse("2006-01-02", query.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpError{Error: "invalid start_date format"})
			return
		}
		dbQuery = dbQuery.Where("created_at >= ?", startDate.UnixMilli())
	}

	if query.EndDate != "" {
		endDate, err := time.Parse("2006-01-02", query.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpError{Error: "invalid end_date format"})
			return
		}
		// Add one day to include the entire end date
		endDate = endDate.Add(24 * time.Hour)
		dbQuery = dbQuery.Where("created_at < ?", endDate.UnixMilli())
	}

	switch query.Order {
	case Descending:
		dbQuery = dbQuery.Order("sequence_number desc")
	default:
		dbQuery = dbQuery.Order("sequence_number asc")
	}

	var confessions []Confession
	if err := dbQuery.Find(&confessions).Error; err != nil {
		ginContextLogger(c).Error("error getting confessions", tint.Err(err))
		ginReplyError(c, "error getting confessions")
		return
	}

	c.JSON(http.StatusOK, confessions)
}

// ConfessionDetail is the admin view of a confession record. Unlike the
// JSON form of [Confession], it includes the author.
type ConfessionDetail struct {
	Confession
	AuthorID string `json:"author_id"`
}

func (h *APIHandlers) getConfessionDetail(c *gin.Context) {
	var number int64
	if _, err := fmt.Sscanf(c.Param("number"), "%d", &number); err != nil || number < 1 {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid confession number"})
		return
	}

	rec, err := h.c.GetRecordInfo(
		c.Request.Context(), c.Param("guild_id"), number,
	)
	if err != nil {
		if errors.Is(err, ErrTargetNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: "confession not found"})
			return
		}
		ginContextLogger(c).Error("error getting confession", tint.Err(err))
		ginReplyError(c, "error getting confession")
		return
	}

	c.JSON(http.StatusOK, ConfessionDetail{Confession: *rec, AuthorID: rec.AuthorID})
}

// GetInteractionLogsQuery represents the query parameters for fetching
// interaction log records.
type GetInteractionLogsQuery struct {
	Pagination
	UserID  string `form:"user_id"`
	GuildID string `form:"guild_id"`
}

func (h *APIHandlers) getInteractionLogs(c *gin.Context) {
	var query GetInteractionLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}
	if query.Order == "" {
		query.Order = Descending
	}
	if query.Limit == 0 {
		query.Limit = 25
	}

	dbQuery := h.c.db.Model(&InteractionLog{}).
		Limit(query.Limit).
		Offset(query.Offset)
	if query.UserID != "" {
		dbQuery = dbQuery.Where("user_id = ?", query.UserID)
	}
	if query.GuildID != "" {
		dbQuery = dbQuery.Where("guild_id = ?", query.GuildID)
	}
	switch query.Order {
	case Descending:
		dbQuery = dbQuery.Order("created_at desc")
	default:
		dbQuery = dbQuery.Order("created_at asc")
	}

	var logs []InteractionLog
	if err := dbQuery.Find(&logs).Error; err != nil {
		ginContextLogger(c).Error("error getting interaction logs", tint.Err(err))
		ginReplyError(c, "error getting interaction logs")
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.c.RegisterSlashCommands()
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error registering commands"})
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

func (h *APIHandlers) getDiscordGatewayBot(c *gin.Context) {
	gatewayBot, err := h.c.discord.session.GatewayBot()
	if err != nil {
		ginContextLogger(c).Error("error getting gateway bot", tint.Err(err))
		ginReplyError(c, "error getting gateway bot")
		return
	}
	c.JSON(http.StatusOK, gatewayBot)
}

func (h *APIHandlers) botPause(c *gin.Context) {
	if h.c.paused.Swap(true) {
		ginReplyMessage(c, "already paused")
		return
	}
	ginContextLogger(c).Warn("bot paused")
	ginReplyMessage(c, "paused")
}

func (h *APIHandlers) botResume(c *gin.Context) {
	if !h.c.paused.Swap(false) {
		ginReplyMessage(c, "not paused")
		return
	}
	ginContextLogger(c).Warn("bot resumed")
	ginReplyMessage(c, "resumed")
}

func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doneCh := make(chan struct{}, 1)
	go func() {
		h.c.dbNotifier.Stop(ctx)
		doneCh <- struct{}{}
		close(doneCh)
	}()
	select {
	case <-doneCh:
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		log.Warn("timeout sending stop signal")
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
	}
}

// GetConfessionsQuery represents the query parameters for fetching
// confession records.
type GetConfessionsQuery struct {
	Pagination
	IsReply   *bool  `form:"is_reply"`
	StartDate string `form:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate   string `form:"end_date" binding:"omitempty,datetime=2006-01-02"`
}

// Pagination represents the pagination parameters for API requests.
type Pagination struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

// Sort represents the sorting order for queries.
type Sort string

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Paused                  bool    `json:"paused"`
	DiscordGatewayConnected bool    `json:"discord_gateway_connected"`
	UptimeSeconds           float64 `json:"uptime_seconds"`
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authMiddleware aborts any request that doesn't carry a valid admin
// session.
func authMiddleware(cf *Confide) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := cf.logger
		if logger == nil {
			logger = slog.Default()
		}

		session, err := cf.api.store.Get(c.Request, sessionVarName)
		if err != nil || session == nil {
			logger.Error("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		username, ok := session.Values[sessionVarField]
		if !ok || username == "" {
			logger.Warn("username not found in session")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, set in both the gin context and the response headers.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details
// included, and sets it in the context for reuse.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs the request method, path, remote address,
// and duration of each request, plus any errors.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// ginReplyMessage sends a JSON response with a message, with HTTP
// status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with an error message, with HTTP
// status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

// generateSelfSignedCert generates a self-signed TLS certificate and
// private key, valid from the current time for 1 year.
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(cryprand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	certTemplate := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Confide"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(
		cryprand.Reader,
		&certTemplate,
		&certTemplate,
		&priv.PublicKey,
		priv,
	)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{derBytes},
		PrivateKey:  priv,
	}, nil
}
