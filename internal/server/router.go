// Package server exposes snapshot diffing and upgrading over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/auth"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/migrate"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/upgrade"
)

const subjectContextKey = "ddlkit_subject"

// maxBodyBytes bounds request bodies; snapshots of large schemas stay well below it.
const maxBodyBytes = 16 << 20

var errInvalidAuthorization = errors.New("authorization header missing or invalid")

// TokenValidator checks bearer tokens and returns their subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies of the HTTP handler. A nil Validator leaves the API open.
type Dependencies struct {
	Validator TokenValidator
	Logger    *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{validator: deps.Validator, logger: logger}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/v1")
	if deps.Validator != nil {
		api.Use(handler.authorizeRequest)
	}
	api.GET("/versions", handler.handleVersions)
	api.POST("/generate", handler.handleGenerate)
	api.POST("/upgrade", handler.handleUpgrade)

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	validator TokenValidator
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type versionsPayload struct {
	Dialect  string   `json:"dialect"`
	Current  string   `json:"current"`
	Floor    string   `json:"floor"`
	Versions []string `json:"versions"`
}

func (h *httpHandler) handleVersions(c *gin.Context) {
	response := make([]versionsPayload, 0, 2)
	for _, d := range []dialect.Dialect{dialect.SQLite, dialect.PostgreSQL} {
		response = append(response, versionsPayload{
			Dialect:  d.String(),
			Current:  d.CurrentVersion(),
			Floor:    d.FloorVersion(),
			Versions: d.Versions(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"dialects": response})
}

type generateRequestPayload struct {
	Previous    json.RawMessage `json:"previous"`
	Current     json.RawMessage `json:"current"`
	Breakpoints *bool           `json:"breakpoints"`
}

type generateResponsePayload struct {
	Statements []string `json:"statements"`
	SQL        string   `json:"sql"`
}

func (h *httpHandler) handleGenerate(c *gin.Context) {
	var request generateRequestPayload
	if err := bindJSON(c, &request); err != nil || len(request.Current) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	current, err := migrate.DecodeSnapshot(request.Current)
	if err != nil {
		h.respondError(c, "current", err)
		return
	}
	var previous migrate.Snapshot
	if len(request.Previous) > 0 && string(request.Previous) != "null" {
		if previous, err = migrate.DecodeSnapshot(request.Previous); err != nil {
			h.respondError(c, "previous", err)
			return
		}
	}

	opts := migrate.GenerateOptions{Breakpoints: true}
	if request.Breakpoints != nil {
		opts.Breakpoints = *request.Breakpoints
	}
	statements, err := migrate.Generate(previous, current, opts)
	if err != nil {
		h.respondError(c, "generate", err)
		return
	}
	if statements == nil {
		statements = []string{}
	}
	c.JSON(http.StatusOK, generateResponsePayload{Statements: statements, SQL: migrate.SQL(statements, opts)})
}

type upgradeRequestPayload struct {
	Dialect  string          `json:"dialect"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type upgradeResponsePayload struct {
	FromVersion string          `json:"fromVersion"`
	ToVersion   string          `json:"toVersion"`
	Snapshot    json.RawMessage `json:"snapshot"`
}

func (h *httpHandler) handleUpgrade(c *gin.Context) {
	var request upgradeRequestPayload
	if err := bindJSON(c, &request); err != nil || len(request.Snapshot) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	d, err := dialect.Parse(request.Dialect)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_dialect"})
		return
	}
	header, err := upgrade.ProbeVersion(request.Snapshot)
	if err != nil {
		h.respondError(c, "snapshot", err)
		return
	}
	upgraded, err := upgrade.UpgradeJSON(request.Snapshot, d)
	if err != nil {
		h.respondError(c, "upgrade", err)
		return
	}
	c.JSON(http.StatusOK, upgradeResponsePayload{
		FromVersion: header.Version,
		ToVersion:   d.CurrentVersion(),
		Snapshot:    json.RawMessage(upgraded),
	})
}

// respondError maps domain errors onto status codes.
func (h *httpHandler) respondError(c *gin.Context, input string, err error) {
	status, code := http.StatusBadRequest, "invalid_snapshot"
	switch {
	case errors.Is(err, dialect.ErrDialectMismatch):
		status, code = http.StatusConflict, "dialect_mismatch"
	case errors.Is(err, dialect.ErrSnapshotOutdated):
		status, code = http.StatusUnprocessableEntity, "snapshot_outdated"
	case errors.Is(err, dialect.ErrUnsupportedVersion):
		status, code = http.StatusUnprocessableEntity, "unsupported_version"
	case errors.Is(err, dialect.ErrUnknownDialect):
		code = "unknown_dialect"
	}
	h.logger.Info("request rejected", zap.String("input", input), zap.String("reason", code), zap.Error(err))
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func bindJSON(c *gin.Context, target any) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	return c.ShouldBindJSON(target)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	subject, err := auth.BearerSubject(c.GetHeader("Authorization"), h.validator.ValidateToken)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		}
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}
