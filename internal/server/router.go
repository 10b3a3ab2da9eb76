package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/auth"
	"github.com/MarcoPoloResearchLab/courtside/internal/remote"
	"github.com/MarcoPoloResearchLab/courtside/internal/tables"
	"github.com/MarcoPoloResearchLab/courtside/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	userIDContextKey = "courtside_user_id"
	orderAscending   = remote.ColumnUpdatedAt + ".asc"
)

var (
	errMissingValidator    = errors.New("session validator dependency required")
	errMissingUserResolver = errors.New("user resolver dependency required")
	errMissingTables       = errors.New("tables service dependency required")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps session claims onto canonical users and athlete profiles.
type UserResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
	ClaimProfile(userID, athleteID string) error
	ListProfiles(userID string) ([]string, error)
}

type Dependencies struct {
	Validator      SessionValidator
	Users          UserResolver
	Tables         *tables.Service
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.Tables == nil {
		return nil, errMissingTables
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		validator: deps.Validator,
		users:     deps.Users,
		tables:    deps.Tables,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/profiles", handler.authorizeRequest, handler.handleProfiles)

	protected := router.Group("/rest")
	protected.Use(handler.authorizeRequest)
	protected.GET("/:table", handler.handleSelect)
	protected.POST("/:table", handler.handleUpsert)
	protected.DELETE("/:table/:id", handler.handleDelete)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		config.AllowAllOrigins = true
		config.AllowCredentials = false
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	validator SessionValidator
	users     UserResolver
	tables    *tables.Service
	logger    *zap.Logger
}

type upsertResponsePayload struct {
	Accepted bool       `json:"accepted"`
	Row      remote.Row `json:"row"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleProfiles(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	athleteIDs, err := h.users.ListProfiles(userID)
	if err != nil {
		h.logger.Error("profile listing failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_failed", "code": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"athlete_ids": athleteIDs})
}

func (h *httpHandler) handleSelect(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	query, err := parseSelectQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_query"})
		return
	}

	stored, err := h.tables.Select(c.Request.Context(), userID, c.Param("table"), query)
	if err != nil {
		h.respondError(c, "select", err)
		return
	}

	rows := make([]remote.Row, 0, len(stored))
	for _, row := range stored {
		converted, err := rowFromStored(row)
		if err != nil {
			h.logger.Error("stored row payload is not an object", zap.String("table", c.Param("table")), zap.String("row_id", row.RowID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt_row", "code": "corrupt_row"})
			return
		}
		rows = append(rows, converted)
	}
	c.JSON(http.StatusOK, rows)
}

func (h *httpHandler) handleUpsert(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var incoming remote.Row
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "invalid_request"})
		return
	}
	if incoming.UserID != "" && incoming.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "user_mismatch", "code": "user_mismatch"})
		return
	}
	if athleteID := strings.TrimSpace(incoming.AthleteID); athleteID != "" {
		if err := h.users.ClaimProfile(userID, athleteID); err != nil {
			h.respondError(c, "claim_profile", err)
			return
		}
	}

	stored, err := storedFromRow(incoming)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "invalid_request"})
		return
	}
	outcome, err := h.tables.Upsert(c.Request.Context(), userID, c.Param("table"), stored)
	if err != nil {
		h.respondError(c, "upsert", err)
		return
	}
	row, err := rowFromStored(outcome.Row)
	if err != nil {
		h.logger.Error("stored row payload is not an object", zap.String("table", c.Param("table")), zap.String("row_id", outcome.Row.RowID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt_row", "code": "corrupt_row"})
		return
	}
	c.JSON(http.StatusOK, upsertResponsePayload{Accepted: outcome.Accepted, Row: row})
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.tables.Delete(c.Request.Context(), userID, c.Param("table"), c.Param("id")); err != nil {
		h.respondError(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			level = zap.InfoLevel
		}
		if entry := h.logger.Check(level, "token validation failed"); entry != nil {
			entry.Write(zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}
	userID, err := h.users.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Warn("user resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) respondError(c *gin.Context, action string, err error) {
	code := "internal"
	var serviceErr *tables.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}

	status := http.StatusInternalServerError
	message := "request_failed"
	switch {
	case errors.Is(err, tables.ErrUnknownTable):
		status, message = http.StatusNotFound, "unknown_table"
	case errors.Is(err, tables.ErrForbidden):
		status, message = http.StatusForbidden, "forbidden"
	case errors.Is(err, users.ErrProfileOwnedElsewhere):
		status, message, code = http.StatusForbidden, "profile_owned_elsewhere", "profile_owned_elsewhere"
	case errors.Is(err, tables.ErrInvalidRow):
		status, message = http.StatusBadRequest, "invalid_row"
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("table request failed", zap.String("action", action), zap.String("table", c.Param("table")), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": message, "code": code})
}

func parseSelectQuery(c *gin.Context) (tables.Query, error) {
	var query tables.Query
	if raw := c.Query(remote.ColumnAthleteID); raw != "" {
		value, ok := strings.CutPrefix(raw, "eq.")
		if !ok {
			return tables.Query{}, errors.New("athlete_id supports eq only")
		}
		query.AthleteID = value
	}
	if raw := c.Query(remote.ColumnUpdatedAt); raw != "" {
		value, ok := strings.CutPrefix(raw, "gte.")
		if !ok {
			return tables.Query{}, errors.New("updated_at_ms supports gte only")
		}
		since, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return tables.Query{}, errors.New("updated_at_ms must be an integer")
		}
		query.UpdatedSince = &since
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return tables.Query{}, errors.New("limit must be a non-negative integer")
		}
		query.Limit = limit
	}
	if order := c.Query("order"); order != "" && order != orderAscending {
		return tables.Query{}, errors.New("order supports updated_at_ms.asc only")
	}
	return query, nil
}

func storedFromRow(row remote.Row) (tables.StoredRow, error) {
	fields := row.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return tables.StoredRow{}, err
	}
	return tables.StoredRow{
		RowID:           strings.TrimSpace(row.ID),
		AthleteID:       strings.TrimSpace(row.AthleteID),
		PayloadJSON:     datatypes.JSON(payload),
		CreatedAtMillis: row.CreatedAtMillis,
		UpdatedAtMillis: row.UpdatedAtMillis,
	}, nil
}

func rowFromStored(stored tables.StoredRow) (remote.Row, error) {
	fields := map[string]any{}
	if len(stored.PayloadJSON) > 0 {
		if err := json.Unmarshal(stored.PayloadJSON, &fields); err != nil {
			return remote.Row{}, err
		}
	}
	return remote.Row{
		ID:              stored.RowID,
		UserID:          stored.UserID,
		AthleteID:       stored.AthleteID,
		CreatedAtMillis: stored.CreatedAtMillis,
		UpdatedAtMillis: stored.UpdatedAtMillis,
		Fields:          fields,
	}, nil
}
