package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/auditlogproject/auditlog/internal/auditlog/configuration"
	"github.com/auditlogproject/auditlog/internal/auditlog/model"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Pipeline is the ingest and query surface the HTTP handlers sit on.
type Pipeline interface {
	Submit(e *model.AuditEvent)
	SubmitAll(es []*model.AuditEvent)
	QueryByPlayer(ctx context.Context, playerUUID uuid.UUID, since, until time.Time, limit int) ([]*model.AuditEvent, error)
	QueryByLocation(ctx context.Context, world string, x, z, radius float64, since, until time.Time, limit int) ([]*model.AuditEvent, error)
}

// NewRouter builds the gin engine serving the ingest and query endpoints.
func NewRouter(pipeline Pipeline, auth configuration.AuthConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginLogger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/token", issueToken(auth))

	logs := router.Group("/logs")
	if auth.Enabled {
		logs.Use(bearerAuth(auth))
	}
	logs.POST("", submitLogs(pipeline))
	logs.GET("", queryLogs(pipeline))

	return router
}

func submitLogs(pipeline Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
			return
		}
		events, err := decodeEvents(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for _, e := range events {
			e.AssignLogUUID()
		}
		pipeline.SubmitAll(events)
		c.JSON(http.StatusAccepted, gin.H{"accepted": len(events)})
	}
}

// decodeEvents accepts either a single event object or an array of them.
func decodeEvents(body []byte) ([]*model.AuditEvent, error) {
	var events []*model.AuditEvent
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("invalid event array: %s", err.Error())
		}
	} else {
		var single model.AuditEvent
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("invalid event: %s", err.Error())
		}
		events = []*model.AuditEvent{&single}
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no events in request body")
	}
	for i, e := range events {
		if e == nil {
			return nil, fmt.Errorf("event %d is null", i)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %s", i, err.Error())
		}
	}
	return events, nil
}

func queryLogs(pipeline Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		since, until, limit, err := timeWindow(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var events []*model.AuditEvent
		switch {
		case c.Query("player_uuid") != "":
			playerUUID, err := uuid.Parse(c.Query("player_uuid"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player_uuid"})
				return
			}
			events, err = pipeline.QueryByPlayer(c.Request.Context(), playerUUID, since, until, limit)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
				return
			}
		case c.Query("world") != "":
			x, errX := strconv.ParseFloat(c.Query("x"), 64)
			z, errZ := strconv.ParseFloat(c.Query("z"), 64)
			radius, errR := strconv.ParseFloat(c.DefaultQuery("radius", "10"), 64)
			if errX != nil || errZ != nil || errR != nil || radius < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "x, z and radius must be numbers, radius non-negative"})
				return
			}
			events, err = pipeline.QueryByLocation(c.Request.Context(), c.Query("world"), x, z, radius, since, until, limit)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
				return
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "either player_uuid or world is required"})
			return
		}

		if len(events) == 0 {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

func timeWindow(c *gin.Context) (since, until time.Time, limit int, err error) {
	until = time.Now()
	since = until.Add(-24 * time.Hour)
	if s := c.Query("since"); s != "" {
		if since, err = time.Parse(time.RFC3339, s); err != nil {
			return since, until, 0, fmt.Errorf("since must be RFC3339")
		}
	}
	if s := c.Query("until"); s != "" {
		if until, err = time.Parse(time.RFC3339, s); err != nil {
			return since, until, 0, fmt.Errorf("until must be RFC3339")
		}
	}
	if !until.After(since) {
		return since, until, 0, fmt.Errorf("until must be after since")
	}
	limit = defaultQueryLimit
	if s := c.Query("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 {
			return since, until, 0, fmt.Errorf("limit must be a positive integer")
		}
		if limit > maxQueryLimit {
			limit = maxQueryLimit
		}
	}
	return since, until, limit, nil
}

func ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start),
		}).Debug("Handled request")
	}
}
