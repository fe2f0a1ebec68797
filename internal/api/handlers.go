package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"solana-backtest-lab/internal/acquisition"
	"solana-backtest-lab/internal/backtest"
	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/evidence"
	"solana-backtest-lab/internal/marketdata"
	"solana-backtest-lab/internal/orchestrator"
	"solana-backtest-lab/internal/runtracker"
	"solana-backtest-lab/internal/simulation"
	"solana-backtest-lab/internal/storage"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "runs": s.tracker.Len()})
}

// handleBacktest runs quick invocations inline and the rest as background
// jobs. ?async=true|false overrides the mode default.
func (s *Server) handleBacktest(c *gin.Context) {
	var req domain.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	async := req.Mode != "" && req.Mode != string(simulation.ModeQuick)
	if v := c.Query("async"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "async must be a boolean"})
			return
		}
		async = b
	}

	if async {
		job, err := s.svc.Submit(req)
		if err != nil {
			s.writeError(c, err, nil)
			return
		}
		c.Header("Location", "/api/runs/"+job.RunID)
		c.JSON(http.StatusAccepted, gin.H{"runId": job.RunID, "job": job})
		return
	}

	resp, err := s.svc.Run(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRunStatus(c *gin.Context) {
	id := c.Param("id")
	if err := runtracker.ValidateRunID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := s.tracker.Lookup(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleRunResult returns the response of a background job: 200 when
// finished, 202 while it is still going.
func (s *Server) handleRunResult(c *gin.Context) {
	job, err := s.svc.Job(c.Param("id"))
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	if job.FinishedAt == nil {
		c.JSON(http.StatusAccepted, gin.H{"runId": job.RunID, "status": job.Status})
		return
	}
	if job.Err() != nil {
		s.writeError(c, job.Err(), job.Response)
		return
	}
	c.JSON(http.StatusOK, job.Response)
}

// handleRunStream pushes the run status on every tick until the run is
// terminal or the client goes away.
func (s *Server) handleRunStream(c *gin.Context) {
	id := c.Param("id")
	if err := runtracker.ValidateRunID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("run_id", id).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	// Drain client frames so close messages are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	for {
		st, err := s.tracker.Lookup(ctx, id)
		if err != nil {
			_ = conn.WriteJSON(gin.H{"error": err.Error()})
			s.closeStream(conn, websocket.CloseNormalClosure, "")
			return
		}
		if err := conn.WriteJSON(st); err != nil {
			return
		}
		if st.State.IsTerminal() {
			s.closeStream(conn, websocket.CloseNormalClosure, string(st.State))
			return
		}
		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) closeStream(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (s *Server) handleArtifactIndex(c *gin.Context) {
	id := c.Param("id")
	if !s.checkArtifactRequest(c, id) {
		return
	}
	avail, err := s.artifacts.Availability(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	out := make(gin.H, len(avail))
	for k, ok := range avail {
		out[string(k)] = ok
	}
	c.JSON(http.StatusOK, gin.H{"runId": id, "artifacts": out})
}

// handleArtifact answers HEAD with availability only and GET with the body.
func (s *Server) handleArtifact(c *gin.Context) {
	id := c.Param("id")
	if !s.checkArtifactRequest(c, id) {
		return
	}
	kind, err := evidence.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if c.Request.Method == http.MethodHead {
		ok, err := s.artifacts.Exists(ctx, id, kind)
		switch {
		case err != nil:
			c.Status(statusOf(err))
		case !ok:
			c.Status(http.StatusNotFound)
		default:
			c.Header("Content-Type", kind.ContentType())
			c.Status(http.StatusOK)
		}
		return
	}

	data, err := s.artifacts.Get(ctx, id, kind)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	if kind == evidence.KindCSV {
		c.Header("Content-Disposition", `attachment; filename="`+id+`.csv"`)
	}
	c.Data(http.StatusOK, kind.ContentType(), data)
}

func (s *Server) checkArtifactRequest(c *gin.Context, id string) bool {
	if s.artifacts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifacts are not stored by this server"})
		return false
	}
	if err := runtracker.ValidateRunID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// writeError maps err to a status. Coverage failures carry their stats so
// callers can widen the policy instead of retrying.
func (s *Server) writeError(c *gin.Context, err error, resp *domain.BacktestResponse) {
	var cerr *acquisition.CoverageError
	if errors.As(err, &cerr) {
		body := gin.H{
			"error":         cerr.Error(),
			"coverageStats": cerr.Stats,
			"checks":        cerr.Checks,
		}
		if len(cerr.DisallowedSources) > 0 {
			body["disallowedSources"] = cerr.DisallowedSources
		}
		if resp != nil {
			body["runId"] = resp.RunID
			body["response"] = resp
		}
		c.JSON(http.StatusUnprocessableEntity, body)
		return
	}

	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	var httpErr *marketdata.HTTPStatusError
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, runtracker.ErrInvalidRunID),
		errors.Is(err, evidence.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, runtracker.ErrRunNotFound),
		errors.Is(err, backtest.ErrJobNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runtracker.ErrDuplicateRun):
		return http.StatusConflict
	case errors.Is(err, runtracker.ErrMonitorUnavailable),
		errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, backtest.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &httpErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
