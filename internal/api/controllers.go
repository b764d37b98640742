package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"robot-core/internal/link"
	"robot-core/internal/robot"
	"robot-core/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// createLink registers the user's broker account credentials. One link per
// user; a soft-deleted link is replaced by a fresh row with a new identity.
func (s *Server) createLink(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		Login  string `json:"login"`
		Server string `json:"server"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	req.Login = strings.TrimSpace(req.Login)
	req.Server = strings.TrimSpace(req.Server)
	if req.Login == "" || req.Server == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_FIELDS",
			"error": "login and server are required",
		})
		return
	}

	ctx := c.Request.Context()
	q := s.DB.Queries()

	existing, err := q.GetAccountLinkByUser(ctx, userID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if existing != nil {
		if existing.Status == db.LinkStatusConnected {
			c.JSON(http.StatusConflict, gin.H{
				"code":  "LINK_EXISTS",
				"error": "an account link already exists for this user",
			})
			return
		}
		if err := q.DeleteDisconnectedLink(ctx, userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": err.Error(),
			})
			return
		}
	}

	lnk := db.AccountLink{
		ID:              uuid.NewString(),
		UserID:          userID,
		Login:           req.Login,
		Server:          req.Server,
		DeploymentState: "UNDEPLOYED",
		ConnectionState: "DISCONNECTED",
		Status:          db.LinkStatusConnected,
	}
	if err := q.CreateAccountLink(ctx, lnk); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	if s.Auditor != nil {
		s.Auditor.Record(userID, "link.create", req.Login+"@"+req.Server)
	}
	c.JSON(http.StatusCreated, gin.H{
		"link_id": lnk.ID,
		"login":   lnk.Login,
		"server":  lnk.Server,
	})
}

// resolveLink drives remote identity discovery and deployment for the user's
// link. Returns 202 while provisioning is still in flight.
func (s *Server) resolveLink(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	lnk, err := s.Linker.Prepare(ctx, userID)
	if err != nil {
		var resErr *link.ResolutionError
		var pendErr *link.DeploymentPendingError
		switch {
		case errors.Is(err, db.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "LINK_NOT_FOUND",
				"error": "no account link for this user",
			})
		case errors.As(err, &resErr):
			code := "ACCOUNT_AMBIGUOUS"
			if resErr.Matches == 0 {
				code = "ACCOUNT_NOT_FOUND"
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"code":  code,
				"error": resErr.Error(),
			})
		case errors.As(err, &pendErr):
			c.JSON(http.StatusAccepted, gin.H{
				"code":              "DEPLOYMENT_PENDING",
				"deployment_state":  string(pendErr.State),
				"remote_account_id": lnk.RemoteAccountID,
			})
		case errors.Is(err, db.ErrRemoteIDConflict):
			c.JSON(http.StatusConflict, gin.H{
				"code":  "REMOTE_ID_CONFLICT",
				"error": err.Error(),
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"code":  "BRIDGE_ERROR",
				"error": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"link_id":           lnk.ID,
		"remote_account_id": lnk.RemoteAccountID,
		"deployment_state":  lnk.DeploymentState,
		"connection_state":  lnk.ConnectionState,
	})
}

// disconnectLink soft-deletes the user's link. Ledger rows are kept.
func (s *Server) disconnectLink(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	if err := s.DB.Queries().DisconnectLink(ctx, userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "LINK_NOT_FOUND",
				"error": "no account link for this user",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	if s.Auditor != nil {
		s.Auditor.Record(userID, "link.disconnect", "")
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

// getBalance returns balance and equity, live when the bridge answers within
// the configured wait, cached otherwise. Staleness shows in last_sync.
func (s *Server) getBalance(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	lnk, err := s.DB.Queries().GetAccountLinkByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "LINK_NOT_FOUND",
				"error": "no account link for this user",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	snap := s.Balance.Get(ctx, lnk, s.BalanceMaxWait)
	c.JSON(http.StatusOK, snap)
}

// getTrades lists the user's trades, optionally filtered by status.
func (s *Server) getTrades(c *gin.Context) {
	userID := CurrentUserID(c)

	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	if status != "" && status != db.TradeStatusOpen && status != db.TradeStatusClosed {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_STATUS",
			"error": "status must be OPEN or CLOSED",
		})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_LIMIT",
				"error": "limit must be between 1 and 500",
			})
			return
		}
		limit = n
	}

	trades, err := s.DB.Queries().GetTradesByUser(c.Request.Context(), userID, status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// syncTrades pulls the deal history window and reconciles it into the ledger.
func (s *Server) syncTrades(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	lnk, err := s.Linker.Prepare(ctx, userID)
	if err != nil {
		var pendErr *link.DeploymentPendingError
		switch {
		case errors.Is(err, db.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "LINK_NOT_FOUND",
				"error": "no account link for this user",
			})
		case errors.As(err, &pendErr):
			c.JSON(http.StatusAccepted, gin.H{
				"code":             "DEPLOYMENT_PENDING",
				"deployment_state": string(pendErr.State),
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"code":  "BRIDGE_ERROR",
				"error": err.Error(),
			})
		}
		return
	}

	since := time.Now().UTC().Add(-s.SyncWindow)
	deals, err := s.Gateway.GetDealHistory(ctx, lnk.RemoteAccountID, since)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":  "BRIDGE_ERROR",
			"error": err.Error(),
		})
		return
	}

	open, closed, err := s.Reconciler.Sync(ctx, lnk, deals)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	if s.Auditor != nil {
		s.Auditor.Record(userID, "trades.sync", strconv.Itoa(len(deals))+" deals")
	}
	c.JSON(http.StatusOK, gin.H{
		"deals":  len(deals),
		"open":   open,
		"closed": closed,
	})
}

// listRobots returns the catalog merged with the user's enablement flags.
func (s *Server) listRobots(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	robots, err := s.DB.ListRobots(ctx, c.Query("active") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	configs, err := s.DB.Queries().ListRobotConfigsByUser(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	enabled := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		enabled[cfg.RobotID] = cfg.Enabled
	}

	type robotView struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
		IsActive  bool   `json:"is_active"`
		Enabled   bool   `json:"enabled"`
	}
	views := make([]robotView, 0, len(robots))
	for _, r := range robots {
		views = append(views, robotView{
			ID:        r.ID,
			Name:      r.Name,
			Symbol:    r.Symbol,
			Timeframe: r.Timeframe,
			IsActive:  r.IsActive,
			Enabled:   enabled[r.ID],
		})
	}

	c.JSON(http.StatusOK, gin.H{"robots": views})
}

// updateRobotConfig changes strategy settings without touching the
// enablement flag.
func (s *Server) updateRobotConfig(c *gin.Context) {
	userID := CurrentUserID(c)
	robotID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := s.DB.GetRobot(ctx, robotID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "ROBOT_NOT_FOUND",
				"error": "unknown robot",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	var req struct {
		RiskPercent         float64 `json:"risk_percent"`
		MaxConcurrentTrades int     `json:"max_concurrent_trades"`
		SymbolFilter        string  `json:"symbol_filter"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.RiskPercent < 0 || req.RiskPercent > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_RISK",
			"error": "risk_percent must be between 0 and 100",
		})
		return
	}
	if req.MaxConcurrentTrades < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_LIMIT",
			"error": "max_concurrent_trades must not be negative",
		})
		return
	}

	err := s.DB.Queries().UpdateRobotSettings(ctx, db.RobotConfig{
		UserID:              userID,
		RobotID:             robotID,
		RiskPercent:         req.RiskPercent,
		MaxConcurrentTrades: req.MaxConcurrentTrades,
		SymbolFilter:        strings.TrimSpace(req.SymbolFilter),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	if s.Auditor != nil {
		s.Auditor.Record(userID, "robot.config", robotID)
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// startRobot enables a robot and runs one evaluation pass. A pending
// deployment leaves the robot enabled and reports 202.
func (s *Server) startRobot(c *gin.Context) {
	userID := CurrentUserID(c)
	robotID := c.Param("id")
	ctx := c.Request.Context()

	result, err := s.Robots.Start(ctx, userID, robotID)
	if err != nil {
		var resErr *link.ResolutionError
		var pendErr *link.DeploymentPendingError
		switch {
		case errors.Is(err, db.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "ROBOT_NOT_FOUND",
				"error": "unknown robot or missing account link",
			})
		case errors.As(err, &pendErr):
			c.JSON(http.StatusAccepted, gin.H{
				"code":             "DEPLOYMENT_PENDING",
				"deployment_state": string(pendErr.State),
				"enabled":          true,
			})
		case errors.As(err, &resErr):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"code":  "ACCOUNT_RESOLUTION_FAILED",
				"error": resErr.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": err.Error(),
			})
		}
		return
	}

	signals := result.Signals
	if signals == nil {
		signals = []robot.Signal{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "started",
		"trades_executed": result.TradesExecuted,
		"signals":         signals,
		"errors":          result.Errors,
	})
}

// stopRobot disables a robot and closes its open positions. Stopping a robot
// that is already stopped succeeds with zero closes.
func (s *Server) stopRobot(c *gin.Context) {
	userID := CurrentUserID(c)
	robotID := c.Param("id")

	result, err := s.Robots.Stop(c.Request.Context(), userID, robotID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "stopped",
		"trades_closed": result.TradesClosed,
		"close_errors":  result.CloseErrors,
	})
}

// stopAllRobots disables every robot and closes all open positions in one
// bulk call.
func (s *Server) stopAllRobots(c *gin.Context) {
	userID := CurrentUserID(c)

	result, err := s.Robots.StopAll(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "stopped",
		"robots_disabled": result.RobotsDisabled,
		"trades_closed":   result.TradesClosed,
		"close_errors":    result.CloseErrors,
	})
}
