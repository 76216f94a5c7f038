package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luthierworks/luthier/internal/importer"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/models"
)

// GoogleStatusResponse is returned by GET /admin/integrations/google.
type GoogleStatusResponse struct {
	Connected        bool             `json:"connected"`
	Running          bool             `json:"running"`
	SelectedLocation string           `json:"selected_location,omitempty"`
	LastSync         *models.SyncRun  `json:"last_sync,omitempty"`
	CooldownUntil    *time.Time       `json:"cooldown_until,omitempty"`
	Account          *models.UserInfo `json:"account,omitempty"`
}

// SyncRequest optionally names the location to sync.
type SyncRequest struct {
	LocationID string `json:"location_id"`
}

// SelectLocationRequest pins the location used by later syncs.
type SelectLocationRequest struct {
	LocationID string `json:"location_id"`
}

func (s *Server) requireIntegration() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.sync == nil {
			c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_configured",
				Message: "Google integration is not enabled.",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.Next()
	}
}

func (s *Server) handleGoogleStatus(c *gin.Context) {
	st := s.sync.Status()
	resp := GoogleStatusResponse{
		Connected:        st.Connected,
		Running:          st.Running,
		SelectedLocation: st.SelectedLocation,
		LastSync:         st.LastSync,
	}
	if !st.CooldownUntil.IsZero() {
		until := st.CooldownUntil
		resp.CooldownUntil = &until
	}

	// The profile lookup calls Google, so it is opt-in.
	if st.Connected && c.Query("account") == "true" {
		info, err := s.sync.Account(c.Request.Context())
		if err != nil {
			s.writeError(c, err)
			return
		}
		resp.Account = info
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGoogleConnect(c *gin.Context) {
	if s.authorizer == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_configured",
			Message: "Google OAuth client is not configured.",
			Code:    http.StatusNotFound,
		})
		return
	}
	url := s.authorizer.AuthorizationURL()
	if c.Query("redirect") == "false" {
		c.JSON(http.StatusOK, gin.H{"url": url})
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (s *Server) handleGoogleLocations(c *gin.Context) {
	locations, err := s.sync.Locations(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, locations)
}

func (s *Server) handleGoogleSelectLocation(c *gin.Context) {
	var req SelectLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id := models.NormalizeLocationID(req.LocationID)
	if err := s.sync.SelectLocation(id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected_location": id})
}

func (s *Server) handleGoogleSync(c *gin.Context) {
	var req SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if req.LocationID == "" {
		req.LocationID = c.Query("location_id")
	}

	run, err := s.sync.Run(c.Request.Context(), importer.RunOptions{LocationID: req.LocationID})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGoogleDisconnect(c *gin.Context) {
	if err := s.sync.Disconnect(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleGoogleCallback finishes the consent flow. Google reports a denied
// consent through the error parameter.
func (s *Server) handleGoogleCallback(c *gin.Context) {
	ctx := c.Request.Context()
	event := logging.NewAuditEvent(logging.IntegrationConnect, "connect_google", logging.StatusSuccess).
		WithIPAddress(c.ClientIP())

	if errParam := c.Query("error"); errParam != "" {
		event.Status = logging.StatusFailure
		event.ErrorMessage = errParam
		s.logger.Audit(ctx, event)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "authorization_denied",
			Message: "Google did not grant access. Try connecting again.",
			Code:    http.StatusBadRequest,
			Reason:  oauthErrorReason(errParam),
		})
		return
	}

	code := c.Query("code")
	if code == "" {
		badRequest(c, "missing authorization code")
		return
	}

	_, err := s.authorizer.Exchange(ctx, code)
	s.logger.Audit(ctx, event.WithError(err))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected", "provider": "google"})
}

// OAuth 2.0 authorization error codes (RFC 6749 section 4.1.2.1).
var oauthErrorCodes = map[string]bool{
	"access_denied":             true,
	"invalid_request":           true,
	"invalid_scope":             true,
	"server_error":              true,
	"temporarily_unavailable":   true,
	"unauthorized_client":       true,
	"unsupported_response_type": true,
}

// oauthErrorReason passes through known codes only; anything else is
// reported as "unknown".
func oauthErrorReason(code string) string {
	if oauthErrorCodes[code] {
		return code
	}
	return "unknown"
}
