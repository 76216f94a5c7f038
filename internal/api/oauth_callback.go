package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterOAuthCallback routes /oauth/callback/<provider> to handler.
// A nil handler removes the provider.
func (s *Server) RegisterOAuthCallback(provider string, handler gin.HandlerFunc) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	if handler == nil {
		delete(s.callbacks, provider)
		return
	}
	s.callbacks[provider] = handler
}

func (s *Server) oauthCallback(provider string) gin.HandlerFunc {
	s.callbacksMu.RLock()
	defer s.callbacksMu.RUnlock()
	return s.callbacks[provider]
}

func (s *Server) handleOAuthCallback(c *gin.Context) {
	if handler := s.oauthCallback(c.Param("provider")); handler != nil {
		handler(c)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error":    "oauth callback handler is not configured",
		"status":   "not_configured",
		"provider": c.Param("provider"),
	})
}
