package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kvpush/internal/adslots"
	"kvpush/internal/pipeline"
	logx "kvpush/pkg/logx"
)

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{}
	if s.deps.Status != nil {
		for k, v := range s.deps.Status() {
			body[k] = v
		}
	}
	body["status"] = "ok"
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleRun(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.options().RunTimeout)
	defer cancel()

	rep, err := s.deps.Runner.Run(ctx, "http")
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		c.JSON(http.StatusConflict, rep)
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	case !rep.Success:
		c.JSON(http.StatusInternalServerError, rep)
	default:
		c.JSON(http.StatusOK, rep)
	}
}

func (s *Server) handleGetAds(c *gin.Context) {
	slots, err := s.deps.Ads.Get(c.Request.Context())
	if err != nil {
		s.log.Error("load ad slots", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load ad config"})
		return
	}
	c.JSON(http.StatusOK, slots)
}

func (s *Server) handlePostAds(c *gin.Context) {
	if s.deps.Ads.ReadOnly() {
		c.JSON(http.StatusConflict, gin.H{"error": "read_only", "message": "ad slots are served from environment variables"})
		return
	}
	var slots adslots.Slots
	if err := c.ShouldBindJSON(&slots); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	report, err := s.deps.Ads.Update(c.Request.Context(), slots)
	if err != nil {
		s.log.Error("save ad slots", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save ad config"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "slots": slots, "inspect": report})
}

type authRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAuth(c *gin.Context) {
	want := s.options().AdminPassword
	if want == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Admin password not configured"})
		return
	}
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !secretEqual(req.Password, want) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSlot(c *gin.Context) {
	mode, err := adslots.ParseMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	html, err := s.deps.Ads.Render(c.Request.Context(), c.Param("slot"), mode)
	switch {
	case errors.Is(err, adslots.ErrUnknownSlot):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown slot"})
		return
	case err != nil:
		s.log.Error("render ad slot", logx.String("slot", c.Param("slot")), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load ad config"})
		return
	}
	if mode == adslots.ModeIframe {
		c.Header("Content-Security-Policy", "frame-ancestors *")
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
