package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/lanlink/internal/app"
	"github.com/dkeye/lanlink/internal/app/orch"
	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

type handlers struct {
	orch *orch.Orchestrator
}

type CreateRequest struct {
	Session string `json:"session" binding:"required"`
}

// DescriptionRequest carries a remote description; ID is the remote host.
type DescriptionRequest struct {
	ID  string `json:"id"`
	SDP string `json:"sdp" binding:"required"`
}

type JoinRequest struct {
	Target string `json:"target" binding:"required"`
}

type DescriptionResponse struct {
	Session core.SessionID `json:"session"`
	Type    string         `json:"type"`
	SDP     string         `json:"sdp"`
}

func describeResponse(sid core.SessionID, sd *webrtc.SessionDescription) DescriptionResponse {
	return DescriptionResponse{Session: sid, Type: sd.Type.String(), SDP: sd.SDP}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, app.ErrNotInitiator),
		errors.Is(err, app.ErrRemoteMismatch),
		errors.Is(err, app.ErrAlreadyInitiated):
		return http.StatusConflict
	case errors.Is(err, app.ErrManifestTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, app.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func sessionID(c *gin.Context) core.SessionID { return core.SessionID(c.Param("id")) }

func (h *handlers) getHost(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.WhoAmI())
}

func (h *handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.orch.Sessions()})
}

func (h *handlers) createSession(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid session"})
		return
	}
	dto, err := h.orch.Create(core.SessionID(req.Session))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto)
}

func (h *handlers) initiate(c *gin.Context) {
	sid := sessionID(c)
	offer, err := h.orch.Initiate(sid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, describeResponse(sid, offer))
}

func (h *handlers) offer(c *gin.Context) {
	var req DescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid sdp"})
		return
	}
	sid := sessionID(c)
	answer, err := h.orch.Offer(sid, domain.HostID(req.ID), req.SDP)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, describeResponse(sid, answer))
}

func (h *handlers) answer(c *gin.Context) {
	var req DescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid sdp"})
		return
	}
	if err := h.orch.Answer(sessionID(c), domain.HostID(req.ID), req.SDP); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) describe(c *gin.Context) {
	sid := sessionID(c)
	desc, err := h.orch.Describe(sid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, describeResponse(sid, desc))
}

func (h *handlers) join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid target"})
		return
	}
	if err := h.orch.Join(sessionID(c), domain.HostID(req.Target)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handlers) requestManifest(c *gin.Context) {
	if err := h.orch.RequestManifest(sessionID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handlers) drop(c *gin.Context) {
	h.orch.Drop(sessionID(c))
	c.Status(http.StatusNoContent)
}

func (h *handlers) putManifest(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := h.orch.SetManifest(json.RawMessage(raw)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
