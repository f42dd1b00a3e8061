package http

import (
	"errors"
	"net/http"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// Call is the part of a session the admin API controls.
type Call interface {
	CallID() domain.CallID
	State() domain.StateName
	Report() domain.SessionReport
	Hangup()
	RemoteAudioStats() (domain.StreamStats, error)
	UserAudioStats() (domain.StreamStats, error)

	PauseLocalAudio()
	ResumeLocalAudio()
	PauseLocalVideo()
	ResumeLocalVideo()
	PauseRemoteAudio()
	ResumeRemoteAudio()
	PauseRemoteVideo()
	ResumeRemoteVideo()
}

type CallHandler struct {
	call    Call
	reports ports.ReportRepository
}

func NewCallHandler(call Call, reports ports.ReportRepository) *CallHandler {
	return &CallHandler{
		call:    call,
		reports: reports,
	}
}

// SetupRoutes mounts the call API under /api/v1 behind the given middlewares.
func (h *CallHandler) SetupRoutes(router *gin.Engine, middlewares ...gin.HandlerFunc) {
	api := router.Group("/api/v1", middlewares...)
	{
		api.GET("/call", h.GetCall)
		api.POST("/call/hangup", h.Hangup)
		api.GET("/call/stats", h.GetStats)
		api.POST("/call/media", h.SetMedia)

		api.GET("/reports", h.ListReports)
		api.GET("/reports/:id", h.GetReport)
	}
}

func (h *CallHandler) GetCall(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"call_id": h.call.CallID(),
		"state":   h.call.State(),
		"report":  h.call.Report(),
	})
}

func (h *CallHandler) Hangup(c *gin.Context) {
	h.call.Hangup()
	c.JSON(http.StatusAccepted, gin.H{
		"call_id": h.call.CallID(),
		"state":   h.call.State(),
	})
}

func (h *CallHandler) GetStats(c *gin.Context) {
	remote, err := h.call.RemoteAudioStats()
	if err != nil {
		h.statsError(c, err)
		return
	}
	user, err := h.call.UserAudioStats()
	if err != nil {
		h.statsError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"remote_audio": remote,
		"user_audio":   user,
	})
}

func (h *CallHandler) statsError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrIllegalState) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *CallHandler) SetMedia(c *gin.Context) {
	var req struct {
		Track   string `json:"track" binding:"required,oneof=local_audio local_video remote_audio remote_video"`
		Enabled *bool  `json:"enabled" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	controls := map[string][2]func(){
		"local_audio":  {h.call.PauseLocalAudio, h.call.ResumeLocalAudio},
		"local_video":  {h.call.PauseLocalVideo, h.call.ResumeLocalVideo},
		"remote_audio": {h.call.PauseRemoteAudio, h.call.ResumeRemoteAudio},
		"remote_video": {h.call.PauseRemoteVideo, h.call.ResumeRemoteVideo},
	}
	pauseResume := controls[req.Track]
	if *req.Enabled {
		pauseResume[1]()
	} else {
		pauseResume[0]()
	}

	c.Status(http.StatusNoContent)
}

func (h *CallHandler) ListReports(c *gin.Context) {
	reports, err := h.reports.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"count":   len(reports),
	})
}

func (h *CallHandler) GetReport(c *gin.Context) {
	report, err := h.reports.GetByCallID(c.Request.Context(), domain.CallID(c.Param("id")))
	if err != nil {
		if errors.Is(err, domain.ErrReportNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}
