package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pomodoro/timerd/internal/middleware"
	"pomodoro/timerd/internal/service"
)

type TimerHandler struct {
	timerService *service.TimerService
}

type switchModeRequest struct {
	Mode string `json:"mode"`
}

type setProfileRequest struct {
	ProfileID string `json:"profileId"`
}

type addProfileRequest struct {
	Name          string `json:"name"`
	WorkDuration  int    `json:"workDuration"`
	BreakDuration int    `json:"breakDuration"`
}

func NewTimerHandler(timerService *service.TimerService) *TimerHandler {
	return &TimerHandler{timerService: timerService}
}

func (h *TimerHandler) GetState(c *gin.Context) {
	state, apiErr := h.timerService.GetState(c.Request.Context(), middleware.UserID(c))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TimerHandler) Start(c *gin.Context) {
	state, apiErr := h.timerService.Start(c.Request.Context(), middleware.UserID(c))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TimerHandler) Pause(c *gin.Context) {
	state, apiErr := h.timerService.Pause(c.Request.Context(), middleware.UserID(c))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TimerHandler) Reset(c *gin.Context) {
	state, apiErr := h.timerService.Reset(c.Request.Context(), middleware.UserID(c))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TimerHandler) Complete(c *gin.Context) {
	state, apiErr := h.timerService.Complete(c.Request.Context(), middleware.UserID(c))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TimerHandler) SwitchMode(c *gin.Context) {
	var req switchModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	state, apiErr := h.timerService.SwitchMode(c.Request.Context(), middleware.UserID(c), req.Mode)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TimerHandler) SetActiveProfile(c *gin.Context) {
	var req setProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	state, apiErr := h.timerService.SetActiveProfile(c.Request.Context(), middleware.UserID(c), req.ProfileID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TimerHandler) ListProfiles(c *gin.Context) {
	profiles, apiErr := h.timerService.ListProfiles(c.Request.Context(), middleware.UserID(c))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

func (h *TimerHandler) AddProfile(c *gin.Context) {
	var req addProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	profile, state, apiErr := h.timerService.AddProfile(c.Request.Context(), middleware.UserID(c), service.AddProfileInput{
		Name:          req.Name,
		WorkDuration:  req.WorkDuration,
		BreakDuration: req.BreakDuration,
	})
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"profile": profile, "state": state})
}

func (h *TimerHandler) DeleteProfile(c *gin.Context) {
	state, apiErr := h.timerService.DeleteProfile(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TimerHandler) GetHistory(c *gin.Context) {
	limit := 0
	if rawLimit := c.Query("limit"); rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil {
			limit = parsed
		}
	}

	sessions, apiErr := h.timerService.GetHistory(c.Request.Context(), middleware.UserID(c), limit)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
