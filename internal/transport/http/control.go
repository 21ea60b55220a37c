// Package http serves the local control API the call UI talks to.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// CallControl is the orchestrator surface exposed over HTTP.
type CallControl interface {
	StartCall(ctx context.Context, callee domain.UserID, callType domain.CallType) (bool, error)
	Answer(ctx context.Context, sid domain.SessionID, accepted bool) error
	EndCall(reason domain.EndReason) error
	ToggleMute() (bool, error)
	ToggleVideo() (bool, error)
	ToggleScreenShare(ctx context.Context) (bool, error)
	Permissions() core.Permissions
	RequestPermissions(ctx context.Context, audio, video bool) (core.Permissions, error)
	Snapshot() core.Snapshot
	OnStateChange(fn func(core.Snapshot)) (unsubscribe func())
}

type Roster interface {
	ListOnline() []domain.UserID
}

type SettingsStore interface {
	Get() domain.MediaSettings
	Set(domain.MediaSettings) error
}

type Deps struct {
	Calls    CallControl
	Presence Roster
	Settings SettingsStore
	// History and Devices are optional.
	History core.CallHistory
	Devices core.DeviceLister

	Mode           string
	AllowedOrigins []string
}

type StartCallRequest struct {
	Callee   domain.UserID   `json:"callee"`
	CallType domain.CallType `json:"callType"`
}

type AnswerRequest struct {
	Accepted bool `json:"accepted"`
}

type EndCallRequest struct {
	Reason domain.EndReason `json:"reason"`
}

type PermissionRequest struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type controller struct {
	Deps
}

// SetupRouter builds the control API wrapped in the CORS policy for the UI origins.
func SetupRouter(ctx context.Context, d Deps) http.Handler {
	if d.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if d.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctl := &controller{Deps: d}
	api := r.Group("/api")

	api.GET("/state", ctl.handleState)
	api.POST("/calls", ctl.handleStartCall)
	api.POST("/calls/:sid/answer", ctl.handleAnswer)
	api.POST("/calls/end", ctl.handleEndCall)

	api.POST("/media/mute", ctl.toggle(func(*gin.Context) (bool, error) { return d.Calls.ToggleMute() }, "muted"))
	api.POST("/media/video", ctl.toggle(func(*gin.Context) (bool, error) { return d.Calls.ToggleVideo() }, "videoEnabled"))
	api.POST("/media/screenshare", ctl.toggle(func(c *gin.Context) (bool, error) {
		return d.Calls.ToggleScreenShare(c.Request.Context())
	}, "screenSharing"))

	api.GET("/permissions", ctl.handlePermissions)
	api.POST("/permissions", ctl.handleRequestPermissions)

	api.GET("/presence", ctl.handlePresence)
	api.GET("/history", ctl.handleHistory)
	api.GET("/devices", ctl.handleDevices)

	api.GET("/settings/media", ctl.handleGetSettings)
	api.PUT("/settings/media", ctl.handlePutSettings)

	api.GET("/ws/state", func(c *gin.Context) { ctl.handleStateStream(ctx, c) })

	log.Info().Str("module", "transport.http").Strs("origins", d.AllowedOrigins).Msg("control router setup")

	return cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}).Handler(r)
}

func (ctl *controller) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, ctl.Calls.Snapshot())
}

func (ctl *controller) handleStartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.CallType == "" {
		req.CallType = domain.CallVideo
	}
	if _, err := ctl.Calls.StartCall(c.Request.Context(), req.Callee, req.CallType); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ctl.Calls.Snapshot())
}

func (ctl *controller) handleAnswer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := ctl.Calls.Answer(c.Request.Context(), domain.SessionID(c.Param("sid")), req.Accepted); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctl.Calls.Snapshot())
}

func (ctl *controller) handleEndCall(c *gin.Context) {
	var req EndCallRequest
	// an empty body hangs up
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.Reason != "" {
		if _, err := domain.ParseEndReason(string(req.Reason)); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := ctl.Calls.EndCall(req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctl.Calls.Snapshot())
}

func (ctl *controller) toggle(fn func(*gin.Context) (bool, error), field string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := fn(c)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{field: v})
	}
}

func (ctl *controller) handlePermissions(c *gin.Context) {
	c.JSON(http.StatusOK, ctl.Calls.Permissions())
}

func (ctl *controller) handleRequestPermissions(c *gin.Context) {
	req := PermissionRequest{Audio: true, Video: true}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	perms, err := ctl.Calls.RequestPermissions(c.Request.Context(), req.Audio, req.Video)
	if err != nil && !errors.Is(err, core.ErrPermissionDenied) {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, perms)
}

func (ctl *controller) handlePresence(c *gin.Context) {
	online := []domain.UserID{}
	if ctl.Presence != nil {
		online = append(online, ctl.Presence.ListOnline()...)
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}

func (ctl *controller) handleHistory(c *gin.Context) {
	if ctl.History == nil {
		c.JSON(http.StatusOK, []core.CallRecord{})
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(c, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	recs, err := ctl.History.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []core.CallRecord{}
	}
	c.JSON(http.StatusOK, recs)
}

func (ctl *controller) handleDevices(c *gin.Context) {
	devices := []core.Device{}
	if ctl.Devices != nil {
		devices = append(devices, ctl.Devices.Devices()...)
	}
	c.JSON(http.StatusOK, devices)
}

func (ctl *controller) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, ctl.Settings.Get())
}

func (ctl *controller) handlePutSettings(c *gin.Context) {
	var s domain.MediaSettings
	if err := c.ShouldBindJSON(&s); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	if err := ctl.Settings.Set(s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctl.Settings.Get())
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "transport.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: core.ReasonCode(err), Message: err.Error()})
}

func statusFor(err error) int {
	var mediaErr *core.MediaAcquisitionError
	switch {
	case errors.Is(err, domain.ErrUserIDEmpty), errors.Is(err, domain.ErrUserIDTooLong),
		errors.Is(err, domain.ErrUnknownCallType), errors.Is(err, domain.ErrUnknownEndReason),
		errors.Is(err, domain.ErrUnknownVideoQuality), errors.Is(err, domain.ErrUnknownAudioQuality):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrBusy), errors.Is(err, core.ErrCanceled):
		return http.StatusConflict
	case errors.Is(err, core.ErrSessionMismatch), errors.Is(err, core.ErrNoActiveCall):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoVideoTrack), errors.Is(err, core.ErrNoLocalStream):
		return http.StatusConflict
	case errors.As(err, &mediaErr):
		return http.StatusFailedDependency
	case errors.Is(err, core.ErrRelayUnavailable), errors.Is(err, core.ErrNotConnected), errors.Is(err, core.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
