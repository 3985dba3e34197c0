package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"coparent-platform/internal/analysis"
	"coparent-platform/internal/audit"
	"coparent-platform/internal/auth"
	"coparent-platform/internal/incident"
	"coparent-platform/internal/rbac"
	"coparent-platform/internal/scheduling"
	"coparent-platform/internal/session"
	"coparent-platform/internal/transcript"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth        *auth.Manager
	Scheduling  *scheduling.Service
	Sessions    *session.Manager
	Queue       *transcript.Queue
	Transcripts transcript.Store
	Incidents   *incident.Service
	Analyses    *analysis.Service
	Audit       *audit.Service
	Log         *slog.Logger
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	FamilyID string `json:"family_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.FamilyID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, family_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.FamilyID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Scheduling ---

func (h Handlers) ScheduleCall(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	var req scheduling.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	inv, err := h.Scheduling.Schedule(c.Request.Context(), familyID, userID, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h Handlers) ListPendingInvitations(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	invs, err := h.Scheduling.ListPending(c.Request.Context(), familyID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": invs})
}

func (h Handlers) ListScheduledCalls(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	invs, err := h.Scheduling.ListForUser(c.Request.Context(), familyID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": invs})
}

type respondRequest struct {
	Accept bool `json:"accept"`
}

func (h Handlers) RespondToInvitation(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Scheduling.Respond(c.Request.Context(), familyID, userID, c.Param("id"), req.Accept)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Sessions ---

func (h Handlers) JoinCall(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	res, err := h.Sessions.Join(c.Request.Context(), familyID, c.Param("id"), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type endRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) EndCall(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	// Body is optional; an empty body means a normal hang-up.
	var req endRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Reason == "" {
		req.Reason = string(session.EndReasonNormal)
	}
	res, err := h.Sessions.End(c.Request.Context(), familyID, c.Param("id"), userID, session.EndReason(req.Reason))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) CallHistory(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	sessions, err := h.Sessions.History(c.Request.Context(), familyID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// --- Transcription ---

type fragmentRequest struct {
	FragmentID string  `json:"fragment_id"`
	SpeakerID  string  `json:"speaker_id"`
	SequenceNo int64   `json:"sequence_no"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
}

func (r fragmentRequest) toFragment(familyID, sessionID, userID string) transcript.Fragment {
	speaker := r.SpeakerID
	if speaker == "" {
		speaker = userID
	}
	return transcript.Fragment{
		FragmentID: r.FragmentID,
		FamilyID:   familyID,
		SessionID:  sessionID,
		SpeakerID:  speaker,
		SequenceNo: r.SequenceNo,
		Text:       r.Text,
		Confidence: r.Confidence,
		IsFinal:    r.IsFinal,
	}
}

func (h Handlers) SubmitTranscription(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	var req fragmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Queue.Submit(c.Request.Context(), req.toFragment(familyID, c.Param("id"), userID)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h Handlers) GetTranscription(c *gin.Context) {
	familyID, _, ok := identity(c)
	if !ok {
		return
	}
	fragments, err := h.Transcripts.ListFinal(c.Request.Context(), familyID, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fragments": fragments})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients carry auth in the token, not the Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamTranscription accepts fragments over a websocket. Each inbound JSON
// message is one fragment; each gets an ack or an error reply. The socket
// closes when the session stops being live.
func (h Handlers) StreamTranscription(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req fragmentRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		err := h.Queue.Submit(c.Request.Context(), req.toFragment(familyID, sessionID, userID))
		switch {
		case err == nil:
			_ = conn.WriteJSON(gin.H{"fragment_id": req.FragmentID, "status": "queued"})
		case errors.Is(err, transcript.ErrSessionNotLive):
			_ = conn.WriteJSON(gin.H{"fragment_id": req.FragmentID, "error": "session not live"})
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		default:
			_ = conn.WriteJSON(gin.H{"fragment_id": req.FragmentID, "error": err.Error()})
		}
	}
}

// --- Incidents ---

func (h Handlers) ReportIncident(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	var req incident.ManualReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	inc, err := h.Incidents.RecordManualReport(c.Request.Context(), familyID, c.Param("id"), userID, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inc)
}

func (h Handlers) ListIncidents(c *gin.Context) {
	familyID, userID, ok := identity(c)
	if !ok {
		return
	}
	incidents, err := h.Incidents.List(c.Request.Context(), familyID, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if h.Audit != nil {
		role, _ := auth.Role(c.Request.Context())
		if err := h.Audit.LogLedgerAccess(c.Request.Context(), familyID, userID, role, c.ClientIP(), c.Param("id")); err != nil {
			h.Log.Warn("audit append failed", "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents})
}

// --- Analysis ---

// GetAnalysis serves the stored analysis, computing it on first fetch when
// the sweeper has not gotten to the session yet.
func (h Handlers) GetAnalysis(c *gin.Context) {
	familyID, _, ok := identity(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	a, err := h.Analyses.Get(ctx, familyID, sessionID)
	if errors.Is(err, analysis.ErrNotFound) {
		a, err = h.Analyses.Compute(ctx, familyID, sessionID)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// --- shared ---

func identity(c *gin.Context) (familyID, userID string, ok bool) {
	ctx := c.Request.Context()
	familyID, err := auth.FamilyID(ctx)
	if err != nil || familyID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "family_id required"})
		return "", "", false
	}
	userID, err = auth.UserID(ctx)
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", "", false
	}
	return familyID, userID, true
}

// abortWithError maps service errors onto HTTP statuses. Unmatched errors are
// treated as internal and not echoed to the client.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduling.ErrNotFound),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, analysis.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, scheduling.ErrInvalidArgument),
		errors.Is(err, session.ErrInvalidArgument),
		errors.Is(err, incident.ErrInvalidIncident),
		errors.Is(err, transcript.ErrInvalidFragment),
		errors.Is(err, scheduling.ErrAlreadyResponded),
		errors.Is(err, session.ErrInvalidStateTransition):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, scheduling.ErrNotRecipient),
		errors.Is(err, session.ErrNotParticipant),
		errors.Is(err, incident.ErrNotParticipant):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, transcript.ErrSessionNotLive):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session not live"})
	case errors.Is(err, incident.ErrDuplicateIncident):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate report"})
	case errors.Is(err, incident.ErrReportWindowClosed):
		c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "report window closed"})
	case errors.Is(err, session.ErrJoinWindowNotOpen),
		errors.Is(err, session.ErrJoinWindowClosed):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrLiveCapReached):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "family live call cap reached"})
	case errors.Is(err, analysis.ErrNotReady):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "analysis not ready"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Convenience middleware bundles.

func RequireFamilyAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireFamily(), rbac.RequireAnyRole(roles...)}
}
