package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"

	"queue-visitor/internal/config"
	"queue-visitor/internal/identity"
	"queue-visitor/internal/reconcile"
	"queue-visitor/internal/session"
	"queue-visitor/internal/tracker"
)

const profileCookieMaxAge = 365 * 24 * 60 * 60

// Enqueuer is the part of the asynq client the handlers use.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Handlers struct {
	cfg                 config.Config
	visitors            *Visitors
	notificationService *NotificationService
	publisher           Publisher
	asynqClient         Enqueuer
}

func NewHandlers(cfg config.Config, visitors *Visitors, notificationService *NotificationService, publisher Publisher, asynqClient Enqueuer) *Handlers {
	return &Handlers{
		cfg:                 cfg,
		visitors:            visitors,
		notificationService: notificationService,
		publisher:           publisher,
		asynqClient:         asynqClient,
	}
}

// Join enters the visitor into the queue of an event, or finds the ticket they
// already hold there.
func (h *Handlers) Join(c echo.Context) error {
	var req JoinRequest
	if err := c.Bind(&req); err != nil {
		slog.Error("c.Bind()", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{Kind: reconcile.KindValidation.String(), Message: "Invalid request"}})
	}
	req.EventCode = strings.TrimSpace(req.EventCode)
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorBody{Kind: reconcile.KindValidation.String(), Message: err.Error()}})
	}

	v := h.visitor(c)
	ctx := c.Request().Context()

	provider := identity.NewProvider(v.Store, identity.Posted(req.Signals), h.cfg.IdentityTag)
	sessionID, err := provider.GetOrCreate(ctx)
	if err != nil {
		slog.Error(fmt.Sprintf("provider.GetOrCreate(profileID: %v)", v.ProfileID), "error", err)
		return h.writeError(c, &reconcile.Error{Kind: reconcile.KindTransient, Message: "could not read the visitor profile, please retry", Err: err})
	}

	_, err = v.Controller.Resolve(ctx, reconcile.Request{SessionID: sessionID, EventCode: req.EventCode, Notes: req.Notes})
	if err != nil {
		return h.writeError(c, err)
	}
	return h.respondTracked(c, v)
}

// Get restores the visitor's ticket from the stored record, as on a page load.
func (h *Handlers) Get(c echo.Context) error {
	v := h.visitor(c)
	ctx := c.Request().Context()

	rec, err := session.Load(ctx, v.Store)
	if err != nil {
		slog.Error(fmt.Sprintf("session.Load(profileID: %v)", v.ProfileID), "error", err)
		return h.writeError(c, &reconcile.Error{Kind: reconcile.KindTransient, Message: "could not read the visitor profile, please retry", Err: err})
	}

	_, err = v.Controller.Resolve(ctx, reconcile.Request{SessionID: rec.SessionID, EventCode: rec.EventCode})
	if err != nil {
		return h.writeError(c, err)
	}
	return h.respondTracked(c, v)
}

// Refresh runs an explicit network refresh. A failed refresh still answers 200
// with the previous view and its error annotation.
func (h *Handlers) Refresh(c echo.Context) error {
	v := h.visitor(c)
	tr := v.Tracker()
	if tr == nil {
		return h.Get(c)
	}

	view, err := h.refreshVisitor(c.Request().Context(), v, tr)
	if err != nil && !errors.Is(err, tracker.ErrStopped) {
		slog.Warn("refresh failed", "profileID", v.ProfileID, "error", err)
	}
	return c.JSON(http.StatusOK, h.stateResponse(v, &view))
}

func (h *Handlers) UpdateNotes(c echo.Context) error {
	var req NotesRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{Kind: reconcile.KindValidation.String(), Message: "Invalid request"}})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorBody{Kind: reconcile.KindValidation.String(), Message: err.Error()}})
	}

	v := h.visitor(c)
	if err := h.ensureBound(c.Request().Context(), v); err != nil {
		return h.writeError(c, err)
	}
	if _, err := v.Controller.UpdateNotes(c.Request().Context(), req.Notes); err != nil {
		return h.writeError(c, err)
	}
	return h.respondTracked(c, v)
}

func (h *Handlers) Cancel(c echo.Context) error {
	v := h.visitor(c)
	if err := h.ensureBound(c.Request().Context(), v); err != nil {
		return h.writeError(c, err)
	}
	sessionID := v.Controller.Snapshot().SessionID
	ticket, err := v.Controller.Cancel(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	v.Detach()

	view := tracker.Compute(tracker.Snapshot{Ticket: ticket}, h.cfg.AverageService, h.visitors.Now())
	h.scheduleNotify(v.ProfileID, sessionID, RealtimeMessage{Type: MessageTransition, State: reconcile.StateTerminal.String(), View: &view})

	resp := h.stateResponse(v, &view)
	resp.Ticket = &ticket
	return c.JSON(http.StatusOK, resp)
}

func (h *Handlers) Logout(c echo.Context) error {
	v := h.visitor(c)
	if err := v.Controller.Logout(c.Request().Context()); err != nil {
		slog.Error(fmt.Sprintf("v.Controller.Logout(profileID: %v)", v.ProfileID), "error", err)
		return h.writeError(c, err)
	}
	v.Detach()
	return c.JSON(http.StatusOK, h.stateResponse(v, nil))
}

// View answers the attached tracker's current view without polling the queue
// service. Its countdown advances with the display tick.
func (h *Handlers) View(c echo.Context) error {
	v := h.visitor(c)
	tr := v.Tracker()
	if tr == nil {
		return h.Get(c)
	}
	view := tr.View()
	return c.JSON(http.StatusOK, h.stateResponse(v, &view))
}

// DetachView is called when the page unmounts.
func (h *Handlers) DetachView(c echo.Context) error {
	h.visitor(c).Detach()
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) RealtimeToken(c echo.Context) error {
	v := h.visitor(c)
	if err := h.ensureBound(c.Request().Context(), v); err != nil {
		return h.writeError(c, err)
	}
	snap := v.Controller.Snapshot()
	if snap.SessionID == "" {
		return h.writeError(c, &reconcile.Error{Kind: reconcile.KindMissingContext, Message: "no active ticket, enter the event code again"})
	}

	channel := ChannelFor(snap.SessionID)
	token, err := h.publisher.GenGrantToken(c.Request().Context(), channel)
	if err != nil {
		slog.Error(fmt.Sprintf("h.publisher.GenGrantToken(%v)", channel), "error", err)
		return h.writeError(c, &reconcile.Error{Kind: reconcile.KindTransient, Message: "realtime updates are unavailable", Err: err})
	}
	return c.JSON(http.StatusOK, RealtimeTokenResponse{Token: token, Channel: channel})
}

func (h *Handlers) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// visitor resolves the browser profile from its cookie, issuing one when the
// request carries none.
func (h *Handlers) visitor(c echo.Context) *Visitor {
	var profileID string
	if cookie, err := c.Cookie(h.cfg.ProfileCookie); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			profileID = id.String()
		}
	}
	if profileID == "" {
		profileID = uuid.NewString()
		c.SetCookie(&http.Cookie{
			Name:     h.cfg.ProfileCookie,
			Value:    profileID,
			Path:     "/",
			MaxAge:   profileCookieMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return h.visitors.Get(profileID)
}

// ensureBound restores the controller from the stored record when this daemon
// has not resolved the profile yet, e.g. after a restart.
func (h *Handlers) ensureBound(ctx context.Context, v *Visitor) error {
	if v.Controller.Snapshot().State == reconcile.StateBound {
		return nil
	}
	rec, err := session.Load(ctx, v.Store)
	if err != nil {
		return &reconcile.Error{Kind: reconcile.KindTransient, Message: "could not read the visitor profile, please retry", Err: err}
	}
	_, err = v.Controller.Resolve(ctx, reconcile.Request{SessionID: rec.SessionID, EventCode: rec.EventCode})
	return err
}

// respondTracked attaches a tracker to the bound ticket, refreshes it once and
// answers with the resulting view.
func (h *Handlers) respondTracked(c echo.Context, v *Visitor) error {
	snap := v.Controller.Snapshot()
	if snap.Ticket.ID == 0 {
		return c.JSON(http.StatusOK, h.stateResponse(v, nil))
	}

	tr, generation, created := h.visitors.Attach(v, snap.Ticket.ID)
	view, err := h.refreshVisitor(c.Request().Context(), v, tr)
	if err != nil && !errors.Is(err, tracker.ErrStopped) {
		slog.Warn("refresh failed", "profileID", v.ProfileID, "ticketID", snap.Ticket.ID, "error", err)
	}

	if v.Controller.Snapshot().State != reconcile.StateBound {
		v.Detach()
	} else if created {
		h.scheduleRefresh(v.ProfileID, snap.Ticket.ID, generation)
	}
	return c.JSON(http.StatusOK, h.stateResponse(v, &view))
}

// refreshVisitor runs one network refresh and feeds the ticket it read back to
// the controller. A transition is published to the visitor's channel.
func (h *Handlers) refreshVisitor(ctx context.Context, v *Visitor, tr *tracker.Tracker) (tracker.View, error) {
	snap, err := tr.Refresh(ctx)
	if err != nil {
		return tr.View(), err
	}
	view := tr.View()

	state, changed := v.Controller.Observe(snap.Ticket)
	if changed {
		slog.Info("Ticket reached a final status", "profileID", v.ProfileID, "ticketID", snap.Ticket.ID, "status", snap.Ticket.Status)
		h.scheduleNotify(v.ProfileID, v.Controller.Snapshot().SessionID, RealtimeMessage{Type: MessageTransition, State: state.String(), View: &view})
	}
	return view, nil
}

func (h *Handlers) stateResponse(v *Visitor, view *tracker.View) VisitorResponse {
	snap := v.Controller.Snapshot()
	resp := VisitorResponse{
		State:     snap.State.String(),
		SessionID: snap.SessionID,
		EventCode: snap.EventCode,
		View:      view,
	}
	if snap.Ticket.ID != 0 {
		ticket := snap.Ticket
		resp.Ticket = &ticket
	}
	if snap.SessionID != "" {
		resp.Channel = ChannelFor(snap.SessionID)
	}
	return resp
}

func (h *Handlers) writeError(c echo.Context, err error) error {
	classified := reconcile.Classify(err)
	body := ErrorBody{
		Kind:      classified.Kind.String(),
		Message:   classified.Message,
		Retryable: classified.Retryable(),
	}

	status := http.StatusBadGateway
	switch classified.Kind {
	case reconcile.KindMissingContext:
		status = http.StatusPreconditionRequired
		body.ReturnToEntry = true
	case reconcile.KindNotFound:
		status = http.StatusNotFound
	case reconcile.KindConflict:
		status = http.StatusConflict
	case reconcile.KindValidation:
		status = http.StatusUnprocessableEntity
	case reconcile.KindTransient:
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, ErrorResponse{Error: body})
}
