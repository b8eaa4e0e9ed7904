package otsapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ogon-project/ogon-sessiond/internal/session"
)

// Handler wraps a Server with the chi-routed HTTP surface ogonsessctl (and
// any other administrative caller) talks to. Grounded on flowpbx-flowpbx's
// internal/api.Server: one router built once in routes(), handlers named
// handleX, a shared envelope{Data,Error} response shape.
type Handler struct {
	router *chi.Mux
	srv    *Server
}

// NewHandler builds the chi router over srv.
func NewHandler(srv *Server) *Handler {
	h := &Handler{router: chi.NewRouter(), srv: srv}
	h.routes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	r := h.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", h.handlePing)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.handleEnumerateSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.handleQuerySessionInformation)
				r.Post("/disconnect", h.handleDisconnectSession)
				r.Post("/logoff", h.handleLogoffSession)
				r.Post("/message", h.handleSendMessage)
				r.Post("/vchannel/open", h.handleVirtualChannelOpen)
				r.Post("/vchannel/close", h.handleVirtualChannelClose)
			})
		})

		r.Route("/connections/{connID}", func(r chi.Router) {
			r.Post("/logon", h.handleLogonConnection)
			r.Post("/logoff", h.handleLogoffConnection)
		})

		r.Route("/remote-control", func(r chi.Router) {
			r.Post("/start", h.handleStartRemoteControl)
			r.Post("/stop", h.handleStopRemoteControl)
		})
	})
}

func pathUint32(r *http.Request, name string) (uint32, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	if err := h.srv.Ping(r.Context(), tokenFromRequest(r)); err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleEnumerateSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := h.srv.EnumerateSessions(r.Context(), tokenFromRequest(r))
	if err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) handleQuerySessionInformation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	info, err := h.srv.QuerySessionInformation(r.Context(), tokenFromRequest(r), id)
	if err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type waitRequest struct {
	Wait bool `json:"wait"`
}

func (h *Handler) handleDisconnectSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req waitRequest
	if r.ContentLength != 0 {
		if msg := readJSON(r, &req); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}
	if err := h.srv.DisconnectSession(r.Context(), tokenFromRequest(r), id, req.Wait); err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleLogoffSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req waitRequest
	if r.ContentLength != 0 {
		if msg := readJSON(r, &req); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}
	if err := h.srv.LogoffSession(r.Context(), tokenFromRequest(r), id, req.Wait); err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type logonConnectionRequest struct {
	User       string `json:"user"`
	Domain     string `json:"domain"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ColorDepth int    `json:"colorDepth"`
	Hostname   string `json:"hostname"`
	Address    string `json:"address"`
}

func (h *Handler) handleLogonConnection(w http.ResponseWriter, r *http.Request) {
	connID, ok := pathUint32(r, "connID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	var req logonConnectionRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ci := session.ClientInfo{
		Width:      req.Width,
		Height:     req.Height,
		ColorDepth: req.ColorDepth,
		Hostname:   req.Hostname,
		Address:    req.Address,
	}
	pipeName, sessionID, err := h.srv.LogonConnection(r.Context(), tokenFromRequest(r), connID, req.User, req.Domain, ci)
	if err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pipeName":  pipeName,
		"sessionId": sessionID,
	})
}

func (h *Handler) handleLogoffConnection(w http.ResponseWriter, r *http.Request) {
	connID, ok := pathUint32(r, "connID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	if err := h.srv.LogoffConnection(r.Context(), tokenFromRequest(r), connID); err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type remoteControlRequest struct {
	ViewerSessionID uint32 `json:"viewerSessionId"`
	TargetSessionID uint32 `json:"targetSessionId"`
}

func (h *Handler) handleStartRemoteControl(w http.ResponseWriter, r *http.Request) {
	var req remoteControlRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := h.srv.StartRemoteControlSession(r.Context(), tokenFromRequest(r), req.ViewerSessionID, req.TargetSessionID); err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleStopRemoteControl(w http.ResponseWriter, r *http.Request) {
	var req remoteControlRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := h.srv.StopRemoteControlSession(r.Context(), tokenFromRequest(r), req.ViewerSessionID, req.TargetSessionID); err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type vchannelOpenRequest struct {
	Name    string `json:"name"`
	Dynamic bool   `json:"dynamic"`
}

func (h *Handler) handleVirtualChannelOpen(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req vchannelOpenRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	pipeName, instance, err := h.srv.VirtualChannelOpen(r.Context(), tokenFromRequest(r), id, req.Name, req.Dynamic)
	if err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pipeName": pipeName,
		"instance": instance,
	})
}

type vchannelCloseRequest struct {
	Instance uint32 `json:"instance"`
}

func (h *Handler) handleVirtualChannelClose(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req vchannelCloseRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	closed, err := h.srv.VirtualChannelClose(r.Context(), tokenFromRequest(r), id, req.Instance)
	if err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"closed": closed})
}

type sendMessageRequest struct {
	Text           string `json:"text"`
	Style          uint32 `json:"style"`
	TimeoutSeconds uint32 `json:"timeoutSeconds"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req sendMessageRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	buttonID, err := h.srv.SendMessage(r.Context(), tokenFromRequest(r), id, req.Text, req.Style, req.TimeoutSeconds)
	if err != nil {
		writeErrFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"buttonId": buttonID})
}
