package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/device"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
)

// Handler adapts Service to HTTP.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	svc     *Service
	limiter *keyedLimiter
	now     func() time.Time
}

func NewHandler(log *slog.Logger, cfg Config, svc *Service) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:     log,
		cfg:     cfg,
		svc:     svc,
		limiter: newKeyedLimiter(cfg.LoginIPMax, cfg.LoginIPWindow),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register wires auth and device routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/validate", h.handleValidate)
	mux.HandleFunc("/auth/sessions", h.handleSessions)

	mux.HandleFunc("/devices/register", h.handleDeviceRegister)
	mux.HandleFunc("/devices/block", h.handleDeviceBlock)
	mux.HandleFunc("/devices/unblock", h.handleDeviceUnblock)
	mux.HandleFunc("/devices/revoke", h.handleDeviceRevoke)
}

// ---- auth ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	client := h.client(r)
	if !h.allowIP(w, r, client) {
		return
	}

	res, err := h.svc.Login(r.Context(), LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   DeviceInput{DeviceID: req.DeviceID, Info: req.DeviceInfo.info(), AppSignature: req.AppSignature},
		Client:   client,
	})
	if err != nil {
		h.writeServiceError(w, r, "auth.login", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.cfg.AllowPublicRegistration {
		writeError(w, http.StatusForbidden, "registration_closed", "registration is disabled")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	client := h.client(r)
	if !h.allowIP(w, r, client) {
		return
	}

	res, err := h.svc.Register(r.Context(), RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   DeviceInput{DeviceID: req.DeviceID, Info: req.DeviceInfo.info(), AppSignature: req.AppSignature},
		Client:   client,
	})
	if err != nil {
		h.writeServiceError(w, r, "auth.register", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoginResponse(res))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" || strings.TrimSpace(req.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken and deviceId are required")
		return
	}

	pair, err := h.svc.Refresh(r.Context(), RefreshInput{
		RefreshToken: req.RefreshToken,
		DeviceID:     req.DeviceID,
		Client:       h.client(r),
	})
	if err != nil {
		h.writeServiceError(w, r, "auth.refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Success: true, Tokens: toTokensResponse(pair)})
}

// handleLogout always answers 200; a malformed body is treated as an unknown token.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.log.DebugContext(r.Context(), "auth.logout.bad_body", "err", err)
	}

	h.svc.Logout(r.Context(), LogoutInput{
		RefreshToken: req.RefreshToken,
		DeviceID:     req.DeviceID,
		Client:       h.client(r),
	})
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	n, err := h.svc.LogoutAll(r.Context(), claims, h.client(r))
	if err != nil {
		h.writeServiceError(w, r, "auth.logout_all", err)
		return
	}
	writeJSON(w, http.StatusOK, revokedResponse{Success: true, Revoked: n})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	claims, verdict := h.svc.Validate(token)
	switch verdict {
	case session.VerdictValid:
		writeJSON(w, http.StatusOK, validateResponse{Success: true, Valid: true, Claims: toClaimsResponse(claims)})
	case session.VerdictExpired:
		writeError(w, http.StatusUnauthorized, "token_expired", "access token expired")
	default:
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid access token")
	}
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	recs, err := h.svc.Sessions(r.Context(), claims.UserID)
	if err != nil {
		h.writeServiceError(w, r, "auth.sessions", err)
		return
	}

	out := sessionsResponse{Success: true, Sessions: make([]sessionView, 0, len(recs))}
	for _, rec := range recs {
		out.Sessions = append(out.Sessions, sessionView{
			DeviceID:    rec.DeviceID,
			DeviceInfo:  toDeviceInfoJSON(rec.DeviceInfo),
			TokenFamily: rec.TokenFamily,
			CreatedAt:   rec.CreatedAt,
			LastUsedAt:  rec.LastUsedAt,
			ExpiresAt:   rec.ExpiresAt,
			Current:     rec.DeviceID == claims.DeviceID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- devices ----

func (h *Handler) handleDeviceRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req deviceRegisterRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if !h.allowIP(w, r, h.client(r)) {
		return
	}

	d, created, err := h.svc.RegisterDevice(r.Context(), DeviceInput{
		DeviceID:     req.DeviceID,
		Info:         req.DeviceInfo.info(),
		AppSignature: req.AppSignature,
	})
	if err != nil {
		h.writeServiceError(w, r, "device.register", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, deviceResponse{Success: true, Device: deviceView{
		DeviceID:          d.ID,
		DeviceInfo:        toDeviceInfoJSON(d.Info),
		TrustScore:        d.TrustScore,
		SignatureVerified: d.SignatureVerified,
		Created:           created,
	}})
}

func (h *Handler) handleDeviceBlock(w http.ResponseWriter, r *http.Request) {
	claims, req, ok := h.adminDeviceRequest(w, r)
	if !ok {
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "admin"
	}
	n, err := h.svc.BlockDevice(r.Context(), claims, req.DeviceID, reason, h.client(r))
	if err != nil {
		h.writeServiceError(w, r, "device.block", err)
		return
	}
	writeJSON(w, http.StatusOK, revokedResponse{Success: true, Revoked: n})
}

func (h *Handler) handleDeviceUnblock(w http.ResponseWriter, r *http.Request) {
	claims, req, ok := h.adminDeviceRequest(w, r)
	if !ok {
		return
	}
	if err := h.svc.UnblockDevice(r.Context(), claims, req.DeviceID, h.client(r)); err != nil {
		h.writeServiceError(w, r, "device.unblock", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleDeviceRevoke(w http.ResponseWriter, r *http.Request) {
	claims, req, ok := h.adminDeviceRequest(w, r)
	if !ok {
		return
	}
	n, err := h.svc.RevokeDevice(r.Context(), claims, req.DeviceID, h.client(r))
	if err != nil {
		h.writeServiceError(w, r, "device.revoke", err)
		return
	}
	writeJSON(w, http.StatusOK, revokedResponse{Success: true, Revoked: n})
}

func (h *Handler) adminDeviceRequest(w http.ResponseWriter, r *http.Request) (session.AccessClaims, deviceAdminRequest, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return session.AccessClaims{}, deviceAdminRequest{}, false
	}
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return session.AccessClaims{}, deviceAdminRequest{}, false
	}
	if claims.Role != h.cfg.AdminRole {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return session.AccessClaims{}, deviceAdminRequest{}, false
	}

	var req deviceAdminRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return session.AccessClaims{}, deviceAdminRequest{}, false
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "deviceId is required")
		return session.AccessClaims{}, deviceAdminRequest{}, false
	}
	return claims, req, true
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, verdict := h.svc.Validate(token)
	switch verdict {
	case session.VerdictValid:
		return claims, true
	case session.VerdictExpired:
		writeError(w, http.StatusUnauthorized, "token_expired", "access token expired")
	default:
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
	}
	return session.AccessClaims{}, false
}

func (h *Handler) allowIP(w http.ResponseWriter, r *http.Request, c Client) bool {
	ok, retry := h.limiter.Allow(c.IP, h.now())
	if ok {
		return true
	}
	h.svc.record(r.Context(), h.now(), AuditLoginRateLimited, "", "", c, map[string]any{
		"path":          r.URL.Path,
		"retry_after_s": int64(retry.Seconds()),
	})
	writeRateLimited(w, retry)
	return false
}

// writeServiceError maps Service errors onto status codes. Device mismatch is
// deliberately reported exactly like an invalid refresh token.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	case errors.Is(err, ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", "password does not meet policy")
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", "email already registered")
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, ErrAccountLocked):
		writeError(w, http.StatusLocked, "account_locked", "account temporarily locked")
	case errors.Is(err, ErrInvalidRefreshToken), errors.Is(err, ErrDeviceMismatch):
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "invalid refresh token")
	case errors.Is(err, ErrDeviceUnauthorized):
		writeError(w, http.StatusForbidden, "device_unauthorized", "device not authorized")
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, "user_not_found", "user not found")
	case errors.Is(err, device.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "device_not_found", "device not found")
	default:
		h.log.ErrorContext(r.Context(), op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) client(r *http.Request) Client {
	c := Client{UserAgent: strings.TrimSpace(r.UserAgent())}
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		c.IP = ip.String()
	}
	return c
}

func toLoginResponse(res LoginResult) loginResponse {
	return loginResponse{
		Success:  true,
		Tokens:   toTokensResponse(res.Tokens),
		User:     userResponse{ID: res.User.ID, Email: res.User.Email, Role: res.User.Role},
		DeviceID: res.Device.ID,
	}
}

func toClaimsResponse(c session.AccessClaims) claimsResponse {
	return claimsResponse{UserID: c.UserID, Role: c.Role, Email: c.Email, DeviceID: c.DeviceID, ExpiresAt: c.ExpiresAt}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
