package app

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rfphub/api/internal/auth"
	"rfphub/api/internal/authpw"
	"rfphub/api/internal/export"
	"rfphub/api/internal/rbac"
	"rfphub/api/internal/search"
	"rfphub/api/internal/util"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) http.Handler {
	h := &Handler{svc: svc}
	origin := svc.cfg.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	return withMiddleware(h, origin)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 0 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
		return
	}
	parts = parts[1:]
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
		return
	}

	switch parts[0] {
	case "health":
		h.handleHealth(w, r)
	case "ready":
		h.handleReady(w, r)
	case "auth":
		h.dispatchAuth(w, r, parts[1:])
	case "session":
		h.dispatchSession(w, r, parts[1:])
	case "templates":
		h.dispatchTemplates(w, r, parts[1:])
	case "customers":
		h.dispatchCustomers(w, r, parts[1:])
	case "skills":
		h.dispatchSkills(w, r, parts[1:])
	case "instruction-presets":
		h.dispatchPresets(w, r, parts[1:])
	case "collateral":
		h.dispatchCollateral(w, r, parts[1:])
	case "auth-groups":
		h.dispatchAuthGroups(w, r, parts[1:])
	case "audit":
		h.handleAudit(w, r, parts[1:])
	case "uploads":
		h.dispatchUploads(w, r, parts[1:])
	case "search":
		h.handleSearch(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

// --- Health ---

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Database is unreachable", nil)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- Auth ---

func (h *Handler) dispatchAuth(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
		return
	}
	if !h.svc.AllowAuthAttempt(r.Context(), remoteIP(r)) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many authentication attempts, slow down", nil)
		return
	}
	switch parts[0] {
	case "signup":
		h.handleSignUp(w, r)
	case "signin":
		h.handleSignIn(w, r)
	case "verify-email":
		h.handleVerifyEmail(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string   `json:"email"`
		Password    string   `json:"password"`
		DisplayName string   `json:"displayName"`
		Groups      []string `json:"groups"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	resp, err := h.svc.AuthPasswordService().SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		Groups:      body.Groups,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	data := map[string]any{
		"userId":              resp.UserID,
		"requiresEmailVerify": resp.RequiresEmailVerify,
	}
	if h.svc.SMTPConfigured() {
		h.svc.SendVerificationEmail(body.Email, body.DisplayName, resp.VerificationToken)
	} else {
		// Without SMTP the token is handed back so local setups can
		// complete verification by hand.
		data["devVerificationToken"] = resp.VerificationToken
	}
	writeData(w, http.StatusCreated, data)
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	resp, err := h.svc.AuthPasswordService().SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
		return
	}
	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Verify your email address before signing in", nil)
		return
	}

	session, err := h.svc.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	writeData(w, http.StatusOK, sessionView(session))
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.svc.AuthPasswordService().VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"verified": true})
}

// --- Session ---

func (h *Handler) dispatchSession(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		session, ok := h.requireSession(w, r)
		if !ok {
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"userId":    session.UserID,
			"userName":  session.UserName,
			"role":      session.Role,
			"groups":    session.Groups,
			"expiresAt": session.ExpiresAt,
		})
	case len(parts) == 1 && parts[0] == "refresh" && r.Method == http.MethodPost:
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		session, err := h.svc.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired refresh token", nil)
			return
		}
		writeData(w, http.StatusOK, sessionView(session))
	case len(parts) == 1 && parts[0] == "logout" && r.Method == http.MethodPost:
		session, ok := h.requireSession(w, r)
		if !ok {
			return
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		// Body is optional on logout.
		_ = json.NewDecoder(r.Body).Decode(&body)
		if err := h.svc.Logout(r.Context(), session, body.RefreshToken); err != nil {
			h.writeMappedError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"loggedOut": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

// --- Templates ---

func (h *Handler) dispatchTemplates(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		items, err := h.svc.ListTemplates(ctx)
		h.respond(w, http.StatusOK, items, err)
	case len(parts) == 0 && r.Method == http.MethodPost:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		var input TemplateInput
		if !decodeBody(w, r, &input) {
			return
		}
		item, err := h.svc.CreateTemplate(ctx, session, input)
		h.respond(w, http.StatusCreated, item, err)
	case len(parts) == 1 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		item, err := h.svc.GetTemplate(ctx, parts[0])
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 1 && r.Method == http.MethodPut:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		var input TemplateInput
		if !decodeBody(w, r, &input) {
			return
		}
		item, err := h.svc.UpdateTemplate(ctx, session, parts[0], input)
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		if err := h.svc.DeleteTemplate(ctx, session, parts[0]); err != nil {
			h.writeMappedError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"deleted": true})
	case len(parts) == 2 && parts[1] == "placeholders" && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		item, err := h.svc.TemplatePlaceholders(ctx, parts[0])
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		items, err := h.svc.TemplateHistory(ctx, parts[0], queryInt(r, "limit", 50))
		h.respond(w, http.StatusOK, items, err)
	case len(parts) == 3 && parts[1] == "history" && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		item, err := h.svc.TemplateVersion(ctx, parts[0], parts[2])
		h.respond(w, http.StatusOK, item, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

// --- Customers ---

func (h *Handler) dispatchCustomers(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		items, err := h.svc.ListCustomers(ctx)
		h.respond(w, http.StatusOK, items, err)
	case len(parts) == 0 && r.Method == http.MethodPost:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		var input CustomerInput
		if !decodeBody(w, r, &input) {
			return
		}
		item, err := h.svc.CreateCustomer(ctx, session, input)
		h.respond(w, http.StatusCreated, item, err)
	case len(parts) == 1 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		item, err := h.svc.GetCustomer(ctx, parts[0])
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 1 && r.Method == http.MethodPut:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		var input CustomerInput
		if !decodeBody(w, r, &input) {
			return
		}
		item, err := h.svc.UpdateCustomer(ctx, session, parts[0], input)
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		if err := h.svc.DeleteCustomer(ctx, session, parts[0]); err != nil {
			h.writeMappedError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"deleted": true})
	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		items, err := h.svc.CustomerHistory(ctx, parts[0], queryInt(r, "limit", 50))
		h.respond(w, http.StatusOK, items, err)
	case len(parts) == 3 && parts[1] == "history" && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		item, err := h.svc.CustomerVersion(ctx, parts[0], parts[2])
		h.respond(w, http.StatusOK, item, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

// --- Skills ---

func (h *Handler) dispatchSkills(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		items, err := h.svc.ListSkills(ctx)
		h.respond(w, http.StatusOK, items, err)
	case len(parts) == 0 && r.Method == http.MethodPost:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		var input SkillInput
		if !decodeBody(w, r, &input) {
			return
		}
		item, err := h.svc.CreateSkill(ctx, session, input)
		h.respond(w, http.StatusCreated, item, err)
	case len(parts) == 1 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		item, err := h.svc.GetSkill(ctx, parts[0])
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 1 && r.Method == http.MethodPut:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		var input SkillInput
		if !decodeBody(w, r, &input) {
			return
		}
		item, err := h.svc.UpdateSkill(ctx, session, parts[0], input)
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		if err := h.svc.DeleteSkill(ctx, session, parts[0]); err != nil {
			h.writeMappedError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"deleted": true})
	case len(parts) == 2 && parts[1] == "merge" && r.Method == http.MethodPost:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		item, err := h.svc.MergeSkill(ctx, session, parts[0], body.Content)
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 2 && parts[1] == "diff" && r.Method == http.MethodPost:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		item, err := h.svc.DiffSkill(ctx, parts[0], body.Content)
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		items, err := h.svc.SkillHistory(ctx, parts[0], queryInt(r, "limit", 50))
		h.respond(w, http.StatusOK, items, err)
	case len(parts) == 3 && parts[1] == "history" && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		item, err := h.svc.SkillVersion(ctx, parts[0], parts[2])
		h.respond(w, http.StatusOK, item, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

// --- Instruction presets ---

func (h *Handler) dispatchPresets(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		items, err := h.svc.ListPresets(ctx)
		h.respond(w, http.StatusOK, items, err)
	case len(parts) == 0 && r.Method == http.MethodPost:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		var input PresetInput
		if !decodeBody(w, r, &input) {
			return
		}
		item, err := h.svc.CreatePreset(ctx, session, input)
		h.respond(w, http.StatusCreated, item, err)
	case len(parts) == 1 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		item, err := h.svc.GetPreset(ctx, parts[0])
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 1 && r.Method == http.MethodPut:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		var input PresetInput
		if !decodeBody(w, r, &input) {
			return
		}
		item, err := h.svc.UpdatePreset(ctx, session, parts[0], input)
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		if err := h.svc.DeletePreset(ctx, session, parts[0]); err != nil {
			h.writeMappedError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

// --- Collateral ---

func (h *Handler) dispatchCollateral(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		items, err := h.svc.ListCollateral(ctx, r.URL.Query().Get("customerId"), r.URL.Query().Get("status"), queryInt(r, "limit", 100))
		h.respond(w, http.StatusOK, items, err)
	case len(parts) == 0 && r.Method == http.MethodPost:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		if !h.svc.AllowDraft(ctx, session.UserID) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Draft generation limit reached, try again later", nil)
			return
		}
		var input GenerateInput
		if !decodeBody(w, r, &input) {
			return
		}
		item, err := h.svc.GenerateCollateral(ctx, session, input)
		h.respond(w, http.StatusCreated, item, err)
	case len(parts) == 1 && parts[0] == "status-counts" && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		counts, err := h.svc.CollateralStatusCounts(ctx)
		h.respond(w, http.StatusOK, counts, err)
	case len(parts) == 1 && parts[0] == "bulk-review" && r.Method == http.MethodPost:
		session, ok := h.requireRole(w, r, rbac.ActionReview)
		if !ok {
			return
		}
		var body struct {
			IDs    []string `json:"ids"`
			Status string   `json:"status"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		results, err := h.svc.BulkReview(ctx, session, body.IDs, body.Status)
		h.respond(w, http.StatusOK, results, err)
	case len(parts) == 1 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		item, err := h.svc.GetCollateral(ctx, parts[0])
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		if err := h.svc.DeleteCollateral(ctx, session, parts[0]); err != nil {
			h.writeMappedError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"deleted": true})
	case len(parts) == 2 && r.Method == http.MethodPost:
		h.dispatchCollateralAction(w, r, parts[0], parts[1])
	case len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodGet:
		h.handleCollateralExport(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

func (h *Handler) dispatchCollateralAction(w http.ResponseWriter, r *http.Request, id, action string) {
	ctx := r.Context()

	var body struct {
		Note string  `json:"note"`
		Body *string `json:"body"`
	}
	// Note and body are optional on every action.
	_ = json.NewDecoder(r.Body).Decode(&body)

	var (
		item map[string]any
		err  error
	)
	switch action {
	case "flag":
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		item, err = h.svc.FlagCollateral(ctx, session, id, body.Note)
	case "resolve":
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		item, err = h.svc.ResolveCollateralFlag(ctx, session, id)
	case "queue":
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		item, err = h.svc.QueueCollateral(ctx, session, id)
	case "review":
		session, ok := h.requireRole(w, r, rbac.ActionReview)
		if !ok {
			return
		}
		item, err = h.svc.ReviewCollateral(ctx, session, id, body.Note)
	case "approve":
		session, ok := h.requireRole(w, r, rbac.ActionReview)
		if !ok {
			return
		}
		item, err = h.svc.ApproveCollateral(ctx, session, id, body.Note)
	case "correct":
		session, ok := h.requireRole(w, r, rbac.ActionReview)
		if !ok {
			return
		}
		item, err = h.svc.CorrectCollateral(ctx, session, id, body.Note, body.Body)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
		return
	}
	h.respond(w, http.StatusOK, item, err)
}

func (h *Handler) handleCollateralExport(w http.ResponseWriter, r *http.Request, id string) {
	session, ok := h.requireRole(w, r, rbac.ActionRead)
	if !ok {
		return
	}
	result, err := h.svc.ExportCollateral(r.Context(), session, id)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF rendering is not available on this server", nil)
			return
		}
		h.writeMappedError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// --- Auth group mappings (admin) ---

func (h *Handler) dispatchAuthGroups(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionAdmin); !ok {
			return
		}
		items, err := h.svc.ListAuthGroupMappings(ctx)
		h.respond(w, http.StatusOK, items, err)
	case len(parts) == 0 && r.Method == http.MethodPost:
		session, ok := h.requireRole(w, r, rbac.ActionAdmin)
		if !ok {
			return
		}
		var body struct {
			GroupName string `json:"groupName"`
			Role      string `json:"role"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		item, err := h.svc.CreateAuthGroupMapping(ctx, session, body.GroupName, body.Role)
		h.respond(w, http.StatusCreated, item, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		session, ok := h.requireRole(w, r, rbac.ActionAdmin)
		if !ok {
			return
		}
		if err := h.svc.DeleteAuthGroupMapping(ctx, session, parts[0]); err != nil {
			h.writeMappedError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

// --- Audit log (admin) ---

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
		return
	}
	if _, ok := h.requireRole(w, r, rbac.ActionAdmin); !ok {
		return
	}
	items, err := h.svc.ListAuditEvents(r.Context(), r.URL.Query().Get("actor"), r.URL.Query().Get("entityType"), queryInt(r, "limit", 100))
	h.respond(w, http.StatusOK, items, err)
}

// --- Uploads ---

func (h *Handler) dispatchUploads(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		items, err := h.svc.ListUploads(ctx)
		h.respond(w, http.StatusOK, items, err)
	case len(parts) == 0 && r.Method == http.MethodPost:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Expected multipart form with a file field", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing file field", nil)
			return
		}
		defer file.Close()
		item, err := h.svc.CreateUpload(ctx, session, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
		h.respond(w, http.StatusCreated, item, err)
	case len(parts) == 1 && r.Method == http.MethodGet:
		if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
			return
		}
		item, err := h.svc.UploadDownloadURL(ctx, parts[0])
		h.respond(w, http.StatusOK, item, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		session, ok := h.requireRole(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		if err := h.svc.DeleteUpload(ctx, session, parts[0]); err != nil {
			h.writeMappedError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

// --- Search ---

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
		return
	}
	if _, ok := h.requireRole(w, r, rbac.ActionRead); !ok {
		return
	}
	q := search.Query{
		Text:       r.URL.Query().Get("q"),
		FilterType: search.ResultType(r.URL.Query().Get("type")),
		Limit:      queryInt(r, "limit", 20),
		Offset:     queryInt(r, "offset", 0),
	}
	if strings.TrimSpace(q.Text) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	result, err := h.svc.Search(r.Context(), q)
	h.respond(w, http.StatusOK, result, err)
}

// --- Session helpers ---

func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token", nil)
		return Session{}, false
	}
	session, err := h.svc.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
		return Session{}, false
	}
	return session, true
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, action rbac.Action) (Session, bool) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return Session{}, false
	}
	if !h.svc.Can(session.Role, action) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Your role does not allow this action", nil)
		return Session{}, false
	}
	return session, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any, err error) {
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	writeData(w, status, data)
}

func (h *Handler) writeMappedError(w http.ResponseWriter, err error) {
	var derr *DomainError
	switch {
	case errors.As(err, &derr):
		writeError(w, derr.Status, derr.Code, derr.Message, derr.Details)
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
	default:
		log.Printf("http: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Something went wrong", nil)
	}
}

func sessionView(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"groups":       session.Groups,
		"expiresAt":    session.ExpiresAt,
	}
}

// --- Middleware ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func withMiddleware(next http.Handler, corsOrigin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		w.Header().Set("X-Request-ID", requestID)
		setCORSHeaders(w, corsOrigin)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := map[string]any{
			"ts":        time.Now().UTC().Format(time.RFC3339Nano),
			"level":     "info",
			"requestId": requestID,
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    rec.status,
			"durMs":     time.Since(start).Milliseconds(),
		}
		line, _ := json.Marshal(entry)
		log.Println(string(line))
	})
}

func setCORSHeaders(w http.ResponseWriter, origin string) {
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
}

// --- Small helpers ---

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	body := map[string]any{
		"error": message,
		"code":  code,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func splitPath(p string) []string {
	parts := make([]string, 0, 6)
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if i := strings.Index(forwarded, ","); i > 0 {
			return strings.TrimSpace(forwarded[:i])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
