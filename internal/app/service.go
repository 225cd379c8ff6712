package app

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"rfphub/api/internal/auth"
	"rfphub/api/internal/authpw"
	"rfphub/api/internal/config"
	"rfphub/api/internal/email"
	"rfphub/api/internal/export"
	"rfphub/api/internal/gitmirror"
	"rfphub/api/internal/llm"
	"rfphub/api/internal/ratelimit"
	"rfphub/api/internal/rbac"
	"rfphub/api/internal/search"
	"rfphub/api/internal/store"
	"rfphub/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	Groups       []string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	RolesForGroups(context.Context, []string) ([]string, error)

	ListTemplates(context.Context) ([]store.Template, error)
	GetTemplate(context.Context, string) (store.Template, error)
	InsertTemplate(context.Context, store.Template) error
	UpdateTemplate(context.Context, string, string, string, string) (bool, error)
	DeleteTemplate(context.Context, string) (bool, error)

	ListCustomers(context.Context) ([]store.CustomerProfile, error)
	GetCustomer(context.Context, string) (store.CustomerProfile, error)
	InsertCustomer(context.Context, store.CustomerProfile) error
	UpdateCustomer(context.Context, store.CustomerProfile) (bool, error)
	DeleteCustomer(context.Context, string) (bool, error)

	ListSkills(context.Context) ([]store.Skill, error)
	GetSkill(context.Context, string) (store.Skill, error)
	InsertSkill(context.Context, store.Skill) error
	UpdateSkill(context.Context, string, string, string, []string, int) (bool, error)
	DeleteSkill(context.Context, string) (bool, error)

	ListPresets(context.Context) ([]store.InstructionPreset, error)
	GetPreset(context.Context, string) (store.InstructionPreset, error)
	InsertPreset(context.Context, store.InstructionPreset) error
	UpdatePreset(context.Context, string, string, string) (bool, error)
	DeletePreset(context.Context, string) (bool, error)

	ListCollateral(context.Context, string, string, int) ([]store.CollateralOutput, error)
	GetCollateral(context.Context, string) (store.CollateralOutput, error)
	InsertCollateral(context.Context, store.CollateralOutput) error
	UpdateCollateralStatus(context.Context, string, string, string) (bool, error)
	FlagCollateral(context.Context, string, string) (bool, error)
	ResolveCollateralFlag(context.Context, string) (bool, error)
	MarkCollateralReviewed(context.Context, string, string, string) (bool, error)
	FinishCollateralReview(context.Context, string, string, string, string, *string) (bool, error)
	DeleteCollateral(context.Context, string) (bool, error)
	CollateralStatusCounts(context.Context) (map[string]int, error)

	ListAuthGroupMappings(context.Context) ([]store.AuthGroupMapping, error)
	InsertAuthGroupMapping(context.Context, store.AuthGroupMapping) error
	DeleteAuthGroupMapping(context.Context, string) (bool, error)

	InsertAuditEvent(context.Context, store.AuditEvent) error
	ListAuditEvents(context.Context, string, string, int) ([]store.AuditEvent, error)

	InsertUpload(context.Context, store.Upload) error
	ListUploads(context.Context) ([]store.Upload, error)
	GetUpload(context.Context, string) (store.Upload, error)
	DeleteUpload(context.Context, string) (bool, error)

	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions. Redis when available, Postgres
// otherwise.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type mirrorService interface {
	Mirror(gitmirror.Kind, string, string, string, string) (store.CommitInfo, error)
	Remove(gitmirror.Kind, string, string) error
	History(gitmirror.Kind, string, int) ([]store.CommitInfo, error)
	ContentAt(gitmirror.Kind, string, string) (string, error)
}

type searchService interface {
	Search(search.Query) (search.Response, error)
	Engine() string
	IndexSkill(search.SkillRecord)
	IndexTemplate(search.TemplateRecord)
	IndexCustomer(search.CustomerRecord)
	DeleteSkill(string)
	DeleteTemplate(string)
	DeleteCustomer(string)
}

type objectStorage interface {
	Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	PresignedGetURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, objectKey string) error
}

type drafter interface {
	Draft(ctx context.Context, req llm.DraftRequest) (string, error)
}

type collateralExporter interface {
	ExportCollateral(output store.CollateralOutput, customerName string) (*export.Result, error)
}

// Deps bundles the collaborators the service needs. Optional services
// may be nil; the relevant endpoints degrade or return 503.
type Deps struct {
	Store    dataStore
	Sessions sessionStore
	Mirror   mirrorService
	Search   searchService
	Limiter  *ratelimit.Limiter
	LLM      drafter
	Storage  objectStorage
	Exporter collateralExporter
	Email    *email.Service
	Auth     *authpw.Service
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	mirror   mirrorService
	search   searchService
	limiter  *ratelimit.Limiter
	llm      drafter
	storage  objectStorage
	exporter collateralExporter
	email    *email.Service
	authpw   *authpw.Service
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		mirror:   deps.Mirror,
		search:   deps.Search,
		limiter:  deps.Limiter,
		llm:      deps.LLM,
		storage:  deps.Storage,
		exporter: deps.Exporter,
		email:    deps.Email,
		authpw:   deps.Auth,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email.IsConfigured()
}

// SendVerificationEmail delivers the signup verification link.
// Best-effort: callers fall back to the dev token flow when email is
// not configured.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.email.IsConfigured() {
		return
	}
	url := s.cfg.PublicBaseURL + "/verify-email?token=" + token
	go func() {
		if err := s.email.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf("email: send verification to %s: %v", to, err)
		}
	}()
}

// AllowAuthAttempt applies the per-IP signin/signup limit.
func (s *Service) AllowAuthAttempt(ctx context.Context, remoteIP string) bool {
	ok, err := s.limiter.Allow(ctx, "auth:"+remoteIP, s.cfg.AuthLimitPerMinute, time.Minute)
	if err != nil {
		log.Printf("ratelimit: auth check: %v", err)
		return true
	}
	return ok
}

// AllowDraft applies the per-user draft generation limit.
func (s *Service) AllowDraft(ctx context.Context, userID string) bool {
	ok, err := s.limiter.Allow(ctx, "draft:"+userID, s.cfg.DraftLimitPerHour, time.Hour)
	if err != nil {
		log.Printf("ratelimit: draft check: %v", err)
		return true
	}
	return ok
}

// CreateSession issues access and refresh tokens for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	sessionUser, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Re-load so role and group changes take effect on rotation.
	user, err := s.store.GetUserByID(ctx, sessionUser.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	role := s.resolveRole(ctx, user)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		Role:   role,
		Groups: user.Groups,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         role,
		Groups:       user.Groups,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// resolveRole combines the user's own role with roles mapped from
// identity-provider groups, picking the most privileged.
func (s *Service) resolveRole(ctx context.Context, user store.User) string {
	base := rbac.Normalize(user.Role)
	if len(user.Groups) == 0 {
		return string(base)
	}
	mapped, err := s.store.RolesForGroups(ctx, user.Groups)
	if err != nil {
		log.Printf("rbac: roles for groups: %v", err)
		return string(base)
	}
	return string(rbac.Strongest(mapped, base))
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		Groups:    claims.Groups,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// audit records an event. Failures are logged, never surfaced: audit
// must not fail the operation it describes.
func (s *Service) audit(ctx context.Context, session Session, action, entityType, entityID string, payload map[string]any) {
	err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		ActorID:    session.UserID,
		ActorName:  session.UserName,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	})
	if err != nil {
		log.Printf("audit: record %s %s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) ListAuditEvents(ctx context.Context, actor, entityType string, limit int) ([]map[string]any, error) {
	events, err := s.store.ListAuditEvents(ctx, actor, entityType, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(events))
	for _, event := range events {
		items = append(items, map[string]any{
			"id":         event.ID,
			"actorId":    event.ActorID,
			"actorName":  event.ActorName,
			"action":     event.Action,
			"entityType": event.EntityType,
			"entityId":   event.EntityID,
			"payload":    event.Payload,
			"createdAt":  event.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) ListAuthGroupMappings(ctx context.Context) ([]map[string]any, error) {
	mappings, err := s.store.ListAuthGroupMappings(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(mappings))
	for _, mapping := range mappings {
		items = append(items, map[string]any{
			"id":        mapping.ID,
			"groupName": mapping.GroupName,
			"role":      mapping.Role,
			"createdBy": mapping.CreatedBy,
			"createdAt": mapping.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) CreateAuthGroupMapping(ctx context.Context, session Session, groupName, role string) (map[string]any, error) {
	if groupName == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "groupName is required", nil)
	}
	normalized := rbac.Normalize(role)
	if string(normalized) != role {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "role must be viewer, contributor, reviewer, or admin", nil)
	}
	mapping := store.AuthGroupMapping{
		ID:        util.NewID("agm"),
		GroupName: groupName,
		Role:      role,
		CreatedBy: session.UserName,
	}
	if err := s.store.InsertAuthGroupMapping(ctx, mapping); err != nil {
		return nil, err
	}
	s.audit(ctx, session, "auth_group.create", "auth_group", mapping.ID, map[string]any{"groupName": groupName, "role": role})
	return map[string]any{
		"id":        mapping.ID,
		"groupName": mapping.GroupName,
		"role":      mapping.Role,
	}, nil
}

func (s *Service) DeleteAuthGroupMapping(ctx context.Context, session Session, mappingID string) error {
	found, err := s.store.DeleteAuthGroupMapping(ctx, mappingID)
	if err != nil {
		return err
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Group mapping not found", nil)
	}
	s.audit(ctx, session, "auth_group.delete", "auth_group", mappingID, nil)
	return nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (map[string]any, error) {
	resp, err := s.search.Search(q)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
		"engine":  s.search.Engine(),
	}, nil
}
