package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"rfphub/api/internal/config"
	"rfphub/api/internal/export"
	"rfphub/api/internal/gitmirror"
	"rfphub/api/internal/llm"
	"rfphub/api/internal/review"
	"rfphub/api/internal/search"
	"rfphub/api/internal/store"
)

// --- Fakes ---

type fakeStore struct {
	users      map[string]store.User
	templates  map[string]store.Template
	customers  map[string]store.CustomerProfile
	skills     map[string]store.Skill
	presets    map[string]store.InstructionPreset
	collateral map[string]store.CollateralOutput
	mappings   map[string]store.AuthGroupMapping
	uploads    map[string]store.Upload
	audits     []store.AuditEvent
	revoked    map[string]bool
	groupRoles map[string]string

	beforeUpdateSkill func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[string]store.User),
		templates:  make(map[string]store.Template),
		customers:  make(map[string]store.CustomerProfile),
		skills:     make(map[string]store.Skill),
		presets:    make(map[string]store.InstructionPreset),
		collateral: make(map[string]store.CollateralOutput),
		mappings:   make(map[string]store.AuthGroupMapping),
		uploads:    make(map[string]store.Upload),
		revoked:    make(map[string]bool),
		groupRoles: make(map[string]string),
	}
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

func (f *fakeStore) RolesForGroups(_ context.Context, groups []string) ([]string, error) {
	roles := make([]string, 0)
	for _, group := range groups {
		if role, ok := f.groupRoles[group]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (f *fakeStore) ListTemplates(context.Context) ([]store.Template, error) {
	items := make([]store.Template, 0, len(f.templates))
	for _, item := range f.templates {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetTemplate(_ context.Context, id string) (store.Template, error) {
	item, ok := f.templates[id]
	if !ok {
		return store.Template{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) InsertTemplate(_ context.Context, item store.Template) error {
	f.templates[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateTemplate(_ context.Context, id, name, description, body string) (bool, error) {
	item, ok := f.templates[id]
	if !ok {
		return false, nil
	}
	item.Name, item.Description, item.Body = name, description, body
	f.templates[id] = item
	return true, nil
}

func (f *fakeStore) DeleteTemplate(_ context.Context, id string) (bool, error) {
	_, ok := f.templates[id]
	delete(f.templates, id)
	return ok, nil
}

func (f *fakeStore) ListCustomers(context.Context) ([]store.CustomerProfile, error) {
	items := make([]store.CustomerProfile, 0, len(f.customers))
	for _, item := range f.customers {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetCustomer(_ context.Context, id string) (store.CustomerProfile, error) {
	item, ok := f.customers[id]
	if !ok {
		return store.CustomerProfile{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) InsertCustomer(_ context.Context, item store.CustomerProfile) error {
	f.customers[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateCustomer(_ context.Context, item store.CustomerProfile) (bool, error) {
	current, ok := f.customers[item.ID]
	if !ok {
		return false, nil
	}
	current.Name, current.Industry, current.Region = item.Name, item.Industry, item.Region
	current.Summary, current.Fields = item.Summary, item.Fields
	f.customers[item.ID] = current
	return true, nil
}

func (f *fakeStore) DeleteCustomer(_ context.Context, id string) (bool, error) {
	_, ok := f.customers[id]
	delete(f.customers, id)
	return ok, nil
}

func (f *fakeStore) ListSkills(context.Context) ([]store.Skill, error) {
	items := make([]store.Skill, 0, len(f.skills))
	for _, item := range f.skills {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetSkill(_ context.Context, id string) (store.Skill, error) {
	item, ok := f.skills[id]
	if !ok {
		return store.Skill{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) InsertSkill(_ context.Context, item store.Skill) error {
	f.skills[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateSkill(_ context.Context, id, name, content string, tags []string, version int) (bool, error) {
	if f.beforeUpdateSkill != nil {
		f.beforeUpdateSkill()
	}
	item, ok := f.skills[id]
	if !ok {
		return false, nil
	}
	item.Name, item.Content, item.Tags, item.Version = name, content, tags, version
	f.skills[id] = item
	return true, nil
}

func (f *fakeStore) DeleteSkill(_ context.Context, id string) (bool, error) {
	_, ok := f.skills[id]
	delete(f.skills, id)
	return ok, nil
}

func (f *fakeStore) ListPresets(context.Context) ([]store.InstructionPreset, error) {
	items := make([]store.InstructionPreset, 0, len(f.presets))
	for _, item := range f.presets {
		items = append(items, item)
	}
	return items, nil
}

func (f *fakeStore) GetPreset(_ context.Context, id string) (store.InstructionPreset, error) {
	item, ok := f.presets[id]
	if !ok {
		return store.InstructionPreset{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) InsertPreset(_ context.Context, item store.InstructionPreset) error {
	f.presets[item.ID] = item
	return nil
}

func (f *fakeStore) UpdatePreset(_ context.Context, id, name, instructions string) (bool, error) {
	item, ok := f.presets[id]
	if !ok {
		return false, nil
	}
	item.Name, item.Instructions = name, instructions
	f.presets[id] = item
	return true, nil
}

func (f *fakeStore) DeletePreset(_ context.Context, id string) (bool, error) {
	_, ok := f.presets[id]
	delete(f.presets, id)
	return ok, nil
}

func (f *fakeStore) ListCollateral(_ context.Context, customerID, status string, _ int) ([]store.CollateralOutput, error) {
	items := make([]store.CollateralOutput, 0)
	for _, item := range f.collateral {
		if customerID != "" && item.CustomerID != customerID {
			continue
		}
		if status != "" && item.ReviewStatus != status {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetCollateral(_ context.Context, id string) (store.CollateralOutput, error) {
	item, ok := f.collateral[id]
	if !ok {
		return store.CollateralOutput{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) InsertCollateral(_ context.Context, item store.CollateralOutput) error {
	f.collateral[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateCollateralStatus(_ context.Context, id, from, to string) (bool, error) {
	item, ok := f.collateral[id]
	if !ok || item.ReviewStatus != from {
		return false, nil
	}
	item.ReviewStatus = to
	f.collateral[id] = item
	return true, nil
}

func (f *fakeStore) FlagCollateral(_ context.Context, id, note string) (bool, error) {
	item, ok := f.collateral[id]
	if !ok || item.ReviewStatus != review.StatusPending {
		return false, nil
	}
	item.ReviewStatus = review.StatusFlagged
	item.Flagged = true
	item.FlagNote = note
	item.Resolved = false
	f.collateral[id] = item
	return true, nil
}

func (f *fakeStore) ResolveCollateralFlag(_ context.Context, id string) (bool, error) {
	item, ok := f.collateral[id]
	if !ok || item.ReviewStatus != review.StatusFlagged {
		return false, nil
	}
	item.ReviewStatus = review.StatusQueued
	item.Resolved = true
	f.collateral[id] = item
	return true, nil
}

func (f *fakeStore) MarkCollateralReviewed(_ context.Context, id, reviewedBy, note string) (bool, error) {
	item, ok := f.collateral[id]
	if !ok || (item.ReviewStatus != review.StatusQueued && item.ReviewStatus != review.StatusFlagged) {
		return false, nil
	}
	now := time.Now()
	item.ReviewStatus = review.StatusReviewed
	item.ReviewedBy = reviewedBy
	item.ReviewNote = note
	item.ReviewedAt = &now
	f.collateral[id] = item
	return true, nil
}

func (f *fakeStore) FinishCollateralReview(_ context.Context, id, toStatus, reviewedBy, note string, body *string) (bool, error) {
	item, ok := f.collateral[id]
	if !ok || item.ReviewStatus != review.StatusReviewed {
		return false, nil
	}
	now := time.Now()
	item.ReviewStatus = toStatus
	item.ReviewedBy = reviewedBy
	item.ReviewNote = note
	item.ReviewedAt = &now
	if body != nil {
		item.Body = *body
	}
	f.collateral[id] = item
	return true, nil
}

func (f *fakeStore) DeleteCollateral(_ context.Context, id string) (bool, error) {
	_, ok := f.collateral[id]
	delete(f.collateral, id)
	return ok, nil
}

func (f *fakeStore) CollateralStatusCounts(context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, item := range f.collateral {
		counts[item.ReviewStatus]++
	}
	return counts, nil
}

func (f *fakeStore) ListAuthGroupMappings(context.Context) ([]store.AuthGroupMapping, error) {
	items := make([]store.AuthGroupMapping, 0, len(f.mappings))
	for _, item := range f.mappings {
		items = append(items, item)
	}
	return items, nil
}

func (f *fakeStore) InsertAuthGroupMapping(_ context.Context, item store.AuthGroupMapping) error {
	f.mappings[item.ID] = item
	f.groupRoles[item.GroupName] = item.Role
	return nil
}

func (f *fakeStore) DeleteAuthGroupMapping(_ context.Context, id string) (bool, error) {
	item, ok := f.mappings[id]
	if ok {
		delete(f.groupRoles, item.GroupName)
	}
	delete(f.mappings, id)
	return ok, nil
}

func (f *fakeStore) InsertAuditEvent(_ context.Context, event store.AuditEvent) error {
	f.audits = append(f.audits, event)
	return nil
}

func (f *fakeStore) ListAuditEvents(_ context.Context, actor, entityType string, _ int) ([]store.AuditEvent, error) {
	items := make([]store.AuditEvent, 0)
	for _, event := range f.audits {
		if actor != "" && !strings.Contains(event.ActorName, actor) {
			continue
		}
		if entityType != "" && event.EntityType != entityType {
			continue
		}
		items = append(items, event)
	}
	return items, nil
}

func (f *fakeStore) InsertUpload(_ context.Context, item store.Upload) error {
	f.uploads[item.ID] = item
	return nil
}

func (f *fakeStore) ListUploads(context.Context) ([]store.Upload, error) {
	items := make([]store.Upload, 0, len(f.uploads))
	for _, item := range f.uploads {
		items = append(items, item)
	}
	return items, nil
}

func (f *fakeStore) GetUpload(_ context.Context, id string) (store.Upload, error) {
	item, ok := f.uploads[id]
	if !ok {
		return store.Upload{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) DeleteUpload(_ context.Context, id string) (bool, error) {
	if _, ok := f.uploads[id]; !ok {
		return false, nil
	}
	delete(f.uploads, id)
	return true, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct {
	sessions map[string]string
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.sessions[tokenHash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	userID, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, errors.New("refresh session not found")
	}
	return store.User{ID: userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.sessions, tokenHash)
	return nil
}

type fakeMirror struct {
	commits  map[string][]store.CommitInfo
	contents map[string]string
}

func mirrorKey(kind gitmirror.Kind, id string) string {
	return string(kind) + "/" + id
}

func (f *fakeMirror) Mirror(kind gitmirror.Kind, id, markdown, author, message string) (store.CommitInfo, error) {
	commit := store.CommitInfo{
		Hash:      fmt.Sprintf("%07d", len(f.commits[mirrorKey(kind, id)])+1),
		Message:   message,
		Author:    author,
		CreatedAt: time.Now(),
	}
	f.commits[mirrorKey(kind, id)] = append(f.commits[mirrorKey(kind, id)], commit)
	f.contents[mirrorKey(kind, id)+"@"+commit.Hash] = markdown
	return commit, nil
}

func (f *fakeMirror) Remove(kind gitmirror.Kind, id, _ string) error {
	delete(f.commits, mirrorKey(kind, id))
	return nil
}

func (f *fakeMirror) ContentAt(kind gitmirror.Kind, id, hash string) (string, error) {
	content, ok := f.contents[mirrorKey(kind, id)+"@"+hash]
	if !ok {
		return "", errors.New("no content at commit")
	}
	return content, nil
}

func (f *fakeMirror) History(kind gitmirror.Kind, id string, _ int) ([]store.CommitInfo, error) {
	commits := f.commits[mirrorKey(kind, id)]
	reversed := make([]store.CommitInfo, 0, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		reversed = append(reversed, commits[i])
	}
	return reversed, nil
}

type fakeSearch struct {
	indexed map[string]bool
}

func (f *fakeSearch) Search(search.Query) (search.Response, error) {
	return search.Response{Results: []search.Result{}}, nil
}

func (f *fakeSearch) Engine() string { return "fake" }

func (f *fakeSearch) IndexSkill(record search.SkillRecord)       { f.indexed["skill/"+record.ID] = true }
func (f *fakeSearch) IndexTemplate(record search.TemplateRecord) { f.indexed["template/"+record.ID] = true }
func (f *fakeSearch) IndexCustomer(record search.CustomerRecord) { f.indexed["customer/"+record.ID] = true }
func (f *fakeSearch) DeleteSkill(id string)                      { delete(f.indexed, "skill/"+id) }
func (f *fakeSearch) DeleteTemplate(id string)                   { delete(f.indexed, "template/"+id) }
func (f *fakeSearch) DeleteCustomer(id string)                   { delete(f.indexed, "customer/"+id) }

type fakeDrafter struct {
	draft func(llm.DraftRequest) (string, error)
}

func (f *fakeDrafter) Draft(_ context.Context, req llm.DraftRequest) (string, error) {
	return f.draft(req)
}

type fakeExporter struct{}

func (fakeExporter) ExportCollateral(output store.CollateralOutput, _ string) (*export.Result, error) {
	return &export.Result{
		Data:     []byte("%PDF-fake"),
		Filename: output.Title + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) Put(_ context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectKey] = data
	return nil
}

func (f *fakeStorage) PresignedGetURL(_ context.Context, objectKey, _ string, _ time.Duration) (string, error) {
	if _, ok := f.objects[objectKey]; !ok {
		return "", errors.New("object not found")
	}
	return "https://storage.test/" + objectKey, nil
}

func (f *fakeStorage) Remove(_ context.Context, objectKey string) error {
	delete(f.objects, objectKey)
	return nil
}

// --- Test harness ---

type testEnv struct {
	svc     *Service
	store   *fakeStore
	mirror  *fakeMirror
	search  *fakeSearch
	storage *fakeStorage
}

func newTestService(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	env := &testEnv{
		store:   newFakeStore(),
		mirror:  &fakeMirror{commits: make(map[string][]store.CommitInfo), contents: make(map[string]string)},
		search:  &fakeSearch{indexed: make(map[string]bool)},
		storage: &fakeStorage{objects: make(map[string][]byte)},
	}

	cfg := config.Config{
		JWTSecret:          "test-secret",
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         30 * 24 * time.Hour,
		AuthLimitPerMinute: 20,
		DraftLimitPerHour:  30,
		PublicBaseURL:      "http://localhost:8686",
	}

	deps := Deps{
		Store:    env.store,
		Sessions: &fakeSessions{sessions: make(map[string]string)},
		Mirror:   env.mirror,
		Search:   env.search,
		Exporter: fakeExporter{},
		Storage:  env.storage,
	}
	if mutate != nil {
		mutate(&deps)
	}
	env.svc = New(cfg, deps)
	return env
}

func testSession() Session {
	return Session{UserID: "usr-1", UserName: "Avery", Role: "contributor"}
}

func reviewerSession() Session {
	return Session{UserID: "usr-2", UserName: "Riley", Role: "reviewer"}
}

func assertDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if derr.Status != status || derr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, derr.Status, derr.Code)
	}
}

// --- Catalog ---

func TestTemplateLifecycle(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	session := testSession()

	created, err := env.svc.CreateTemplate(ctx, session, TemplateInput{
		Name: "Security Questionnaire",
		Body: "Hello {{company_name}}",
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	id := created["id"].(string)

	if !env.search.indexed["template/"+id] {
		t.Error("expected template to be indexed")
	}

	updated, err := env.svc.UpdateTemplate(ctx, session, id, TemplateInput{
		Name: "Security Questionnaire v2",
		Body: "Hello {{company_name}}, {{region}}",
	})
	if err != nil {
		t.Fatalf("UpdateTemplate() error = %v", err)
	}
	if updated["name"] != "Security Questionnaire v2" {
		t.Errorf("unexpected name %v", updated["name"])
	}

	placeholders, err := env.svc.TemplatePlaceholders(ctx, id)
	if err != nil {
		t.Fatalf("TemplatePlaceholders() error = %v", err)
	}
	names := placeholders["placeholders"].([]string)
	if len(names) != 2 || names[0] != "company_name" || names[1] != "region" {
		t.Errorf("unexpected placeholders %v", names)
	}

	history, err := env.svc.TemplateHistory(ctx, id, 10)
	if err != nil {
		t.Fatalf("TemplateHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}

	if err := env.svc.DeleteTemplate(ctx, session, id); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}
	if env.search.indexed["template/"+id] {
		t.Error("expected template removed from index")
	}
	if _, err := env.svc.GetTemplate(ctx, id); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows after delete, got %v", err)
	}
}

func TestCreateTemplateRequiresName(t *testing.T) {
	env := newTestService(t, nil)
	_, err := env.svc.CreateTemplate(context.Background(), testSession(), TemplateInput{Body: "x"})
	assertDomainError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestMergeSkillBumpsVersionAndCommitsSummary(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	session := testSession()

	created, err := env.svc.CreateSkill(ctx, session, SkillInput{
		Name:    "Platform Security",
		Content: "## Encryption\n\nAES-256 at rest.\n",
		Tags:    []string{"security"},
	})
	if err != nil {
		t.Fatalf("CreateSkill() error = %v", err)
	}
	id := created["id"].(string)

	result, err := env.svc.MergeSkill(ctx, session, id, "## Compliance\n\nSOC 2 Type II.\n")
	if err != nil {
		t.Fatalf("MergeSkill() error = %v", err)
	}
	skill := result["skill"].(map[string]any)
	if skill["version"].(int) != 2 {
		t.Errorf("expected version 2, got %v", skill["version"])
	}
	content := skill["content"].(string)
	if !strings.Contains(content, "Encryption") || !strings.Contains(content, "Compliance") {
		t.Errorf("merged content missing sections: %q", content)
	}

	history, _ := env.svc.SkillHistory(ctx, id, 10)
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if msg := history[0]["message"].(string); !strings.Contains(msg, "Compliance") {
		t.Errorf("expected commit message to mention added section, got %q", msg)
	}
}

func TestMergeSkillNoChangesIsNoOp(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	session := testSession()

	created, _ := env.svc.CreateSkill(ctx, session, SkillInput{
		Name:    "Networking",
		Content: "## Topology\n\nHub and spoke.\n",
	})
	id := created["id"].(string)

	result, err := env.svc.MergeSkill(ctx, session, id, "## Topology\n\nHub and spoke.\n")
	if err != nil {
		t.Fatalf("MergeSkill() error = %v", err)
	}
	skill := result["skill"].(map[string]any)
	if skill["version"].(int) != 1 {
		t.Errorf("expected version unchanged, got %v", skill["version"])
	}
}

func TestMergeSkillDeletedUnderneathIsNotFound(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	session := testSession()

	created, _ := env.svc.CreateSkill(ctx, session, SkillInput{
		Name:    "Networking",
		Content: "## Topology\n\nHub and spoke.\n",
	})
	id := created["id"].(string)

	// Delete the skill between the merge's read and its write.
	env.store.beforeUpdateSkill = func() {
		delete(env.store.skills, id)
	}

	_, err := env.svc.MergeSkill(ctx, session, id, "## Topology\n\nFull mesh.\n")
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestSkillVersionReturnsHistoricContent(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	session := testSession()

	created, _ := env.svc.CreateSkill(ctx, session, SkillInput{
		Name:    "Deployment",
		Content: "## Regions\n\nUS only.\n",
	})
	id := created["id"].(string)
	_, _ = env.svc.MergeSkill(ctx, session, id, "## Regions\n\nUS and EU.\n")

	history, _ := env.svc.SkillHistory(ctx, id, 10)
	oldest := history[len(history)-1]["hash"].(string)

	version, err := env.svc.SkillVersion(ctx, id, oldest)
	if err != nil {
		t.Fatalf("SkillVersion() error = %v", err)
	}
	if !strings.Contains(version["content"].(string), "US only") {
		t.Errorf("expected original content at first commit, got %v", version["content"])
	}

	_, err = env.svc.SkillVersion(ctx, id, "deadbeef")
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

// --- Collateral pipeline ---

func seedGeneration(t *testing.T, env *testEnv) (templateID, customerID string) {
	t.Helper()
	ctx := context.Background()
	session := testSession()

	tpl, err := env.svc.CreateTemplate(ctx, session, TemplateInput{
		Name: "Proposal",
		Body: "Dear {{contact_name}} at {{company_name}}, re: {{deal_size}}",
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	customer, err := env.svc.CreateCustomer(ctx, session, CustomerInput{
		Name:    "Acme Corp",
		Summary: "Industrial tooling",
		Fields: map[string]string{
			"contact_name": "Dana",
			"company_name": "Acme Corp",
		},
	})
	if err != nil {
		t.Fatalf("CreateCustomer() error = %v", err)
	}
	return tpl["id"].(string), customer["id"].(string)
}

func TestGenerateCollateralFillsPlaceholders(t *testing.T) {
	env := newTestService(t, nil)
	templateID, customerID := seedGeneration(t, env)

	item, err := env.svc.GenerateCollateral(context.Background(), testSession(), GenerateInput{
		TemplateID: templateID,
		CustomerID: customerID,
	})
	if err != nil {
		t.Fatalf("GenerateCollateral() error = %v", err)
	}

	body := item["body"].(string)
	if !strings.Contains(body, "Dear Dana at Acme Corp") {
		t.Errorf("expected placeholders filled, got %q", body)
	}
	if !strings.Contains(body, "{{deal_size}}") {
		t.Errorf("expected unresolved placeholder left in body, got %q", body)
	}
	unresolved := item["unresolved"].([]string)
	if len(unresolved) != 1 || unresolved[0] != "deal_size" {
		t.Errorf("unexpected unresolved %v", unresolved)
	}
	if item["reviewStatus"] != review.StatusPending {
		t.Errorf("expected PENDING, got %v", item["reviewStatus"])
	}
	if item["title"] != "Proposal for Acme Corp" {
		t.Errorf("unexpected default title %v", item["title"])
	}
}

func TestGenerateCollateralUsesDrafter(t *testing.T) {
	var gotReq llm.DraftRequest
	env := newTestService(t, func(deps *Deps) {
		deps.LLM = &fakeDrafter{draft: func(req llm.DraftRequest) (string, error) {
			gotReq = req
			return "Polished draft", nil
		}}
	})
	templateID, customerID := seedGeneration(t, env)

	item, err := env.svc.GenerateCollateral(context.Background(), testSession(), GenerateInput{
		TemplateID: templateID,
		CustomerID: customerID,
	})
	if err != nil {
		t.Fatalf("GenerateCollateral() error = %v", err)
	}
	if item["body"] != "Polished draft" {
		t.Errorf("expected drafter output, got %v", item["body"])
	}
	if gotReq.CustomerName != "Acme Corp" {
		t.Errorf("drafter request missing customer, got %+v", gotReq)
	}
	if len(gotReq.Unresolved) != 1 || gotReq.Unresolved[0] != "deal_size" {
		t.Errorf("drafter request missing unresolved placeholders: %v", gotReq.Unresolved)
	}
}

func TestGenerateCollateralSurvivesDrafterOutage(t *testing.T) {
	env := newTestService(t, func(deps *Deps) {
		deps.LLM = &fakeDrafter{draft: func(llm.DraftRequest) (string, error) {
			return "", errors.New("model unavailable")
		}}
	})
	templateID, customerID := seedGeneration(t, env)

	item, err := env.svc.GenerateCollateral(context.Background(), testSession(), GenerateInput{
		TemplateID: templateID,
		CustomerID: customerID,
	})
	if err != nil {
		t.Fatalf("GenerateCollateral() error = %v", err)
	}
	if !strings.Contains(item["body"].(string), "Dear Dana") {
		t.Errorf("expected filled body fallback, got %v", item["body"])
	}
}

func TestGenerateCollateralUnknownTemplate(t *testing.T) {
	env := newTestService(t, nil)
	_, customerID := seedGeneration(t, env)
	_, err := env.svc.GenerateCollateral(context.Background(), testSession(), GenerateInput{
		TemplateID: "tpl-missing",
		CustomerID: customerID,
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

// --- Review state machine ---

func generate(t *testing.T, env *testEnv) string {
	t.Helper()
	templateID, customerID := seedGeneration(t, env)
	item, err := env.svc.GenerateCollateral(context.Background(), testSession(), GenerateInput{
		TemplateID: templateID,
		CustomerID: customerID,
	})
	if err != nil {
		t.Fatalf("GenerateCollateral() error = %v", err)
	}
	return item["id"].(string)
}

func TestReviewHappyPath(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	id := generate(t, env)

	item, err := env.svc.QueueCollateral(ctx, testSession(), id)
	if err != nil {
		t.Fatalf("QueueCollateral() error = %v", err)
	}
	if item["reviewStatus"] != review.StatusQueued {
		t.Fatalf("expected QUEUED, got %v", item["reviewStatus"])
	}

	item, err = env.svc.ReviewCollateral(ctx, reviewerSession(), id, "looks close")
	if err != nil {
		t.Fatalf("ReviewCollateral() error = %v", err)
	}
	if item["reviewStatus"] != review.StatusReviewed {
		t.Fatalf("expected REVIEWED, got %v", item["reviewStatus"])
	}

	item, err = env.svc.ApproveCollateral(ctx, reviewerSession(), id, "ship it")
	if err != nil {
		t.Fatalf("ApproveCollateral() error = %v", err)
	}
	if item["reviewStatus"] != review.StatusApproved {
		t.Fatalf("expected APPROVED, got %v", item["reviewStatus"])
	}
	if item["reviewedBy"] != "Riley" {
		t.Errorf("expected reviewer recorded, got %v", item["reviewedBy"])
	}
}

func TestApproveFromPendingConflicts(t *testing.T) {
	env := newTestService(t, nil)
	id := generate(t, env)

	_, err := env.svc.ApproveCollateral(context.Background(), reviewerSession(), id, "")
	assertDomainError(t, err, http.StatusConflict, "INVALID_TRANSITION")
}

func TestApprovedIsTerminal(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	id := generate(t, env)

	_, _ = env.svc.QueueCollateral(ctx, testSession(), id)
	_, _ = env.svc.ReviewCollateral(ctx, reviewerSession(), id, "")
	_, _ = env.svc.ApproveCollateral(ctx, reviewerSession(), id, "")

	_, err := env.svc.QueueCollateral(ctx, testSession(), id)
	assertDomainError(t, err, http.StatusConflict, "INVALID_TRANSITION")
}

func TestFlagResolveFlow(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	id := generate(t, env)

	item, err := env.svc.FlagCollateral(ctx, testSession(), id, "missing pricing section")
	if err != nil {
		t.Fatalf("FlagCollateral() error = %v", err)
	}
	if item["reviewStatus"] != review.StatusFlagged || item["flagged"] != true {
		t.Fatalf("expected FLAGGED, got %v", item["reviewStatus"])
	}

	item, err = env.svc.ResolveCollateralFlag(ctx, testSession(), id)
	if err != nil {
		t.Fatalf("ResolveCollateralFlag() error = %v", err)
	}
	if item["reviewStatus"] != review.StatusQueued || item["resolved"] != true {
		t.Fatalf("expected QUEUED after resolve, got %v", item["reviewStatus"])
	}
}

func TestCorrectThenResubmit(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	id := generate(t, env)

	_, _ = env.svc.QueueCollateral(ctx, testSession(), id)
	_, _ = env.svc.ReviewCollateral(ctx, reviewerSession(), id, "")

	corrected := "Corrected body"
	item, err := env.svc.CorrectCollateral(ctx, reviewerSession(), id, "fix the intro", &corrected)
	if err != nil {
		t.Fatalf("CorrectCollateral() error = %v", err)
	}
	if item["reviewStatus"] != review.StatusCorrected {
		t.Fatalf("expected CORRECTED, got %v", item["reviewStatus"])
	}
	if item["body"] != "Corrected body" {
		t.Errorf("expected corrected body applied, got %v", item["body"])
	}

	item, err = env.svc.QueueCollateral(ctx, testSession(), id)
	if err != nil {
		t.Fatalf("QueueCollateral() after correction error = %v", err)
	}
	if item["reviewStatus"] != review.StatusQueued {
		t.Fatalf("expected resubmitted draft QUEUED, got %v", item["reviewStatus"])
	}
}

func TestQueueFromFlaggedResolvesFlag(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	id := generate(t, env)

	if _, err := env.svc.FlagCollateral(ctx, testSession(), id, "missing pricing section"); err != nil {
		t.Fatalf("FlagCollateral() error = %v", err)
	}

	// Queueing a flagged draft takes the resolve path, same as the
	// bulk endpoint, so the row never sits QUEUED with an open flag.
	item, err := env.svc.QueueCollateral(ctx, testSession(), id)
	if err != nil {
		t.Fatalf("QueueCollateral() error = %v", err)
	}
	if item["reviewStatus"] != review.StatusQueued {
		t.Fatalf("expected QUEUED, got %v", item["reviewStatus"])
	}
	if item["resolved"] != true {
		t.Fatalf("expected resolved flag set, got %v", item["resolved"])
	}
}

func TestBulkReviewSkipsInvalidRows(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	pending := generate(t, env)
	queued := generate(t, env)
	_, _ = env.svc.QueueCollateral(ctx, testSession(), queued)

	results, err := env.svc.BulkReview(ctx, reviewerSession(), []string{queued, pending, "col-missing"}, review.StatusReviewed)
	if err != nil {
		t.Fatalf("BulkReview() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byID := make(map[string]store.BulkReviewResult)
	for _, result := range results {
		byID[result.ID] = result
	}
	if !byID[queued].OK || byID[queued].Status != review.StatusReviewed {
		t.Errorf("expected queued row reviewed, got %+v", byID[queued])
	}
	if byID[pending].OK {
		t.Errorf("expected pending row skipped, got %+v", byID[pending])
	}
	if byID[pending].Status != review.StatusPending {
		t.Errorf("expected skipped row to report current status, got %+v", byID[pending])
	}
	if byID["col-missing"].OK || byID["col-missing"].Error == "" {
		t.Errorf("expected missing row reported, got %+v", byID["col-missing"])
	}
}

func TestBulkReviewRejectsUnknownStatus(t *testing.T) {
	env := newTestService(t, nil)
	_, err := env.svc.BulkReview(context.Background(), reviewerSession(), []string{"col-1"}, "SHIPPED")
	assertDomainError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestExportRequiresReviewedOrApproved(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	id := generate(t, env)

	_, err := env.svc.ExportCollateral(ctx, testSession(), id)
	assertDomainError(t, err, http.StatusConflict, "EXPORT_NOT_ALLOWED")

	_, _ = env.svc.QueueCollateral(ctx, testSession(), id)
	_, _ = env.svc.ReviewCollateral(ctx, reviewerSession(), id, "")

	result, err := env.svc.ExportCollateral(ctx, testSession(), id)
	if err != nil {
		t.Fatalf("ExportCollateral() error = %v", err)
	}
	if result.MimeType != "application/pdf" || len(result.Data) == 0 {
		t.Errorf("unexpected export result %+v", result)
	}
}

func TestCollateralStatusCountsIncludesZeroes(t *testing.T) {
	env := newTestService(t, nil)
	generate(t, env)

	counts, err := env.svc.CollateralStatusCounts(context.Background())
	if err != nil {
		t.Fatalf("CollateralStatusCounts() error = %v", err)
	}
	if counts[review.StatusPending] != 1 {
		t.Errorf("expected 1 pending, got %d", counts[review.StatusPending])
	}
	if _, ok := counts[review.StatusApproved]; !ok {
		t.Error("expected zero count for APPROVED to be present")
	}
}

// --- Sessions and roles ---

func TestCreateSessionResolvesGroupRole(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	env.store.users["usr-9"] = store.User{
		ID:          "usr-9",
		DisplayName: "Sam",
		Role:        "viewer",
		Groups:      []string{"sales-engineering"},
	}
	env.store.groupRoles["sales-engineering"] = "reviewer"

	session, err := env.svc.CreateSession(ctx, "usr-9")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.Role != "reviewer" {
		t.Errorf("expected group-mapped role reviewer, got %q", session.Role)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Error("expected tokens issued")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	env.store.users["usr-9"] = store.User{ID: "usr-9", DisplayName: "Sam", Role: "contributor"}
	first, err := env.svc.CreateSession(ctx, "usr-9")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	second, err := env.svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("expected refresh token rotation")
	}

	if _, err := env.svc.Refresh(ctx, first.RefreshToken); err == nil {
		t.Error("expected old refresh token to be revoked")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	env.store.users["usr-9"] = store.User{ID: "usr-9", DisplayName: "Sam", Role: "contributor"}
	session, err := env.svc.CreateSession(ctx, "usr-9")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if _, err := env.svc.SessionFromToken(ctx, session.Token); err != nil {
		t.Fatalf("SessionFromToken() before logout error = %v", err)
	}
	if err := env.svc.Logout(ctx, session, session.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := env.svc.SessionFromToken(ctx, session.Token); err == nil {
		t.Error("expected revoked token to be rejected")
	}
}

// --- Uploads ---

func TestCreateUploadStoresObjectAndMetadata(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	item, err := env.svc.CreateUpload(ctx, testSession(), "rfp.pdf", "application/pdf", 9, strings.NewReader("some data"))
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	if item["filename"] != "rfp.pdf" {
		t.Errorf("unexpected filename %v", item["filename"])
	}

	link, err := env.svc.UploadDownloadURL(ctx, item["id"].(string))
	if err != nil {
		t.Fatalf("UploadDownloadURL() error = %v", err)
	}
	if !strings.HasPrefix(link["url"].(string), "https://storage.test/uploads/") {
		t.Errorf("unexpected url %v", link["url"])
	}
}

func TestDeleteUploadRemovesObjectAndMetadata(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	item, err := env.svc.CreateUpload(ctx, testSession(), "rfp.pdf", "application/pdf", 9, strings.NewReader("some data"))
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	id := item["id"].(string)

	if err := env.svc.DeleteUpload(ctx, testSession(), id); err != nil {
		t.Fatalf("DeleteUpload() error = %v", err)
	}
	if len(env.storage.objects) != 0 {
		t.Errorf("expected object removed from storage, %d left", len(env.storage.objects))
	}
	if _, err := env.svc.UploadDownloadURL(ctx, id); err == nil {
		t.Error("expected download URL lookup to fail after delete")
	}

	if err := env.svc.DeleteUpload(ctx, testSession(), id); err == nil {
		t.Error("expected delete of missing upload to fail")
	}
}

func TestCreateUploadWithoutStorage(t *testing.T) {
	env := newTestService(t, func(deps *Deps) {
		deps.Storage = nil
	})
	_, err := env.svc.CreateUpload(context.Background(), testSession(), "rfp.pdf", "application/pdf", 4, strings.NewReader("data"))
	assertDomainError(t, err, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE")
}

// --- Audit ---

func TestMutationsAreAudited(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	id := generate(t, env)

	_, _ = env.svc.QueueCollateral(ctx, testSession(), id)

	events, err := env.svc.ListAuditEvents(ctx, "", "collateral", 100)
	if err != nil {
		t.Fatalf("ListAuditEvents() error = %v", err)
	}
	actions := make([]string, 0, len(events))
	for _, event := range events {
		actions = append(actions, event["action"].(string))
	}
	joined := strings.Join(actions, ",")
	if !strings.Contains(joined, "collateral.generate") || !strings.Contains(joined, "collateral.queue") {
		t.Errorf("expected generate and queue audit events, got %v", actions)
	}
}
