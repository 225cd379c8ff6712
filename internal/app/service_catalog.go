package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"

	"rfphub/api/internal/draft"
	"rfphub/api/internal/gitmirror"
	"rfphub/api/internal/search"
	"rfphub/api/internal/skills"
	"rfphub/api/internal/store"
	"rfphub/api/internal/util"
)

// --- Templates ---

type TemplateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Body        string `json:"body"`
}

func (s *Service) ListTemplates(ctx context.Context) ([]map[string]any, error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(templates))
	for _, tpl := range templates {
		items = append(items, templateView(tpl))
	}
	return items, nil
}

func (s *Service) GetTemplate(ctx context.Context, id string) (map[string]any, error) {
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	return templateView(tpl), nil
}

func (s *Service) CreateTemplate(ctx context.Context, session Session, input TemplateInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	tpl := store.Template{
		ID:          util.NewID("tpl"),
		Name:        input.Name,
		Description: input.Description,
		Body:        input.Body,
		OwnerID:     session.UserID,
		OwnerName:   session.UserName,
	}
	if err := s.store.InsertTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	s.mirrorTemplate(tpl, session, fmt.Sprintf("Create template %q", tpl.Name))
	s.search.IndexTemplate(templateRecord(tpl))
	s.audit(ctx, session, "template.create", "template", tpl.ID, map[string]any{"name": tpl.Name})
	return s.GetTemplate(ctx, tpl.ID)
}

func (s *Service) UpdateTemplate(ctx context.Context, session Session, id string, input TemplateInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	found, err := s.store.UpdateTemplate(ctx, id, input.Name, input.Description, input.Body)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Template not found", nil)
	}
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mirrorTemplate(tpl, session, fmt.Sprintf("Update template %q", tpl.Name))
	s.search.IndexTemplate(templateRecord(tpl))
	s.audit(ctx, session, "template.update", "template", id, map[string]any{"name": tpl.Name})
	return templateView(tpl), nil
}

func (s *Service) DeleteTemplate(ctx context.Context, session Session, id string) error {
	found, err := s.store.DeleteTemplate(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Template not found", nil)
	}
	s.removeMirrored(gitmirror.KindTemplate, id, session)
	s.search.DeleteTemplate(id)
	s.audit(ctx, session, "template.delete", "template", id, nil)
	return nil
}

// TemplatePlaceholders lists the distinct {{placeholder}} names in a
// template body.
func (s *Service) TemplatePlaceholders(ctx context.Context, id string) (map[string]any, error) {
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	names := draft.Placeholders(tpl.Body)
	return map[string]any{
		"templateId":   tpl.ID,
		"placeholders": names,
	}, nil
}

func (s *Service) TemplateHistory(ctx context.Context, id string, limit int) ([]map[string]any, error) {
	if _, err := s.store.GetTemplate(ctx, id); err != nil {
		return nil, err
	}
	return s.historyView(gitmirror.KindTemplate, id, limit)
}

func (s *Service) TemplateVersion(ctx context.Context, id, hash string) (map[string]any, error) {
	if _, err := s.store.GetTemplate(ctx, id); err != nil {
		return nil, err
	}
	return s.versionView(gitmirror.KindTemplate, id, hash)
}

// --- Customer profiles ---

type CustomerInput struct {
	Name     string            `json:"name"`
	Industry string            `json:"industry"`
	Region   string            `json:"region"`
	Summary  string            `json:"summary"`
	Fields   map[string]string `json:"fields"`
}

func (s *Service) ListCustomers(ctx context.Context) ([]map[string]any, error) {
	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(customers))
	for _, customer := range customers {
		items = append(items, customerView(customer))
	}
	return items, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (map[string]any, error) {
	customer, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	return customerView(customer), nil
}

func (s *Service) CreateCustomer(ctx context.Context, session Session, input CustomerInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	customer := store.CustomerProfile{
		ID:        util.NewID("cst"),
		Name:      input.Name,
		Industry:  input.Industry,
		Region:    input.Region,
		Summary:   input.Summary,
		Fields:    input.Fields,
		OwnerID:   session.UserID,
		OwnerName: session.UserName,
	}
	if customer.Fields == nil {
		customer.Fields = map[string]string{}
	}
	if err := s.store.InsertCustomer(ctx, customer); err != nil {
		return nil, err
	}
	s.mirrorCustomer(customer, session, fmt.Sprintf("Create customer %q", customer.Name))
	s.search.IndexCustomer(customerRecord(customer))
	s.audit(ctx, session, "customer.create", "customer", customer.ID, map[string]any{"name": customer.Name})
	return s.GetCustomer(ctx, customer.ID)
}

func (s *Service) UpdateCustomer(ctx context.Context, session Session, id string, input CustomerInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	customer := store.CustomerProfile{
		ID:       id,
		Name:     input.Name,
		Industry: input.Industry,
		Region:   input.Region,
		Summary:  input.Summary,
		Fields:   input.Fields,
	}
	if customer.Fields == nil {
		customer.Fields = map[string]string{}
	}
	found, err := s.store.UpdateCustomer(ctx, customer)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Customer not found", nil)
	}
	saved, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mirrorCustomer(saved, session, fmt.Sprintf("Update customer %q", saved.Name))
	s.search.IndexCustomer(customerRecord(saved))
	s.audit(ctx, session, "customer.update", "customer", id, map[string]any{"name": saved.Name})
	return customerView(saved), nil
}

func (s *Service) DeleteCustomer(ctx context.Context, session Session, id string) error {
	found, err := s.store.DeleteCustomer(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Customer not found", nil)
	}
	s.removeMirrored(gitmirror.KindCustomer, id, session)
	s.search.DeleteCustomer(id)
	s.audit(ctx, session, "customer.delete", "customer", id, nil)
	return nil
}

func (s *Service) CustomerHistory(ctx context.Context, id string, limit int) ([]map[string]any, error) {
	if _, err := s.store.GetCustomer(ctx, id); err != nil {
		return nil, err
	}
	return s.historyView(gitmirror.KindCustomer, id, limit)
}

func (s *Service) CustomerVersion(ctx context.Context, id, hash string) (map[string]any, error) {
	if _, err := s.store.GetCustomer(ctx, id); err != nil {
		return nil, err
	}
	return s.versionView(gitmirror.KindCustomer, id, hash)
}

// --- Skills ---

type SkillInput struct {
	Name    string   `json:"name"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (s *Service) ListSkills(ctx context.Context) ([]map[string]any, error) {
	list, err := s.store.ListSkills(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(list))
	for _, skill := range list {
		items = append(items, skillView(skill))
	}
	return items, nil
}

func (s *Service) GetSkill(ctx context.Context, id string) (map[string]any, error) {
	skill, err := s.store.GetSkill(ctx, id)
	if err != nil {
		return nil, err
	}
	return skillView(skill), nil
}

func (s *Service) CreateSkill(ctx context.Context, session Session, input SkillInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	skill := store.Skill{
		ID:        util.NewID("skl"),
		Name:      input.Name,
		Content:   input.Content,
		Tags:      input.Tags,
		Version:   1,
		OwnerID:   session.UserID,
		OwnerName: session.UserName,
	}
	if skill.Tags == nil {
		skill.Tags = []string{}
	}
	if err := s.store.InsertSkill(ctx, skill); err != nil {
		return nil, err
	}
	s.mirrorSkill(skill, session, fmt.Sprintf("Create skill %q", skill.Name))
	s.search.IndexSkill(skillRecord(skill))
	s.audit(ctx, session, "skill.create", "skill", skill.ID, map[string]any{"name": skill.Name})
	return s.GetSkill(ctx, skill.ID)
}

func (s *Service) UpdateSkill(ctx context.Context, session Session, id string, input SkillInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	current, err := s.store.GetSkill(ctx, id)
	if err != nil {
		return nil, err
	}
	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}
	version := current.Version
	message := fmt.Sprintf("Update skill %q", input.Name)
	if current.Content != input.Content {
		version++
		message = skills.Compare(current.Content, input.Content).Summary()
	}
	found, err := s.store.UpdateSkill(ctx, id, input.Name, input.Content, tags, version)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Skill not found", nil)
	}
	saved, err := s.store.GetSkill(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mirrorSkill(saved, session, message)
	s.search.IndexSkill(skillRecord(saved))
	s.audit(ctx, session, "skill.update", "skill", id, map[string]any{"name": saved.Name, "version": saved.Version})
	return skillView(saved), nil
}

// MergeSkill applies an incremental content update section by section.
// Matching sections are replaced and new sections appended; merge never
// removes existing knowledge.
func (s *Service) MergeSkill(ctx context.Context, session Session, id, incoming string) (map[string]any, error) {
	current, err := s.store.GetSkill(ctx, id)
	if err != nil {
		return nil, err
	}
	merged, diff := skills.Merge(current.Content, incoming)
	if diff.Empty() {
		return map[string]any{
			"skill": skillView(current),
			"diff":  diff,
		}, nil
	}
	version := current.Version + 1
	found, err := s.store.UpdateSkill(ctx, id, current.Name, merged, current.Tags, version)
	if err != nil {
		return nil, err
	}
	if !found {
		// Skill was deleted between the read and the write.
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Skill not found", nil)
	}
	saved, err := s.store.GetSkill(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mirrorSkill(saved, session, diff.Summary())
	s.search.IndexSkill(skillRecord(saved))
	s.audit(ctx, session, "skill.merge", "skill", id, map[string]any{
		"added":   diff.Added,
		"changed": diff.Changed,
		"version": saved.Version,
	})
	return map[string]any{
		"skill": skillView(saved),
		"diff":  diff,
	}, nil
}

// DiffSkill previews how incoming content differs from the stored
// skill, without writing anything.
func (s *Service) DiffSkill(ctx context.Context, id, incoming string) (map[string]any, error) {
	current, err := s.store.GetSkill(ctx, id)
	if err != nil {
		return nil, err
	}
	diff := skills.Compare(current.Content, incoming)
	return map[string]any{
		"skillId": current.ID,
		"diff":    diff,
		"summary": diff.Summary(),
	}, nil
}

func (s *Service) DeleteSkill(ctx context.Context, session Session, id string) error {
	found, err := s.store.DeleteSkill(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Skill not found", nil)
	}
	s.removeMirrored(gitmirror.KindSkill, id, session)
	s.search.DeleteSkill(id)
	s.audit(ctx, session, "skill.delete", "skill", id, nil)
	return nil
}

func (s *Service) SkillHistory(ctx context.Context, id string, limit int) ([]map[string]any, error) {
	if _, err := s.store.GetSkill(ctx, id); err != nil {
		return nil, err
	}
	return s.historyView(gitmirror.KindSkill, id, limit)
}

func (s *Service) SkillVersion(ctx context.Context, id, hash string) (map[string]any, error) {
	if _, err := s.store.GetSkill(ctx, id); err != nil {
		return nil, err
	}
	return s.versionView(gitmirror.KindSkill, id, hash)
}

// --- Instruction presets ---

type PresetInput struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

func (s *Service) ListPresets(ctx context.Context) ([]map[string]any, error) {
	presets, err := s.store.ListPresets(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(presets))
	for _, preset := range presets {
		items = append(items, presetView(preset))
	}
	return items, nil
}

func (s *Service) GetPreset(ctx context.Context, id string) (map[string]any, error) {
	preset, err := s.store.GetPreset(ctx, id)
	if err != nil {
		return nil, err
	}
	return presetView(preset), nil
}

func (s *Service) CreatePreset(ctx context.Context, session Session, input PresetInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	preset := store.InstructionPreset{
		ID:           util.NewID("prs"),
		Name:         input.Name,
		Instructions: input.Instructions,
		OwnerID:      session.UserID,
		OwnerName:    session.UserName,
	}
	if err := s.store.InsertPreset(ctx, preset); err != nil {
		return nil, err
	}
	s.audit(ctx, session, "preset.create", "preset", preset.ID, map[string]any{"name": preset.Name})
	return s.GetPreset(ctx, preset.ID)
}

func (s *Service) UpdatePreset(ctx context.Context, session Session, id string, input PresetInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	found, err := s.store.UpdatePreset(ctx, id, input.Name, input.Instructions)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Preset not found", nil)
	}
	s.audit(ctx, session, "preset.update", "preset", id, map[string]any{"name": input.Name})
	return s.GetPreset(ctx, id)
}

func (s *Service) DeletePreset(ctx context.Context, session Session, id string) error {
	found, err := s.store.DeletePreset(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Preset not found", nil)
	}
	s.audit(ctx, session, "preset.delete", "preset", id, nil)
	return nil
}

// --- Mirror helpers ---

func (s *Service) mirrorTemplate(tpl store.Template, session Session, message string) {
	markdown := fmt.Sprintf("# %s\n\n%s\n\n---\n\n%s\n", tpl.Name, tpl.Description, strings.TrimRight(tpl.Body, "\n"))
	if _, err := s.mirror.Mirror(gitmirror.KindTemplate, tpl.ID, markdown, session.UserName, message); err != nil {
		logMirrorError("template", tpl.ID, err)
	}
}

func (s *Service) mirrorCustomer(customer store.CustomerProfile, session Session, message string) {
	if _, err := s.mirror.Mirror(gitmirror.KindCustomer, customer.ID, customerMarkdown(customer), session.UserName, message); err != nil {
		logMirrorError("customer", customer.ID, err)
	}
}

func (s *Service) mirrorSkill(skill store.Skill, session Session, message string) {
	markdown := fmt.Sprintf("# %s\n\n%s\n", skill.Name, strings.TrimRight(skill.Content, "\n"))
	if _, err := s.mirror.Mirror(gitmirror.KindSkill, skill.ID, markdown, session.UserName, message); err != nil {
		logMirrorError("skill", skill.ID, err)
	}
}

func (s *Service) removeMirrored(kind gitmirror.Kind, id string, session Session) {
	if err := s.mirror.Remove(kind, id, session.UserName); err != nil {
		logMirrorError(string(kind), id, err)
	}
}

func (s *Service) historyView(kind gitmirror.Kind, id string, limit int) ([]map[string]any, error) {
	commits, err := s.mirror.History(kind, id, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) versionView(kind gitmirror.Kind, id, hash string) (map[string]any, error) {
	content, err := s.mirror.ContentAt(kind, id, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No content at that commit", map[string]any{"hash": hash})
	}
	return map[string]any{
		"id":      id,
		"hash":    hash,
		"content": content,
	}, nil
}

func customerMarkdown(customer store.CustomerProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", customer.Name)
	if customer.Industry != "" {
		fmt.Fprintf(&b, "- Industry: %s\n", customer.Industry)
	}
	if customer.Region != "" {
		fmt.Fprintf(&b, "- Region: %s\n", customer.Region)
	}
	if customer.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", customer.Summary)
	}
	if len(customer.Fields) > 0 {
		b.WriteString("\n## Fields\n\n")
		for _, key := range sortedKeys(customer.Fields) {
			fmt.Fprintf(&b, "- %s: %s\n", key, customer.Fields[key])
		}
	}
	return b.String()
}

// --- Views and search records ---

func templateView(tpl store.Template) map[string]any {
	return map[string]any{
		"id":          tpl.ID,
		"name":        tpl.Name,
		"description": tpl.Description,
		"body":        tpl.Body,
		"ownerId":     tpl.OwnerID,
		"ownerName":   tpl.OwnerName,
		"createdAt":   tpl.CreatedAt,
		"updatedAt":   tpl.UpdatedAt,
	}
}

func customerView(customer store.CustomerProfile) map[string]any {
	return map[string]any{
		"id":        customer.ID,
		"name":      customer.Name,
		"industry":  customer.Industry,
		"region":    customer.Region,
		"summary":   customer.Summary,
		"fields":    customer.Fields,
		"ownerId":   customer.OwnerID,
		"ownerName": customer.OwnerName,
		"createdAt": customer.CreatedAt,
		"updatedAt": customer.UpdatedAt,
	}
}

func skillView(skill store.Skill) map[string]any {
	return map[string]any{
		"id":        skill.ID,
		"name":      skill.Name,
		"content":   skill.Content,
		"tags":      skill.Tags,
		"version":   skill.Version,
		"ownerId":   skill.OwnerID,
		"ownerName": skill.OwnerName,
		"createdAt": skill.CreatedAt,
		"updatedAt": skill.UpdatedAt,
	}
}

func presetView(preset store.InstructionPreset) map[string]any {
	return map[string]any{
		"id":           preset.ID,
		"name":         preset.Name,
		"instructions": preset.Instructions,
		"ownerId":      preset.OwnerID,
		"ownerName":    preset.OwnerName,
		"createdAt":    preset.CreatedAt,
		"updatedAt":    preset.UpdatedAt,
	}
}

func templateRecord(tpl store.Template) search.TemplateRecord {
	return search.TemplateRecord{ID: tpl.ID, Name: tpl.Name, Description: tpl.Description, Body: tpl.Body}
}

func customerRecord(customer store.CustomerProfile) search.CustomerRecord {
	return search.CustomerRecord{ID: customer.ID, Name: customer.Name, Industry: customer.Industry, Summary: customer.Summary}
}

func skillRecord(skill store.Skill) search.SkillRecord {
	return search.SkillRecord{ID: skill.ID, Name: skill.Name, Content: skill.Content, Tags: strings.Join(skill.Tags, " ")}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func logMirrorError(entityType, id string, err error) {
	log.Printf("gitmirror: %s %s: %v", entityType, id, err)
}
