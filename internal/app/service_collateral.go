package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"rfphub/api/internal/draft"
	"rfphub/api/internal/export"
	"rfphub/api/internal/llm"
	"rfphub/api/internal/review"
	"rfphub/api/internal/store"
	"rfphub/api/internal/util"
)

type GenerateInput struct {
	TemplateID string   `json:"templateId"`
	CustomerID string   `json:"customerId"`
	PresetID   string   `json:"presetId"`
	SkillIDs   []string `json:"skillIds"`
	Title      string   `json:"title"`
}

func (s *Service) ListCollateral(ctx context.Context, customerID, status string, limit int) ([]map[string]any, error) {
	if status != "" && !review.IsStatus(status) {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown review status", map[string]any{"status": status})
	}
	items, err := s.store.ListCollateral(ctx, customerID, status, limit)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, collateralView(item))
	}
	return views, nil
}

func (s *Service) GetCollateral(ctx context.Context, id string) (map[string]any, error) {
	item, err := s.store.GetCollateral(ctx, id)
	if err != nil {
		return nil, err
	}
	return collateralView(item), nil
}

// GenerateCollateral runs the drafting pipeline: fill the template
// body from the customer profile, then hand the pre-filled draft plus
// skill passages to the model for polishing. An LLM outage degrades to
// plain placeholder filling rather than failing the request.
func (s *Service) GenerateCollateral(ctx context.Context, session Session, input GenerateInput) (map[string]any, error) {
	if input.TemplateID == "" || input.CustomerID == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "templateId and customerId are required", nil)
	}

	tpl, err := s.store.GetTemplate(ctx, input.TemplateID)
	if err != nil {
		return nil, err
	}
	customer, err := s.store.GetCustomer(ctx, input.CustomerID)
	if err != nil {
		return nil, err
	}

	var instructions string
	if input.PresetID != "" {
		preset, err := s.store.GetPreset(ctx, input.PresetID)
		if err != nil {
			return nil, err
		}
		instructions = preset.Instructions
	}

	passages := make([]string, 0, len(input.SkillIDs))
	for _, skillID := range input.SkillIDs {
		skill, err := s.store.GetSkill(ctx, skillID)
		if err != nil {
			return nil, err
		}
		passages = append(passages, fmt.Sprintf("## %s\n\n%s", skill.Name, skill.Content))
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = fmt.Sprintf("%s for %s", tpl.Name, customer.Name)
	}

	filled, unresolved := draft.Fill(tpl.Body, customer.Fields)

	body := filled
	drafted := false
	if s.llm != nil {
		polished, err := s.llm.Draft(ctx, llm.DraftRequest{
			Title:        title,
			Body:         filled,
			CustomerName: customer.Name,
			Summary:      customer.Summary,
			Skills:       passages,
			Instructions: instructions,
			Unresolved:   unresolved,
		})
		if err != nil {
			log.Printf("llm: draft collateral: %v", err)
		} else if polished != filled {
			body = polished
			drafted = true
		}
	}

	item := store.CollateralOutput{
		ID:           util.NewID("col"),
		TemplateID:   tpl.ID,
		CustomerID:   customer.ID,
		PresetID:     input.PresetID,
		Title:        title,
		Body:         body,
		Unresolved:   unresolved,
		ReviewStatus: review.StatusPending,
		OwnerID:      session.UserID,
		OwnerName:    session.UserName,
	}
	if err := s.store.InsertCollateral(ctx, item); err != nil {
		return nil, err
	}

	s.audit(ctx, session, "collateral.generate", "collateral", item.ID, map[string]any{
		"templateId": tpl.ID,
		"customerId": customer.ID,
		"drafted":    drafted,
		"unresolved": unresolved,
	})
	return s.GetCollateral(ctx, item.ID)
}

func (s *Service) FlagCollateral(ctx context.Context, session Session, id, note string) (map[string]any, error) {
	current, err := s.store.GetCollateral(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ensureTransition(current.ReviewStatus, review.StatusFlagged); err != nil {
		return nil, err
	}
	found, err := s.store.FlagCollateral(ctx, id, note)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, transitionConflict(current.ReviewStatus, review.StatusFlagged)
	}
	s.audit(ctx, session, "collateral.flag", "collateral", id, map[string]any{"note": note})
	return s.GetCollateral(ctx, id)
}

func (s *Service) ResolveCollateralFlag(ctx context.Context, session Session, id string) (map[string]any, error) {
	current, err := s.store.GetCollateral(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ReviewStatus != review.StatusFlagged {
		return nil, transitionConflict(current.ReviewStatus, review.StatusQueued)
	}
	found, err := s.store.ResolveCollateralFlag(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, transitionConflict(current.ReviewStatus, review.StatusQueued)
	}
	s.audit(ctx, session, "collateral.resolve", "collateral", id, nil)
	return s.GetCollateral(ctx, id)
}

// QueueCollateral submits a draft for review. Allowed from PENDING,
// from FLAGGED (which also resolves the flag), and from CORRECTED
// (resubmission after corrections).
func (s *Service) QueueCollateral(ctx context.Context, session Session, id string) (map[string]any, error) {
	current, err := s.store.GetCollateral(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ensureTransition(current.ReviewStatus, review.StatusQueued); err != nil {
		return nil, err
	}
	var found bool
	if current.ReviewStatus == review.StatusFlagged {
		found, err = s.store.ResolveCollateralFlag(ctx, id)
	} else {
		found, err = s.store.UpdateCollateralStatus(ctx, id, current.ReviewStatus, review.StatusQueued)
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, transitionConflict(current.ReviewStatus, review.StatusQueued)
	}
	s.audit(ctx, session, "collateral.queue", "collateral", id, map[string]any{"from": current.ReviewStatus})
	return s.GetCollateral(ctx, id)
}

func (s *Service) ReviewCollateral(ctx context.Context, session Session, id, note string) (map[string]any, error) {
	current, err := s.store.GetCollateral(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ensureTransition(current.ReviewStatus, review.StatusReviewed); err != nil {
		return nil, err
	}
	found, err := s.store.MarkCollateralReviewed(ctx, id, session.UserName, note)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, transitionConflict(current.ReviewStatus, review.StatusReviewed)
	}
	s.audit(ctx, session, "collateral.review", "collateral", id, map[string]any{"note": note})
	return s.GetCollateral(ctx, id)
}

func (s *Service) ApproveCollateral(ctx context.Context, session Session, id, note string) (map[string]any, error) {
	return s.finishReview(ctx, session, id, review.StatusApproved, note, nil, "collateral.approve")
}

// CorrectCollateral sends a reviewed draft back with corrections. The
// corrected body, when provided, replaces the draft content.
func (s *Service) CorrectCollateral(ctx context.Context, session Session, id, note string, body *string) (map[string]any, error) {
	return s.finishReview(ctx, session, id, review.StatusCorrected, note, body, "collateral.correct")
}

func (s *Service) finishReview(ctx context.Context, session Session, id, toStatus, note string, body *string, auditAction string) (map[string]any, error) {
	current, err := s.store.GetCollateral(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ensureTransition(current.ReviewStatus, toStatus); err != nil {
		return nil, err
	}
	found, err := s.store.FinishCollateralReview(ctx, id, toStatus, session.UserName, note, body)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, transitionConflict(current.ReviewStatus, toStatus)
	}
	s.audit(ctx, session, auditAction, "collateral", id, map[string]any{"note": note})
	return s.GetCollateral(ctx, id)
}

// BulkReview applies one transition to many rows. Rows whose current
// status does not allow the transition are skipped and reported, not
// failed.
func (s *Service) BulkReview(ctx context.Context, session Session, ids []string, target string) ([]store.BulkReviewResult, error) {
	if !review.IsStatus(target) {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown review status", map[string]any{"status": target})
	}
	if len(ids) == 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "ids is required", nil)
	}

	results := make([]store.BulkReviewResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, s.bulkReviewOne(ctx, session, id, target))
	}
	s.audit(ctx, session, "collateral.bulk_review", "collateral", "", map[string]any{
		"target": target,
		"count":  len(ids),
	})
	return results, nil
}

func (s *Service) bulkReviewOne(ctx context.Context, session Session, id, target string) store.BulkReviewResult {
	current, err := s.store.GetCollateral(ctx, id)
	if err != nil {
		return store.BulkReviewResult{ID: id, OK: false, Error: "not found"}
	}
	if !review.CanTransition(current.ReviewStatus, target) {
		return store.BulkReviewResult{
			ID:     id,
			OK:     false,
			Error:  fmt.Sprintf("cannot move from %s to %s", current.ReviewStatus, target),
			Status: current.ReviewStatus,
		}
	}

	var found bool
	switch {
	case target == review.StatusFlagged:
		found, err = s.store.FlagCollateral(ctx, id, "")
	case target == review.StatusQueued && current.ReviewStatus == review.StatusFlagged:
		found, err = s.store.ResolveCollateralFlag(ctx, id)
	case target == review.StatusReviewed:
		found, err = s.store.MarkCollateralReviewed(ctx, id, session.UserName, "")
	case target == review.StatusApproved || target == review.StatusCorrected:
		found, err = s.store.FinishCollateralReview(ctx, id, target, session.UserName, "", nil)
	default:
		found, err = s.store.UpdateCollateralStatus(ctx, id, current.ReviewStatus, target)
	}
	if err != nil {
		return store.BulkReviewResult{ID: id, OK: false, Error: err.Error(), Status: current.ReviewStatus}
	}
	if !found {
		return store.BulkReviewResult{ID: id, OK: false, Error: "status changed concurrently", Status: current.ReviewStatus}
	}
	return store.BulkReviewResult{ID: id, OK: true, Status: target}
}

// ExportCollateral renders a PDF of a reviewed or approved draft.
func (s *Service) ExportCollateral(ctx context.Context, session Session, id string) (*export.Result, error) {
	item, err := s.store.GetCollateral(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.ReviewStatus != review.StatusReviewed && item.ReviewStatus != review.StatusApproved {
		return nil, domainError(http.StatusConflict, "EXPORT_NOT_ALLOWED", "Only reviewed or approved collateral can be exported", map[string]any{"status": item.ReviewStatus})
	}

	customerName := ""
	if customer, err := s.store.GetCustomer(ctx, item.CustomerID); err == nil {
		customerName = customer.Name
	}

	result, err := s.exporter.ExportCollateral(item, customerName)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, session, "collateral.export", "collateral", id, map[string]any{"filename": result.Filename})
	return result, nil
}

func (s *Service) DeleteCollateral(ctx context.Context, session Session, id string) error {
	found, err := s.store.DeleteCollateral(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Collateral not found", nil)
	}
	s.audit(ctx, session, "collateral.delete", "collateral", id, nil)
	return nil
}

func (s *Service) CollateralStatusCounts(ctx context.Context) (map[string]int, error) {
	counts, err := s.store.CollateralStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, status := range []string{
		review.StatusPending, review.StatusFlagged, review.StatusQueued,
		review.StatusReviewed, review.StatusApproved, review.StatusCorrected,
	} {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}
	return counts, nil
}

func ensureTransition(from, to string) error {
	if review.CanTransition(from, to) {
		return nil
	}
	return transitionConflict(from, to)
}

func transitionConflict(from, to string) error {
	return domainError(http.StatusConflict, "INVALID_TRANSITION",
		fmt.Sprintf("Cannot move collateral from %s to %s", from, to),
		map[string]any{"from": from, "to": to})
}

func collateralView(item store.CollateralOutput) map[string]any {
	return map[string]any{
		"id":           item.ID,
		"templateId":   item.TemplateID,
		"customerId":   item.CustomerID,
		"presetId":     item.PresetID,
		"title":        item.Title,
		"body":         item.Body,
		"unresolved":   item.Unresolved,
		"reviewStatus": item.ReviewStatus,
		"flagged":      item.Flagged,
		"flagNote":     item.FlagNote,
		"resolved":     item.Resolved,
		"reviewedBy":   item.ReviewedBy,
		"reviewedAt":   item.ReviewedAt,
		"reviewNote":   item.ReviewNote,
		"ownerId":      item.OwnerID,
		"ownerName":    item.OwnerName,
		"createdAt":    item.CreatedAt,
		"updatedAt":    item.UpdatedAt,
	}
}
