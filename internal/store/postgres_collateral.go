package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const collateralColumns = `
	id, template_id, customer_id, preset_id, title, body,
	COALESCE(unresolved_json::text, '[]'), review_status, flagged, flag_note, resolved,
	COALESCE(reviewed_by_name, ''), reviewed_at, COALESCE(review_note, ''),
	owner_id, owner_name, created_at, updated_at
`

func scanCollateral(row rowScanner) (CollateralOutput, error) {
	var item CollateralOutput
	var unresolvedRaw string
	err := row.Scan(
		&item.ID,
		&item.TemplateID,
		&item.CustomerID,
		&item.PresetID,
		&item.Title,
		&item.Body,
		&unresolvedRaw,
		&item.ReviewStatus,
		&item.Flagged,
		&item.FlagNote,
		&item.Resolved,
		&item.ReviewedBy,
		&item.ReviewedAt,
		&item.ReviewNote,
		&item.OwnerID,
		&item.OwnerName,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return CollateralOutput{}, err
	}
	_ = json.Unmarshal([]byte(unresolvedRaw), &item.Unresolved)
	return item, nil
}

func (s *PostgresStore) ListCollateral(ctx context.Context, customerID, reviewStatus string, limit int) ([]CollateralOutput, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+collateralColumns+`
		FROM collateral_outputs
		WHERE ($1='' OR customer_id=$1)
		  AND ($2='' OR review_status=$2)
		ORDER BY created_at DESC
		LIMIT $3
	`, customerID, reviewStatus, limit)
	if err != nil {
		return nil, fmt.Errorf("list collateral: %w", err)
	}
	defer rows.Close()

	items := make([]CollateralOutput, 0)
	for rows.Next() {
		item, err := scanCollateral(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collateral: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collateral: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCollateral(ctx context.Context, outputID string) (CollateralOutput, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+collateralColumns+`
		FROM collateral_outputs
		WHERE id=$1
	`, outputID)
	return scanCollateral(row)
}

func (s *PostgresStore) InsertCollateral(ctx context.Context, item CollateralOutput) error {
	unresolved, err := json.Marshal(nonNilStrings(item.Unresolved))
	if err != nil {
		return fmt.Errorf("marshal unresolved placeholders: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collateral_outputs
			(id, template_id, customer_id, preset_id, title, body, unresolved_json, review_status, flagged, flag_note, resolved, owner_id, owner_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13)
	`, item.ID, item.TemplateID, item.CustomerID, item.PresetID, item.Title, item.Body, string(unresolved),
		item.ReviewStatus, item.Flagged, item.FlagNote, item.Resolved, item.OwnerID, item.OwnerName)
	if err != nil {
		return fmt.Errorf("insert collateral: %w", err)
	}
	return nil
}

// UpdateCollateralStatus transitions a row only when its current status still
// matches fromStatus; returns false when the row was missing or already moved.
func (s *PostgresStore) UpdateCollateralStatus(ctx context.Context, outputID, fromStatus, toStatus string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collateral_outputs SET review_status=$3, updated_at=NOW()
		WHERE id=$1 AND review_status=$2
	`, outputID, fromStatus, toStatus)
	if err != nil {
		return false, fmt.Errorf("update collateral status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update collateral status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) FlagCollateral(ctx context.Context, outputID, note string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collateral_outputs
		SET review_status='FLAGGED', flagged=TRUE, flag_note=$2, resolved=FALSE, updated_at=NOW()
		WHERE id=$1 AND review_status='PENDING'
	`, outputID, note)
	if err != nil {
		return false, fmt.Errorf("flag collateral: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("flag collateral rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ResolveCollateralFlag(ctx context.Context, outputID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collateral_outputs
		SET review_status='QUEUED', resolved=TRUE, updated_at=NOW()
		WHERE id=$1 AND review_status='FLAGGED'
	`, outputID)
	if err != nil {
		return false, fmt.Errorf("resolve collateral flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve collateral flag rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkCollateralReviewed(ctx context.Context, outputID, reviewedBy, note string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collateral_outputs
		SET review_status='REVIEWED', reviewed_by_name=$2, reviewed_at=NOW(), review_note=$3, updated_at=NOW()
		WHERE id=$1 AND review_status IN ('QUEUED', 'FLAGGED')
	`, outputID, reviewedBy, note)
	if err != nil {
		return false, fmt.Errorf("mark collateral reviewed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark collateral reviewed rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) FinishCollateralReview(ctx context.Context, outputID, toStatus, reviewedBy, note string, body *string) (bool, error) {
	var result sql.Result
	var err error
	if body != nil {
		result, err = s.db.ExecContext(ctx, `
			UPDATE collateral_outputs
			SET review_status=$2, reviewed_by_name=$3, reviewed_at=NOW(), review_note=$4, body=$5, updated_at=NOW()
			WHERE id=$1 AND review_status='REVIEWED'
		`, outputID, toStatus, reviewedBy, note, *body)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE collateral_outputs
			SET review_status=$2, reviewed_by_name=$3, reviewed_at=NOW(), review_note=$4, updated_at=NOW()
			WHERE id=$1 AND review_status='REVIEWED'
		`, outputID, toStatus, reviewedBy, note)
	}
	if err != nil {
		return false, fmt.Errorf("finish collateral review: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish collateral review rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteCollateral(ctx context.Context, outputID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM collateral_outputs WHERE id=$1`, outputID)
	if err != nil {
		return false, fmt.Errorf("delete collateral: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete collateral rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CollateralStatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT review_status, COUNT(*)::int
		FROM collateral_outputs
		GROUP BY review_status
	`)
	if err != nil {
		return nil, fmt.Errorf("collateral status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}
