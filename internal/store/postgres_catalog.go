package store

import (
	"context"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, body, owner_id, owner_name, created_at, updated_at
		FROM templates
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		var item Template
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Body, &item.OwnerID, &item.OwnerName, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (Template, error) {
	var item Template
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, body, owner_id, owner_name, created_at, updated_at
		FROM templates
		WHERE id=$1
	`, templateID).Scan(&item.ID, &item.Name, &item.Description, &item.Body, &item.OwnerID, &item.OwnerName, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Template{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, item Template) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, description, body, owner_id, owner_name)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Name, item.Description, item.Body, item.OwnerID, item.OwnerName)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, templateID, name, description, body string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE templates SET name=$2, description=$3, body=$4, updated_at=NOW()
		WHERE id=$1
	`, templateID, name, description, body)
	if err != nil {
		return false, fmt.Errorf("update template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update template rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, templateID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id=$1`, templateID)
	if err != nil {
		return false, fmt.Errorf("delete template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete template rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListCustomers(ctx context.Context) ([]CustomerProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, industry, region, summary, COALESCE(fields_json::text, '{}'), owner_id, owner_name, created_at, updated_at
		FROM customer_profiles
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	items := make([]CustomerProfile, 0)
	for rows.Next() {
		item, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (CustomerProfile, error) {
	var item CustomerProfile
	var fieldsRaw string
	if err := row.Scan(&item.ID, &item.Name, &item.Industry, &item.Region, &item.Summary, &fieldsRaw, &item.OwnerID, &item.OwnerName, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return CustomerProfile{}, fmt.Errorf("scan customer: %w", err)
	}
	_ = json.Unmarshal([]byte(fieldsRaw), &item.Fields)
	if item.Fields == nil {
		item.Fields = map[string]string{}
	}
	return item, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, customerID string) (CustomerProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, industry, region, summary, COALESCE(fields_json::text, '{}'), owner_id, owner_name, created_at, updated_at
		FROM customer_profiles
		WHERE id=$1
	`, customerID)
	var item CustomerProfile
	var fieldsRaw string
	err := row.Scan(&item.ID, &item.Name, &item.Industry, &item.Region, &item.Summary, &fieldsRaw, &item.OwnerID, &item.OwnerName, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return CustomerProfile{}, err
	}
	_ = json.Unmarshal([]byte(fieldsRaw), &item.Fields)
	if item.Fields == nil {
		item.Fields = map[string]string{}
	}
	return item, nil
}

func (s *PostgresStore) InsertCustomer(ctx context.Context, item CustomerProfile) error {
	fields, err := json.Marshal(item.Fields)
	if err != nil {
		return fmt.Errorf("marshal customer fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customer_profiles (id, name, industry, region, summary, fields_json, owner_id, owner_name)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
	`, item.ID, item.Name, item.Industry, item.Region, item.Summary, string(fields), item.OwnerID, item.OwnerName)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCustomer(ctx context.Context, item CustomerProfile) (bool, error) {
	fields, err := json.Marshal(item.Fields)
	if err != nil {
		return false, fmt.Errorf("marshal customer fields: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE customer_profiles
		SET name=$2, industry=$3, region=$4, summary=$5, fields_json=$6::jsonb, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Name, item.Industry, item.Region, item.Summary, string(fields))
	if err != nil {
		return false, fmt.Errorf("update customer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update customer rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteCustomer(ctx context.Context, customerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM customer_profiles WHERE id=$1`, customerID)
	if err != nil {
		return false, fmt.Errorf("delete customer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete customer rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListSkills(ctx context.Context) ([]Skill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, content, COALESCE(tags_json::text, '[]'), version, owner_id, owner_name, created_at, updated_at
		FROM skills
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	items := make([]Skill, 0)
	for rows.Next() {
		var item Skill
		var tagsRaw string
		if err := rows.Scan(&item.ID, &item.Name, &item.Content, &tagsRaw, &item.Version, &item.OwnerID, &item.OwnerName, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		_ = json.Unmarshal([]byte(tagsRaw), &item.Tags)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skills: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSkill(ctx context.Context, skillID string) (Skill, error) {
	var item Skill
	var tagsRaw string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, content, COALESCE(tags_json::text, '[]'), version, owner_id, owner_name, created_at, updated_at
		FROM skills
		WHERE id=$1
	`, skillID).Scan(&item.ID, &item.Name, &item.Content, &tagsRaw, &item.Version, &item.OwnerID, &item.OwnerName, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Skill{}, err
	}
	_ = json.Unmarshal([]byte(tagsRaw), &item.Tags)
	return item, nil
}

func (s *PostgresStore) InsertSkill(ctx context.Context, item Skill) error {
	tags, err := json.Marshal(nonNilStrings(item.Tags))
	if err != nil {
		return fmt.Errorf("marshal skill tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skills (id, name, content, tags_json, version, owner_id, owner_name)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
	`, item.ID, item.Name, item.Content, string(tags), item.Version, item.OwnerID, item.OwnerName)
	if err != nil {
		return fmt.Errorf("insert skill: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSkill(ctx context.Context, skillID, name, content string, tags []string, version int) (bool, error) {
	encoded, err := json.Marshal(nonNilStrings(tags))
	if err != nil {
		return false, fmt.Errorf("marshal skill tags: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE skills SET name=$2, content=$3, tags_json=$4::jsonb, version=$5, updated_at=NOW()
		WHERE id=$1
	`, skillID, name, content, string(encoded), version)
	if err != nil {
		return false, fmt.Errorf("update skill: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update skill rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteSkill(ctx context.Context, skillID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM skills WHERE id=$1`, skillID)
	if err != nil {
		return false, fmt.Errorf("delete skill: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete skill rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListPresets(ctx context.Context) ([]InstructionPreset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, instructions, owner_id, owner_name, created_at, updated_at
		FROM instruction_presets
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	items := make([]InstructionPreset, 0)
	for rows.Next() {
		var item InstructionPreset
		if err := rows.Scan(&item.ID, &item.Name, &item.Instructions, &item.OwnerID, &item.OwnerName, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presets: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPreset(ctx context.Context, presetID string) (InstructionPreset, error) {
	var item InstructionPreset
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, instructions, owner_id, owner_name, created_at, updated_at
		FROM instruction_presets
		WHERE id=$1
	`, presetID).Scan(&item.ID, &item.Name, &item.Instructions, &item.OwnerID, &item.OwnerName, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return InstructionPreset{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertPreset(ctx context.Context, item InstructionPreset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instruction_presets (id, name, instructions, owner_id, owner_name)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Name, item.Instructions, item.OwnerID, item.OwnerName)
	if err != nil {
		return fmt.Errorf("insert preset: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePreset(ctx context.Context, presetID, name, instructions string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE instruction_presets SET name=$2, instructions=$3, updated_at=NOW()
		WHERE id=$1
	`, presetID, name, instructions)
	if err != nil {
		return false, fmt.Errorf("update preset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update preset rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeletePreset(ctx context.Context, presetID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM instruction_presets WHERE id=$1`, presetID)
	if err != nil {
		return false, fmt.Errorf("delete preset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete preset rows: %w", err)
	}
	return affected > 0, nil
}
