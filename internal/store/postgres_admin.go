package store

import (
	"context"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) ListAuthGroupMappings(ctx context.Context) ([]AuthGroupMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_name, role, created_by_name, created_at
		FROM auth_group_mappings
		ORDER BY group_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list auth group mappings: %w", err)
	}
	defer rows.Close()

	items := make([]AuthGroupMapping, 0)
	for rows.Next() {
		var item AuthGroupMapping
		if err := rows.Scan(&item.ID, &item.GroupName, &item.Role, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan auth group mapping: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auth group mappings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAuthGroupMapping(ctx context.Context, item AuthGroupMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_group_mappings (id, group_name, role, created_by_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_name) DO UPDATE SET role=EXCLUDED.role
	`, item.ID, item.GroupName, item.Role, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert auth group mapping: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAuthGroupMapping(ctx context.Context, mappingID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_group_mappings WHERE id=$1`, mappingID)
	if err != nil {
		return false, fmt.Errorf("delete auth group mapping: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete auth group mapping rows: %w", err)
	}
	return affected > 0, nil
}

// RolesForGroups returns the mapped role for each group that has a mapping.
func (s *PostgresStore) RolesForGroups(ctx context.Context, groups []string) ([]string, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(groups)
	if err != nil {
		return nil, fmt.Errorf("marshal groups: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role
		FROM auth_group_mappings
		WHERE group_name IN (SELECT jsonb_array_elements_text($1::jsonb))
	`, string(encoded))
	if err != nil {
		return nil, fmt.Errorf("roles for groups: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan group role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group roles: %w", err)
	}
	return roles, nil
}

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (actor_id, actor_name, action, entity_type, entity_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, event.ActorID, event.ActorName, event.Action, event.EntityType, event.EntityID, string(encoded))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, actor, entityType string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_name, action, entity_type, entity_id, payload, created_at
		FROM audit_events
		WHERE ($1='' OR actor_name ILIKE '%' || $1 || '%')
		  AND ($2='' OR entity_type=$2)
		ORDER BY created_at DESC
		LIMIT $3
	`, actor, entityType, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEvent, 0)
	for rows.Next() {
		var item AuditEvent
		var payloadRaw []byte
		if err := rows.Scan(&item.ID, &item.ActorID, &item.ActorName, &item.Action, &item.EntityType, &item.EntityID, &payloadRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		_ = json.Unmarshal(payloadRaw, &item.Payload)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertUpload(ctx context.Context, item Upload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (id, object_key, filename, content_type, size_bytes, owner_id, owner_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ObjectKey, item.Filename, item.ContentType, item.Size, item.OwnerID, item.OwnerName)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUploads(ctx context.Context) ([]Upload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, object_key, filename, content_type, size_bytes, owner_id, owner_name, created_at
		FROM uploads
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	items := make([]Upload, 0)
	for rows.Next() {
		var item Upload
		if err := rows.Scan(&item.ID, &item.ObjectKey, &item.Filename, &item.ContentType, &item.Size, &item.OwnerID, &item.OwnerName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteUpload(ctx context.Context, uploadID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE id=$1`, uploadID)
	if err != nil {
		return false, fmt.Errorf("delete upload: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete upload rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetUpload(ctx context.Context, uploadID string) (Upload, error) {
	var item Upload
	err := s.db.QueryRowContext(ctx, `
		SELECT id, object_key, filename, content_type, size_bytes, owner_id, owner_name, created_at
		FROM uploads
		WHERE id=$1
	`, uploadID).Scan(&item.ID, &item.ObjectKey, &item.Filename, &item.ContentType, &item.Size, &item.OwnerID, &item.OwnerName, &item.CreatedAt)
	if err != nil {
		return Upload{}, err
	}
	return item, nil
}
