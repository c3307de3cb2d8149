package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// --- Base templates ---

func scanBaseTemplate(row interface{ Scan(...any) error }) (BaseTemplate, error) {
	var bt BaseTemplate
	var fromName, fromAddress, replyTo, darkColor, logoURL sql.NullString
	err := row.Scan(&bt.ID, &bt.PlanID, &fromName, &fromAddress, &replyTo, &darkColor, &logoURL)
	if err != nil {
		return BaseTemplate{}, mapError(err)
	}
	bt.FromName = fromName.String
	bt.FromAddress = fromAddress.String
	bt.ReplyTo = replyTo.String
	bt.BrandDarkColor = darkColor.String
	bt.LogoURL = logoURL.String
	return bt, nil
}

func (s *PostgresStore) GetBaseTemplate(ctx context.Context, planID string) (BaseTemplate, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, plan_id, from_name, from_address, reply_to, brand_dark_color, logo_url
		FROM notification_base_templates WHERE plan_id=$1
	`, planID)
	return scanBaseTemplate(row)
}

func (s *PostgresStore) InsertBaseTemplate(ctx context.Context, bt BaseTemplate) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO notification_base_templates (id, plan_id, from_name, from_address,
			reply_to, brand_dark_color, logo_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, bt.ID, bt.PlanID, nullString(bt.FromName), nullString(bt.FromAddress),
		nullString(bt.ReplyTo), nullString(bt.BrandDarkColor), nullString(bt.LogoURL))
	if err != nil {
		return fmt.Errorf("insert base template: %w", mapError(err))
	}
	return nil
}

// --- Notification templates ---

func (s *PostgresStore) ListNotificationTemplates(ctx context.Context, baseID string) ([]NotificationTemplate, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, base_id, type, subject, from_address,
			send_to_contact_persons, send_to_plan_admins, custom_email
		FROM notification_templates WHERE base_id=$1
	`, baseID)
	if err != nil {
		return nil, fmt.Errorf("list notification templates: %w", err)
	}
	defer rows.Close()

	items := make([]NotificationTemplate, 0)
	for rows.Next() {
		var t NotificationTemplate
		if err := rows.Scan(&t.ID, &t.BaseID, &t.Type, &t.Subject, &t.FromAddress,
			&t.SendToContactPersons, &t.SendToPlanAdmins, &t.CustomEmail); err != nil {
			return nil, fmt.Errorf("scan notification template: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertNotificationTemplate(ctx context.Context, t NotificationTemplate) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO notification_templates (id, base_id, type, subject, from_address,
			send_to_contact_persons, send_to_plan_admins, custom_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.BaseID, t.Type, t.Subject, t.FromAddress,
		t.SendToContactPersons, t.SendToPlanAdmins, t.CustomEmail)
	if err != nil {
		return fmt.Errorf("insert notification template: %w", mapError(err))
	}
	return nil
}

// --- Content blocks ---

func (s *PostgresStore) ListContentBlocks(ctx context.Context, baseID string) ([]ContentBlock, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, base_id, template_id, identifier, content
		FROM notification_content_blocks WHERE base_id=$1
	`, baseID)
	if err != nil {
		return nil, fmt.Errorf("list content blocks: %w", err)
	}
	defer rows.Close()

	items := make([]ContentBlock, 0)
	for rows.Next() {
		var b ContentBlock
		if err := rows.Scan(&b.ID, &b.BaseID, &b.TemplateID, &b.Identifier, &b.Content); err != nil {
			return nil, fmt.Errorf("scan content block: %w", err)
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertContentBlock(ctx context.Context, b ContentBlock) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO notification_content_blocks (id, base_id, template_id, identifier, content)
		VALUES ($1, $2, $3, $4, $5)
	`, b.ID, b.BaseID, b.TemplateID, b.Identifier, b.Content)
	if err != nil {
		return fmt.Errorf("insert content block: %w", mapError(err))
	}
	return nil
}

// --- Sent notifications ---

// ListSentNotifications returns the full send history for the targets of
// one plan, newest first. The notification engine loads this once per run.
func (s *PostgresStore) ListSentNotifications(ctx context.Context, targetKind string, targetIDs []string) ([]SentNotification, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, target_kind, target_id, type, person_id, email, sent_at
		FROM sent_notifications
		WHERE target_kind=$1 AND target_id = ANY($2)
		ORDER BY sent_at DESC
	`, targetKind, stringArray(targetIDs))
	if err != nil {
		return nil, fmt.Errorf("list sent notifications: %w", err)
	}
	defer rows.Close()

	items := make([]SentNotification, 0)
	for rows.Next() {
		var n SentNotification
		if err := rows.Scan(&n.ID, &n.TargetKind, &n.TargetID, &n.Type, &n.PersonID, &n.Email, &n.SentAt); err != nil {
			return nil, fmt.Errorf("scan sent notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertSentNotification(ctx context.Context, n SentNotification) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sent_notifications (id, target_kind, target_id, type, person_id, email, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.TargetKind, n.TargetID, n.Type, n.PersonID, n.Email, n.SentAt)
	if err != nil {
		return fmt.Errorf("insert sent notification: %w", mapError(err))
	}
	return nil
}

// --- User feedback ---

func (s *PostgresStore) InsertUserFeedback(ctx context.Context, fb UserFeedback) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO user_feedback (id, plan_id, name, email, comment, url)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, fb.ID, fb.PlanID, nullString(fb.Name), nullString(fb.Email), fb.Comment, nullString(fb.URL))
	if err != nil {
		return fmt.Errorf("insert user feedback: %w", mapError(err))
	}
	return nil
}

// ListUserFeedbackSince returns feedback entries created at or after the
// cutoff, oldest first.
func (s *PostgresStore) ListUserFeedbackSince(ctx context.Context, planID string, since time.Time) ([]UserFeedback, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, plan_id, name, email, comment, url, created_at
		FROM user_feedback WHERE plan_id=$1 AND created_at >= $2
		ORDER BY created_at
	`, planID, since)
	if err != nil {
		return nil, fmt.Errorf("list user feedback: %w", err)
	}
	defer rows.Close()

	items := make([]UserFeedback, 0)
	for rows.Next() {
		var fb UserFeedback
		var name, email, url sql.NullString
		if err := rows.Scan(&fb.ID, &fb.PlanID, &name, &email, &fb.Comment, &url, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user feedback: %w", err)
		}
		fb.Name = name.String
		fb.Email = email.String
		fb.URL = url.String
		items = append(items, fb)
	}
	return items, rows.Err()
}
