package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"printshop-orders/internal/models"
)

// InsertTicket stores a new support ticket
func (s *Store) InsertTicket(ctx context.Context, ticket *models.SupportTicket) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tickets (id, ticket_id, user_id, user_email, name, order_id, issue_type, message, status, created_at)
		VALUES (:id, :ticket_id, :user_id, :user_email, :name, :order_id, :issue_type, :message, :status, :created_at)`,
		ticket)
	return err
}

// GetTicket retrieves a ticket by document id
func (s *Store) GetTicket(ctx context.Context, docID string) (*models.SupportTicket, error) {
	var t models.SupportTicket
	err := s.db.GetContext(ctx, &t, "SELECT * FROM tickets WHERE id = $1", docID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickets retrieves every ticket, newest first
func (s *Store) ListTickets(ctx context.Context) ([]models.SupportTicket, error) {
	tickets := []models.SupportTicket{}
	err := s.db.SelectContext(ctx, &tickets, "SELECT * FROM tickets ORDER BY created_at DESC")
	return tickets, err
}

// ListTicketsByUser retrieves a customer's tickets, newest first
func (s *Store) ListTicketsByUser(ctx context.Context, userID string) ([]models.SupportTicket, error) {
	tickets := []models.SupportTicket{}
	err := s.db.SelectContext(ctx, &tickets,
		"SELECT * FROM tickets WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return tickets, err
}

// UpdateTicketStatus moves a ticket if its stored status is still from
func (s *Store) UpdateTicketStatus(ctx context.Context, docID string, from, to models.TicketStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tickets SET status = $1 WHERE id = $2 AND status = $3", to, docID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM tickets WHERE id = $1)", docID); err != nil {
		return err
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrConflict
}

// GetUser retrieves a profile by identity-provider uid
func (s *Store) GetUser(ctx context.Context, uid string) (*models.UserProfile, error) {
	var doc []byte
	err := s.db.GetContext(ctx, &doc, "SELECT doc FROM users WHERE uid = $1", uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p models.UserProfile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}

// SaveUser upserts a profile
func (s *Store) SaveUser(ctx context.Context, profile *models.UserProfile) error {
	doc, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	updated := profile.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (uid, email, updated_at, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (uid) DO UPDATE SET email = EXCLUDED.email, updated_at = EXCLUDED.updated_at, doc = EXCLUDED.doc`,
		profile.UID, profile.Email, updated, doc)
	return err
}
