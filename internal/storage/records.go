package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
)

// RecordQuery narrows a feedback-record listing.
type RecordQuery struct {
	OrderDesc     bool
	Limit         int
	Source        string // optional filter: "ai" or "human"
	OnlyPreferred bool
}

// ListFeedbackRecords returns the records for a subject and criteria in the
// requested recency order.
func (db *DB) ListFeedbackRecords(ctx context.Context, subjectRef, criteria string, q RecordQuery) ([]domain.FeedbackRecord, error) {
	direction := "ASC"
	if q.OrderDesc {
		direction = "DESC"
	}

	query := `
		SELECT id, subject_ref, feedback_criteria, cot_content, score_content,
		       feedback_content, source, language, created_by, is_preferred, created_at
		FROM feedback_records
		WHERE subject_ref = $1 AND feedback_criteria = $2`
	args := []any{subjectRef, criteria}

	if q.Source != "" {
		args = append(args, q.Source)
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}

	if q.OnlyPreferred {
		query += " AND is_preferred"
	}

	query += " ORDER BY created_at " + direction

	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list feedback records: %w", err)
	}
	defer rows.Close()

	var records []domain.FeedbackRecord

	for rows.Next() {
		var (
			rec      domain.FeedbackRecord
			recID    pgtype.UUID
			cot      pgtype.Text
			score    pgtype.Text
			feedback pgtype.Text
			language pgtype.Text
			by       pgtype.Text
			created  pgtype.Timestamptz
		)

		if err := rows.Scan(&recID, &rec.SubjectRef, &rec.FeedbackCriteria, &cot, &score,
			&feedback, &rec.Source, &language, &by, &rec.IsPreferred, &created); err != nil {
			return nil, fmt.Errorf("scan feedback record: %w", err)
		}

		rec.ID = fromUUID(recID)
		rec.CotContent = fromText(cot)
		rec.ScoreContent = fromText(score)
		rec.FeedbackContent = fromText(feedback)
		rec.Language = fromText(language)
		rec.CreatedBy = fromText(by)
		rec.CreatedAt = created.Time

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback records: %w", err)
	}

	return records, nil
}

// CreateFeedbackRecord inserts a new record and returns its id. Every step
// write is a fresh insert; prior records are never updated in place.
func (db *DB) CreateFeedbackRecord(ctx context.Context, rec *domain.FeedbackRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO feedback_records (
			id, subject_ref, feedback_criteria, cot_content, score_content,
			feedback_content, source, language, created_by, is_preferred, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, toUUID(rec.ID), rec.SubjectRef, rec.FeedbackCriteria, toText(rec.CotContent),
		toText(rec.ScoreContent), toText(rec.FeedbackContent), rec.Source,
		toText(rec.Language), toText(rec.CreatedBy), rec.IsPreferred, rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("create feedback record: %w", err)
	}

	return rec.ID, nil
}

// SetPreferredRecord marks one record preferred and clears the flag on every
// other record of the same subject and criteria.
func (db *DB) SetPreferredRecord(ctx context.Context, subjectRef, criteria, recordID string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin preferred update: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `
		UPDATE feedback_records SET is_preferred = FALSE
		WHERE subject_ref = $1 AND feedback_criteria = $2 AND is_preferred
	`, subjectRef, criteria); err != nil {
		return fmt.Errorf("clear preferred records: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE feedback_records SET is_preferred = TRUE WHERE id = $1
	`, toUUID(recordID)); err != nil {
		return fmt.Errorf("set preferred record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit preferred update: %w", err)
	}

	return nil
}
