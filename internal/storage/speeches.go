package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
)

// ErrSubjectNotFound is returned when a subject reference resolves to nothing.
var ErrSubjectNotFound = errors.New("subject not found")

// GetSpeech loads one speech by UUID.
func (db *DB) GetSpeech(ctx context.Context, speechID string) (*domain.Speech, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, attempt_id, title, transcript_text, language, created_at
		FROM speeches
		WHERE id = $1
	`, toUUID(speechID))

	speech, err := scanSpeech(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}

		return nil, fmt.Errorf("get speech: %w", err)
	}

	return speech, nil
}

// GetAttemptSpeeches loads every speech of an attempt in creation order.
func (db *DB) GetAttemptSpeeches(ctx context.Context, attemptID int64) ([]domain.Speech, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, attempt_id, title, transcript_text, language, created_at
		FROM speeches
		WHERE attempt_id = $1
		ORDER BY created_at ASC
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt speeches: %w", err)
	}
	defer rows.Close()

	var speeches []domain.Speech

	for rows.Next() {
		speech, err := scanSpeech(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt speech: %w", err)
		}

		speeches = append(speeches, *speech)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt speeches: %w", err)
	}

	if len(speeches) == 0 {
		return nil, ErrSubjectNotFound
	}

	return speeches, nil
}

// GetSubjectTranscript resolves a subject reference (speech UUID or numeric
// attempt id) to its transcript text. Attempt references concatenate the
// transcripts of all speeches in creation order.
func (db *DB) GetSubjectTranscript(ctx context.Context, subjectRef string) (string, error) {
	if attemptID, err := strconv.ParseInt(subjectRef, 10, 64); err == nil {
		speeches, err := db.GetAttemptSpeeches(ctx, attemptID)
		if err != nil {
			return "", err
		}

		text := ""
		for _, s := range speeches {
			if text != "" {
				text += "\n"
			}

			text += s.TranscriptText
		}

		return text, nil
	}

	speech, err := db.GetSpeech(ctx, subjectRef)
	if err != nil {
		return "", err
	}

	return speech.TranscriptText, nil
}

// UpdateSpeechTranscript stores the transcript produced by a transcribe step.
func (db *DB) UpdateSpeechTranscript(ctx context.Context, speechID, transcript string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE speeches SET transcript_text = $2 WHERE id = $1
	`, toUUID(speechID), sanitizeUTF8(transcript))
	if err != nil {
		return fmt.Errorf("update speech transcript: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrSubjectNotFound
	}

	return nil
}

func scanSpeech(row pgx.Row) (*domain.Speech, error) {
	var (
		speech     domain.Speech
		id         pgtype.UUID
		attemptID  pgtype.Int8
		title      pgtype.Text
		transcript pgtype.Text
		language   pgtype.Text
		created    pgtype.Timestamptz
	)

	if err := row.Scan(&id, &attemptID, &title, &transcript, &language, &created); err != nil {
		return nil, err
	}

	speech.ID = fromUUID(id)
	speech.AttemptID = attemptID.Int64
	speech.Title = fromText(title)
	speech.TranscriptText = fromText(transcript)
	speech.Language = fromText(language)
	speech.CreatedAt = created.Time

	return &speech, nil
}
