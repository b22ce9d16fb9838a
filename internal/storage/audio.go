package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
)

// GetAudioSegments returns the audio references of a subject in position
// order. The TranscriptText field carries any cached transcription.
func (db *DB) GetAudioSegments(ctx context.Context, subjectRef string) ([]domain.AudioSegment, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, subject_ref, position, storage_url, transcript_text, duration_ms, created_at
		FROM audio_segments
		WHERE subject_ref = $1
		ORDER BY position ASC
	`, subjectRef)
	if err != nil {
		return nil, fmt.Errorf("get audio segments: %w", err)
	}
	defer rows.Close()

	var segments []domain.AudioSegment

	for rows.Next() {
		var (
			seg        domain.AudioSegment
			id         pgtype.UUID
			transcript pgtype.Text
			duration   pgtype.Int8
			created    pgtype.Timestamptz
		)

		if err := rows.Scan(&id, &seg.SubjectRef, &seg.Position, &seg.StorageURL,
			&transcript, &duration, &created); err != nil {
			return nil, fmt.Errorf("scan audio segment: %w", err)
		}

		seg.ID = fromUUID(id)
		seg.TranscriptText = fromText(transcript)
		seg.DurationMs = duration.Int64
		seg.CreatedAt = created.Time

		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audio segments: %w", err)
	}

	return segments, nil
}

// SetSegmentTranscription caches the transcription of one audio segment.
func (db *DB) SetSegmentTranscription(ctx context.Context, segmentID, text string) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE audio_segments SET transcript_text = $2 WHERE id = $1
	`, toUUID(segmentID), sanitizeUTF8(text)); err != nil {
		return fmt.Errorf("set segment transcription: %w", err)
	}

	return nil
}
