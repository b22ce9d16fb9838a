package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
)

// ErrFeedNotFound is returned when a feed does not exist.
var ErrFeedNotFound = errors.New("feed not found")

// GetFeed loads a feed with its steps in configured order.
func (db *DB) GetFeed(ctx context.Context, feedID string) (*domain.Feed, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, title, description, apply_to, feedback_criteria, process_order, created_at
		FROM feeds
		WHERE id = $1
	`, feedID)

	var (
		id          string
		title       string
		description pgtype.Text
		applyTo     string
		criteria    string
		order       int
		created     pgtype.Timestamptz
	)

	if err := row.Scan(&id, &title, &description, &applyTo, &criteria, &order, &created); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFeedNotFound
		}

		return nil, fmt.Errorf("get feed: %w", err)
	}

	steps, err := db.getFeedSteps(ctx, id)
	if err != nil {
		return nil, err
	}

	return &domain.Feed{
		ID:               id,
		Title:            title,
		Description:      fromText(description),
		ApplyTo:          applyTo,
		FeedbackCriteria: criteria,
		ProcessOrder:     order,
		Steps:            steps,
		CreatedAt:        created.Time,
	}, nil
}

func (db *DB) getFeedSteps(ctx context.Context, feedID string) ([]domain.Step, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, step_type, position, provider, model, temperature, max_tokens,
		       thinking, score_regex, guided_type, guided_value, prompts, extra
		FROM feed_steps
		WHERE feed_id = $1
		ORDER BY position ASC
	`, feedID)
	if err != nil {
		return nil, fmt.Errorf("get feed steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.Step

	for rows.Next() {
		var (
			step        domain.Step
			kind        string
			temperature pgtype.Float4
			maxTokens   pgtype.Int4
			scoreRegex  pgtype.Text
			guidedType  pgtype.Text
			guidedValue pgtype.Text
			promptsJSON []byte
			extraJSON   []byte
		)

		if err := rows.Scan(&step.ID, &kind, &step.Position, &step.Provider, &step.Model,
			&temperature, &maxTokens, &step.Thinking, &scoreRegex, &guidedType, &guidedValue,
			&promptsJSON, &extraJSON); err != nil {
			return nil, fmt.Errorf("scan feed step: %w", err)
		}

		step.Kind = domain.StepKind(kind)
		step.Temperature = temperature.Float32
		step.MaxTokens = int(maxTokens.Int32)
		step.ScoreRegex = fromText(scoreRegex)

		if guidedType.Valid && guidedType.String != "" {
			step.Guided = &domain.GuidedOptions{
				Kind:  domain.GuidedKind(guidedType.String),
				Value: fromText(guidedValue),
			}
		}

		if len(promptsJSON) > 0 {
			if err := json.Unmarshal(promptsJSON, &step.Prompts); err != nil {
				return nil, fmt.Errorf("decode step prompts: %w", err)
			}
		}

		if len(extraJSON) > 0 {
			if err := json.Unmarshal(extraJSON, &step.Extra); err != nil {
				return nil, fmt.Errorf("decode step extra fields: %w", err)
			}
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed steps: %w", err)
	}

	return steps, nil
}
