package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

type UserInfraction struct {
	GuildID    string
	UserID     string
	Category   string
	CountTotal int
	LastAt     time.Time
	LastAction string
	ResetAt    *time.Time
}

func (s *Store) GetInfraction(ctx context.Context, guildID, userID, category string) (UserInfraction, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var inf UserInfraction
	err := s.pool.QueryRow(ctx, `
		SELECT guild_id, user_id, category, count_total, last_at, last_action, reset_at
		FROM user_infractions
		WHERE guild_id = $1 AND user_id = $2 AND category = $3
	`, guildID, userID, category).Scan(&inf.GuildID, &inf.UserID, &inf.Category, &inf.CountTotal, &inf.LastAt, &inf.LastAction, &inf.ResetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserInfraction{}, nil
	}
	if err != nil {
		return UserInfraction{}, err
	}
	return inf, nil
}

// IncrementInfraction bumps the counter for one category and returns the new total. A
// counter whose reset time has passed starts over. forgiveAfter <= 0 never resets.
func (s *Store) IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string, forgiveAfter time.Duration) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now()
	var nextReset *time.Time
	if forgiveAfter > 0 {
		reset := now.Add(forgiveAfter)
		nextReset = &reset
	}

	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO user_infractions (guild_id, user_id, category, count_total, last_at, last_action, reset_at)
		VALUES ($1, $2, $3, 1, $4, $5, $6)
		ON CONFLICT (guild_id, user_id, category) DO UPDATE SET
			count_total = CASE
				WHEN user_infractions.reset_at IS NOT NULL AND user_infractions.reset_at <= excluded.last_at THEN 1
				ELSE user_infractions.count_total + 1
			END,
			last_at = excluded.last_at,
			last_action = excluded.last_action,
			reset_at = excluded.reset_at
		RETURNING count_total
	`, guildID, userID, category, now, lastAction, nextReset).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
