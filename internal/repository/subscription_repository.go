package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SubscriptionRepository is the push_subscription registry. endpoint is the natural key.
type SubscriptionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSubscriptionRepository(db *sql.DB, logger *zap.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert registers sub or refreshes the existing row with the same endpoint
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub models.PushSubscription) (*models.PushSubscription, error) {
	query := `
		INSERT INTO push_subscription (endpoint, p256dh, auth, role, company, service_id, user_agent, is_active, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, now())
		ON CONFLICT (endpoint) DO UPDATE SET
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			role = EXCLUDED.role,
			company = EXCLUDED.company,
			service_id = EXCLUDED.service_id,
			user_agent = EXCLUDED.user_agent,
			is_active = TRUE,
			last_seen_at = now()
		RETURNING id, last_seen_at, created_at
	`

	var lastSeen, createdAt time.Time
	err := r.db.QueryRowContext(ctx, query,
		sub.Endpoint,
		sub.Keys.P256dh,
		sub.Keys.Auth,
		string(sub.Role),
		sub.Company,
		sub.ServiceID,
		sub.UserAgent,
	).Scan(&sub.ID, &lastSeen, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert push subscription: %w", err)
	}

	sub.IsActive = true
	sub.LastSeenAt = lastSeen.UTC()
	sub.CreatedAt = createdAt.UTC()
	return &sub, nil
}

// Find returns the active subscriptions selected by audience. Explicit ids or
// endpoints take precedence over role/company/service scoping. A subscription with
// no company belongs to every company.
func (r *SubscriptionRepository) Find(ctx context.Context, audience models.Audience) ([]models.PushSubscription, error) {
	where := []string{"is_active"}
	var args []any

	if len(audience.SubscriptionIDs) > 0 || len(audience.Endpoints) > 0 {
		args = append(args, pq.Array(audience.SubscriptionIDs), pq.Array(audience.Endpoints))
		where = append(where, "(id = ANY($1) OR endpoint = ANY($2))")
	} else {
		if audience.Role != "" {
			args = append(args, string(audience.Role))
			where = append(where, fmt.Sprintf("role = $%d", len(args)))
		}
		if audience.Company != "" {
			args = append(args, audience.Company)
			where = append(where, fmt.Sprintf("(company = $%d OR company IS NULL)", len(args)))
		}
		if audience.ServiceID != "" {
			args = append(args, audience.ServiceID)
			where = append(where, fmt.Sprintf("service_id = $%d", len(args)))
		}
	}

	query := `SELECT id, endpoint, p256dh, auth, role, company, service_id, user_agent, is_active, last_seen_at, created_at
		FROM push_subscription
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		var role string
		var company, serviceID, userAgent sql.NullString
		if err := rows.Scan(
			&sub.ID,
			&sub.Endpoint,
			&sub.Keys.P256dh,
			&sub.Keys.Auth,
			&role,
			&company,
			&serviceID,
			&userAgent,
			&sub.IsActive,
			&sub.LastSeenAt,
			&sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan push subscription: %w", err)
		}
		sub.Role = models.Role(role)
		sub.Company = nullString(company)
		sub.ServiceID = nullString(serviceID)
		sub.UserAgent = nullString(userAgent)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate push subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteByEndpoint removes a subscription. Deleting an unknown endpoint is not an error.
func (r *SubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM push_subscription WHERE endpoint = $1`, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.logger.Debug("Push subscription deleted", zap.String("endpoint", endpoint))
	}
	return nil
}
