package repository

import (
	"context"
	"database/sql"
	"fmt"

	"Mansoor88-6/escort-alerts/internal/models"

	"go.uber.org/zap"
)

// ServiceRepository reads escort_service. The table belongs to the operations
// backend; nothing here writes to it.
type ServiceRepository struct {
	db           *sql.DB
	activeStatus string
	logger       *zap.Logger
}

func NewServiceRepository(db *sql.DB, activeStatus string, logger *zap.Logger) *ServiceRepository {
	if activeStatus == "" {
		activeStatus = "active"
	}
	return &ServiceRepository{
		db:           db,
		activeStatus: activeStatus,
		logger:       logger,
	}
}

// ListActive returns every service currently under escort
func (r *ServiceRepository) ListActive(ctx context.Context) ([]models.EscortService, error) {
	query := `
		SELECT id, company, client_name, plate, service_kind, status, started_at
		FROM escort_service
		WHERE status = $1
		ORDER BY started_at
	`

	rows, err := r.db.QueryContext(ctx, query, r.activeStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to list active services: %w", err)
	}
	defer rows.Close()

	var services []models.EscortService
	for rows.Next() {
		var svc models.EscortService
		var company, clientName, plate, serviceKind sql.NullString
		var startedAt sql.NullTime
		if err := rows.Scan(&svc.ID, &company, &clientName, &plate, &serviceKind, &svc.Status, &startedAt); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		svc.Company = nullString(company)
		svc.ClientName = nullString(clientName)
		svc.Plate = nullString(plate)
		svc.ServiceKind = nullString(serviceKind)
		if startedAt.Valid {
			t := startedAt.Time.UTC()
			svc.StartedAt = &t
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate services: %w", err)
	}
	return services, nil
}
