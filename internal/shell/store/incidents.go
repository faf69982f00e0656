package store

import (
	"context"
	"strings"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// =============================================================================
// Incident Operations
// =============================================================================

type incidentRow struct {
	ID         string  `db:"id"`
	Type       string  `db:"type"`
	Severity   string  `db:"severity"`
	Region     string  `db:"region"`
	OpenedAt   string  `db:"opened_at"`
	ClosedAt   *string `db:"closed_at"`
	Impact     string  `db:"impact"`
	Resolution string  `db:"resolution"`
}

func createIncident(ctx context.Context, exec executor, inc *domain.Incident) error {
	query := `
		INSERT INTO incidents (id, type, severity, region, opened_at, closed_at, impact, resolution)
		VALUES (:id, :type, :severity, :region, :opened_at, :closed_at, :impact, :resolution)`

	row := incidentRow{
		ID:         inc.ID,
		Type:       string(inc.Type),
		Severity:   string(inc.Severity),
		Region:     inc.Region,
		OpenedAt:   formatTime(inc.OpenedAt),
		ClosedAt:   formatTimePtr(inc.ClosedAt),
		Impact:     inc.Impact,
		Resolution: inc.Resolution,
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return NewStoreError("CreateIncident", "incident", inc.ID, "incident with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateIncident", "incident", inc.ID, err.Error(), err)
	}
	return nil
}

// closeIncident records the close time and resolution of an open incident.
func closeIncident(ctx context.Context, exec executor, inc *domain.Incident) error {
	if inc.ClosedAt == nil {
		return NewStoreError("CloseIncident", "incident", inc.ID, "incident has no close time", ErrInvalidData)
	}

	result, err := exec.ExecContext(ctx,
		`UPDATE incidents SET closed_at = ?, resolution = ? WHERE id = ? AND closed_at IS NULL`,
		formatTime(*inc.ClosedAt), inc.Resolution, inc.ID)
	if err != nil {
		return NewStoreError("CloseIncident", "incident", inc.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("CloseIncident", "incident", inc.ID, "open incident not found", ErrNotFound)
	}
	return nil
}

func listIncidents(ctx context.Context, exec executor, filter IncidentFilter) ([]domain.Incident, error) {
	opts := filter.ListOptions.Normalize()

	var where []string
	var args []any
	if filter.Region != "" {
		where = append(where, "region = ?")
		args = append(args, filter.Region)
	}
	if filter.OpenOnly {
		where = append(where, "closed_at IS NULL")
	}

	query := `SELECT id, type, severity, region, opened_at, closed_at, impact, resolution FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY opened_at DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	var rows []incidentRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListIncidents", "incident", "", err.Error(), err)
	}

	incidents := make([]domain.Incident, 0, len(rows))
	for _, row := range rows {
		openedAt, err := parseTime(row.OpenedAt)
		if err != nil {
			return nil, NewStoreError("ListIncidents", "incident", row.ID, "failed to parse opened_at", ErrInvalidData)
		}
		closedAt, err := parseTimePtr(row.ClosedAt)
		if err != nil {
			return nil, NewStoreError("ListIncidents", "incident", row.ID, "failed to parse closed_at", ErrInvalidData)
		}
		incidents = append(incidents, domain.Incident{
			ID:         row.ID,
			Type:       domain.IncidentType(row.Type),
			Severity:   domain.Severity(row.Severity),
			Region:     row.Region,
			OpenedAt:   openedAt,
			ClosedAt:   closedAt,
			Impact:     row.Impact,
			Resolution: row.Resolution,
		})
	}
	return incidents, nil
}
