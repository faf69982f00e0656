package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// =============================================================================
// Deployment Operations
// =============================================================================

// deploymentRow represents a deployment row in the database.
type deploymentRow struct {
	ID        string  `db:"id"`
	Version   string  `db:"version"`
	Strategy  string  `db:"strategy"`
	Status    string  `db:"status"`
	Reason    string  `db:"reason"`
	Escalated bool    `db:"escalated"`
	Config    string  `db:"config"`
	Regions   string  `db:"regions"`
	Metrics   string  `db:"metrics"`
	CreatedAt string  `db:"created_at"`
	StartedAt *string `db:"started_at"`
	EndedAt   *string `db:"ended_at"`
}

const deploymentColumns = `id, version, strategy, status, reason, escalated, config, regions, metrics,
	created_at, started_at, ended_at`

func deploymentToRow(op string, d *domain.DeploymentStatus) (map[string]any, error) {
	configJSON, err := json.Marshal(d.Config)
	if err != nil {
		return nil, NewStoreError(op, "deployment", d.ID, "failed to serialize config", ErrInvalidData)
	}
	regionsJSON, err := json.Marshal(d.Regions)
	if err != nil {
		return nil, NewStoreError(op, "deployment", d.ID, "failed to serialize regions", ErrInvalidData)
	}
	metricsJSON, err := json.Marshal(d.Metrics)
	if err != nil {
		return nil, NewStoreError(op, "deployment", d.ID, "failed to serialize metrics", ErrInvalidData)
	}
	return map[string]any{
		"id":         d.ID,
		"version":    d.Version,
		"strategy":   string(d.Strategy),
		"status":     string(d.Status),
		"reason":     d.Reason,
		"escalated":  d.Escalated,
		"config":     string(configJSON),
		"regions":    string(regionsJSON),
		"metrics":    string(metricsJSON),
		"created_at": formatTime(d.CreatedAt),
		"started_at": formatTimePtr(d.StartedAt),
		"ended_at":   formatTimePtr(d.EndedAt),
	}, nil
}

func createDeployment(ctx context.Context, exec executor, d *domain.DeploymentStatus) error {
	row, err := deploymentToRow("CreateDeployment", d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (` + deploymentColumns + `)
		VALUES (
			:id, :version, :strategy, :status, :reason, :escalated, :config, :regions, :metrics,
			:created_at, :started_at, :ended_at
		)`

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return NewStoreError("CreateDeployment", "deployment", d.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateDeployment", "deployment", d.ID, err.Error(), err)
	}
	return nil
}

func updateDeployment(ctx context.Context, exec executor, d *domain.DeploymentStatus) error {
	row, err := deploymentToRow("UpdateDeployment", d)
	if err != nil {
		return err
	}

	query := `
		UPDATE deployments SET
			status = :status,
			reason = :reason,
			escalated = :escalated,
			regions = :regions,
			metrics = :metrics,
			started_at = :started_at,
			ended_at = :ended_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", d.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateDeployment", "deployment", d.ID, "deployment not found", ErrNotFound)
	}
	return nil
}

func getDeployment(ctx context.Context, exec executor, id string) (*domain.DeploymentStatus, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = ?`

	var row deploymentRow
	if err := exec.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", id, err.Error(), err)
	}

	d, err := rowToDeployment(&row)
	if err != nil {
		return nil, err
	}
	events, err := listDeploymentEvents(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	d.Events = events
	return d, nil
}

// listDeployments returns deployments newest first. Events are not loaded.
func listDeployments(ctx context.Context, exec executor, opts ListOptions) ([]domain.DeploymentStatus, error) {
	opts = opts.Normalize()
	query := `SELECT ` + deploymentColumns + ` FROM deployments ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	var rows []deploymentRow
	if err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}
	return rowsToDeployments(rows)
}

func listDeploymentsByStatus(ctx context.Context, exec executor, states []domain.DeploymentState) ([]domain.DeploymentStatus, error) {
	if len(states) == 0 {
		return []domain.DeploymentStatus{}, nil
	}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}

	query, args, err := sqlx.In(`SELECT `+deploymentColumns+` FROM deployments WHERE status IN (?) ORDER BY created_at`, names)
	if err != nil {
		return nil, NewStoreError("ListDeploymentsByStatus", "deployment", "", err.Error(), err)
	}

	var rows []deploymentRow
	if err := exec.SelectContext(ctx, &rows, exec.Rebind(query), args...); err != nil {
		return nil, NewStoreError("ListDeploymentsByStatus", "deployment", "", err.Error(), err)
	}
	return rowsToDeployments(rows)
}

func rowsToDeployments(rows []deploymentRow) ([]domain.DeploymentStatus, error) {
	out := make([]domain.DeploymentStatus, 0, len(rows))
	for i := range rows {
		d, err := rowToDeployment(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func rowToDeployment(row *deploymentRow) (*domain.DeploymentStatus, error) {
	d := &domain.DeploymentStatus{
		ID:        row.ID,
		Version:   row.Version,
		Strategy:  domain.StrategyType(row.Strategy),
		Status:    domain.DeploymentState(row.Status),
		Reason:    row.Reason,
		Escalated: row.Escalated,
		Events:    []domain.DeploymentEvent{},
	}

	if err := json.Unmarshal([]byte(row.Config), &d.Config); err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse config", ErrInvalidData)
	}
	if err := json.Unmarshal([]byte(row.Regions), &d.Regions); err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse regions", ErrInvalidData)
	}
	if err := json.Unmarshal([]byte(row.Metrics), &d.Metrics); err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse metrics", ErrInvalidData)
	}

	var err error
	if d.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse created_at", ErrInvalidData)
	}
	if d.StartedAt, err = parseTimePtr(row.StartedAt); err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse started_at", ErrInvalidData)
	}
	if d.EndedAt, err = parseTimePtr(row.EndedAt); err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse ended_at", ErrInvalidData)
	}
	if d.Regions == nil {
		d.Regions = map[string]domain.RegionStatus{}
	}
	return d, nil
}

// =============================================================================
// Deployment Event Operations
// =============================================================================

type eventRow struct {
	DeploymentID string   `db:"deployment_id"`
	Sequence     int      `db:"sequence"`
	Type         string   `db:"type"`
	Region       string   `db:"region"`
	FromState    string   `db:"from_state"`
	ToState      string   `db:"to_state"`
	Traffic      *float64 `db:"traffic"`
	Message      string   `db:"message"`
	CreatedAt    string   `db:"created_at"`
}

func appendDeploymentEvent(ctx context.Context, exec executor, deploymentID string, ev domain.DeploymentEvent) error {
	query := `
		INSERT INTO deployment_events (
			deployment_id, sequence, type, region, from_state, to_state, traffic, message, created_at
		) VALUES (
			:deployment_id, :sequence, :type, :region, :from_state, :to_state, :traffic, :message, :created_at
		)`

	row := eventRow{
		DeploymentID: deploymentID,
		Sequence:     ev.Sequence,
		Type:         string(ev.Type),
		Region:       ev.Region,
		FromState:    ev.From,
		ToState:      ev.To,
		Traffic:      ev.Traffic,
		Message:      ev.Message,
		CreatedAt:    formatTime(ev.Timestamp),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if isForeignKeyViolation(err) {
			return NewStoreError("AppendDeploymentEvent", "deployment", deploymentID, "deployment not found", ErrForeignKey)
		}
		if isUniqueViolation(err) {
			return NewStoreError("AppendDeploymentEvent", "deployment", deploymentID, "event sequence already recorded", ErrDuplicateID)
		}
		return NewStoreError("AppendDeploymentEvent", "deployment", deploymentID, err.Error(), err)
	}
	return nil
}

func listDeploymentEvents(ctx context.Context, exec executor, deploymentID string) ([]domain.DeploymentEvent, error) {
	query := `
		SELECT deployment_id, sequence, type, region, from_state, to_state, traffic, message, created_at
		FROM deployment_events WHERE deployment_id = ? ORDER BY sequence`

	var rows []eventRow
	if err := exec.SelectContext(ctx, &rows, query, deploymentID); err != nil {
		return nil, NewStoreError("ListDeploymentEvents", "deployment", deploymentID, err.Error(), err)
	}

	events := make([]domain.DeploymentEvent, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTime(row.CreatedAt)
		if err != nil {
			return nil, NewStoreError("ListDeploymentEvents", "deployment", deploymentID, "failed to parse created_at", ErrInvalidData)
		}
		events = append(events, domain.DeploymentEvent{
			Sequence:  row.Sequence,
			Type:      domain.EventType(row.Type),
			Region:    row.Region,
			From:      row.FromState,
			To:        row.ToState,
			Traffic:   row.Traffic,
			Message:   row.Message,
			Timestamp: ts,
		})
	}
	return events, nil
}
