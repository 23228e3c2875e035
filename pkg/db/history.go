package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

// History returns the device command and state history store.
func (db *DB) History() *HistoryStore {
	return &HistoryStore{db: db}
}

// HistoryStore persists device command records and state entries.
// It implements device.Store.
type HistoryStore struct {
	db *DB
}

var _ device.Store = (*HistoryStore)(nil)

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

// UpsertCommand inserts or replaces a command record.
func (s *HistoryStore) UpsertCommand(ctx context.Context, rec *device.CommandRecord) error {
	inputs, err := json.Marshal(rec.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_commands (id, device_id, command_id, gateway_id, status, inputs,
			requested_by_id, requested_by_type, request_context, idempotence_key, history,
			created_at, not_before_at, not_after_at, sent_at, received_at, pending_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			history = excluded.history,
			sent_at = excluded.sent_at,
			received_at = excluded.received_at,
			pending_at = excluded.pending_at,
			finished_at = excluded.finished_at
	`, rec.DeviceCommandID, rec.DeviceID, rec.CommandID, rec.GatewayID, string(rec.Status), string(inputs),
		rec.RequestedBy.ID, rec.RequestedBy.Type, rec.RequestContext, rec.IdempotenceKey, string(history),
		rec.CreatedAt.UnixNano(), nanos(rec.NotBeforeAt), nanos(rec.NotAfterAt), nanos(rec.SentAt),
		nanos(rec.ReceivedAt), nanos(rec.PendingAt), nanos(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert device command %s: %w", rec.DeviceCommandID, err)
	}
	return nil
}

// LoadRecentCommands returns up to limit records of a device, newest first.
func (s *HistoryStore) LoadRecentCommands(ctx context.Context, deviceID string, limit int) ([]*device.CommandRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, command_id, gateway_id, status, inputs,
			requested_by_id, requested_by_type, request_context, idempotence_key, history,
			created_at, not_before_at, not_after_at, sent_at, received_at, pending_at, finished_at
		FROM device_commands WHERE device_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*device.CommandRecord
	for rows.Next() {
		rec := &device.CommandRecord{}
		var status, inputs, history string
		var created int64
		var notBefore, notAfter, sent, received, pending, finished sql.NullInt64
		if err := rows.Scan(&rec.DeviceCommandID, &rec.DeviceID, &rec.CommandID, &rec.GatewayID, &status, &inputs,
			&rec.RequestedBy.ID, &rec.RequestedBy.Type, &rec.RequestContext, &rec.IdempotenceKey, &history,
			&created, &notBefore, &notAfter, &sent, &received, &pending, &finished); err != nil {
			return nil, err
		}
		if rec.Status, err = device.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("device command %s: %w", rec.DeviceCommandID, err)
		}
		if err := json.Unmarshal([]byte(inputs), &rec.Inputs); err != nil {
			return nil, fmt.Errorf("device command %s inputs: %w", rec.DeviceCommandID, err)
		}
		if err := json.Unmarshal([]byte(history), &rec.History); err != nil {
			return nil, fmt.Errorf("device command %s history: %w", rec.DeviceCommandID, err)
		}
		rec.CreatedAt = time.Unix(0, created).UTC()
		rec.NotBeforeAt = fromNanos(notBefore)
		rec.NotAfterAt = fromNanos(notAfter)
		rec.SentAt = fromNanos(sent)
		rec.ReceivedAt = fromNanos(received)
		rec.PendingAt = fromNanos(pending)
		rec.FinishedAt = fromNanos(finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertState appends a state entry.
func (s *HistoryStore) UpsertState(ctx context.Context, e *device.StateEntry) error {
	extra, err := json.Marshal(e.MachineStateExtra)
	if err != nil {
		return fmt.Errorf("failed to encode machine_state_extra: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_states (device_id, machine_state, machine_state_extra, human_state, human_message,
			energy_usage, energy_type, command_id, device_command_id, gateway_id,
			requested_by_id, requested_by_type, request_context, reporting_source, uploaded, uploadable, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.DeviceID, e.MachineState, string(extra), e.HumanState, e.HumanMessage,
		e.EnergyUsage, string(e.EnergyType), e.CommandID, e.DeviceCommandID, e.GatewayID,
		e.RequestedBy.ID, e.RequestedBy.Type, e.RequestContext, e.ReportingSource, e.Uploaded, e.Uploadable,
		e.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert state for %s: %w", e.DeviceID, err)
	}
	return nil
}

// LoadRecentStates returns up to limit entries of a device, newest first.
func (s *HistoryStore) LoadRecentStates(ctx context.Context, deviceID string, limit int) ([]*device.StateEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, machine_state, machine_state_extra, human_state, human_message,
			energy_usage, energy_type, command_id, device_command_id, gateway_id,
			requested_by_id, requested_by_type, request_context, reporting_source, uploaded, uploadable, created_at
		FROM device_states WHERE device_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*device.StateEntry
	for rows.Next() {
		e := &device.StateEntry{}
		var extra, energyType string
		var created int64
		if err := rows.Scan(&e.DeviceID, &e.MachineState, &extra, &e.HumanState, &e.HumanMessage,
			&e.EnergyUsage, &energyType, &e.CommandID, &e.DeviceCommandID, &e.GatewayID,
			&e.RequestedBy.ID, &e.RequestedBy.Type, &e.RequestContext, &e.ReportingSource, &e.Uploaded, &e.Uploadable,
			&created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(extra), &e.MachineStateExtra); err != nil {
			return nil, fmt.Errorf("state of %s: %w", deviceID, err)
		}
		if e.MachineStateExtra == nil {
			e.MachineStateExtra = device.Extra{}
		}
		e.EnergyType = device.EnergyType(energyType)
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
