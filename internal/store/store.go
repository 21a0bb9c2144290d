package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/profile"
)

// Store is the single owner of the write connection (spec §5 "Shared
// resources: the store connection is owned by the Recorder and is the only
// writer"). It implements profile.Repository and recorder.Store against
// the same underlying *DB.
type Store struct {
	db *DB
}

func New(db *DB) *Store { return &Store{db: db} }

// -- profile.Repository --

func (s *Store) InsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile (id, fingerprint, source, source_format, title,
			author, notes, beverage, date_added, target_weight, target_volume,
			tank_temperature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Fingerprint, p.Source, p.SourceFormat, p.Title, p.Author,
		p.Notes, p.Beverage, p.DateAdded.UTC().Format(time.RFC3339Nano),
		p.TargetWeight, p.TargetVolume, p.TankTemperature)
	if err != nil {
		return fmt.Errorf("store: inserting profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, fingerprint, source, source_format, title, author, notes,
			beverage, date_added, target_weight, target_volume, tank_temperature
		FROM profile WHERE id = ?`, id)

	var p domain.Profile
	var dateAdded string
	if err := row.Scan(&p.ID, &p.Fingerprint, &p.Source, &p.SourceFormat,
		&p.Title, &p.Author, &p.Notes, &p.Beverage, &dateAdded,
		&p.TargetWeight, &p.TargetVolume, &p.TankTemperature); err != nil {
		if err == sql.ErrNoRows {
			return domain.Profile{}, profile.ErrNotFound{ID: id}
		}
		return domain.Profile{}, fmt.Errorf("store: loading profile %s: %w", id, err)
	}
	p.DateAdded, _ = time.Parse(time.RFC3339Nano, dateAdded)
	return p, nil
}

func (s *Store) GetLastUploadedProfileID(ctx context.Context) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM persist_hkv WHERE header = 'profile' AND key = 'last_uploaded'`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: reading last-uploaded profile id: %w", err)
	}
	return id, true, nil
}

func (s *Store) SetLastUploadedProfileID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persist_hkv (header, key, value) VALUES ('profile', 'last_uploaded', ?)
		ON CONFLICT (header, key) DO UPDATE SET value = excluded.value`, id)
	if err != nil {
		return fmt.Errorf("store: setting last-uploaded profile id: %w", err)
	}
	return nil
}

// -- recorder.Store --

func (s *Store) CreateSequence(ctx context.Context, seq domain.Sequence) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequence (id, active_state, start_sequence, start_flow,
			end_flow, end_sequence, profile_id, profile_assumed, close_reason,
			de1_settings_json, de1_control_json, de1_calibration_json,
			de1_firmware_version, scale_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq.ID, string(seq.ActiveState), formatTime(seq.StartSequence),
		formatTimePtr(seq.StartFlow), formatTimePtr(seq.EndFlow), formatTimePtr(seq.EndSequence),
		seq.ProfileID, boolToInt(seq.ProfileAssumed), seq.CloseReason,
		seq.Snapshot.DE1SettingsJSON, seq.Snapshot.DE1ControlJSON,
		seq.Snapshot.DE1CalibrationJSON, seq.Snapshot.DE1FirmwareVersion, seq.Snapshot.ScaleID)
	if err != nil {
		return fmt.Errorf("store: creating sequence row: %w", err)
	}
	return nil
}

// SetStartFlow records the FlowBegin gate's timestamp against an
// already-created sequence row (spec §4.E: start_flow is only known once
// the shot actually starts pouring, after the row exists).
func (s *Store) SetStartFlow(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sequence SET start_flow = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("store: setting start_flow for sequence %s: %w", id, err)
	}
	return nil
}

// CloseSequence finalises a sequence row at SequenceComplete. endFlow is nil
// when the sequence closed before FlowBegin ever fired (e.g. device_lost
// before a shot started pouring), leaving end_flow NULL.
func (s *Store) CloseSequence(ctx context.Context, id string, endFlow *time.Time, endSequence time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sequence SET end_flow = ?, end_sequence = ?, close_reason = ? WHERE id = ?`,
		formatTimePtr(endFlow), endSequence.UTC().Format(time.RFC3339Nano), reason, id)
	if err != nil {
		return fmt.Errorf("store: closing sequence %s: %w", id, err)
	}
	return nil
}

// InsertEvent dispatches ev to its kind-specific table. Every per-event
// table shares the sequence_id/version/sender/arrival_time/create_time/
// event_time envelope columns (spec §6); kind-specific columns follow.
func (s *Store) InsertEvent(ctx context.Context, ev domain.Event) error {
	env := []any{ev.SequenceID, ev.Version, ev.Sender,
		formatTime(ev.ArrivalTime), formatTime(ev.CreateTime), formatTime(ev.EventTime)}

	switch p := ev.Payload.(type) {
	case domain.ShotSamplePayload:
		return s.exec(ctx, `INSERT INTO shot_sample_with_volume_update
			(sequence_id, version, sender, arrival_time, create_time, event_time,
			 sample_time, flow_rate, volume_pour, pressure, temperature)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			append(env, formatTime(p.SampleTime), p.FlowRate, p.VolumePour, p.Pressure, p.Temperature)...)
	case domain.WeightAndFlowPayload:
		return s.exec(ctx, `INSERT INTO weight_and_flow_update
			(sequence_id, version, sender, arrival_time, create_time, event_time,
			 weight, flow_rate, scale_time)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			append(env, p.Weight, p.FlowRate, formatTime(p.ScaleTime))...)
	case domain.StateUpdatePayload:
		return s.exec(ctx, `INSERT INTO state_update
			(sequence_id, version, sender, arrival_time, create_time, event_time, state, substate)
			VALUES (?,?,?,?,?,?,?,?)`,
			append(env, string(p.State), string(p.Substate))...)
	case domain.SequencerGatePayload:
		return s.exec(ctx, `INSERT INTO sequencer_gate_notification
			(sequence_id, version, sender, arrival_time, create_time, event_time,
			 gate, state, active_state, reason)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			append(env, string(p.Gate), string(p.State), string(p.ActiveState), p.Reason)...)
	case domain.StopAtPayload:
		return s.exec(ctx, `INSERT INTO stop_at_notification
			(sequence_id, version, sender, arrival_time, create_time, event_time,
			 kind, action, target, current)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			append(env, string(p.Kind), string(p.Action), p.Target, p.Current)...)
	case domain.WaterLevelPayload:
		return s.exec(ctx, `INSERT INTO water_level_update
			(sequence_id, version, sender, arrival_time, create_time, event_time,
			 level_mm, start_of_fill)
			VALUES (?,?,?,?,?,?,?,?)`,
			append(env, p.LevelMM, boolToInt(p.StartOfFill))...)
	case domain.ScaleTarePayload:
		return s.exec(ctx, `INSERT INTO scale_tare_seen
			(sequence_id, version, sender, arrival_time, create_time, event_time, requested_by)
			VALUES (?,?,?,?,?,?,?)`,
			append(env, p.RequestedBy)...)
	case domain.AutoTarePayload:
		return s.exec(ctx, `INSERT INTO auto_tare_notification
			(sequence_id, version, sender, arrival_time, create_time, event_time, action)
			VALUES (?,?,?,?,?,?,?)`,
			append(env, string(p.Action))...)
	case domain.ScaleButtonPayload:
		return s.exec(ctx, `INSERT INTO scale_button_press
			(sequence_id, version, sender, arrival_time, create_time, event_time, button)
			VALUES (?,?,?,?,?,?,?)`,
			append(env, p.Button)...)
	case domain.ConnectivityPayload:
		return s.exec(ctx, `INSERT INTO connectivity_change
			(sequence_id, version, sender, arrival_time, create_time, event_time, role, state)
			VALUES (?,?,?,?,?,?,?,?)`,
			append(env, string(p.Role), string(p.State))...)
	case domain.DeviceAvailability:
		return s.exec(ctx, `INSERT INTO device_availability
			(sequence_id, version, sender, arrival_time, create_time, event_time,
			 role, state, ready, address, reason)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			append(env, string(p.Role), string(p.State), boolToInt(p.Ready), p.Address, p.Reason)...)
	case domain.DeviceChangedPayload:
		return s.exec(ctx, `INSERT INTO scale_change
			(sequence_id, version, sender, arrival_time, create_time, event_time, role, class, model_name)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			append(env, string(p.Role), string(p.Class), p.ModelName)...)
	case domain.BlueDotUpdatePayload:
		return s.exec(ctx, `INSERT INTO bluedot_update
			(sequence_id, version, sender, arrival_time, create_time, event_time, active)
			VALUES (?,?,?,?,?,?,?)`,
			append(env, boolToInt(p.Active))...)
	default:
		return nil // advertisement-seen and unrecognised kinds are not persisted
	}
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: inserting event: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// legacyShotRow is a minimal projection of shot_sample_with_volume_update
// used by ExportLegacyShot.
type legacyShotRow struct {
	SampleTime  string
	FlowRate    float64
	VolumePour  float64
	Pressure    float64
	Temperature float64
}

// ExportLegacyShot renders one sequence's shot samples into the
// tab-and-whitespace format the original plotting tools consume (spec
// §4.E "Legacy export: this is an export, not part of the primary path").
// Columns are sample_time, flow_rate, volume_pour, pressure, temperature,
// each padded to a fixed width and separated by a tab.
func (s *Store) ExportLegacyShot(ctx context.Context, sequenceID string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sample_time, flow_rate, volume_pour, pressure, temperature
		FROM shot_sample_with_volume_update
		WHERE sequence_id = ?
		ORDER BY sample_time ASC`, sequenceID)
	if err != nil {
		return "", fmt.Errorf("store: querying shot samples for export: %w", err)
	}
	defer rows.Close()

	var out []byte
	out = append(out, []byte("sample_time\tflow_rate\tvolume_pour\tpressure\ttemperature\n")...)
	for rows.Next() {
		var r legacyShotRow
		if err := rows.Scan(&r.SampleTime, &r.FlowRate, &r.VolumePour, &r.Pressure, &r.Temperature); err != nil {
			return "", fmt.Errorf("store: scanning shot sample row: %w", err)
		}
		line := fmt.Sprintf("%-26s\t%8.3f\t%8.3f\t%8.3f\t%8.3f\n",
			r.SampleTime, r.FlowRate, r.VolumePour, r.Pressure, r.Temperature)
		out = append(out, line...)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("store: iterating shot sample rows: %w", err)
	}
	return string(out), nil
}

// SequenceSnapshotJSON marshals a SequenceSnapshot for storage convenience
// in callers that build one from live cached state before CreateSequence.
func SequenceSnapshotJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: marshalling snapshot field: %w", err)
	}
	return string(b), nil
}
