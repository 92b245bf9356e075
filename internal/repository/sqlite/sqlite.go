// Package sqlite stores patients in a single database file, one alarm
// table plus one nursing table per patient. It is the write-through
// backend: classification edits hit the database before the cache is
// refreshed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/waveform"
)

const nursingSuffix = "_nursing"

// Backend reads and writes per-patient tables in one SQLite file.
type Backend struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Backend, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// Single writer; the store serializes flushes per patient anyway.
	db.SetMaxOpenConns(1)
	return &Backend{db: db}, nil
}

// NewWithDB wraps an existing connection, mainly for tests.
func NewWithDB(db *sqlx.DB) *Backend { return &Backend{db: db} }

type alarmRow struct {
	TimeStamp      string         `db:"TimeStamp"`
	AdmissionIn    string         `db:"AdmissionIn"`
	AdmissionOut   sql.NullString `db:"AdmissionOut"`
	AlarmColor     string         `db:"AlarmColor"`
	Severity       sql.NullString `db:"Severity"`
	Label          sql.NullString `db:"Label"`
	Classification sql.NullInt64  `db:"Classification"`
	Comment        sql.NullString `db:"Comment"`
	IsView         sql.NullInt64  `db:"isView"`
	ABP            sql.NullString `db:"ABP"`
	LeadII         sql.NullString `db:"LeadII"`
	Resp           sql.NullString `db:"Resp"`
	Pleth          sql.NullString `db:"Pleth"`
	Numeric        sql.NullString `db:"Numeric"`
}

type nursingRow struct {
	RecordedAt        string `db:"RecordedAt"`
	DiagnosisProtocol string `db:"DiagnosisProtocol"`
	Intervention      string `db:"Intervention"`
	Activity          string `db:"Activity"`
	AttributeCode     string `db:"AttributeCode"`
	AttributeValue    string `db:"AttributeValue"`
	DutyShift         string `db:"DutyShift"`
}

// channelColumns maps waveform channel names to their table columns.
var channelColumns = map[string]string{
	model.ChannelABP:    "ABP",
	model.ChannelLeadII: "LeadII",
	model.ChannelResp:   "Resp",
	model.ChannelPleth:  "Pleth",
}

// ListPatientIDs returns every patient with an alarm table, sorted.
func (b *Backend) ListPatientIDs(ctx context.Context) ([]string, error) {
	var names []string
	err := b.db.SelectContext(ctx, &names,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patient tables: %w", err)
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasSuffix(name, nursingSuffix) {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadPatient reads a patient's alarm and nursing tables into one record.
// Admission periods are reconstructed from the distinct in/out pairs on
// the alarm rows.
func (b *Backend) LoadPatient(ctx context.Context, patientID string) (*model.PatientRecord, error) {
	table, err := tableName(patientID)
	if err != nil {
		return nil, err
	}
	exists, err := b.tableExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrPatientNotFound
	}

	var rows []alarmRow
	query := fmt.Sprintf(`SELECT TimeStamp, AdmissionIn, AdmissionOut, AlarmColor, Severity, Label,
		Classification, Comment, isView, ABP, LeadII, Resp, Pleth, Numeric
		FROM %s ORDER BY TimeStamp`, table)
	if err := b.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load alarms for patient %s: %w", patientID, err)
	}

	rec := model.NewPatientRecord(patientID)
	seenAdmissions := make(map[string]bool)
	for _, row := range rows {
		start, err := model.ParseTimestamp(row.AdmissionIn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse admission start for patient %s: %w", patientID, err)
		}
		period := model.AdmissionPeriod{Start: start}
		if row.AdmissionOut.Valid && row.AdmissionOut.String != "" {
			endTime, err := model.ParseTimestamp(row.AdmissionOut.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse admission end for patient %s: %w", patientID, err)
			}
			period.End = &endTime
		}
		period.ID = model.DeriveAdmissionID(period.Start, period.End)
		if !seenAdmissions[period.ID] {
			seenAdmissions[period.ID] = true
			rec.Admissions = append(rec.Admissions, period)
		}

		ts, err := model.ParseTimestamp(row.TimeStamp)
		if err != nil {
			continue
		}
		rec.AddAlarm(period.ID, model.Alarm{
			Timestamp:      ts,
			Color:          model.AlarmColor(row.AlarmColor),
			Severity:       row.Severity.String,
			Labels:         model.ParseAlarmLabels(row.Label.String),
			Classification: classificationFromNull(row.Classification),
			Comment:        row.Comment.String,
			Visible:        boolFromNull(row.IsView),
		})

		snapshot := snapshotFromRow(row)
		if snapshot != nil {
			rec.Waveforms[row.TimeStamp] = snapshot
		}
	}
	sort.Slice(rec.Admissions, func(i, j int) bool {
		return rec.Admissions[i].Start.Before(rec.Admissions[j].Start)
	})

	if err := b.loadNursing(ctx, patientID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *Backend) loadNursing(ctx context.Context, patientID string, rec *model.PatientRecord) error {
	exists, err := b.tableExists(ctx, patientID+nursingSuffix)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	table, err := tableName(patientID + nursingSuffix)
	if err != nil {
		return err
	}
	var rows []nursingRow
	query := fmt.Sprintf(`SELECT RecordedAt, DiagnosisProtocol, Intervention, Activity,
		AttributeCode, AttributeValue, DutyShift FROM %s ORDER BY RecordedAt`, table)
	if err := b.db.SelectContext(ctx, &rows, query); err != nil {
		return fmt.Errorf("failed to load nursing records for patient %s: %w", patientID, err)
	}
	for _, row := range rows {
		recordedAt, err := model.ParseTimestamp(row.RecordedAt)
		if err != nil {
			continue
		}
		rec.NursingRecords[row.RecordedAt] = append(rec.NursingRecords[row.RecordedAt], model.NursingRecord{
			DiagnosisProtocol: row.DiagnosisProtocol,
			Intervention:      row.Intervention,
			Activity:          row.Activity,
			AttributeCode:     row.AttributeCode,
			AttributeValue:    row.AttributeValue,
			DutyShift:         row.DutyShift,
			RecordedAt:        recordedAt,
		})
	}
	return nil
}

// WriteClassification updates one alarm row in place, keyed by timestamp.
func (b *Backend) WriteClassification(ctx context.Context, patientID string, ref model.AlarmRef, class model.Classification, comment string) error {
	table, err := tableName(patientID)
	if err != nil {
		return err
	}
	exists, err := b.tableExists(ctx, patientID)
	if err != nil {
		return err
	}
	if !exists {
		return repository.ErrPatientNotFound
	}

	query := fmt.Sprintf(`UPDATE %s SET Classification = ?, Comment = ? WHERE TimeStamp = ?`, table)
	res, err := b.db.ExecContext(ctx, query, classificationToNull(class), comment, ref.Date+" "+ref.Time)
	if err != nil {
		return fmt.Errorf("failed to update classification for patient %s: %w", patientID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check classification update for patient %s: %w", patientID, err)
	}
	if affected == 0 {
		return repository.ErrAlarmNotFound
	}
	return nil
}

// FlushPatient rewrites the patient's tables from the record in a single
// transaction.
func (b *Backend) FlushPatient(ctx context.Context, rec *model.PatientRecord) error {
	table, err := tableName(rec.PatientID)
	if err != nil {
		return err
	}
	nursingTable, err := tableName(rec.PatientID + nursingSuffix)
	if err != nil {
		return err
	}

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin flush for patient %s: %w", rec.PatientID, err)
	}
	defer tx.Rollback()

	if err := createTables(ctx, tx, table, nursingTable); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return fmt.Errorf("failed to clear alarms for patient %s: %w", rec.PatientID, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, nursingTable)); err != nil {
		return fmt.Errorf("failed to clear nursing records for patient %s: %w", rec.PatientID, err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (TimeStamp, AdmissionIn, AdmissionOut, AlarmColor,
		Severity, Label, Classification, Comment, isView, ABP, LeadII, Resp, Pleth, Numeric)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table)
	for _, admissionID := range sortedKeys(rec.Alarms) {
		period, ok := rec.AdmissionByID(admissionID)
		if !ok {
			return fmt.Errorf("unknown admission %s for patient %s", admissionID, rec.PatientID)
		}
		byDate := rec.Alarms[admissionID]
		admissionOut := sql.NullString{}
		if period.End != nil {
			admissionOut = sql.NullString{String: period.End.Format(model.TimestampLayout), Valid: true}
		}
		for _, date := range sortedKeys(byDate) {
			for _, a := range byDate[date] {
				key := a.Timestamp.Format(model.TimestampLayout)
				channels, numeric := snapshotToColumns(rec.Waveforms[key])
				_, err := tx.ExecContext(ctx, insert,
					key,
					period.Start.Format(model.TimestampLayout),
					admissionOut,
					string(a.Color),
					nullString(a.Severity),
					nullString(strings.Join(a.Labels, " / ")),
					classificationToNull(a.Classification),
					nullString(a.Comment),
					boolToNull(a.Visible),
					channels[model.ChannelABP],
					channels[model.ChannelLeadII],
					channels[model.ChannelResp],
					channels[model.ChannelPleth],
					numeric,
				)
				if err != nil {
					return fmt.Errorf("failed to insert alarm for patient %s: %w", rec.PatientID, err)
				}
			}
		}
	}

	insertNursing := fmt.Sprintf(`INSERT INTO %s (RecordedAt, DiagnosisProtocol, Intervention,
		Activity, AttributeCode, AttributeValue, DutyShift) VALUES (?, ?, ?, ?, ?, ?, ?)`, nursingTable)
	for _, key := range sortedKeys(rec.NursingRecords) {
		for _, n := range rec.NursingRecords[key] {
			_, err := tx.ExecContext(ctx, insertNursing,
				n.RecordedAt.Format(model.TimestampLayout),
				n.DiagnosisProtocol, n.Intervention, n.Activity,
				n.AttributeCode, n.AttributeValue, n.DutyShift)
			if err != nil {
				return fmt.Errorf("failed to insert nursing record for patient %s: %w", rec.PatientID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flush for patient %s: %w", rec.PatientID, err)
	}
	return nil
}

// Mode reports that this backend expects write-through caching.
func (b *Backend) Mode() repository.WriteMode { return repository.WriteThrough }

// Close closes the underlying database.
func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) tableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := b.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return count > 0, nil
}

func createTables(ctx context.Context, tx *sqlx.Tx, table, nursingTable string) error {
	alarmDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		TimeStamp TEXT NOT NULL UNIQUE,
		AdmissionIn TEXT NOT NULL,
		AdmissionOut TEXT,
		AlarmColor TEXT NOT NULL,
		Severity TEXT,
		Label TEXT,
		Classification INTEGER,
		Comment TEXT,
		isView INTEGER,
		ABP TEXT,
		LeadII TEXT,
		Resp TEXT,
		Pleth TEXT,
		Numeric TEXT
	)`, table)
	if _, err := tx.ExecContext(ctx, alarmDDL); err != nil {
		return fmt.Errorf("failed to create alarm table %s: %w", table, err)
	}
	nursingDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		RecordedAt TEXT NOT NULL,
		DiagnosisProtocol TEXT,
		Intervention TEXT,
		Activity TEXT,
		AttributeCode TEXT,
		AttributeValue TEXT,
		DutyShift TEXT
	)`, nursingTable)
	if _, err := tx.ExecContext(ctx, nursingDDL); err != nil {
		return fmt.Errorf("failed to create nursing table %s: %w", nursingTable, err)
	}
	return nil
}

// tableName validates and quotes a patient-derived table name. Patient IDs
// come from external exports, so anything outside a conservative charset
// is rejected rather than escaped.
func tableName(patientID string) (string, error) {
	if patientID == "" {
		return "", fmt.Errorf("empty patient ID")
	}
	for _, r := range patientID {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return "", fmt.Errorf("invalid patient ID %q", patientID)
		}
	}
	return `"` + patientID + `"`, nil
}

func snapshotFromRow(row alarmRow) *model.Snapshot {
	hasData := row.ABP.Valid || row.LeadII.Valid || row.Resp.Valid || row.Pleth.Valid || row.Numeric.Valid
	if !hasData {
		return nil
	}
	snapshot := &model.Snapshot{
		Channels:  make(map[string][]float64, len(channelColumns)),
		Vitals:    make(map[string]model.Vital),
		RawLabels: model.ParseAlarmLabels(row.Label.String),
	}
	if parsed, err := model.ParseTimestamp(row.TimeStamp); err == nil {
		snapshot.Timestamp = parsed
	}
	for channel, blob := range map[string]sql.NullString{
		model.ChannelABP:    row.ABP,
		model.ChannelLeadII: row.LeadII,
		model.ChannelResp:   row.Resp,
		model.ChannelPleth:  row.Pleth,
	} {
		if blob.Valid {
			snapshot.Channels[channel] = waveform.Decode(blob.String)
		}
	}
	if row.Numeric.Valid && row.Numeric.String != "" {
		var vitals map[string]struct {
			Value      float64 `json:"value"`
			AgeSeconds float64 `json:"age_seconds"`
		}
		if err := json.Unmarshal([]byte(row.Numeric.String), &vitals); err == nil {
			for name, v := range vitals {
				snapshot.Vitals[name] = model.Vital{Value: v.Value, AgeSeconds: v.AgeSeconds}
			}
		}
	}
	return snapshot
}

func snapshotToColumns(snapshot *model.Snapshot) (map[string]sql.NullString, sql.NullString) {
	channels := map[string]sql.NullString{
		model.ChannelABP:    {},
		model.ChannelLeadII: {},
		model.ChannelResp:   {},
		model.ChannelPleth:  {},
	}
	if snapshot == nil {
		return channels, sql.NullString{}
	}
	for channel, samples := range snapshot.Channels {
		if _, ok := channelColumns[channel]; ok {
			channels[channel] = sql.NullString{String: waveform.Encode(samples), Valid: true}
		}
	}
	var numeric sql.NullString
	if len(snapshot.Vitals) > 0 {
		payload := make(map[string]map[string]float64, len(snapshot.Vitals))
		for name, v := range snapshot.Vitals {
			payload[name] = map[string]float64{"value": v.Value, "age_seconds": v.AgeSeconds}
		}
		if raw, err := json.Marshal(payload); err == nil {
			numeric = sql.NullString{String: string(raw), Valid: true}
		}
	}
	return channels, numeric
}

func classificationFromNull(n sql.NullInt64) model.Classification {
	if !n.Valid {
		return model.ClassificationUnset
	}
	if n.Int64 != 0 {
		return model.ClassificationTrue
	}
	return model.ClassificationFalse
}

func classificationToNull(c model.Classification) sql.NullInt64 {
	switch c {
	case model.ClassificationTrue:
		return sql.NullInt64{Int64: 1, Valid: true}
	case model.ClassificationFalse:
		return sql.NullInt64{Int64: 0, Valid: true}
	}
	return sql.NullInt64{}
}

func boolFromNull(n sql.NullInt64) *bool {
	if !n.Valid {
		return nil
	}
	v := n.Int64 != 0
	return &v
}

func boolToNull(b *bool) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	if *b {
		return sql.NullInt64{Int64: 1, Valid: true}
	}
	return sql.NullInt64{Int64: 0, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
