package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
)

// TriageRepository archives finalized case records. One row per finalized
// case; record ids are ULIDs so rows sort by creation time.
type TriageRepository struct {
	db *sql.DB
}

func NewTriageRepository(db *sql.DB) *TriageRepository {
	return &TriageRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *TriageRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082201)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS triage_records (
	record_id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL,
	patient_id TEXT,
	age INTEGER NOT NULL,
	sex TEXT NOT NULL,
	complaint TEXT NOT NULL,
	age_group TEXT NOT NULL,
	vitals JSONB NOT NULL DEFAULT '{}'::jsonb,
	qa JSONB NOT NULL DEFAULT '[]'::jsonb,
	triage_level TEXT NOT NULL,
	red_flags JSONB NOT NULL DEFAULT '[]'::jsonb,
	immediate_actions JSONB NOT NULL DEFAULT '[]'::jsonb,
	questions_to_ask_next JSONB NOT NULL DEFAULT '[]'::jsonb,
	routing JSONB NOT NULL DEFAULT '{}'::jsonb,
	rationale_brief TEXT,
	evidence_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	model_meta JSONB NOT NULL DEFAULT '{}'::jsonb,
	finish_reason TEXT NOT NULL,
	finalized_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_triage_records_case_id ON triage_records(case_id);
CREATE INDEX IF NOT EXISTS idx_triage_records_finalized_at ON triage_records(finalized_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *TriageRepository) Save(ctx context.Context, record domain.FinalizedRecord) error {
	vitals, err := marshalField("vitals", record.Intake.Vitals)
	if err != nil {
		return err
	}
	qa, err := marshalField("qa", record.QA)
	if err != nil {
		return err
	}
	redFlags, err := marshalField("red_flags", record.Assessment.RedFlags)
	if err != nil {
		return err
	}
	actions, err := marshalField("immediate_actions", record.Assessment.ImmediateActions)
	if err != nil {
		return err
	}
	questions, err := marshalField("questions_to_ask_next", record.Assessment.FollowupQuestions)
	if err != nil {
		return err
	}
	routing, err := marshalField("routing", record.Assessment.Routing)
	if err != nil {
		return err
	}
	evidence, err := marshalField("evidence_ids", record.Assessment.EvidenceIDs)
	if err != nil {
		return err
	}
	meta, err := marshalField("model_meta", record.Assessment.Meta)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO triage_records (
	record_id, case_id, patient_id, age, sex, complaint, age_group, vitals, qa,
	triage_level, red_flags, immediate_actions, questions_to_ask_next, routing,
	rationale_brief, evidence_ids, model_meta, finish_reason, finalized_at, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
`,
		ulid.Make().String(), record.CaseID, record.Intake.PatientID, record.Intake.Age,
		record.Intake.Sex, record.Intake.Complaint, record.AgeGroup, vitals, qa,
		string(record.Assessment.Level), redFlags, actions, questions, routing,
		record.Assessment.Rationale, evidence, meta, string(record.Reason),
		record.FinalizedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert triage record: %w", err)
	}
	return nil
}

func (r *TriageRepository) GetByCaseID(ctx context.Context, caseID string) (*domain.FinalizedRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT case_id, patient_id, age, sex, complaint, age_group, vitals, qa,
	triage_level, red_flags, immediate_actions, questions_to_ask_next, routing,
	rationale_brief, evidence_ids, model_meta, finish_reason, finalized_at
FROM triage_records
WHERE case_id = $1
ORDER BY finalized_at DESC
LIMIT 1
`, caseID)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrCaseNotFound, "get triage record", fmt.Errorf("case %s", caseID))
		}
		return nil, err
	}
	return record, nil
}

// ListRecent returns up to limit finalized records, newest first.
func (r *TriageRepository) ListRecent(ctx context.Context, limit int) ([]domain.FinalizedRecord, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT case_id, patient_id, age, sex, complaint, age_group, vitals, qa,
	triage_level, red_flags, immediate_actions, questions_to_ask_next, routing,
	rationale_brief, evidence_ids, model_meta, finish_reason, finalized_at
FROM triage_records
ORDER BY finalized_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent triage records: %w", err)
	}
	defer rows.Close()

	var records []domain.FinalizedRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triage records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.FinalizedRecord, error) {
	var (
		record    domain.FinalizedRecord
		patientID sql.NullString
		rationale sql.NullString
		level     string
		reason    string
		vitals    []byte
		qa        []byte
		redFlags  []byte
		actions   []byte
		questions []byte
		routing   []byte
		evidence  []byte
		meta      []byte
	)

	err := row.Scan(
		&record.CaseID, &patientID, &record.Intake.Age, &record.Intake.Sex,
		&record.Intake.Complaint, &record.AgeGroup, &vitals, &qa,
		&level, &redFlags, &actions, &questions, &routing,
		&rationale, &evidence, &meta, &reason, &record.FinalizedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Intake.PatientID = patientID.String
	record.Assessment.Level = domain.TriageLevel(level)
	record.Assessment.Rationale = rationale.String
	record.Reason = domain.FinishReason(reason)

	for _, field := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"vitals", vitals, &record.Intake.Vitals},
		{"qa", qa, &record.QA},
		{"red_flags", redFlags, &record.Assessment.RedFlags},
		{"immediate_actions", actions, &record.Assessment.ImmediateActions},
		{"questions_to_ask_next", questions, &record.Assessment.FollowupQuestions},
		{"routing", routing, &record.Assessment.Routing},
		{"evidence_ids", evidence, &record.Assessment.EvidenceIDs},
		{"model_meta", meta, &record.Assessment.Meta},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", field.name, err)
		}
	}
	return &record, nil
}

func marshalField(name string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}
	return data, nil
}
