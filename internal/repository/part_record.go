package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/parts-intake/internal/common"
	"github.com/joseph-ayodele/parts-intake/internal/entity"
	"github.com/joseph-ayodele/parts-intake/internal/export"
)

const partRecordsDDL = `CREATE TABLE IF NOT EXISTS part_records (
	id          TEXT PRIMARY KEY,
	email_index INTEGER NOT NULL,
	part_index  INTEGER NOT NULL,
	fields      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	UNIQUE (email_index, part_index)
)`

// PartRecord is one stored normalized part.
type PartRecord struct {
	ID         uuid.UUID
	EmailIndex int
	PartIndex  int
	Fields     entity.FieldRecord
	CreatedAt  time.Time
}

type PartRecordRepository interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, emailIndex, partIndex int, fields entity.FieldRecord) (uuid.UUID, error)
	ListByEmail(ctx context.Context, emailIndex int) ([]PartRecord, error)
	Count(ctx context.Context) (int, error)
	// Emit makes the repository usable as an export.Sink.
	Emit(ctx context.Context, dest export.Destination, rec entity.FieldRecord) error
}

type partRecordRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewPartRecordRepository(db *DB, logger *slog.Logger) PartRecordRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &partRecordRepo{db: db, logger: logger}
}

func (r *partRecordRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, partRecordsDDL); err != nil {
		r.logger.Error("failed to create part_records table", "error", err)
		return common.NewAppError("DATABASE_ERROR", "create part_records", err)
	}
	return nil
}

// Upsert stores fields for a part. Reprocessing an email replaces its earlier rows.
func (r *partRecordRepo) Upsert(ctx context.Context, emailIndex, partIndex int, fields entity.FieldRecord) (uuid.UUID, error) {
	payload, err := fields.MarshalJSON()
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode fields: %w", err)
	}
	id := uuid.New()
	q := r.rebind(`INSERT INTO part_records (id, email_index, part_index, fields, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (email_index, part_index) DO UPDATE SET fields = excluded.fields, created_at = excluded.created_at`)

	if _, err := r.db.ExecContext(ctx, q, id.String(), emailIndex, partIndex, string(payload), time.Now().UTC()); err != nil {
		r.logger.Error("failed to upsert part record", "email_index", emailIndex, "part_index", partIndex, "error", err)
		return uuid.Nil, common.NewAppError("DATABASE_ERROR", "upsert part record", err)
	}
	return id, nil
}

func (r *partRecordRepo) ListByEmail(ctx context.Context, emailIndex int) ([]PartRecord, error) {
	q := r.rebind(`SELECT id, email_index, part_index, fields, created_at FROM part_records WHERE email_index = ? ORDER BY part_index`)
	rows, err := r.db.QueryContext(ctx, q, emailIndex)
	if err != nil {
		r.logger.Error("failed to list part records", "email_index", emailIndex, "error", err)
		return nil, common.NewAppError("DATABASE_ERROR", "list part records", err)
	}
	defer rows.Close()

	var out []PartRecord
	for rows.Next() {
		var (
			rec    PartRecord
			id     string
			fields string
		)
		if err := rows.Scan(&id, &rec.EmailIndex, &rec.PartIndex, &fields, &rec.CreatedAt); err != nil {
			return nil, common.NewAppError("DATABASE_ERROR", "scan part record", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("part record id %q: %w", id, err)
		}
		if rec.Fields, err = entity.ParseFieldRecord([]byte(fields)); err != nil {
			return nil, fmt.Errorf("part record %s fields: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *partRecordRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM part_records`).Scan(&n); err != nil {
		return 0, common.NewAppError("DATABASE_ERROR", "count part records", err)
	}
	return n, nil
}

func (r *partRecordRepo) Emit(ctx context.Context, dest export.Destination, rec entity.FieldRecord) error {
	id, err := r.Upsert(ctx, dest.EmailIndex, dest.PartIndex, rec)
	if err != nil {
		return err
	}
	r.logger.Info("export.db.ok", "email_index", dest.EmailIndex, "part_index", dest.PartIndex, "id", id.String())
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (r *partRecordRepo) rebind(q string) string {
	if r.db.Driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
