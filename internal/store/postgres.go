package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/postgres"
	"github.com/google/uuid"
)

const entityColumns = `id, owner_id, name, content_type, size_bytes, page_count, storage_key, status,
	category, ocr_job_id, extracted_fields, content, processed_fields, finalized, finalized_at,
	error, created_at, updated_at`

const variableColumns = `id, name, category, type, value, created_at, updated_at`

// Postgres is the production Store backed by lib/pq.
type Postgres struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewPostgres wraps an open postgres client.
func NewPostgres(db *postgres.Client) *Postgres {
	return &Postgres{
		db:     db,
		logger: slog.Default().With("component", "entity-store"),
	}
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.Ping(ctx) }

func table(kind model.Kind) (string, error) {
	switch kind {
	case model.KindDocument, model.KindForm:
		return kind.Table(), nil
	}
	return "", apperrors.Validation("unknown entity kind %q", kind)
}

func (p *Postgres) Create(ctx context.Context, e *model.Entity) error {
	t, err := table(e.Kind)
	if err != nil {
		return err
	}
	fields, err := marshalNullable(e.ExtractedFields)
	if err != nil {
		return err
	}
	err = p.db.DB.QueryRowContext(ctx, `INSERT INTO `+t+`
		(id, owner_id, name, content_type, size_bytes, page_count, storage_key, status, category, extracted_fields, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		e.ID, e.OwnerID, e.Name, e.ContentType, e.SizeBytes, e.PageCount, e.StorageKey,
		string(e.Status), e.Category, fields, e.Content,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", e.Kind, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, kind model.Kind, id string, scope Scope) (*model.Entity, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(kind, id)
	}
	row := p.db.DB.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM `+t+` WHERE id = $1 AND ($2 OR owner_id = $3)`,
		id, scope.Privileged, scope.OwnerID,
	)
	e, err := scanEntity(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind, id)
	}
	return e, err
}

func (p *Postgres) List(ctx context.Context, kind model.Kind, scope Scope, opts ListOptions) ([]*model.Entity, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	opts = opts.normalized()
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM `+t+`
		 WHERE ($1 OR owner_id = $2)
		 ORDER BY created_at DESC, id
		 LIMIT $3 OFFSET $4`,
		scope.Privileged, scope.OwnerID, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", t, err)
	}
	defer rows.Close()
	out := []*model.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Delete(ctx context.Context, kind model.Kind, id string, scope Scope) (*model.Entity, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(kind, id)
	}
	row := p.db.DB.QueryRowContext(ctx,
		`DELETE FROM `+t+` WHERE id = $1 AND ($2 OR owner_id = $3) RETURNING `+entityColumns,
		id, scope.Privileged, scope.OwnerID,
	)
	e, err := scanEntity(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind, id)
	}
	return e, err
}

func (p *Postgres) Transition(ctx context.Context, kind model.Kind, id string, from, to model.Status) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, nil
	}
	t, err := table(kind)
	if err != nil {
		return false, err
	}
	return p.conditional(ctx, kind, id,
		`UPDATE `+t+` SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		id, string(to), string(from),
	)
}

func (p *Postgres) Complete(ctx context.Context, kind model.Kind, id string, fields []model.FieldCandidate, content string) (bool, error) {
	t, err := table(kind)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("encoding extracted fields: %w", err)
	}
	return p.conditional(ctx, kind, id,
		`UPDATE `+t+`
		 SET status = 'completed', extracted_fields = $2, content = $3, error = '', updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, data, content,
	)
}

func (p *Postgres) Fail(ctx context.Context, kind model.Kind, id string, reason string) (bool, error) {
	t, err := table(kind)
	if err != nil {
		return false, err
	}
	return p.conditional(ctx, kind, id,
		`UPDATE `+t+` SET status = 'failed', error = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, reason,
	)
}

func (p *Postgres) SetJobID(ctx context.Context, kind model.Kind, id, jobID string) error {
	t, err := table(kind)
	if err != nil {
		return err
	}
	res, err := p.db.DB.ExecContext(ctx,
		`UPDATE `+t+` SET ocr_job_id = $2, updated_at = NOW() WHERE id = $1`, id, jobID)
	if err != nil {
		return fmt.Errorf("recording job id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func (p *Postgres) FindByJobID(ctx context.Context, kind model.Kind, jobID string) (*model.Entity, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	row := p.db.DB.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM `+t+` WHERE ocr_job_id = $1`, jobID)
	e, err := scanEntity(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("no %s for job %s", kind, jobID)
	}
	return e, err
}

// conditional runs a guarded UPDATE and reports whether a row changed. A
// zero-row result is disambiguated into not-found versus guard-not-met.
func (p *Postgres) conditional(ctx context.Context, kind model.Kind, id, query string, args ...any) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, notFound(kind, id)
	}
	res, err := p.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating %s %s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	if err := p.db.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+kind.Table()+` WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, notFound(kind, id)
	}
	return false, nil
}

func (p *Postgres) ListVariables(ctx context.Context, category string) ([]model.Variable, error) {
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT `+variableColumns+` FROM variables
		 WHERE $1 = '' OR category_key = $2
		 ORDER BY category_key, name_key, id`,
		category, model.Normalize(category),
	)
	if err != nil {
		return nil, fmt.Errorf("listing variables: %w", err)
	}
	defer rows.Close()
	out := []model.Variable{}
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The database collation may disagree with Go string order.
	model.SortCatalog(out)
	return out, nil
}

func (p *Postgres) InApproval(ctx context.Context, fn func(tx ApprovalTx) error) error {
	return p.db.InTx(ctx, func(tx *sql.Tx) error {
		return fn(&postgresTx{tx: tx})
	})
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) LockForm(ctx context.Context, id string, scope Scope) (*model.Entity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(model.KindForm, id)
	}
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM forms WHERE id = $1 AND ($2 OR owner_id = $3) FOR UPDATE`,
		id, scope.Privileged, scope.OwnerID,
	)
	e, err := scanEntity(row, model.KindForm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(model.KindForm, id)
	}
	return e, err
}

func (t *postgresTx) FindVariable(ctx context.Context, category, name string) (*model.Variable, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+variableColumns+` FROM variables WHERE category_key = $1 AND name_key = $2`,
		model.Normalize(category), model.Normalize(name),
	)
	v, err := scanVariable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func (t *postgresTx) InsertVariable(ctx context.Context, v *model.Variable) (bool, error) {
	if v.Type == "" {
		v.Type = model.VariableTypeFormField
	}
	value, err := json.Marshal(v.Value)
	if err != nil {
		return false, fmt.Errorf("encoding variable value: %w", err)
	}
	err = t.tx.QueryRowContext(ctx,
		`INSERT INTO variables (name, category, name_key, category_key, type, value)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (category_key, name_key) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		v.Name, v.Category, model.Normalize(v.Name), model.Normalize(v.Category), v.Type, value,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("inserting variable %q: %w", v.Name, err)
	}
	existing, err := t.FindVariable(ctx, v.Category, v.Name)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("variable %q conflicted but was not found", v.Name)
	}
	*v = *existing
	return false, nil
}

func (t *postgresTx) Finalize(ctx context.Context, formID string, bindings []model.Binding) (bool, error) {
	data, err := json.Marshal(bindings)
	if err != nil {
		return false, fmt.Errorf("encoding bindings: %w", err)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE forms
		 SET processed_fields = $2, finalized = TRUE, finalized_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'completed' AND NOT finalized`,
		formID, data,
	)
	if err != nil {
		return false, fmt.Errorf("finalizing form %s: %w", formID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner, kind model.Kind) (*model.Entity, error) {
	var (
		e           = model.Entity{Kind: kind}
		status      string
		jobID       sql.NullString
		fields      []byte
		processed   []byte
		finalizedAt sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.OwnerID, &e.Name, &e.ContentType, &e.SizeBytes, &e.PageCount, &e.StorageKey, &status,
		&e.Category, &jobID, &fields, &e.Content, &processed, &e.Finalized, &finalizedAt,
		&e.Error, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = model.Status(status)
	e.OCRJobID = jobID.String
	if finalizedAt.Valid {
		t := finalizedAt.Time
		e.FinalizedAt = &t
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &e.ExtractedFields); err != nil {
			return nil, fmt.Errorf("decoding extracted fields of %s: %w", e.ID, err)
		}
	}
	if len(processed) > 0 {
		if err := json.Unmarshal(processed, &e.ProcessedFields); err != nil {
			return nil, fmt.Errorf("decoding processed fields of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func scanVariable(row scanner) (*model.Variable, error) {
	var (
		v     model.Variable
		value []byte
	)
	if err := row.Scan(&v.ID, &v.Name, &v.Category, &v.Type, &value, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(value, &v.Value); err != nil {
		return nil, fmt.Errorf("decoding variable %s: %w", v.ID, err)
	}
	return &v, nil
}

func marshalNullable(fields []model.FieldCandidate) ([]byte, error) {
	if fields == nil {
		return nil, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding extracted fields: %w", err)
	}
	return data, nil
}
