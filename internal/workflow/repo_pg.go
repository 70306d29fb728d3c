package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
)

const (
	productsTable          = "products"
	stepsTable             = "steps"
	productStepsTable      = "product_steps"
	documentTypesTable     = "document_types"
	stepDocumentTypesTable = "step_document_types"
	agentsTable            = "agents"
	dossiersTable          = "dossiers"
	stepInstancesTable     = "step_instances"
	documentsTable         = "documents"
	eventsTable            = "events"
)

var (
	productColumns      = []string{"id", "name", "dossier_type", "initial_status", "active", "created_at"}
	stepColumns         = []string{"id", "code", "label", "step_type", "position"}
	productStepColumns  = []string{"product_id", "step_id", "position", "is_required", "COALESCE(dossier_status_on_approval, '') AS dossier_status_on_approval"}
	documentTypeColumns = []string{"id", "code", "label"}
	agentColumns        = []string{"id", "user_id", "agent_type", "name", "active", "created_at"}
	dossierColumns      = []string{"id", "user_id", "product_id", "type", "status", "current_step_instance_id", "COALESCE(order_id, '') AS order_id", "metadata", "is_test", "created_at", "updated_at", "completed_at"}
	stepInstanceColumns = []string{"id", "dossier_id", "step_id", "assigned_to", "started_at", "completed_at", "validation_status", "validated_by", "validated_at", "created_at"}
	documentColumns     = []string{"id", "dossier_id", "document_type_id", "step_instance_id", "status", "file_name", "current_version_id", "created_at", "updated_at"}
	eventColumns        = []string{"id", "seq", "entity_type", "entity_id", "event_type", "actor_type", "actor_id", "payload", "created_at", "published_at"}
)

func psql() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
	tx *sql.Tx
}

// NewPGRepo constructs a PGRepo over db.
func NewPGRepo(db *sql.DB) *PGRepo {
	return &PGRepo{DB: db}
}

func (r *PGRepo) conn() dbtx {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

// InTx runs fn inside a database transaction.
func (r *PGRepo) InTx(ctx context.Context, fn func(tx Repo) error) (err error) {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(&PGRepo{DB: r.DB, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PGRepo) get(ctx context.Context, dst any, b sq.Sqlizer, what string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate %s query: %w", what, err)
	}
	if err := sqlscan.Get(ctx, r.conn(), dst, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return fmt.Errorf("get %s: %w", what, err)
	}
	return nil
}

func (r *PGRepo) list(ctx context.Context, dst any, b sq.Sqlizer, what string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate %s query: %w", what, err)
	}
	if err := sqlscan.Select(ctx, r.conn(), dst, query, args...); err != nil {
		return fmt.Errorf("list %s: %w", what, err)
	}
	return nil
}

func (r *PGRepo) exec(ctx context.Context, b sq.Sqlizer, what string) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to generate %s query: %w", what, err)
	}
	res, err := r.conn().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}
	return n, nil
}

func (r *PGRepo) GetProduct(ctx context.Context, id string) (Product, error) {
	var p Product
	err := r.get(ctx, &p, psql().Select(productColumns...).From(productsTable).Where(sq.Eq{"id": id}), "product "+id)
	return p, err
}

func (r *PGRepo) GetStep(ctx context.Context, id string) (Step, error) {
	var st Step
	err := r.get(ctx, &st, psql().Select(stepColumns...).From(stepsTable).Where(sq.Eq{"id": id}), "step "+id)
	return st, err
}

func (r *PGRepo) GetProductStep(ctx context.Context, productID, stepID string) (ProductStep, error) {
	var ps ProductStep
	err := r.get(ctx, &ps,
		psql().Select(productStepColumns...).From(productStepsTable).
			Where(sq.Eq{"product_id": productID, "step_id": stepID}),
		"product step "+productID+"/"+stepID)
	return ps, err
}

func (r *PGRepo) ListProductSteps(ctx context.Context, productID string) ([]ProductStep, error) {
	var rows []ProductStep
	err := r.list(ctx, &rows,
		psql().Select(productStepColumns...).From(productStepsTable).
			Where(sq.Eq{"product_id": productID}).
			OrderBy("position ASC"),
		"product steps")
	return rows, err
}

func (r *PGRepo) GetDocumentType(ctx context.Context, id string) (DocumentType, error) {
	var dt DocumentType
	err := r.get(ctx, &dt, psql().Select(documentTypeColumns...).From(documentTypesTable).Where(sq.Eq{"id": id}), "document type "+id)
	return dt, err
}

func (r *PGRepo) RequiredDocumentTypeIDs(ctx context.Context, stepID string) ([]string, error) {
	var ids []string
	err := r.list(ctx, &ids,
		psql().Select("document_type_id").From(stepDocumentTypesTable).
			Where(sq.Eq{"step_id": stepID}).
			OrderBy("document_type_id ASC"),
		"required document types")
	return ids, err
}

func (r *PGRepo) CreateProduct(ctx context.Context, p Product) error {
	_, err := r.exec(ctx,
		psql().Insert(productsTable).Columns(productColumns...).
			Values(p.ID, p.Name, p.DossierType, p.InitialStatus, p.Active, p.CreatedAt).
			Suffix("ON CONFLICT (id) DO NOTHING"),
		"insert product")
	return err
}

func (r *PGRepo) CreateStep(ctx context.Context, st Step) error {
	_, err := r.exec(ctx,
		psql().Insert(stepsTable).Columns(stepColumns...).
			Values(st.ID, st.Code, st.Label, string(st.StepType), st.Position).
			Suffix("ON CONFLICT (id) DO NOTHING"),
		"insert step")
	return err
}

func (r *PGRepo) CreateProductStep(ctx context.Context, ps ProductStep) error {
	var target any
	if ps.DossierStatusOnApproval != "" {
		target = ps.DossierStatusOnApproval
	}
	_, err := r.exec(ctx,
		psql().Insert(productStepsTable).
			Columns("product_id", "step_id", "position", "is_required", "dossier_status_on_approval").
			Values(ps.ProductID, ps.StepID, ps.Position, ps.IsRequired, target).
			Suffix("ON CONFLICT (product_id, step_id) DO NOTHING"),
		"insert product step")
	return err
}

func (r *PGRepo) CreateDocumentType(ctx context.Context, dt DocumentType) error {
	_, err := r.exec(ctx,
		psql().Insert(documentTypesTable).Columns(documentTypeColumns...).
			Values(dt.ID, dt.Code, dt.Label).
			Suffix("ON CONFLICT (id) DO NOTHING"),
		"insert document type")
	return err
}

func (r *PGRepo) RequireDocumentType(ctx context.Context, stepID, documentTypeID string) error {
	_, err := r.exec(ctx,
		psql().Insert(stepDocumentTypesTable).Columns("step_id", "document_type_id").
			Values(stepID, documentTypeID).
			Suffix("ON CONFLICT DO NOTHING"),
		"insert step document type")
	return err
}

func (r *PGRepo) GetAgent(ctx context.Context, id string) (Agent, error) {
	var a Agent
	err := r.get(ctx, &a, psql().Select(agentColumns...).From(agentsTable).Where(sq.Eq{"id": id}), "agent "+id)
	return a, err
}

func (r *PGRepo) GetAgentByUserID(ctx context.Context, userID string) (Agent, error) {
	var a Agent
	err := r.get(ctx, &a, psql().Select(agentColumns...).From(agentsTable).Where(sq.Eq{"user_id": userID}), "agent for user "+userID)
	return a, err
}

func (r *PGRepo) CreateAgent(ctx context.Context, a Agent) error {
	_, err := r.exec(ctx,
		psql().Insert(agentsTable).Columns(agentColumns...).
			Values(a.ID, a.UserID, string(a.AgentType), a.Name, a.Active, a.CreatedAt).
			Suffix("ON CONFLICT (user_id) DO NOTHING"),
		"insert agent")
	return err
}

func (r *PGRepo) GetDossier(ctx context.Context, id string) (Dossier, error) {
	var d Dossier
	err := r.get(ctx, &d, psql().Select(dossierColumns...).From(dossiersTable).Where(sq.Eq{"id": id}), "dossier "+id)
	return d, err
}

func (r *PGRepo) LockDossier(ctx context.Context, id string) (Dossier, error) {
	var d Dossier
	err := r.get(ctx, &d,
		psql().Select(dossierColumns...).From(dossiersTable).Where(sq.Eq{"id": id}).Suffix("FOR UPDATE"),
		"dossier "+id)
	return d, err
}

func (r *PGRepo) FindDossier(ctx context.Context, userID, productID string) (Dossier, error) {
	var d Dossier
	err := r.get(ctx, &d,
		psql().Select(dossierColumns...).From(dossiersTable).
			Where(sq.Eq{"user_id": userID, "product_id": productID}),
		"dossier for "+userID+"/"+productID)
	return d, err
}

func (r *PGRepo) CreateDossier(ctx context.Context, d Dossier) (bool, error) {
	var orderID any
	if d.OrderID != "" {
		orderID = d.OrderID
	}
	n, err := r.exec(ctx,
		psql().Insert(dossiersTable).
			Columns("id", "user_id", "product_id", "type", "status", "order_id", "metadata", "is_test", "created_at", "updated_at").
			Values(d.ID, d.UserID, d.ProductID, d.Type, d.Status, orderID, d.Metadata, d.IsTest, d.CreatedAt, d.UpdatedAt).
			Suffix("ON CONFLICT (user_id, product_id) DO NOTHING"),
		"insert dossier")
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PGRepo) SetCurrentStepInstance(ctx context.Context, dossierID, stepInstanceID string, at time.Time) error {
	n, err := r.exec(ctx,
		psql().Update(dossiersTable).
			Set("current_step_instance_id", stepInstanceID).
			Set("updated_at", at).
			Where(sq.Eq{"id": dossierID}),
		"update dossier current step")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("dossier %s: %w", dossierID, ErrNotFound)
	}
	return nil
}

func (r *PGRepo) UpdateDossierStatus(ctx context.Context, dossierID, status string, at time.Time) error {
	b := psql().Update(dossiersTable).
		Set("status", status).
		Set("updated_at", at).
		Where(sq.Eq{"id": dossierID})
	if status == DossierCompleted {
		b = b.Set("completed_at", at)
	}
	n, err := r.exec(ctx, b, "update dossier status")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("dossier %s: %w", dossierID, ErrNotFound)
	}
	return nil
}

func (r *PGRepo) GetStepInstance(ctx context.Context, id string) (StepInstance, error) {
	var inst StepInstance
	err := r.get(ctx, &inst, psql().Select(stepInstanceColumns...).From(stepInstancesTable).Where(sq.Eq{"id": id}), "step instance "+id)
	return inst, err
}

func (r *PGRepo) FindStepInstance(ctx context.Context, dossierID, stepID string) (StepInstance, error) {
	var inst StepInstance
	err := r.get(ctx, &inst,
		psql().Select(stepInstanceColumns...).From(stepInstancesTable).
			Where(sq.Eq{"dossier_id": dossierID, "step_id": stepID}),
		"step instance "+dossierID+"/"+stepID)
	return inst, err
}

func (r *PGRepo) ListStepInstances(ctx context.Context, dossierID string) ([]StepInstance, error) {
	var out []StepInstance
	err := r.list(ctx, &out,
		psql().Select(stepInstanceColumns...).From(stepInstancesTable).
			Where(sq.Eq{"dossier_id": dossierID}).
			OrderBy("created_at ASC", "id ASC"),
		"step instances")
	return out, err
}

func (r *PGRepo) CreateStepInstances(ctx context.Context, instances []StepInstance) error {
	if len(instances) == 0 {
		return nil
	}
	b := psql().Insert(stepInstancesTable).
		Columns("id", "dossier_id", "step_id", "assigned_to", "started_at", "created_at")
	for _, inst := range instances {
		b = b.Values(inst.ID, inst.DossierID, inst.StepID, inst.AssignedTo, inst.StartedAt, inst.CreatedAt)
	}
	_, err := r.exec(ctx, b, "insert step instances")
	return err
}

func (r *PGRepo) EnsureStepInstance(ctx context.Context, inst StepInstance) (StepInstance, error) {
	if _, err := r.exec(ctx,
		psql().Insert(stepInstancesTable).
			Columns("id", "dossier_id", "step_id", "assigned_to", "started_at", "created_at").
			Values(inst.ID, inst.DossierID, inst.StepID, inst.AssignedTo, inst.StartedAt, inst.CreatedAt).
			Suffix("ON CONFLICT (dossier_id, step_id) DO NOTHING"),
		"upsert step instance"); err != nil {
		return StepInstance{}, err
	}
	return r.FindStepInstance(ctx, inst.DossierID, inst.StepID)
}

func (r *PGRepo) AssignStepInstance(ctx context.Context, id, agentID string) error {
	n, err := r.exec(ctx,
		psql().Update(stepInstancesTable).Set("assigned_to", agentID).Where(sq.Eq{"id": id}),
		"assign step instance")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("step instance %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PGRepo) CompleteStepInstance(ctx context.Context, id string, c Completion) error {
	b := psql().Update(stepInstancesTable).
		Set("completed_at", c.CompletedAt).
		Where(sq.Eq{"id": id}).
		Where("completed_at IS NULL")
	if c.ApprovedBy != "" {
		b = b.Set("validation_status", string(ValidationApproved)).
			Set("validated_by", c.ApprovedBy).
			Set("validated_at", c.CompletedAt)
	}
	n, err := r.exec(ctx, b, "complete step instance")
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetStepInstance(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyCompleted
}

func (r *PGRepo) ApproveStepInstance(ctx context.Context, id, approvedBy string, at time.Time) error {
	n, err := r.exec(ctx,
		psql().Update(stepInstancesTable).
			Set("validation_status", string(ValidationApproved)).
			Set("validated_by", approvedBy).
			Set("validated_at", at).
			Where(sq.Eq{"id": id}).
			Where("completed_at IS NOT NULL").
			Where("validation_status IS NULL"),
		"approve step instance")
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	inst, err := r.GetStepInstance(ctx, id)
	if err != nil {
		return err
	}
	if inst.CompletedAt == nil {
		return ErrStepNotCompleted
	}
	return ErrAlreadyApproved
}

func (r *PGRepo) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := r.get(ctx, &doc, psql().Select(documentColumns...).From(documentsTable).Where(sq.Eq{"id": id}), "document "+id)
	return doc, err
}

func (r *PGRepo) FindDocument(ctx context.Context, dossierID, documentTypeID, stepInstanceID string) (Document, error) {
	var scope any
	if stepInstanceID != "" {
		scope = stepInstanceID
	}
	var doc Document
	err := r.get(ctx, &doc,
		psql().Select(documentColumns...).From(documentsTable).
			Where(sq.Eq{"dossier_id": dossierID, "document_type_id": documentTypeID, "step_instance_id": scope}),
		"document "+dossierID+"/"+documentTypeID)
	return doc, err
}

func (r *PGRepo) UpsertDocument(ctx context.Context, doc Document) (Document, error) {
	var out Document
	err := r.get(ctx, &out,
		psql().Insert(documentsTable).Columns(documentColumns...).
			Values(doc.ID, doc.DossierID, doc.DocumentTypeID, doc.StepInstanceID, string(doc.Status), doc.FileName, doc.CurrentVersionID, doc.CreatedAt, doc.UpdatedAt).
			Suffix("ON CONFLICT (dossier_id, document_type_id, step_instance_id) DO UPDATE SET "+
				"status = EXCLUDED.status, file_name = EXCLUDED.file_name, "+
				"current_version_id = EXCLUDED.current_version_id, updated_at = EXCLUDED.updated_at "+
				"RETURNING id, dossier_id, document_type_id, step_instance_id, status, file_name, current_version_id, created_at, updated_at"),
		"upsert document")
	return out, err
}

func (r *PGRepo) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, at time.Time) error {
	n, err := r.exec(ctx,
		psql().Update(documentsTable).Set("status", string(status)).Set("updated_at", at).Where(sq.Eq{"id": id}),
		"update document status")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PGRepo) ListDocuments(ctx context.Context, dossierID string) ([]Document, error) {
	var out []Document
	err := r.list(ctx, &out,
		psql().Select(documentColumns...).From(documentsTable).
			Where(sq.Eq{"dossier_id": dossierID}).
			OrderBy("created_at ASC", "id ASC"),
		"documents")
	return out, err
}

func (r *PGRepo) AppendEvent(ctx context.Context, e Event) error {
	_, err := r.exec(ctx,
		psql().Insert(eventsTable).
			Columns("id", "entity_type", "entity_id", "event_type", "actor_type", "actor_id", "payload", "created_at").
			Values(e.ID, e.EntityType, e.EntityID, string(e.EventType), string(e.ActorType), e.ActorID, e.Payload, e.CreatedAt),
		"insert event")
	return err
}

func (r *PGRepo) ListDossierEvents(ctx context.Context, dossierID string) ([]Event, error) {
	var out []Event
	err := r.list(ctx, &out,
		psql().Select(eventColumns...).From(eventsTable).
			Where(sq.Or{
				sq.Eq{"entity_type": EntityDossier, "entity_id": dossierID},
				sq.Expr("payload->>'dossier_id' = ?", dossierID),
			}).
			OrderBy("seq ASC"),
		"dossier events")
	return out, err
}

func (r *PGRepo) ListUnpublishedEvents(ctx context.Context, limit int) ([]Event, error) {
	b := psql().Select(eventColumns...).From(eventsTable).
		Where("published_at IS NULL").
		OrderBy("seq ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	var out []Event
	err := r.list(ctx, &out, b, "unpublished events")
	return out, err
}

func (r *PGRepo) MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.exec(ctx,
		psql().Update(eventsTable).
			Set("published_at", at).
			Where(sq.Eq{"id": ids}).
			Where("published_at IS NULL"),
		"mark events published")
	return err
}

var _ Repo = (*PGRepo)(nil)
