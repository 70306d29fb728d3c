package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memState struct {
	products     map[string]Product
	steps        map[string]Step
	productSteps map[string][]ProductStep // productID -> rows
	docTypes     map[string]DocumentType
	stepDocTypes map[string][]string // stepID -> document type ids
	agents       map[string]Agent
	dossiers     map[string]Dossier
	instances    map[string]StepInstance
	documents    map[string]Document
	events       []Event
	seq          int64
}

func newMemState() *memState {
	return &memState{
		products:     make(map[string]Product),
		steps:        make(map[string]Step),
		productSteps: make(map[string][]ProductStep),
		docTypes:     make(map[string]DocumentType),
		stepDocTypes: make(map[string][]string),
		agents:       make(map[string]Agent),
		dossiers:     make(map[string]Dossier),
		instances:    make(map[string]StepInstance),
		documents:    make(map[string]Document),
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.steps {
		out.steps[k] = v
	}
	for k, v := range s.productSteps {
		out.productSteps[k] = append([]ProductStep(nil), v...)
	}
	for k, v := range s.docTypes {
		out.docTypes[k] = v
	}
	for k, v := range s.stepDocTypes {
		out.stepDocTypes[k] = append([]string(nil), v...)
	}
	for k, v := range s.agents {
		out.agents[k] = v
	}
	for k, v := range s.dossiers {
		out.dossiers[k] = v
	}
	for k, v := range s.instances {
		out.instances[k] = v
	}
	for k, v := range s.documents {
		out.documents[k] = v
	}
	out.events = append([]Event(nil), s.events...)
	out.seq = s.seq
	return out
}

// MemoryRepo is an in-memory implementation of Repo for dev and tests.
type MemoryRepo struct {
	mu   *sync.Mutex
	st   *memState
	inTx bool
}

// NewMemoryRepo constructs an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{mu: &sync.Mutex{}, st: newMemState()}
}

// lock acquires the store mutex unless the caller already holds it through InTx.
func (r *MemoryRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// InTx runs fn with the store locked and restores the previous state on error.
func (r *MemoryRepo) InTx(ctx context.Context, fn func(tx Repo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.inTx {
		return fn(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.st.clone()
	tx := &MemoryRepo{mu: r.mu, st: r.st, inTx: true}
	if err := fn(tx); err != nil {
		*r.st = *snapshot
		return err
	}
	return nil
}

func (r *MemoryRepo) GetProduct(ctx context.Context, id string) (Product, error) {
	if err := ctx.Err(); err != nil {
		return Product{}, err
	}
	defer r.lock()()
	p, ok := r.st.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (r *MemoryRepo) GetStep(ctx context.Context, id string) (Step, error) {
	if err := ctx.Err(); err != nil {
		return Step{}, err
	}
	defer r.lock()()
	st, ok := r.st.steps[id]
	if !ok {
		return Step{}, fmt.Errorf("step %s: %w", id, ErrNotFound)
	}
	return st, nil
}

func (r *MemoryRepo) GetProductStep(ctx context.Context, productID, stepID string) (ProductStep, error) {
	if err := ctx.Err(); err != nil {
		return ProductStep{}, err
	}
	defer r.lock()()
	for _, ps := range r.st.productSteps[productID] {
		if ps.StepID == stepID {
			return ps, nil
		}
	}
	return ProductStep{}, fmt.Errorf("product step %s/%s: %w", productID, stepID, ErrNotFound)
}

func (r *MemoryRepo) ListProductSteps(ctx context.Context, productID string) ([]ProductStep, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()
	rows := append([]ProductStep(nil), r.st.productSteps[productID]...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })
	return rows, nil
}

func (r *MemoryRepo) GetDocumentType(ctx context.Context, id string) (DocumentType, error) {
	if err := ctx.Err(); err != nil {
		return DocumentType{}, err
	}
	defer r.lock()()
	dt, ok := r.st.docTypes[id]
	if !ok {
		return DocumentType{}, fmt.Errorf("document type %s: %w", id, ErrNotFound)
	}
	return dt, nil
}

func (r *MemoryRepo) RequiredDocumentTypeIDs(ctx context.Context, stepID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()
	return append([]string(nil), r.st.stepDocTypes[stepID]...), nil
}

func (r *MemoryRepo) CreateProduct(ctx context.Context, p Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	if _, ok := r.st.products[p.ID]; !ok {
		r.st.products[p.ID] = p
	}
	return nil
}

func (r *MemoryRepo) CreateStep(ctx context.Context, st Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	if _, ok := r.st.steps[st.ID]; !ok {
		r.st.steps[st.ID] = st
	}
	return nil
}

func (r *MemoryRepo) CreateProductStep(ctx context.Context, ps ProductStep) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	for _, existing := range r.st.productSteps[ps.ProductID] {
		if existing.StepID == ps.StepID {
			return nil
		}
		if existing.Position == ps.Position {
			return fmt.Errorf("%w: position %d already used in product %s", ErrInvalidConfiguration, ps.Position, ps.ProductID)
		}
	}
	r.st.productSteps[ps.ProductID] = append(r.st.productSteps[ps.ProductID], ps)
	return nil
}

func (r *MemoryRepo) CreateDocumentType(ctx context.Context, dt DocumentType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	if _, ok := r.st.docTypes[dt.ID]; !ok {
		r.st.docTypes[dt.ID] = dt
	}
	return nil
}

func (r *MemoryRepo) RequireDocumentType(ctx context.Context, stepID, documentTypeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	for _, id := range r.st.stepDocTypes[stepID] {
		if id == documentTypeID {
			return nil
		}
	}
	r.st.stepDocTypes[stepID] = append(r.st.stepDocTypes[stepID], documentTypeID)
	return nil
}

func (r *MemoryRepo) GetAgent(ctx context.Context, id string) (Agent, error) {
	if err := ctx.Err(); err != nil {
		return Agent{}, err
	}
	defer r.lock()()
	a, ok := r.st.agents[id]
	if !ok {
		return Agent{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (r *MemoryRepo) GetAgentByUserID(ctx context.Context, userID string) (Agent, error) {
	if err := ctx.Err(); err != nil {
		return Agent{}, err
	}
	defer r.lock()()
	for _, a := range r.st.agents {
		if a.UserID == userID {
			return a, nil
		}
	}
	return Agent{}, fmt.Errorf("agent for user %s: %w", userID, ErrNotFound)
}

func (r *MemoryRepo) CreateAgent(ctx context.Context, a Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	for _, existing := range r.st.agents {
		if existing.UserID == a.UserID {
			return nil
		}
	}
	r.st.agents[a.ID] = a
	return nil
}

func (r *MemoryRepo) GetDossier(ctx context.Context, id string) (Dossier, error) {
	if err := ctx.Err(); err != nil {
		return Dossier{}, err
	}
	defer r.lock()()
	d, ok := r.st.dossiers[id]
	if !ok {
		return Dossier{}, fmt.Errorf("dossier %s: %w", id, ErrNotFound)
	}
	return d, nil
}

// LockDossier is GetDossier; InTx already holds the store mutex.
func (r *MemoryRepo) LockDossier(ctx context.Context, id string) (Dossier, error) {
	return r.GetDossier(ctx, id)
}

func (r *MemoryRepo) FindDossier(ctx context.Context, userID, productID string) (Dossier, error) {
	if err := ctx.Err(); err != nil {
		return Dossier{}, err
	}
	defer r.lock()()
	for _, d := range r.st.dossiers {
		if d.UserID == userID && d.ProductID == productID {
			return d, nil
		}
	}
	return Dossier{}, fmt.Errorf("dossier for %s/%s: %w", userID, productID, ErrNotFound)
}

func (r *MemoryRepo) CreateDossier(ctx context.Context, d Dossier) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer r.lock()()
	for _, existing := range r.st.dossiers {
		if existing.UserID == d.UserID && existing.ProductID == d.ProductID {
			return false, nil
		}
	}
	r.st.dossiers[d.ID] = d
	return true, nil
}

func (r *MemoryRepo) SetCurrentStepInstance(ctx context.Context, dossierID, stepInstanceID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	d, ok := r.st.dossiers[dossierID]
	if !ok {
		return fmt.Errorf("dossier %s: %w", dossierID, ErrNotFound)
	}
	id := stepInstanceID
	d.CurrentStepInstanceID = &id
	d.UpdatedAt = at
	r.st.dossiers[dossierID] = d
	return nil
}

func (r *MemoryRepo) UpdateDossierStatus(ctx context.Context, dossierID, status string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	d, ok := r.st.dossiers[dossierID]
	if !ok {
		return fmt.Errorf("dossier %s: %w", dossierID, ErrNotFound)
	}
	d.Status = status
	d.UpdatedAt = at
	if status == DossierCompleted {
		completed := at
		d.CompletedAt = &completed
	}
	r.st.dossiers[dossierID] = d
	return nil
}

func (r *MemoryRepo) GetStepInstance(ctx context.Context, id string) (StepInstance, error) {
	if err := ctx.Err(); err != nil {
		return StepInstance{}, err
	}
	defer r.lock()()
	inst, ok := r.st.instances[id]
	if !ok {
		return StepInstance{}, fmt.Errorf("step instance %s: %w", id, ErrNotFound)
	}
	return inst, nil
}

func (r *MemoryRepo) FindStepInstance(ctx context.Context, dossierID, stepID string) (StepInstance, error) {
	if err := ctx.Err(); err != nil {
		return StepInstance{}, err
	}
	defer r.lock()()
	if inst, ok := r.findInstance(dossierID, stepID); ok {
		return inst, nil
	}
	return StepInstance{}, fmt.Errorf("step instance %s/%s: %w", dossierID, stepID, ErrNotFound)
}

func (r *MemoryRepo) findInstance(dossierID, stepID string) (StepInstance, bool) {
	for _, inst := range r.st.instances {
		if inst.DossierID == dossierID && inst.StepID == stepID {
			return inst, true
		}
	}
	return StepInstance{}, false
}

func (r *MemoryRepo) ListStepInstances(ctx context.Context, dossierID string) ([]StepInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()
	var out []StepInstance
	for _, inst := range r.st.instances {
		if inst.DossierID == dossierID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) CreateStepInstances(ctx context.Context, instances []StepInstance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	for _, inst := range instances {
		if _, ok := r.findInstance(inst.DossierID, inst.StepID); ok {
			return fmt.Errorf("%w: step %s already instantiated in dossier %s", ErrConflict, inst.StepID, inst.DossierID)
		}
	}
	for _, inst := range instances {
		r.st.instances[inst.ID] = inst
	}
	return nil
}

func (r *MemoryRepo) EnsureStepInstance(ctx context.Context, inst StepInstance) (StepInstance, error) {
	if err := ctx.Err(); err != nil {
		return StepInstance{}, err
	}
	defer r.lock()()
	if existing, ok := r.findInstance(inst.DossierID, inst.StepID); ok {
		return existing, nil
	}
	r.st.instances[inst.ID] = inst
	return inst, nil
}

func (r *MemoryRepo) AssignStepInstance(ctx context.Context, id, agentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	inst, ok := r.st.instances[id]
	if !ok {
		return fmt.Errorf("step instance %s: %w", id, ErrNotFound)
	}
	assignee := agentID
	inst.AssignedTo = &assignee
	r.st.instances[id] = inst
	return nil
}

func (r *MemoryRepo) CompleteStepInstance(ctx context.Context, id string, c Completion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	inst, ok := r.st.instances[id]
	if !ok {
		return fmt.Errorf("step instance %s: %w", id, ErrNotFound)
	}
	if inst.CompletedAt != nil {
		return ErrAlreadyCompleted
	}
	completedAt := c.CompletedAt
	inst.CompletedAt = &completedAt
	if c.ApprovedBy != "" {
		status := ValidationApproved
		by := c.ApprovedBy
		inst.ValidationStatus = &status
		inst.ValidatedBy = &by
		inst.ValidatedAt = &completedAt
	}
	r.st.instances[id] = inst
	return nil
}

func (r *MemoryRepo) ApproveStepInstance(ctx context.Context, id, approvedBy string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	inst, ok := r.st.instances[id]
	if !ok {
		return fmt.Errorf("step instance %s: %w", id, ErrNotFound)
	}
	if inst.CompletedAt == nil {
		return ErrStepNotCompleted
	}
	if inst.ValidationStatus != nil {
		return ErrAlreadyApproved
	}
	status := ValidationApproved
	by := approvedBy
	validatedAt := at
	inst.ValidationStatus = &status
	inst.ValidatedBy = &by
	inst.ValidatedAt = &validatedAt
	r.st.instances[id] = inst
	return nil
}

func (r *MemoryRepo) GetDocument(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	defer r.lock()()
	doc, ok := r.st.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, nil
}

func (r *MemoryRepo) FindDocument(ctx context.Context, dossierID, documentTypeID, stepInstanceID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	defer r.lock()()
	if doc, ok := r.findDocument(dossierID, documentTypeID, stepInstanceID); ok {
		return doc, nil
	}
	return Document{}, fmt.Errorf("document %s/%s/%s: %w", dossierID, documentTypeID, stepInstanceID, ErrNotFound)
}

func (r *MemoryRepo) findDocument(dossierID, documentTypeID, stepInstanceID string) (Document, bool) {
	for _, doc := range r.st.documents {
		if doc.DossierID != dossierID || doc.DocumentTypeID != documentTypeID {
			continue
		}
		scope := ""
		if doc.StepInstanceID != nil {
			scope = *doc.StepInstanceID
		}
		if scope == stepInstanceID {
			return doc, true
		}
	}
	return Document{}, false
}

func (r *MemoryRepo) UpsertDocument(ctx context.Context, doc Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	defer r.lock()()
	scope := ""
	if doc.StepInstanceID != nil {
		scope = *doc.StepInstanceID
	}
	if existing, ok := r.findDocument(doc.DossierID, doc.DocumentTypeID, scope); ok {
		existing.Status = doc.Status
		existing.FileName = doc.FileName
		existing.CurrentVersionID = doc.CurrentVersionID
		existing.UpdatedAt = doc.UpdatedAt
		r.st.documents[existing.ID] = existing
		return existing, nil
	}
	r.st.documents[doc.ID] = doc
	return doc, nil
}

func (r *MemoryRepo) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	doc, ok := r.st.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	doc.Status = status
	doc.UpdatedAt = at
	r.st.documents[id] = doc
	return nil
}

func (r *MemoryRepo) ListDocuments(ctx context.Context, dossierID string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()
	var out []Document
	for _, doc := range r.st.documents {
		if doc.DossierID == dossierID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) AppendEvent(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	r.st.seq++
	e.Seq = r.st.seq
	r.st.events = append(r.st.events, e)
	return nil
}

func (r *MemoryRepo) ListDossierEvents(ctx context.Context, dossierID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()
	var out []Event
	for _, e := range r.st.events {
		if (e.EntityType == EntityDossier && e.EntityID == dossierID) || e.Payload.String("dossier_id") == dossierID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListUnpublishedEvents(ctx context.Context, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()
	var out []Event
	for _, e := range r.st.events {
		if e.PublishedAt != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepo) MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()
	marked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		marked[id] = struct{}{}
	}
	for i := range r.st.events {
		if _, ok := marked[r.st.events[i].ID]; ok && r.st.events[i].PublishedAt == nil {
			published := at
			r.st.events[i].PublishedAt = &published
		}
	}
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
