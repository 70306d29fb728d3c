package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	verificateur = Actor{UserID: "u-verif", Role: RoleAgent}
	createur     = Actor{UserID: "u-creat", Role: RoleAgent}
	inactive     = Actor{UserID: "u-off", Role: RoleAgent}
	admin        = Actor{UserID: "u-admin", Role: RoleAdmin}
	client       = Actor{UserID: "u-client", Role: RoleClient}
)

type fixture struct {
	t    *testing.T
	ctx  context.Context
	repo *MemoryRepo
	svc  *Service
	now  time.Time
}

// newFixture seeds product p1: s1 (CLIENT, requires dt-id, approval moves the
// dossier to IN_PROGRESS) then s2 (ADMIN, requires dt-articles, approval
// completes the dossier).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:    t,
		ctx:  context.Background(),
		repo: NewMemoryRepo(),
		now:  time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo)
	f.svc.Now = func() time.Time { return f.now }

	ctx := f.ctx
	require.NoError(t, f.repo.CreateDocumentType(ctx, DocumentType{ID: "dt-id", Code: "ID_CARD", Label: "ID"}))
	require.NoError(t, f.repo.CreateDocumentType(ctx, DocumentType{ID: "dt-articles", Code: "ARTICLES", Label: "Articles"}))
	require.NoError(t, f.repo.CreateStep(ctx, Step{ID: "s1", Code: "QUESTIONNAIRE", Label: "Questionnaire", StepType: StepTypeClient}))
	require.NoError(t, f.repo.CreateStep(ctx, Step{ID: "s2", Code: "FILING", Label: "State filing", StepType: StepTypeAdmin, Position: 1}))
	require.NoError(t, f.repo.RequireDocumentType(ctx, "s1", "dt-id"))
	require.NoError(t, f.repo.RequireDocumentType(ctx, "s2", "dt-articles"))
	require.NoError(t, f.repo.CreateProduct(ctx, Product{ID: "p1", Name: "LLC", DossierType: "LLC", InitialStatus: DossierQualification, Active: true}))
	require.NoError(t, f.repo.CreateProductStep(ctx, ProductStep{ProductID: "p1", StepID: "s1", Position: 0, IsRequired: true, DossierStatusOnApproval: DossierInProgress}))
	require.NoError(t, f.repo.CreateProductStep(ctx, ProductStep{ProductID: "p1", StepID: "s2", Position: 1, IsRequired: true, DossierStatusOnApproval: DossierCompleted}))
	require.NoError(t, f.repo.CreateAgent(ctx, Agent{ID: "ag-verif", UserID: "u-verif", AgentType: AgentVerificateur, Name: "Vera", Active: true}))
	require.NoError(t, f.repo.CreateAgent(ctx, Agent{ID: "ag-creat", UserID: "u-creat", AgentType: AgentCreateur, Name: "Cole", Active: true}))
	require.NoError(t, f.repo.CreateAgent(ctx, Agent{ID: "ag-off", UserID: "u-off", AgentType: AgentCreateur, Name: "Gone", Active: false}))
	return f
}

// provision creates the p1 dossier for u-client and returns it with its
// instances keyed by step id.
func (f *fixture) provision() (Dossier, map[string]StepInstance) {
	f.t.Helper()
	res, err := f.svc.ProvisionDossier(f.ctx, ProvisionRequest{UserID: client.UserID, ProductID: "p1", OrderID: "ord-1"})
	require.NoError(f.t, err)
	require.True(f.t, res.Created)
	return res.Dossier, f.instances(res.Dossier.ID)
}

func (f *fixture) instances(dossierID string) map[string]StepInstance {
	f.t.Helper()
	list, err := f.repo.ListStepInstances(f.ctx, dossierID)
	require.NoError(f.t, err)
	out := make(map[string]StepInstance, len(list))
	for _, inst := range list {
		out[inst.StepID] = inst
	}
	return out
}

func (f *fixture) dossier(id string) Dossier {
	f.t.Helper()
	d, err := f.repo.GetDossier(f.ctx, id)
	require.NoError(f.t, err)
	return d
}

func (f *fixture) instance(id string) StepInstance {
	f.t.Helper()
	inst, err := f.repo.GetStepInstance(f.ctx, id)
	require.NoError(f.t, err)
	return inst
}

func (f *fixture) assign(instanceID, agentID string) {
	f.t.Helper()
	require.NoError(f.t, f.repo.AssignStepInstance(f.ctx, instanceID, agentID))
}

func (f *fixture) document(dossierID, instanceID, typeID string, status DocumentStatus) {
	f.t.Helper()
	scope := instanceID
	_, err := f.repo.UpsertDocument(f.ctx, Document{
		ID:             "doc-" + typeID + "-" + instanceID,
		DossierID:      dossierID,
		DocumentTypeID: typeID,
		StepInstanceID: &scope,
		Status:         status,
		CreatedAt:      f.now,
		UpdatedAt:      f.now,
	})
	require.NoError(f.t, err)
}

func (f *fixture) eventTypes(dossierID string) []EventType {
	f.t.Helper()
	events, err := f.repo.ListDossierEvents(f.ctx, dossierID)
	require.NoError(f.t, err)
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}
