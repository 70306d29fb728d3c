package workflow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEndDossierLifecycle(t *testing.T) {
	f := newFixture(t)
	d, inst := f.provision()

	require.Len(t, inst, 2)
	s1, s2 := inst["s1"], inst["s2"]
	assert.NotNil(t, s1.StartedAt)
	assert.Nil(t, s2.StartedAt)
	require.NotNil(t, d.CurrentStepInstanceID)
	assert.Equal(t, s1.ID, *d.CurrentStepInstanceID)
	assert.Equal(t, DossierQualification, d.Status)

	f.assign(s1.ID, "ag-verif")
	res, err := f.svc.CompleteStep(f.ctx, s1.ID, verificateur, CompleteOptions{})
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.Equal(t, s2.ID, res.NextStepInstanceID)
	assert.False(t, res.Approved)

	got := f.instance(s1.ID)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.ValidationStatus)
	d = f.dossier(d.ID)
	assert.Equal(t, s2.ID, *d.CurrentStepInstanceID)
	assert.Equal(t, DossierQualification, d.Status, "plain completion does not move status")
	assert.Nil(t, f.instance(s2.ID).StartedAt, "advancing does not start the next step")

	f.assign(s2.ID, "ag-creat")
	f.document(d.ID, s2.ID, "dt-articles", DocumentDelivered)
	res, err = f.svc.CompleteStep(f.ctx, s2.ID, createur, CompleteOptions{Manual: true})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.False(t, res.Advanced)
	assert.Equal(t, DossierCompleted, res.DossierStatus)

	got = f.instance(s2.ID)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.Approved())
	assert.Equal(t, "ag-creat", *got.ValidatedBy)

	d = f.dossier(d.ID)
	assert.Equal(t, DossierCompleted, d.Status)
	assert.NotNil(t, d.CompletedAt)
	assert.Equal(t, s2.ID, *d.CurrentStepInstanceID, "last step leaves the pointer in place")

	assert.Equal(t, []EventType{
		EventDossierCreated,
		EventStepCompleted,
		EventStepCompleted,
		EventDossierStatusChanged,
	}, f.eventTypes(d.ID))
}

func TestCompletionEventPayload(t *testing.T) {
	f := newFixture(t)
	d, inst := f.provision()
	f.assign(inst["s1"].ID, "ag-verif")

	_, err := f.svc.CompleteStep(f.ctx, inst["s1"].ID, verificateur, CompleteOptions{Manual: true})
	require.NoError(t, err)

	events, err := f.repo.ListDossierEvents(f.ctx, d.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, EventStepCompleted, last.EventType)
	assert.Equal(t, EntityStepInstance, last.EntityType)
	assert.Equal(t, inst["s1"].ID, last.EntityID)
	assert.Equal(t, ActorAgent, last.ActorType)
	assert.Equal(t, "ag-verif", last.ActorID)
	assert.Equal(t, true, last.Payload["manual"])
	assert.Equal(t, "verificateur", last.Payload["agent_type"])
	assert.Equal(t, "Vera", last.Payload["agent_name"])
	assert.Equal(t, "QUESTIONNAIRE", last.Payload["step_code"])
	assert.Equal(t, "State filing", last.Payload["next_step_name"])
}

func TestBlockedCompletionKeepsDossierUnchanged(t *testing.T) {
	f := newFixture(t)
	d, inst := f.provision()
	s2 := inst["s2"]
	f.assign(s2.ID, "ag-creat")
	f.document(d.ID, s2.ID, "dt-articles", DocumentPending)

	_, err := f.svc.CompleteStep(f.ctx, s2.ID, createur, CompleteOptions{})
	require.ErrorIs(t, err, ErrDocumentsNotDelivered)
	assert.ErrorIs(t, err, ErrFailedPrecondition)

	assert.Nil(t, f.instance(s2.ID).CompletedAt)
	assert.Equal(t, DossierQualification, f.dossier(d.ID).Status)
	assert.Equal(t, []EventType{EventDossierCreated}, f.eventTypes(d.ID))
}

func TestDocumentOutsideStepScopeDoesNotSatisfyReadiness(t *testing.T) {
	f := newFixture(t)
	d, inst := f.provision()
	s2 := inst["s2"]
	f.assign(s2.ID, "ag-creat")
	_, err := f.repo.UpsertDocument(f.ctx, Document{ID: "doc-wide", DossierID: d.ID, DocumentTypeID: "dt-articles", Status: DocumentDelivered})
	require.NoError(t, err)

	ready, err := f.svc.IsStepReady(f.ctx, s2.ID)
	require.NoError(t, err)
	assert.False(t, ready)

	f.document(d.ID, s2.ID, "dt-articles", DocumentDelivered)
	ready, err = f.svc.IsStepReady(f.ctx, s2.ID)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestVerificateurSkipsReadinessGate(t *testing.T) {
	f := newFixture(t)
	_, inst := f.provision()
	f.assign(inst["s1"].ID, "ag-verif")

	ready, err := f.svc.IsStepReady(f.ctx, inst["s1"].ID)
	require.NoError(t, err)
	require.False(t, ready)

	_, err = f.svc.CompleteStep(f.ctx, inst["s1"].ID, verificateur, CompleteOptions{})
	assert.NoError(t, err)
}

func TestCompleteStepAuthorization(t *testing.T) {
	cases := []struct {
		name     string
		actor    Actor
		step     string
		assignee string
		want     error
	}{
		{name: "client is not an agent", actor: client, step: "s1", assignee: "ag-verif", want: ErrNotAgent},
		{name: "unknown user", actor: Actor{UserID: "nobody", Role: RoleAgent}, step: "s1", want: ErrNotAgent},
		{name: "inactive agent", actor: inactive, step: "s2", assignee: "ag-off", want: ErrForbidden},
		{name: "not assigned", actor: verificateur, step: "s1", want: ErrNotAssigned},
		{name: "assigned to someone else", actor: verificateur, step: "s1", assignee: "ag-creat", want: ErrNotAssigned},
		{name: "verificateur on admin step", actor: verificateur, step: "s2", assignee: "ag-verif", want: ErrStepTypeMismatch},
		{name: "createur on client step", actor: createur, step: "s1", assignee: "ag-creat", want: ErrStepTypeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			d, inst := f.provision()
			target := inst[tc.step]
			if tc.assignee != "" {
				f.assign(target.ID, tc.assignee)
			}
			f.document(d.ID, target.ID, "dt-articles", DocumentDelivered)

			_, err := f.svc.CompleteStep(f.ctx, target.ID, tc.actor, CompleteOptions{})
			require.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, ErrForbidden)
			assert.Nil(t, f.instance(target.ID).CompletedAt)
		})
	}
}

func TestCompleteStepChecksAssignmentBeforeStepType(t *testing.T) {
	f := newFixture(t)
	_, inst := f.provision()

	// Unassigned and of the wrong type: assignment is reported.
	_, err := f.svc.CompleteStep(f.ctx, inst["s2"].ID, verificateur, CompleteOptions{})
	assert.ErrorIs(t, err, ErrNotAssigned)
}

func TestCompleteStepUnknownInstance(t *testing.T) {
	f := newFixture(t)
	f.provision()

	_, err := f.svc.CompleteStep(f.ctx, "missing", verificateur, CompleteOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteStepTwice(t *testing.T) {
	f := newFixture(t)
	d, inst := f.provision()
	f.assign(inst["s1"].ID, "ag-verif")

	_, err := f.svc.CompleteStep(f.ctx, inst["s1"].ID, verificateur, CompleteOptions{})
	require.NoError(t, err)
	first := f.instance(inst["s1"].ID).CompletedAt

	f.now = f.now.Add(time.Hour)
	_, err = f.svc.CompleteStep(f.ctx, inst["s1"].ID, verificateur, CompleteOptions{})
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Equal(t, first, f.instance(inst["s1"].ID).CompletedAt)

	_, err = f.svc.CompleteStep(f.ctx, inst["s1"].ID, admin, CompleteOptions{})
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.ErrorIs(t, err, ErrConflict)

	completed := 0
	for _, et := range f.eventTypes(d.ID) {
		if et == EventStepCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestConcurrentCompletionHasOneWinner(t *testing.T) {
	f := newFixture(t)
	_, inst := f.provision()
	f.assign(inst["s1"].ID, "ag-verif")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CompleteStep(f.ctx, inst["s1"].ID, verificateur, CompleteOptions{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyCompleted):
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

func TestAdminWithoutAgentRecordCompletesAdminStep(t *testing.T) {
	f := newFixture(t)
	d, inst := f.provision()
	s2 := inst["s2"]
	f.document(d.ID, s2.ID, "dt-articles", DocumentDelivered)

	res, err := f.svc.CompleteStep(f.ctx, s2.ID, admin, CompleteOptions{Manual: true})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, DossierCompleted, f.dossier(d.ID).Status)

	events, err := f.repo.ListDossierEvents(f.ctx, d.ID)
	require.NoError(t, err)
	var completed Event
	for _, e := range events {
		if e.EventType == EventStepCompleted {
			completed = e
		}
	}
	assert.Equal(t, ActorAdmin, completed.ActorType)
	assert.Equal(t, "admin", completed.Payload["agent_type"])
}

func TestAdminStillNeedsDocumentsForAdminStep(t *testing.T) {
	f := newFixture(t)
	_, inst := f.provision()

	_, err := f.svc.CompleteStep(f.ctx, inst["s2"].ID, admin, CompleteOptions{})
	assert.ErrorIs(t, err, ErrDocumentsNotDelivered)
}

func TestCreateAndCompleteStep(t *testing.T) {
	f := newFixture(t)
	d, _ := f.provision()
	require.NoError(t, f.repo.CreateStep(f.ctx, Step{ID: "s3", Code: "EIN", Label: "EIN request", StepType: StepTypeAdmin}))
	require.NoError(t, f.repo.CreateProductStep(f.ctx, ProductStep{ProductID: "p1", StepID: "s3", Position: 5}))

	res, err := f.svc.CreateAndCompleteStep(f.ctx, CreateAndCompleteInput{DossierID: d.ID, StepID: "s3", Manual: true}, createur)
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.False(t, res.Advanced)

	inst := f.instances(d.ID)["s3"]
	require.NotNil(t, inst.AssignedTo)
	assert.Equal(t, "ag-creat", *inst.AssignedTo)
	assert.NotNil(t, inst.StartedAt)
	assert.NotNil(t, inst.CompletedAt)
	assert.True(t, inst.Approved())

	_, err = f.svc.CreateAndCompleteStep(f.ctx, CreateAndCompleteInput{DossierID: d.ID, StepID: "s3"}, createur)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestCreateAndCompleteStepRejections(t *testing.T) {
	f := newFixture(t)
	d, inst := f.provision()
	require.NoError(t, f.repo.CreateStep(f.ctx, Step{ID: "orphan", Code: "ORPHAN", StepType: StepTypeAdmin}))

	_, err := f.svc.CreateAndCompleteStep(f.ctx, CreateAndCompleteInput{DossierID: d.ID, StepID: "s1"}, createur)
	assert.ErrorIs(t, err, ErrStepNotAdmin)

	_, err = f.svc.CreateAndCompleteStep(f.ctx, CreateAndCompleteInput{DossierID: d.ID, StepID: "orphan"}, createur)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.CreateAndCompleteStep(f.ctx, CreateAndCompleteInput{DossierID: "missing", StepID: "s2"}, createur)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.CreateAndCompleteStep(f.ctx, CreateAndCompleteInput{DossierID: d.ID, StepID: "s2"}, client)
	assert.ErrorIs(t, err, ErrNotAgent)

	// Readiness fails after the tentative assignment; nothing is kept.
	_, err = f.svc.CreateAndCompleteStep(f.ctx, CreateAndCompleteInput{DossierID: d.ID, StepID: "s2"}, createur)
	require.ErrorIs(t, err, ErrDocumentsNotDelivered)
	assert.Nil(t, f.instance(inst["s2"].ID).AssignedTo)
}

func TestStepWithoutRequiredDocumentsIsReady(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.CreateStep(f.ctx, Step{ID: "s-ein", Code: "EIN", Label: "EIN request", StepType: StepTypeAdmin}))
	require.NoError(t, f.repo.CreateProduct(f.ctx, Product{ID: "p-ein", Name: "EIN only", DossierType: "EIN", InitialStatus: DossierQualification, Active: true}))
	require.NoError(t, f.repo.CreateProductStep(f.ctx, ProductStep{ProductID: "p-ein", StepID: "s-ein", Position: 0, IsRequired: true, DossierStatusOnApproval: DossierCompleted}))

	prov, err := f.svc.ProvisionDossier(f.ctx, ProvisionRequest{UserID: client.UserID, ProductID: "p-ein"})
	require.NoError(t, err)
	inst := f.instances(prov.Dossier.ID)["s-ein"]

	ready, err := f.svc.IsStepReady(f.ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, ready)

	f.assign(inst.ID, "ag-creat")
	res, err := f.svc.CompleteStep(f.ctx, inst.ID, createur, CompleteOptions{})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.False(t, res.Advanced)
	assert.True(t, f.instance(inst.ID).Approved())
	assert.Equal(t, DossierCompleted, f.dossier(prov.Dossier.ID).Status)
}

func TestOutOfOrderCompletionKeepsPointerAhead(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.CreateStep(f.ctx, Step{ID: "s-late", Code: "EIN", Label: "EIN", StepType: StepTypeAdmin}))
	require.NoError(t, f.repo.CreateProductStep(f.ctx, ProductStep{ProductID: "p1", StepID: "s-late", Position: 7}))
	d, inst := f.provision()

	// An admin finishes s2 while s1 is still open.
	f.document(d.ID, inst["s2"].ID, "dt-articles", DocumentDelivered)
	res, err := f.svc.CompleteStep(f.ctx, inst["s2"].ID, admin, CompleteOptions{})
	require.NoError(t, err)
	late := res.NextStepInstanceID
	require.NotEmpty(t, late)
	assert.Equal(t, late, *f.dossier(d.ID).CurrentStepInstanceID)

	f.assign(inst["s1"].ID, "ag-verif")
	res, err = f.svc.CompleteStep(f.ctx, inst["s1"].ID, verificateur, CompleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, inst["s2"].ID, res.NextStepInstanceID)
	assert.Equal(t, late, *f.dossier(d.ID).CurrentStepInstanceID)
}
