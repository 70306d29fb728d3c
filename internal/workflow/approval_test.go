package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeS1(f *fixture) (Dossier, map[string]StepInstance) {
	f.t.Helper()
	d, inst := f.provision()
	f.assign(inst["s1"].ID, "ag-verif")
	_, err := f.svc.CompleteStep(f.ctx, inst["s1"].ID, verificateur, CompleteOptions{})
	require.NoError(f.t, err)
	return d, inst
}

func TestApproveStepMovesDossierStatus(t *testing.T) {
	f := newFixture(t)
	d, inst := completeS1(f)

	res, err := f.svc.ApproveStep(f.ctx, inst["s1"].ID, admin)
	require.NoError(t, err)
	assert.Equal(t, DossierInProgress, res.DossierStatus)
	assert.Equal(t, DossierInProgress, f.dossier(d.ID).Status)

	got := f.instance(inst["s1"].ID)
	assert.True(t, got.Approved())
	assert.Equal(t, admin.UserID, *got.ValidatedBy)

	assert.Equal(t, []EventType{
		EventDossierCreated,
		EventStepCompleted,
		EventStepApproved,
		EventDossierStatusChanged,
	}, f.eventTypes(d.ID))
}

func TestApproveStepRejections(t *testing.T) {
	f := newFixture(t)
	_, inst := completeS1(f)

	_, err := f.svc.ApproveStep(f.ctx, inst["s1"].ID, verificateur)
	assert.ErrorIs(t, err, ErrAdminOnly)

	_, err = f.svc.ApproveStep(f.ctx, inst["s2"].ID, admin)
	assert.ErrorIs(t, err, ErrStepNotCompleted)

	_, err = f.svc.ApproveStep(f.ctx, "missing", admin)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.ApproveStep(f.ctx, inst["s1"].ID, admin)
	require.NoError(t, err)
	_, err = f.svc.ApproveStep(f.ctx, inst["s1"].ID, admin)
	assert.ErrorIs(t, err, ErrAlreadyApproved)
}

func TestApplyApprovalStatus(t *testing.T) {
	f := newFixture(t)
	d, _ := f.provision()
	require.NoError(t, f.repo.CreateStep(f.ctx, Step{ID: "s-bad", Code: "BAD", StepType: StepTypeAdmin}))
	require.NoError(t, f.repo.CreateProductStep(f.ctx, ProductStep{ProductID: "p1", StepID: "s-bad", Position: 9, DossierStatusOnApproval: "ARCHIVED"}))
	require.NoError(t, f.repo.CreateStep(f.ctx, Step{ID: "s-none", Code: "NONE", StepType: StepTypeAdmin}))
	require.NoError(t, f.repo.CreateProductStep(f.ctx, ProductStep{ProductID: "p1", StepID: "s-none", Position: 10}))

	cases := []struct {
		name   string
		stepID string
		want   string
		status string
	}{
		{name: "unknown target is ignored", stepID: "s-bad", want: "", status: DossierQualification},
		{name: "no target configured", stepID: "s-none", want: "", status: DossierQualification},
		{name: "step outside product", stepID: "ghost", want: "", status: DossierQualification},
		{name: "configured target", stepID: "s1", want: DossierInProgress, status: DossierInProgress},
		{name: "same status again", stepID: "s1", want: "", status: DossierInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.svc.ApplyApprovalStatus(f.ctx, d.ID, "p1", tc.stepID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.status, f.dossier(d.ID).Status)
		})
	}
	assert.Nil(t, f.dossier(d.ID).CompletedAt)

	got, err := f.svc.ApplyApprovalStatus(f.ctx, d.ID, "p1", "s2")
	require.NoError(t, err)
	assert.Equal(t, DossierCompleted, got)
	assert.Equal(t, f.now, *f.dossier(d.ID).CompletedAt)
}

func TestAssignStep(t *testing.T) {
	f := newFixture(t)
	d, inst := f.provision()

	got, err := f.svc.AssignStep(f.ctx, inst["s2"].ID, "ag-creat", admin)
	require.NoError(t, err)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, "ag-creat", *got.AssignedTo)
	assert.Contains(t, f.eventTypes(d.ID), EventStepAssigned)

	_, err = f.svc.AssignStep(f.ctx, inst["s2"].ID, "ag-creat", createur)
	assert.ErrorIs(t, err, ErrAdminOnly)

	_, err = f.svc.AssignStep(f.ctx, inst["s2"].ID, "ag-off", admin)
	assert.ErrorIs(t, err, ErrFailedPrecondition)

	_, err = f.svc.AssignStep(f.ctx, inst["s2"].ID, "ghost", admin)
	assert.ErrorIs(t, err, ErrNotFound)

	f.assign(inst["s1"].ID, "ag-verif")
	_, err = f.svc.CompleteStep(f.ctx, inst["s1"].ID, verificateur, CompleteOptions{})
	require.NoError(t, err)
	_, err = f.svc.AssignStep(f.ctx, inst["s1"].ID, "ag-verif", admin)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}
