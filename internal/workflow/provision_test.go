package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionDossierIsIdempotent(t *testing.T) {
	f := newFixture(t)
	d, inst := f.provision()

	assert.Equal(t, "LLC", d.Type)
	assert.Equal(t, "ord-1", d.OrderID)
	assert.Equal(t, SourcePayment, d.Metadata.String("source"))
	assert.Equal(t, "ord-1", d.Metadata.String("order_id"))

	again, err := f.svc.ProvisionDossier(f.ctx, ProvisionRequest{UserID: client.UserID, ProductID: "p1", OrderID: "ord-2"})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, d.ID, again.Dossier.ID)
	assert.Equal(t, "ord-1", again.Dossier.OrderID)

	assert.Len(t, f.instances(d.ID), len(inst))
	assert.Equal(t, []EventType{EventDossierCreated}, f.eventTypes(d.ID))
}

func TestProvisionDossierEventActor(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ProvisionDossier(f.ctx, ProvisionRequest{
		UserID:    "u-other",
		ProductID: "p1",
		Source:    SourceManual,
		IsTest:    true,
		Actor:     admin,
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	assert.True(t, res.Dossier.IsTest)

	events, err := f.repo.ListDossierEvents(f.ctx, res.Dossier.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ActorAdmin, events[0].ActorType)
	assert.Equal(t, admin.UserID, events[0].ActorID)
	assert.Equal(t, 2, events[0].Payload["step_count"])
	assert.Equal(t, SourceManual, res.Dossier.Metadata.String("source"))
}

func TestProvisionDossierRejections(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.CreateProduct(f.ctx, Product{ID: "p-off", InitialStatus: DossierPending, Active: false}))
	require.NoError(t, f.repo.CreateProductStep(f.ctx, ProductStep{ProductID: "p-off", StepID: "s1"}))
	require.NoError(t, f.repo.CreateProduct(f.ctx, Product{ID: "p-empty", InitialStatus: DossierPending, Active: true}))

	cases := []struct {
		name string
		req  ProvisionRequest
		want error
	}{
		{name: "missing user", req: ProvisionRequest{ProductID: "p1"}, want: ErrInvalidInput},
		{name: "missing product", req: ProvisionRequest{UserID: "u"}, want: ErrInvalidInput},
		{name: "unknown product", req: ProvisionRequest{UserID: "u", ProductID: "nope"}, want: ErrNotFound},
		{name: "inactive product", req: ProvisionRequest{UserID: "u", ProductID: "p-off"}, want: ErrProductInactive},
		{name: "product without steps", req: ProvisionRequest{UserID: "u", ProductID: "p-empty"}, want: ErrProductHasNoSteps},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.ProvisionDossier(f.ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := f.repo.FindDossier(f.ctx, "u", "p-empty")
	assert.ErrorIs(t, err, ErrNotFound, "rejected provisioning leaves nothing behind")
}

func TestProvisionDossierConcurrentCallsCreateOne(t *testing.T) {
	f := newFixture(t)

	results := make(chan ProvisionResult, 4)
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			res, err := f.svc.ProvisionDossier(f.ctx, ProvisionRequest{UserID: "u-race", ProductID: "p1"})
			results <- res
			errs <- err
		}()
	}
	created := 0
	ids := map[string]struct{}{}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-errs)
		res := <-results
		if res.Created {
			created++
		}
		ids[res.Dossier.ID] = struct{}{}
	}
	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
}
