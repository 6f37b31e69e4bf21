package service

import (
	"context"
	"testing"
	"time"

	"idle_mining/internal/domain"
	"idle_mining/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdmin(t *testing.T, f *fixture, secret string) (*AdminService, *Confirmer) {
	t.Helper()
	confirm := NewConfirmer(secret)
	confirm.now = f.clock.Now
	return NewAdminService(f.repo, f.fallback, confirm, time.Second), confirm
}

func issue(t *testing.T, c *Confirmer, action Action) string {
	t.Helper()
	tok, err := c.Issue(action, testAddr, time.Minute)
	require.NoError(t, err)
	return tok
}

// degrade leaves one unreconciled silver purchase on top of version 1
func degrade(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	_, err := f.coord.Heartbeat(ctx, testAddr, time.Time{})
	require.NoError(t, err)
	f.repo.down.Store(true)
	res, err := f.coord.PurchasePickaxe(ctx, testAddr, domain.TierSilver, 1, 0.1)
	require.NoError(t, err)
	require.True(t, res.Degraded)
	f.repo.down.Store(false)
}

func TestReconcileWritesDegradedRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	admin, confirm := newAdmin(t, f, "s3cret")
	degrade(t, f)

	require.Len(t, admin.ListDegraded(), 1)

	rec, err := admin.Reconcile(ctx, testAddr, issue(t, confirm, ActionReconcile))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, int64(1), rec.Inventory.Count(domain.TierSilver))
	assert.Empty(t, admin.ListDegraded())

	ledger, err := f.repo.Ledger(ctx, testAddr, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(ledger), 2)
	assert.Equal(t, domain.OpReconcile, ledger[0].Operation)
	assert.Equal(t, domain.OpPurchase, ledger[1].Operation)
	assert.Equal(t, true, ledger[1].Meta["reconciled"])

	res, err := f.coord.Heartbeat(ctx, testAddr, time.Time{})
	require.NoError(t, err)
	assert.False(t, res.Unreconciled)
}

func TestReconcileRefusesWhenRepositoryMoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	admin, confirm := newAdmin(t, f, "s3cret")
	degrade(t, f)

	f.clock.Advance(time.Second)
	_, err := f.coord.GrantLand(ctx, testAddr)
	require.NoError(t, err)

	_, err = admin.Reconcile(ctx, testAddr, issue(t, confirm, ActionReconcile))
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, ok := f.fallback.Dirty(testAddr)
	assert.True(t, ok, "entry stays for the operator")
}

func TestReconcileWithoutDirtyEntry(t *testing.T) {
	f := newFixture(t, Options{})
	admin, confirm := newAdmin(t, f, "s3cret")

	_, err := admin.Reconcile(context.Background(), testAddr, issue(t, confirm, ActionReconcile))
	assert.ErrorIs(t, err, domain.ErrNotDegraded)
}

func TestDiscardDropsDegradedRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	admin, confirm := newAdmin(t, f, "s3cret")
	degrade(t, f)

	require.NoError(t, admin.Discard(ctx, testAddr, issue(t, confirm, ActionDiscard)))
	assert.False(t, f.fallback.IsDirty(testAddr))

	rec, err := f.repo.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Inventory.Count(domain.TierSilver))
}

func TestDestructiveActionsNeedConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	admin, confirm := newAdmin(t, f, "s3cret")
	_, err := f.coord.GrantLand(ctx, testAddr)
	require.NoError(t, err)

	err = admin.ResetPlayer(ctx, testAddr, "")
	assert.ErrorIs(t, err, domain.ErrConfirmationRequired)

	err = admin.ResetPlayer(ctx, testAddr, issue(t, confirm, ActionReconcile))
	assert.ErrorIs(t, err, domain.ErrConfirmationRequired, "token for another action")

	other, err := confirm.Issue(ActionReset, "0x0000000000000000000000000000000000000001", time.Minute)
	require.NoError(t, err)
	err = admin.ResetPlayer(ctx, testAddr, other)
	assert.ErrorIs(t, err, domain.ErrConfirmationRequired, "token for another address")

	rec, err := f.repo.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.True(t, rec.Persisted())

	require.NoError(t, admin.ResetPlayer(ctx, testAddr, issue(t, confirm, ActionReset)))
	rec, err = f.repo.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.False(t, rec.Persisted())
	assert.False(t, rec.HasLand)
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	f := newFixture(t, Options{})
	admin, confirm := newAdmin(t, f, "")

	_, err := confirm.Issue(ActionReset, testAddr, time.Minute)
	assert.ErrorIs(t, err, domain.ErrAdminDisabled)

	err = admin.ResetPlayer(context.Background(), testAddr, "anything")
	assert.ErrorIs(t, err, domain.ErrAdminDisabled)
}

func TestConfirmationExpires(t *testing.T) {
	f := newFixture(t, Options{})
	_, confirm := newAdmin(t, f, "s3cret")

	tok := issue(t, confirm, ActionReset)
	require.NoError(t, confirm.Verify(tok, ActionReset, testAddr))

	f.clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, confirm.Verify(tok, ActionReset, testAddr), domain.ErrConfirmationRequired)

	forged, err := NewConfirmer("other").Issue(ActionReset, testAddr, time.Hour)
	require.NoError(t, err)
	assert.ErrorIs(t, confirm.Verify(forged, ActionReset, testAddr), domain.ErrConfirmationRequired)
}

func TestInspection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	admin, _ := newAdmin(t, f, "")

	_, err := f.coord.CreditReferral(ctx, testAddr, "ref-1", domain.ReferralReward{Gold: 5})
	require.NoError(t, err)
	degrade(t, f)

	players, err := admin.ListPlayers(ctx, repository.ListParams{})
	require.NoError(t, err)
	require.Len(t, players, 1)

	view, err := admin.GetPlayer(ctx, testAddr)
	require.NoError(t, err)
	require.NotNil(t, view.Dirty)
	assert.Equal(t, int64(1), view.Dirty.Record.Inventory.Count(domain.TierSilver))
	assert.Equal(t, 5.0, view.Record.Gold)

	st, err := admin.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalPlayers)
	assert.Equal(t, 1, st.UnreconciledRecords)

	_, err = admin.GetPlayer(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}
