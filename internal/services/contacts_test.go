package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vashsender/internal/billing"
	"vashsender/internal/models"
)

func TestContact_CreateValidates(t *testing.T) {
	f := newFixture(t)
	svc := NewContactService(f.db, f.billing)
	ctx := context.Background()

	c := &models.Contact{Email: "  Ann@X.Test", ListID: f.list.ID}
	require.NoError(t, svc.Create(ctx, f.teamID, c))
	assert.Equal(t, "ann@x.test", c.Email)
	assert.Equal(t, models.SubscriberStatusActive, c.Status)
	assert.Equal(t, f.teamID, c.TeamID)

	err := svc.Create(ctx, f.teamID, &models.Contact{Email: "nope", ListID: f.list.ID})
	assert.ErrorIs(t, err, ErrValidation)

	other := models.ContactList{Name: "Theirs", TeamID: "other-team"}
	require.NoError(t, f.db.Create(&other).Error)
	err = svc.Create(ctx, f.teamID, &models.Contact{Email: "b@x.test", ListID: other.ID})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestContact_CreateRespectsPlanLimit(t *testing.T) {
	f := newFixture(t)
	svc := NewContactService(f.db, f.billing)

	emails := make([]string, 500)
	for i := range emails {
		emails[i] = fmt.Sprintf("c%d@x.test", i)
	}
	f.addContacts(t, f.list.ID, models.SubscriberStatusActive, emails...)

	err := svc.Create(context.Background(), f.teamID, &models.Contact{Email: "one-more@x.test", ListID: f.list.ID})
	assert.ErrorIs(t, err, billing.ErrLimitReached)
}

func TestContactList_CountsAndDelete(t *testing.T) {
	f := newFixture(t)
	lists := NewContactListService(f.db)
	contacts := NewContactService(f.db, f.billing)
	ctx := context.Background()

	second := f.newList(t, "Second")
	f.addContacts(t, f.list.ID, models.SubscriberStatusActive, "a@x.test", "b@x.test")
	f.addContacts(t, f.list.ID, models.SubscriberStatusBounced, "c@x.test")
	f.addContacts(t, second.ID, models.SubscriberStatusActive, "a@x.test")

	counts, err := lists.Counts(ctx, f.teamID)
	require.NoError(t, err)
	require.Contains(t, counts, f.list.ID)
	assert.EqualValues(t, 3, counts[f.list.ID].Total)
	assert.EqualValues(t, 2, counts[f.list.ID].Active)
	assert.EqualValues(t, 1, counts[f.list.ID].Bounced)

	n, err := contacts.Unsubscribe(ctx, f.teamID, "A@x.test")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, lists.Delete(ctx, f.teamID, second.ID))
	var left int64
	f.db.Model(&models.Contact{}).Where("list_id = ?", second.ID).Count(&left)
	assert.Zero(t, left)

	assert.ErrorIs(t, lists.Delete(ctx, "other-team", f.list.ID), ErrNotFound)
}

func TestContact_ListFilters(t *testing.T) {
	f := newFixture(t)
	svc := NewContactService(f.db, f.billing)
	ctx := context.Background()

	f.addContacts(t, f.list.ID, models.SubscriberStatusActive, "a@x.test", "b@x.test")
	f.addContacts(t, f.list.ID, models.SubscriberStatusUnsubscribed, "c@x.test")

	got, total, err := svc.List(ctx, f.teamID, 1, 10, map[string]interface{}{
		"list_id": f.list.ID,
		"status":  string(models.SubscriberStatusActive),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, got, 2)
}
