package annotationsync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlguardian/auditor/internal/annotationsync"
	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/identity"
)

type fakeIndex struct{}

func (fakeIndex) LookupByUUID(ctx context.Context, rowUUID string) (identity.KeyRecord, bool, error) {
	return identity.KeyRecord{}, false, nil
}

func (fakeIndex) LookupByCompositeKey(ctx context.Context, entityType core.FindingType, compositeKey string) (identity.KeyRecord, bool, error) {
	return identity.KeyRecord{}, false, nil
}

type fakeStore struct {
	upserted []core.Annotation
}

func (f *fakeStore) UpsertAnnotation(ctx context.Context, a core.Annotation) (core.Annotation, error) {
	f.upserted = append(f.upserted, a)
	return a, nil
}

func (f *fakeStore) GetAnnotation(ctx context.Context, rowUUID string, entityType core.FindingType, entityKey string) (core.Annotation, error) {
	return core.Annotation{}, core.ErrNotFound
}

func newResolver(t *testing.T) *identity.Resolver {
	t.Helper()
	r, err := identity.NewResolver(fakeIndex{}, 16)
	require.NoError(t, err)
	return r
}

func TestSync_NormalizesReviewStatusAndParsesDate(t *testing.T) {
	store := &fakeStore{}
	resolver := newResolver(t)

	rows := []annotationsync.WorkbookRow{
		{
			EntityType: core.FindingLogin, KeyParts: []string{"sql01", "appuser"},
			Justification: "approved", ReviewStatus: "Exception", LastReviewed: "2026-01-15",
		},
	}

	result, err := annotationsync.Sync(context.Background(), resolver, store, "acme", rows)
	require.NoError(t, err)
	require.Len(t, result.Upserted, 1)
	assert.Equal(t, core.ReviewStatusException, result.Upserted[0].ReviewStatus)
	require.NotNil(t, result.Upserted[0].LastReviewed)
	assert.Empty(t, result.Warnings)
}

func TestSync_InvalidReviewStatusNormalizesToNone(t *testing.T) {
	store := &fakeStore{}
	resolver := newResolver(t)

	rows := []annotationsync.WorkbookRow{
		{EntityType: core.FindingLogin, KeyParts: []string{"sql01", "appuser"}, ReviewStatus: "Not A Real Status"},
	}

	result, err := annotationsync.Sync(context.Background(), resolver, store, "acme", rows)
	require.NoError(t, err)
	assert.Equal(t, core.ReviewStatusNone, result.Upserted[0].ReviewStatus)
}

func TestSync_UnparseableDateProducesWarningNotError(t *testing.T) {
	store := &fakeStore{}
	resolver := newResolver(t)

	rows := []annotationsync.WorkbookRow{
		{EntityType: core.FindingLogin, KeyParts: []string{"sql01", "appuser"}, LastReviewed: "not a date"},
	}

	result, err := annotationsync.Sync(context.Background(), resolver, store, "acme", rows)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "not a date", result.Warnings[0].RawText)
	assert.Nil(t, result.Upserted[0].LastReviewed)
}

func TestAutoPopulate_ActiveFindingWithJustificationBecomesException(t *testing.T) {
	a := core.Annotation{Justification: "accepted risk"}
	out := annotationsync.AutoPopulate(core.StatusFail, a)
	assert.Equal(t, core.ReviewStatusException, out.ReviewStatus)
}

func TestAutoPopulate_PassFindingNeverAutoPopulated(t *testing.T) {
	a := core.Annotation{Justification: "accepted risk"}
	out := annotationsync.AutoPopulate(core.StatusPass, a)
	assert.Equal(t, core.ReviewStatusNone, out.ReviewStatus)
}

func TestAutoPopulate_ExistingReviewStatusNeverOverwritten(t *testing.T) {
	a := core.Annotation{Justification: "accepted risk", ReviewStatus: core.ReviewStatusNeedsReview}
	out := annotationsync.AutoPopulate(core.StatusFail, a)
	assert.Equal(t, core.ReviewStatusNeedsReview, out.ReviewStatus)
}
