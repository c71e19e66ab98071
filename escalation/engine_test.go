package escalation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/skywatch-bsky/skywatch-automod/dedupe"
	"github.com/skywatch-bsky/skywatch-automod/threshold"

	"github.com/stretchr/testify/assert"
)

type fakeModService struct {
	labels   []string
	reports  []string
	comments []string

	failLabel   error
	failReport  error
	failComment error
}

func (f *fakeModService) ApplyAccountLabel(ctx context.Context, did, label string) error {
	if f.failLabel != nil {
		return f.failLabel
	}
	f.labels = append(f.labels, did+"/"+label)
	return nil
}

func (f *fakeModService) ApplyPostLabel(ctx context.Context, uri, cid, label string) error {
	return nil
}

func (f *fakeModService) ReportAccount(ctx context.Context, did, reason string) error {
	if f.failReport != nil {
		return f.failReport
	}
	f.reports = append(f.reports, did+": "+reason)
	return nil
}

func (f *fakeModService) CommentAccount(ctx context.Context, did, comment string) error {
	if f.failComment != nil {
		return f.failComment
	}
	f.comments = append(f.comments, did+": "+comment)
	return nil
}

// brokenTracker fails every store round trip.
type brokenTracker struct{}

func (brokenTracker) TrackEvent(ctx context.Context, subject, category, member string, ts time.Time, window time.Duration) error {
	return fmt.Errorf("store unreachable")
}

func (brokenTracker) CountInWindow(ctx context.Context, subject string, categories []string, window time.Duration, now time.Time) (int, error) {
	return 0, fmt.Errorf("store unreachable")
}

func (brokenTracker) TrackAndCount(ctx context.Context, subject, category, member string, ts time.Time, window time.Duration) (int, error) {
	return 0, fmt.Errorf("store unreachable")
}

func testEngine(t *testing.T, mod ModerationService, configs []TrackedLabelConfig) *Engine {
	t.Helper()
	eng, err := NewEngine(threshold.NewMemTracker(), dedupe.NewMemStore(), mod, configs, nil)
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestThresholdCrossingFiresOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModService{}
	eng := testEngine(t, mod, []TrackedLabelConfig{
		{Labels: []string{"spam"}, Threshold: 3, AccountLabel: "repeat-spammer"},
	})

	now := time.Now()
	for i := 1; i <= 2; i++ {
		actions, err := eng.HandleLabelEvent(ctx, "did:plc:abc", "spam", fmt.Sprintf("post-%d", i), now)
		assert.NoError(err)
		assert.Nil(actions)
	}

	actions, err := eng.HandleLabelEvent(ctx, "did:plc:abc", "spam", "post-3", now)
	assert.NoError(err)
	assert.Len(actions, 1)
	assert.Equal("repeat-spammer", actions[0].Config.EffectiveAccountLabel())
	assert.Equal(3, actions[0].CurrentCount)
}

func TestUntrackedLabelReturnsNil(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := testEngine(t, &fakeModService{}, []TrackedLabelConfig{
		{Labels: []string{"spam"}, Threshold: 3, AccountLabel: "repeat-spammer"},
	})

	actions, err := eng.HandleLabelEvent(ctx, "did:plc:abc", "nudity", "post-1", time.Now())
	assert.NoError(err)
	assert.Nil(actions)
}

func TestOverlappingConfigsEvaluatedIndependently(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := testEngine(t, &fakeModService{}, []TrackedLabelConfig{
		{Labels: []string{"spam"}, Threshold: 2, AccountLabel: "repeat-spammer"},
		{Labels: []string{"spam", "scam"}, Threshold: 2, AccountLabel: "bad-actor"},
	})

	now := time.Now()
	actions, err := eng.HandleLabelEvent(ctx, "did:plc:abc", "spam", "post-1", now)
	assert.NoError(err)
	assert.Nil(actions)

	actions, err = eng.HandleLabelEvent(ctx, "did:plc:abc", "spam", "post-2", now)
	assert.NoError(err)
	assert.Len(actions, 2)
}

func TestDispatchFullCompoundAction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModService{}
	eng := testEngine(t, mod, nil)

	res, err := eng.DispatchAccountAction(ctx, &AccountLabelAction{
		DID: "did:plc:abc",
		Config: TrackedLabelConfig{
			Labels: []string{"spam"}, Threshold: 3,
			AccountLabel: "repeat-spammer", AccountComment: "3 strikes",
			ReportAcct: true, CommentAcct: true,
		},
		CurrentCount: 3,
	})
	assert.NoError(err)
	assert.True(res.Success)
	assert.NotNil(res.Labeled)
	assert.NotNil(res.Reported)
	assert.NotNil(res.Commented)
	assert.Equal([]string{"did:plc:abc/repeat-spammer"}, mod.labels)
	assert.Equal([]string{"did:plc:abc: 3 strikes"}, mod.reports)
	assert.Equal([]string{"did:plc:abc: 3 strikes"}, mod.comments)
}

func TestDispatchAbortsOnReportFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModService{failReport: fmt.Errorf("remote down")}
	eng := testEngine(t, mod, nil)

	res, err := eng.DispatchAccountAction(ctx, &AccountLabelAction{
		DID: "did:plc:abc",
		Config: TrackedLabelConfig{
			Labels: []string{"spam"}, Threshold: 3,
			AccountLabel: "repeat-spammer", AccountComment: "3 strikes",
			ReportAcct: true, CommentAcct: true,
		},
		CurrentCount: 3,
	})
	assert.NoError(err)
	assert.False(res.Success)
	assert.NotNil(res.Labeled)
	assert.True(*res.Labeled)
	assert.Nil(res.Reported)
	assert.Nil(res.Commented)
	assert.Error(res.Err)
	// the comment step was never invoked
	assert.Empty(mod.comments)
}

func TestDispatchLabelFailureAttemptsNothingElse(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModService{failLabel: fmt.Errorf("remote down")}
	eng := testEngine(t, mod, nil)

	res, err := eng.DispatchAccountAction(ctx, &AccountLabelAction{
		DID:    "did:plc:abc",
		Config: TrackedLabelConfig{Labels: []string{"spam"}, Threshold: 3, AccountLabel: "repeat-spammer", ReportAcct: true},
	})
	assert.NoError(err)
	assert.False(res.Success)
	assert.Nil(res.Labeled)
	assert.Empty(mod.reports)
}

func TestDispatchDeduped(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModService{}
	eng := testEngine(t, mod, nil)

	action := &AccountLabelAction{
		DID:    "did:plc:abc",
		Config: TrackedLabelConfig{Labels: []string{"spam"}, Threshold: 3, AccountLabel: "repeat-spammer"},
	}
	res, err := eng.DispatchAccountAction(ctx, action)
	assert.NoError(err)
	assert.True(res.Success)

	// re-dispatch of the same crossing no-ops
	res, err = eng.DispatchAccountAction(ctx, action)
	assert.NoError(err)
	assert.True(res.Skipped)
	assert.False(res.Success)
	assert.Len(mod.labels, 1)
}

func TestProcessLabelEventEndToEnd(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModService{}
	eng := testEngine(t, mod, []TrackedLabelConfig{
		{Labels: []string{"spam"}, Threshold: 3, AccountLabel: "repeat-spammer", ReportAcct: true},
	})

	now := time.Now()
	for i := 1; i <= 3; i++ {
		results, err := eng.ProcessLabelEvent(ctx, "did:plc:abc", "spam", fmt.Sprintf("post-%d", i), now)
		assert.NoError(err)
		if i < 3 {
			assert.Empty(results)
		} else {
			assert.Len(results, 1)
			assert.True(results[0].Success)
		}
	}

	// a fourth event re-crosses but the dedupe claim holds
	results, err := eng.ProcessLabelEvent(ctx, "did:plc:abc", "spam", "post-4", now)
	assert.NoError(err)
	assert.Len(results, 1)
	assert.True(results[0].Skipped)
	assert.Len(mod.labels, 1)
}

func TestStoreErrorAsymmetry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// single-label config: store errors are swallowed into a nil result
	eng, err := NewEngine(brokenTracker{}, dedupe.NewMemStore(), &fakeModService{}, []TrackedLabelConfig{
		{Labels: []string{"spam"}, Threshold: 3, AccountLabel: "repeat-spammer"},
	}, nil)
	assert.NoError(err)
	actions, err := eng.HandleLabelEvent(ctx, "did:plc:abc", "spam", "post-1", time.Now())
	assert.NoError(err)
	assert.Nil(actions)

	// multi-label config: store errors propagate
	eng, err = NewEngine(brokenTracker{}, dedupe.NewMemStore(), &fakeModService{}, []TrackedLabelConfig{
		{Labels: []string{"spam", "scam"}, Threshold: 3, AccountLabel: "bad-actor"},
	}, nil)
	assert.NoError(err)
	_, err = eng.HandleLabelEvent(ctx, "did:plc:abc", "spam", "post-1", time.Now())
	assert.Error(err)
}

func TestToLabelAlias(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModService{}
	eng := testEngine(t, mod, nil)

	res, err := eng.DispatchAccountAction(ctx, &AccountLabelAction{
		DID:    "did:plc:abc",
		Config: TrackedLabelConfig{Labels: []string{"spam"}, Threshold: 1, AccountLabel: "old-name", ToLabel: "new-name"},
	})
	assert.NoError(err)
	assert.True(res.Success)
	assert.Equal([]string{"did:plc:abc/new-name"}, mod.labels)
}
