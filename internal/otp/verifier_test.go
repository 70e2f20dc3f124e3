package otp

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/polyclinic-scheduler/internal/notify"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

type sequenceGenerator struct {
	codes []string
	i     int
}

func (g *sequenceGenerator) Generate() (string, error) {
	c := g.codes[g.i%len(g.codes)]
	g.i++
	return c, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Consume(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("connection reset")
}

func newTestVerifier(store Store, codes ...string) (*Verifier, *recordingNotifier, *time.Time) {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	n := &recordingNotifier{}
	v := NewVerifier(store, &sequenceGenerator{codes: codes}, n, logging.Discard()).
		WithClock(func() time.Time { return now })
	return v, n, &now
}

func TestVerifier_IssueAndVerifyIsSingleUse(t *testing.T) {
	ctx := context.Background()
	v, notifier, _ := newTestVerifier(NewMemoryStore(), "123456")

	code, err := v.Issue(ctx, "  Guest@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "123456", code)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notify.KindOTPIssued, notifier.sent[0].Kind)
	assert.Equal(t, "guest@example.com", notifier.sent[0].To)
	assert.Equal(t, DefaultTTL, notifier.sent[0].ExpiresIn)

	require.NoError(t, v.Verify(ctx, "guest@example.com", "123456"))
	assert.ErrorIs(t, v.Verify(ctx, "guest@example.com", "123456"), ErrInvalidOrExpired)
}

func TestVerifier_WrongCodeLeavesRow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	v, _, _ := newTestVerifier(store, "111111")

	_, err := v.Issue(ctx, "guest@example.com")
	require.NoError(t, err)

	assert.ErrorIs(t, v.Verify(ctx, "guest@example.com", "999999"), ErrInvalidOrExpired)
	assert.Equal(t, 1, store.Len())
	assert.NoError(t, v.Verify(ctx, "GUEST@example.com", "111111"))
	assert.Equal(t, 0, store.Len())
}

func TestVerifier_PriorCodesStayValid(t *testing.T) {
	ctx := context.Background()
	v, _, _ := newTestVerifier(NewMemoryStore(), "111111", "222222")

	_, err := v.Issue(ctx, "guest@example.com")
	require.NoError(t, err)
	_, err = v.Issue(ctx, "guest@example.com")
	require.NoError(t, err)

	assert.NoError(t, v.Verify(ctx, "guest@example.com", "111111"))
	assert.NoError(t, v.Verify(ctx, "guest@example.com", "222222"))
}

func TestVerifier_ExpiredCodeRejectedAndSwept(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	v, _, now := newTestVerifier(store, "123456")

	_, err := v.Issue(ctx, "guest@example.com")
	require.NoError(t, err)

	*now = now.Add(DefaultTTL)
	assert.ErrorIs(t, v.Verify(ctx, "guest@example.com", "123456"), ErrInvalidOrExpired)

	removed, err := v.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.Len())
}

func TestVerifier_StoreErrorsLookLikeMisses(t *testing.T) {
	v, _, _ := newTestVerifier(&failingStore{}, "123456")
	assert.ErrorIs(t, v.Verify(context.Background(), "guest@example.com", "123456"), ErrInvalidOrExpired)
	assert.ErrorIs(t, v.Verify(context.Background(), "", "123456"), ErrInvalidOrExpired)
}

func TestVerifier_IssueRequiresEmail(t *testing.T) {
	v, notifier, _ := newTestVerifier(NewMemoryStore(), "123456")
	_, err := v.Issue(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmailRequired)
	assert.Empty(t, notifier.sent)
}

func TestHOTPGenerator_SixDigitsAndVaries(t *testing.T) {
	g, err := NewHOTPGenerator()
	require.NoError(t, err)

	digits := regexp.MustCompile(`^\d{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		assert.Regexp(t, digits, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}
