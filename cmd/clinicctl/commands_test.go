package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/polyclinic-scheduler/internal/app/bootstrap"
	"github.com/wolfman30/polyclinic-scheduler/internal/availability"
	appconfig "github.com/wolfman30/polyclinic-scheduler/internal/config"
	"github.com/wolfman30/polyclinic-scheduler/internal/crowd"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/internal/slotload"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

func newTestCLI(t *testing.T) (*cli, *bootstrap.Engine, *bytes.Buffer) {
	t.Helper()
	cfg := &appconfig.Config{UseMemoryStore: true, EmailProvider: "stub", ClinicTZ: "UTC", JWTSecret: "cli-secret"}
	e, err := bootstrap.Build(context.Background(), cfg, logging.Discard(), bootstrap.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(context.Background()) })

	out := &bytes.Buffer{}
	return &cli{
		cfg:    cfg,
		out:    out,
		logger: logging.Discard(),
		engine: func(context.Context) (*bootstrap.Engine, error) { return e, nil },
	}, e, out
}

func execute(a *cli, args ...string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func TestResolveCommand(t *testing.T) {
	a, e, out := newTestCLI(t)
	doc, err := e.Schedule.CreateDoctor(context.Background(), schedule.Doctor{Name: "Dr. Ivanova", Specialization: "Cardiology"})
	require.NoError(t, err)

	require.NoError(t, execute(a, "resolve", "--doctor", doc.ID.String(), "--date", "2026-10-19", "--time", "10:00"))

	var verdict availability.Verdict
	require.NoError(t, json.Unmarshal(out.Bytes(), &verdict))
	assert.True(t, verdict.Available)
	assert.Equal(t, availability.SourceDefault, verdict.Source)
	assert.Equal(t, 10, verdict.Capacity)
}

func TestResolveCommand_RequiresFlags(t *testing.T) {
	a, _, _ := newTestCLI(t)
	assert.Error(t, execute(a, "resolve", "--date", "2026-10-19"))
	assert.Error(t, execute(a, "resolve", "--doctor", "nope", "--date", "2026-10-19", "--time", "10:00"))
}

func TestCrowdAndSlotsCommands(t *testing.T) {
	a, e, out := newTestCLI(t)
	ctx := context.Background()
	date := timegrid.MustDate("2026-10-19")
	for i := 0; i < 10; i++ {
		_, err := e.Loads.Increment(ctx, date, timegrid.MustClock("09:00"), 10)
		require.NoError(t, err)
	}
	_, err := e.Loads.Increment(ctx, date, timegrid.MustClock("11:00"), 10)
	require.NoError(t, err)

	require.NoError(t, execute(a, "crowd", "--date", "2026-10-19", "--time", "09:00"))
	var assessment crowd.Assessment
	require.NoError(t, json.Unmarshal(out.Bytes(), &assessment))
	assert.Equal(t, 10, assessment.Count)
	assert.InDelta(t, 5.5, assessment.Mean, 0.001)

	out.Reset()
	require.NoError(t, execute(a, "slots", "--date", "2026-10-19"))
	var open []slotload.SlotLoad
	require.NoError(t, json.Unmarshal(out.Bytes(), &open))
	require.Len(t, open, 1)
	assert.Equal(t, timegrid.MustClock("11:00"), open[0].Time)

	out.Reset()
	require.NoError(t, execute(a, "slots", "--date", "2026-10-19", "--all"))
	var all []slotload.SlotLoad
	require.NoError(t, json.Unmarshal(out.Bytes(), &all))
	assert.Len(t, all, 2)
}

func TestSweepCommands(t *testing.T) {
	a, _, out := newTestCLI(t)

	require.NoError(t, execute(a, "sweep", "reminders"))
	assert.Contains(t, out.String(), "reminders: 0 processed")

	out.Reset()
	require.NoError(t, execute(a, "sweep", "otps"))
	assert.Contains(t, out.String(), "otp_sweep: 0 processed")
}

func TestTokenCommand(t *testing.T) {
	a, _, out := newTestCLI(t)
	tokens := identity.NewTokens("cli-secret")

	userID := uuid.New()
	require.NoError(t, execute(a, "token", "--kind", "staff", "--id", userID.String(), "--email", "desk@clinic.test", "--ttl", "1h"))
	req, err := tokens.Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, identity.KindStaff, req.Kind)
	assert.Equal(t, userID, req.ID)

	out.Reset()
	require.NoError(t, execute(a, "token", "--kind", "guest", "--email", "Walk.In@Example.com"))
	req, err = tokens.Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.True(t, req.IsGuest())
	assert.True(t, req.Verified)
	assert.Equal(t, "walk.in@example.com", req.Email)
}

func TestTokenCommand_Errors(t *testing.T) {
	a, _, _ := newTestCLI(t)
	assert.Error(t, execute(a, "token", "--kind", "janitor", "--id", uuid.NewString()))
	assert.Error(t, execute(a, "token", "--kind", "admin", "--id", "not-a-uuid"))

	a.cfg = &appconfig.Config{}
	assert.Error(t, execute(a, "token", "--kind", "admin", "--id", uuid.NewString()), "no secret configured")
}
