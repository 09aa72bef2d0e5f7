package integrity_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/hsm/audit"
	"github.com/kashguard/go-hsm/internal/hsm/integrity"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAuditLogger struct {
	events []*audit.AuditEvent
}

func (l *recordingAuditLogger) LogEvent(_ context.Context, event *audit.AuditEvent) error {
	l.events = append(l.events, event)
	return nil
}

func (l *recordingAuditLogger) Close() error { return nil }

func newSubsystem(probe integrity.SealProbe) (integrity.Subsystem, *recordingAuditLogger) {
	logger := &recordingAuditLogger{}
	sub := integrity.NewSubsystem(probe, rand.Reader, logger, time2.NewMockClock(time.Now()))
	return sub, logger
}

func TestSubsystem_SelfTest(t *testing.T) {
	ctx := context.Background()
	sub, logger := newSubsystem(nil)

	// 自检前模块不健康
	assert.False(t, sub.Healthy())

	require.NoError(t, sub.RunSelfTest(ctx))
	assert.True(t, sub.Healthy())

	status := sub.Status()
	assert.True(t, status.SelfTestPassed)
	assert.False(t, status.Tampered)
	assert.False(t, status.LastSelfTest.IsZero())

	require.Len(t, logger.events, 1)
	assert.Equal(t, audit.EventTypeIntegrity, logger.events[0].EventType)
	assert.Equal(t, audit.OutcomeSuccess, logger.events[0].Outcome)
}

func TestSubsystem_TamperForcesUnhealthy(t *testing.T) {
	ctx := context.Background()
	sub, logger := newSubsystem(nil)
	require.NoError(t, sub.RunSelfTest(ctx))

	sub.SetTampered(ctx, "cover opened")
	assert.False(t, sub.Healthy())
	assert.Equal(t, "cover opened", sub.Status().TamperReason)

	// 重复信号不重复审计
	sub.SetTampered(ctx, "cover opened again")
	var tamperEvents int
	for _, e := range logger.events {
		if e.Action == "tamper_detected" {
			tamperEvents++
		}
	}
	assert.Equal(t, 1, tamperEvents)
}

func TestSubsystem_Reinitialize(t *testing.T) {
	ctx := context.Background()
	sub, _ := newSubsystem(nil)
	require.NoError(t, sub.RunSelfTest(ctx))

	sub.SetTampered(ctx, "voltage glitch")
	assert.False(t, sub.Healthy())

	require.NoError(t, sub.Reinitialize(ctx))
	assert.True(t, sub.Healthy())
	assert.Empty(t, sub.Status().TamperReason)
}

func TestSubsystem_SealProbe(t *testing.T) {
	ctx := context.Background()

	probeErr := errors.New("seal broken")
	broken := false
	sub, _ := newSubsystem(func(_ context.Context) error {
		if broken {
			return probeErr
		}
		return nil
	})
	require.NoError(t, sub.RunSelfTest(ctx))
	require.NoError(t, sub.CheckTamperSeals(ctx))
	assert.True(t, sub.Healthy())

	broken = true
	require.Error(t, sub.CheckTamperSeals(ctx))
	assert.False(t, sub.Healthy())

	// 封条仍破坏时 Reinitialize 不得恢复健康
	require.Error(t, sub.Reinitialize(ctx))
	assert.False(t, sub.Healthy())

	broken = false
	require.NoError(t, sub.Reinitialize(ctx))
	assert.True(t, sub.Healthy())
}
