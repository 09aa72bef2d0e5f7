package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/hsm/audit"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAuditSink 用于测试的 mock 审计接收端
type mockAuditSink struct {
	storage.MetadataStore

	mu       sync.Mutex
	events   []*storage.AuditEvent
	failures int
}

func (m *mockAuditSink) SaveAuditLog(_ context.Context, event *storage.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return errors.New("sink unavailable")
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockAuditSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestLogger_LogEventAsync(t *testing.T) {
	ctx := context.Background()
	sink := &mockAuditSink{}
	logger := audit.NewLogger(sink, time2.DefaultClock, nil)
	defer logger.Close()

	err := logger.LogEvent(ctx, &audit.AuditEvent{
		EventType:   audit.EventTypeCryptoOperation,
		PrincipalID: "user-1",
		Resource:    "key-1",
		Action:      "encrypt",
		Outcome:     audit.OutcomeSuccess,
		RiskLevel:   audit.RiskLevelLow,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "encrypt", sink.events[0].Action)
	assert.Equal(t, "success", sink.events[0].Outcome)
	assert.False(t, sink.events[0].Timestamp.IsZero())
}

func TestLogger_RetriesOnSinkFailure(t *testing.T) {
	ctx := context.Background()
	sink := &mockAuditSink{failures: 2}
	logger := audit.NewLogger(sink, time2.DefaultClock, nil)
	defer logger.Close()

	err := logger.LogEvent(ctx, &audit.AuditEvent{
		EventType: audit.EventTypeSession,
		Action:    "authenticate",
		Outcome:   audit.OutcomeFailure,
		RiskLevel: audit.RiskLevelMedium,
	})
	require.NoError(t, err)

	// 前两次投递失败后第三次成功
	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLogger_CloseDrainsQueue(t *testing.T) {
	ctx := context.Background()
	sink := &mockAuditSink{}
	logger := audit.NewLogger(sink, time2.DefaultClock, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, logger.LogEvent(ctx, &audit.AuditEvent{
			EventType: audit.EventTypeKeyLifecycle,
			Action:    "generate",
			Outcome:   audit.OutcomeSuccess,
			RiskLevel: audit.RiskLevelLow,
		}))
	}

	require.NoError(t, logger.Close())
	assert.Equal(t, 10, sink.count())
}

// 关闭后到达的事件不得触碰已关闭的队列
func TestLogger_LogEventAfterClose(t *testing.T) {
	ctx := context.Background()
	sink := &mockAuditSink{}
	logger := audit.NewLogger(sink, time2.DefaultClock, nil)

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	require.NotPanics(t, func() {
		require.NoError(t, logger.LogEvent(ctx, &audit.AuditEvent{
			EventType: audit.EventTypeSession,
			Action:    "revoke_session",
			Outcome:   audit.OutcomeSuccess,
			RiskLevel: audit.RiskLevelLow,
		}))
	})
	assert.Equal(t, 0, sink.count())
}

// blockingAuditSink 阻塞投递直到放行，用于填满队列
type blockingAuditSink struct {
	storage.MetadataStore

	release chan struct{}
}

func (b *blockingAuditSink) SaveAuditLog(_ context.Context, _ *storage.AuditEvent) error {
	<-b.release
	return nil
}

func TestLogger_CountsDroppedEvents(t *testing.T) {
	ctx := context.Background()
	sink := &blockingAuditSink{release: make(chan struct{})}

	var mu sync.Mutex
	dropped := 0
	logger := audit.NewLogger(sink, time2.DefaultClock, func() {
		mu.Lock()
		dropped++
		mu.Unlock()
	})

	// 队列容量 1024，外加 worker 手里至多一条在投递
	for i := 0; i < 1030; i++ {
		require.NoError(t, logger.LogEvent(ctx, &audit.AuditEvent{
			EventType: audit.EventTypeCryptoOperation,
			Action:    "encrypt",
			Outcome:   audit.OutcomeSuccess,
			RiskLevel: audit.RiskLevelLow,
		}))
	}

	mu.Lock()
	assert.Greater(t, dropped, 0)
	mu.Unlock()

	close(sink.release)
	require.NoError(t, logger.Close())
}
