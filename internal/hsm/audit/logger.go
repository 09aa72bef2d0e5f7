package audit

import (
	"context"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize  = 1024
	deliveryRetries   = 3
	deliveryRetryWait = 50 * time.Millisecond
	drainTimeout      = 5 * time.Second
)

// Logger 审计日志接口
type Logger interface {
	LogEvent(ctx context.Context, event *AuditEvent) error
	Close() error
}

// logger 异步审计日志实现
// 事件写入有界队列后立即返回，后台 worker 负责投递到审计接收端，
// 投递失败本地记录并重试，绝不阻塞或失败主操作
type logger struct {
	sink   storage.MetadataStore
	clock  time2.Clock
	onDrop func()
	queue  chan *storage.AuditEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewLogger 创建新的异步审计日志
// onDrop 在事件因队列满被丢弃时调用，可为 nil
//
//nolint:ireturn // returning interface is intentional for abstraction
func NewLogger(sink storage.MetadataStore, clock time2.Clock, onDrop func()) Logger {
	l := &logger{
		sink:   sink,
		clock:  clock,
		onDrop: onDrop,
		queue:  make(chan *storage.AuditEvent, defaultQueueSize),
		done:   make(chan struct{}),
	}

	go l.deliver()

	return l
}

// LogEvent 记录审计事件（非阻塞）
func (l *logger) LogEvent(_ context.Context, event *AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now()
	}

	storageEvent := &storage.AuditEvent{
		Timestamp:           event.Timestamp,
		EventType:           event.EventType,
		PrincipalID:         event.PrincipalID,
		Resource:            event.Resource,
		Action:              event.Action,
		Outcome:             string(event.Outcome),
		RiskLevel:           string(event.RiskLevel),
		ComplianceFramework: event.ComplianceFramework,
		IPAddress:           event.IPAddress,
		AdditionalData:      event.AdditionalData,
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	// 关闭后到达的事件只做本地记录，不得向已关闭的队列写入
	if l.closed {
		log.Warn().
			Str("event_type", event.EventType).
			Str("action", event.Action).
			Msg("Audit logger closed, event logged locally only")
		return nil
	}

	select {
	case l.queue <- storageEvent:
	default:
		// 队列已满：本地记录后丢弃，审计不可用绝不拖垮密码学操作
		log.Warn().
			Str("event_type", event.EventType).
			Str("action", event.Action).
			Msg("Audit queue full, event logged locally only")
		if l.onDrop != nil {
			l.onDrop()
		}
	}

	return nil
}

// Close 停止接收新事件并等待队列排空，可重复调用
func (l *logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	select {
	case <-l.done:
	case <-time.After(drainTimeout):
		log.Warn().Msg("Audit logger close timed out before queue drained")
	}

	return nil
}

func (l *logger) deliver() {
	defer close(l.done)

	for event := range l.queue {
		var err error
		for attempt := 0; attempt < deliveryRetries; attempt++ {
			if err = l.sink.SaveAuditLog(context.Background(), event); err == nil {
				break
			}
			time.Sleep(deliveryRetryWait)
		}
		if err != nil {
			log.Error().Err(err).
				Str("event_type", event.EventType).
				Str("action", event.Action).
				Str("outcome", event.Outcome).
				Msg("Failed to deliver audit event to sink, event logged locally only")
		}
	}
}
