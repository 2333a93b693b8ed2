package job

import (
	"context"
	"log/slog"
	"sync"

	xerrors "ContentCrew/internal/errors"
	"ContentCrew/pkg/logger"
)

// ErrQueueClosed 表示队列已关闭，不再接受新的作业。
var ErrQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "job queue closed", xerrors.WithRetryable(false))

// MemoryQueue 是进程内的带缓冲作业队列，用于单进程部署与测试。
// 关闭后 Publish 立即失败，尚未消费的作业 ID 被丢弃，作业本身仍留在存储中。
type MemoryQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 投递作业 ID，缓冲区满时阻塞直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- jobID:
		return nil
	}
}

// Consume 启动 workerCount 个协程处理作业，ctx 结束或队列关闭时返回。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case jobID := <-q.ch:
					_ = handler(ctx, jobID)
				}
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Len 返回尚未被消费的作业数量。
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close 停止消费者、拒绝后续投递并清空缓冲区。可重复调用。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	dropped := 0
	for {
		select {
		case <-q.ch:
			dropped++
		default:
			if dropped > 0 {
				logger.L().Warn("内存队列关闭时丢弃未消费的作业", slog.Int("dropped", dropped))
			}
			return nil
		}
	}
}
