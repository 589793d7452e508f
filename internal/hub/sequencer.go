package hub

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go-msgsync/internal/models"
	"go-msgsync/internal/store"
)

// Sequencer 消息序列器：每个会话一个单写者锁，独占推进 next_seq。
// - 持久化在锁内同步完成（带超时上限），失败则序列不推进、原子失败，
//   不会悄悄“烧掉”序列号
// - 锁跨越的唯一 I/O 边界就是这次持久化调用；分发积压不会反压到锁上
// - 已定序消息在锁内追加到会话的待派发队列（O(1) 入队，永不阻塞），
//   由会话的派发协程按 seq 顺序执行——配合连接级保序队列，
//   任一观察者看到的同会话消息 seq 非降
type Sequencer struct {
	store          store.MessageStoreInterface
	persistTimeout time.Duration

	mu    sync.Mutex
	convs map[string]*convState

	// dispatch 由会话派发协程按序调用（Hub 接线到 Dispatcher）
	dispatch func(m *models.Message)
}

// convState 会话的单写者串行域。
// 待派发队列无上限：上界由发送速率与派发速度之差决定，
// 有界队列会把派发侧的 I/O 反压回序列锁，代价更高。
type convState struct {
	mu      sync.Mutex
	nextSeq int64
	loaded  bool

	qmu     sync.Mutex
	pending []*models.Message
	wake    chan struct{}
}

func NewSequencer(ms store.MessageStoreInterface, persistTimeout time.Duration) *Sequencer {
	if persistTimeout <= 0 {
		persistTimeout = 2 * time.Second
	}
	return &Sequencer{
		store:          ms,
		persistTimeout: persistTimeout,
		convs:          make(map[string]*convState),
	}
}

func (s *Sequencer) SetDispatchHook(fn func(m *models.Message)) {
	s.dispatch = fn
}

// convFor 取会话串行域，首次访问时启动其派发协程。
func (s *Sequencer) convFor(convID string) *convState {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.convs[convID]
	if !ok {
		cs = &convState{wake: make(chan struct{}, 1)}
		s.convs[convID] = cs
		go s.runDispatch(cs)
	}
	return cs
}

func (s *Sequencer) runDispatch(cs *convState) {
	for range cs.wake {
		for {
			cs.qmu.Lock()
			batch := cs.pending
			cs.pending = nil
			cs.qmu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, m := range batch {
				if s.dispatch != nil {
					s.dispatch(m)
				}
			}
		}
	}
}

// enqueue 在持有会话锁时调用，保证队列顺序与 seq 顺序一致。
func (cs *convState) enqueue(m *models.Message) {
	cs.qmu.Lock()
	cs.pending = append(cs.pending, m)
	cs.qmu.Unlock()
}

func (cs *convState) signal() {
	select {
	case cs.wake <- struct{}{}:
	default:
	}
}

// Submit 为消息分配会话内严格递增的 seq 并持久化。
// 返回时消息已落库且已进入按序派发队列；持久化失败时整体失败，
// 调用方重试整个发送。
func (s *Sequencer) Submit(ctx context.Context, m *models.Message) error {
	cs := s.convFor(m.ConvID)
	cs.mu.Lock()

	if !cs.loaded {
		seq, err := s.store.NextSeq(ctx, m.ConvID)
		if err != nil {
			cs.mu.Unlock()
			return fmt.Errorf("%w: load next_seq: %v", ErrPersistence, err)
		}
		cs.nextSeq = seq
		cs.loaded = true
	}

	m.Seq = cs.nextSeq + 1
	pctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	err := s.store.Append(pctx, m)
	cancel()
	if err != nil {
		// 序列未推进：下一次 Submit 仍分配同一个 seq
		cs.mu.Unlock()
		log.Printf("Seq.Submit persist error: conv=%s seq=%d err=%v", m.ConvID, m.Seq, err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	cs.nextSeq = m.Seq
	cs.enqueue(m)
	cs.mu.Unlock()
	cs.signal()
	return nil
}

// LastSeq 返回会话当前已分配的序列水位（未装载时为 0）。
func (s *Sequencer) LastSeq(convID string) int64 {
	s.mu.Lock()
	cs, ok := s.convs[convID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.nextSeq
}
