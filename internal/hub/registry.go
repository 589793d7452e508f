package hub

import (
	"sync"
	"time"

	"go-msgsync/internal/metrics"

	"github.com/google/uuid"
)

// Conn 是一条已认证的下行通道。
// - 出站队列有界且保序：同一连接上观察到的消息 seq 非降
// - Push 永不阻塞分发方；队列满或连接已关闭视为该连接失效
// - Close 幂等，可安全重复调用
type Conn struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Push 将一帧编码好的事件入队；失败返回错误，由调用方决定拆除。
func (c *Conn) Push(b []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.sendCh <- b:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Outbound 由传输层的写循环消费，保证按入队顺序写出。
func (c *Conn) Outbound() <-chan []byte { return c.sendCh }

// Done 在连接被注销后关闭。
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Registry 连接注册表：用户 → 活跃连接集合（一个用户可多设备同时在线）。
// 连接生命周期归注册表独占；上下线转移通过回调通知 Presence。
// 回调在锁外触发，同一用户的并发注册/注销可能乱序送达——gen 在锁内
// 单调递增，接收方据此丢弃过期转移，终态永远以最大 gen 为准。
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]map[string]*Conn // userID -> connID -> conn
	gens    map[string]uint64           // userID -> 转移代数（只增不删）
	bufSize int

	// onTransition 在用户连接数变化时回调（devices 为变化后的数量）
	onTransition func(userID string, devices int, gen uint64)
}

func NewRegistry(bufSize int) *Registry {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Registry{
		conns:   make(map[string]map[string]*Conn),
		gens:    make(map[string]uint64),
		bufSize: bufSize,
	}
}

// SetTransitionHook 注册上下线回调（Presence 用）。须在服务启动期调用。
func (r *Registry) SetTransitionHook(fn func(userID string, devices int, gen uint64)) {
	r.onTransition = fn
}

// Register 为已验证身份创建并登记一条连接。
func (r *Registry) Register(userID string) *Conn {
	c := &Conn{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now(),
		sendCh:    make(chan []byte, r.bufSize),
		done:      make(chan struct{}),
	}
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]*Conn)
		r.conns[userID] = set
	}
	set[c.ID] = c
	devices := len(set)
	r.gens[userID]++
	gen := r.gens[userID]
	r.mu.Unlock()

	metrics.LiveConnections.Inc()
	if r.onTransition != nil {
		r.onTransition(userID, devices, gen)
	}
	return c
}

// Unregister 注销连接；重复调用安全（双关闭容忍）。
// 用户连接数降为 0 时触发 Presence 下线转移。
func (r *Registry) Unregister(c *Conn) {
	if c == nil {
		return
	}
	r.mu.Lock()
	set, ok := r.conns[c.UserID]
	if !ok {
		r.mu.Unlock()
		c.close()
		return
	}
	if _, exists := set[c.ID]; !exists {
		r.mu.Unlock()
		c.close()
		return
	}
	delete(set, c.ID)
	devices := len(set)
	if devices == 0 {
		delete(r.conns, c.UserID)
	}
	r.gens[c.UserID]++
	gen := r.gens[c.UserID]
	r.mu.Unlock()

	c.close()
	metrics.LiveConnections.Dec()
	if r.onTransition != nil {
		r.onTransition(c.UserID, devices, gen)
	}
}

// ConnectionsOf 返回用户当前的全部活跃连接快照。
func (r *Registry) ConnectionsOf(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// DeviceCount 返回用户活跃连接数。
func (r *Registry) DeviceCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}
