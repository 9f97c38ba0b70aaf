package dht

import (
	"context"
	"net/netip"
	"sync"

	"github.com/dep2p/go-kdht/internal/dht/item"
	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/pkg/types"
)

// JobState 作业状态
type JobState int32

const (
	// JobQuerying 等待下一次脉冲发送请求
	JobQuerying JobState = iota
	// JobResponding 请求已发送，等待应答
	JobResponding
	// JobExpiring 事务超时，等待消耗一次尝试
	JobExpiring
	// JobCompleting 已有结果，等待脉冲调用完成回调
	JobCompleting
)

// String 返回状态名
func (s JobState) String() string {
	switch s {
	case JobQuerying:
		return "querying"
	case JobResponding:
		return "responding"
	case JobExpiring:
		return "expiring"
	case JobCompleting:
		return "completing"
	default:
		return "unknown"
	}
}

// JobResult 作业结果
type JobResult int32

const (
	// ResultPending 尚未完成
	ResultPending JobResult = iota
	// ResultSuccess 收到应答
	ResultSuccess
	// ResultError 收到错误回复或本地失败，错误码见 Err()
	ResultError
	// ResultExpired 尝试次数耗尽
	ResultExpired
)

// String 返回结果名
func (r JobResult) String() string {
	switch r {
	case ResultPending:
		return "pending"
	case ResultSuccess:
		return "success"
	case ResultError:
		return "error"
	case ResultExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// JobCallback 作业完成回调，每个作业恰好调用一次
type JobCallback func(j *Job)

// JobOption 作业选项
type JobOption func(*Job)

// WithAttempts 设置尝试次数
func WithAttempts(n int) JobOption {
	return func(j *Job) {
		if n > 0 {
			j.attempts = n
		}
	}
}

// WithRelease 注册作业完成后执行的释放函数
func WithRelease(fn func()) JobOption {
	return func(j *Job) {
		if fn != nil {
			j.releases = append(j.releases, fn)
		}
	}
}

// Job 单个请求的状态机
type Job struct {
	Method string
	Addr   netip.AddrPort
	Target types.ID

	d        *DHT
	mu       sync.Mutex
	state    JobState
	attempts int
	txid     uint32

	query    func(j *Job) (uint32, error)
	handle   func(j *Job, msg *protocol.Message) error
	callback JobCallback
	releases []func()
	once     sync.Once
	done     chan struct{}

	result   JobResult
	err      error
	response *protocol.Message

	// 应答负载，完成后只读

	// Nodes find_node / get 返回的节点（两个地址族合并）
	Nodes []protocol.NodeInfo
	// Token get 返回的写入 token
	Token []byte
	// Item get 返回且校验通过的条目
	Item *item.Item
	// Seq / HasSeq get 返回的可变条目序号（值可能被省略）
	Seq    int64
	HasSeq bool
}

func (d *DHT) newJob(method string, addr netip.AddrPort, target types.ID, cb JobCallback, opts []JobOption) *Job {
	j := &Job{
		Method:   method,
		Addr:     netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()),
		Target:   target,
		d:        d,
		attempts: d.cfg.QueryAttempts,
		callback: cb,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// addJob 加入作业列表，下一次脉冲发送请求
func (d *DHT) addJob(j *Job) *Job {
	if d.closed.Load() {
		j.complete(ResultError, ErrClosed)
		j.finish()
		return j
	}
	d.jobsMu.Lock()
	d.jobs = append(d.jobs, j)
	d.jobsMu.Unlock()
	return j
}

// ============================================================================
//                              状态机
// ============================================================================

// step 推进作业，返回作业是否已完成
func (j *Job) step() bool {
	j.mu.Lock()
	if j.state == JobExpiring {
		j.attempts--
		if j.attempts <= 0 {
			j.result = ResultExpired
			j.err = ErrExpired
			j.state = JobCompleting
			j.mu.Unlock()
			return true
		}
		j.state = JobQuerying
	}
	if j.state != JobQuerying {
		done := j.state == JobCompleting
		j.mu.Unlock()
		return done
	}
	j.state = JobResponding
	j.mu.Unlock()

	id, err := j.query(j)

	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		if j.state == JobResponding {
			j.result = ResultError
			j.err = protocol.NewError(protocol.CodeServer, "send %s: %v", j.Method, err)
			j.state = JobCompleting
		}
	} else {
		j.txid = id
	}
	return j.state == JobCompleting
}

// expire 事务超时
func (j *Job) expire(txid uint32) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobResponding && j.txid == txid {
		j.state = JobExpiring
	}
}

// respond 处理应答或错误回复
func (j *Job) respond(msg *protocol.Message) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != JobResponding {
		return
	}
	j.response = msg
	switch msg.Type {
	case protocol.TypeError:
		j.result = ResultError
		if msg.Error != nil {
			j.err = msg.Error
		} else {
			j.err = protocol.NewError(protocol.CodeProtocol, "malformed error reply")
		}
	default:
		j.result = ResultSuccess
		if j.handle != nil {
			if err := j.handle(j, msg); err != nil {
				j.result = ResultError
				j.err = err
			}
		}
	}
	j.state = JobCompleting
}

// complete 直接给出结果
func (j *Job) complete(result JobResult, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobCompleting {
		return
	}
	j.result = result
	j.err = err
	j.state = JobCompleting
}

// finish 调用回调并释放引用，仅执行一次
func (j *Job) finish() {
	j.once.Do(func() {
		j.mu.Lock()
		if j.result == ResultPending {
			j.result = ResultExpired
			j.err = ErrExpired
		}
		result := j.result
		j.mu.Unlock()

		j.d.metrics.JobFinished(j.Method, result.String())
		if j.callback != nil {
			j.runCallback()
		}
		for _, release := range j.releases {
			release()
		}
		close(j.done)
	})
}

func (j *Job) runCallback() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("作业回调 panic", "method", j.Method, "panic", r)
		}
	}()
	j.callback(j)
}

// processJobs 推进所有作业，已完成的作业在锁外调用回调
func (d *DHT) processJobs() int {
	d.jobsMu.Lock()
	jobs := append([]*Job(nil), d.jobs...)
	d.jobsMu.Unlock()

	for _, j := range jobs {
		j.step()
	}

	var completed []*Job
	d.jobsMu.Lock()
	live := d.jobs[:0]
	for _, j := range d.jobs {
		if j.State() == JobCompleting {
			completed = append(completed, j)
		} else {
			live = append(live, j)
		}
	}
	for i := len(live); i < len(d.jobs); i++ {
		d.jobs[i] = nil
	}
	d.jobs = live
	d.jobsMu.Unlock()

	for _, j := range completed {
		j.finish()
	}
	return len(completed)
}

// ============================================================================
//                              访问器
// ============================================================================

// State 当前状态
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Result 作业结果
func (j *Job) Result() JobResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Err 失败原因；远端错误回复为 *protocol.Error
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Response 收到的应答或错误回复
func (j *Job) Response() *protocol.Message {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.response
}

// Attempts 剩余尝试次数
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// Done 作业完成（回调已返回）后关闭
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait 等待作业完成，成功返回 nil
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
