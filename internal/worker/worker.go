// Package worker runs triage actions asynchronously. Actions for the same
// chat are routed to the same worker so a conversation's events are
// processed in arrival order. The queue is in-memory; undelivered actions
// are lost on restart and replayed by the channel's at-least-once delivery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/parley/internal/chat"
	"github.com/linnemanlabs/parley/internal/triage"
)

// Action is one unit of asynchronous work.
type Action interface {
	// ChatKey returns the routing key; actions with the same key are
	// serialized.
	ChatKey() string
}

// ProcessInbound runs one inbound event through the triage pipeline.
type ProcessInbound struct {
	Event *triage.Event
}

func (a ProcessInbound) ChatKey() string { return a.Event.ChatID }

// SendResponse delivers a response that an operator approved.
type SendResponse struct {
	ResponseID string
	ChatID     string
}

func (a SendResponse) ChatKey() string { return a.ChatID }

// ErrQueueFull is reported when a worker's queue cannot take more work.
var ErrQueueFull = errors.New("worker queue full")

// Options tune the pool. Zero values fall back to defaults.
type Options struct {
	Workers      int
	QueueSize    int
	ErrorBackoff time.Duration
}

const (
	defaultWorkers      = 4
	defaultQueueSize    = 256
	defaultErrorBackoff = 5 * time.Second
)

// Metrics holds Prometheus metrics for the worker pool. May be nil.
type Metrics struct {
	QueueDepth   prometheus.Gauge
	ActionsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns worker metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_worker_queue_depth",
			Help: "Actions waiting across all worker queues.",
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_worker_actions_total",
			Help: "Total actions processed by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(m.QueueDepth, m.ActionsTotal)
	return m
}

func (m *Metrics) recordAction(kind, result string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) addDepth(d float64) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(d)
}

// Pool fans actions out to a fixed set of workers, hashing the chat key so
// one conversation never runs on two workers at once.
type Pool struct {
	svc     *triage.Service
	logger  log.Logger
	metrics *Metrics
	opts    Options

	queues []chan Action
	wg     sync.WaitGroup
}

// NewPool creates a worker pool over the triage service. metrics may be nil.
func NewPool(svc *triage.Service, logger log.Logger, metrics *Metrics, opts Options) *Pool {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = defaultErrorBackoff
	}

	queues := make([]chan Action, opts.Workers)
	for i := range queues {
		queues[i] = make(chan Action, opts.QueueSize)
	}
	return &Pool{
		svc:     svc,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		queues:  queues,
	}
}

// Enqueue routes an action to its worker. Reports ErrQueueFull instead of
// blocking so the webhook handler can shed load.
func (p *Pool) Enqueue(a Action) error {
	q := p.queues[p.route(a.ChatKey())]
	select {
	case q <- a:
		p.metrics.addDepth(1)
		return nil
	default:
		return fmt.Errorf("%w: chat %q", ErrQueueFull, a.ChatKey())
	}
}

// Run starts the workers and blocks until ctx is canceled and every queue
// has drained.
func (p *Pool) Run(ctx context.Context) {
	for i := range p.queues {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, n int) {
	defer p.wg.Done()
	q := p.queues[n]
	for {
		select {
		case a := <-q:
			p.metrics.addDepth(-1)
			p.handle(ctx, a)
		case <-ctx.Done():
			// drain what is already queued, then exit
			for {
				select {
				case a := <-q:
					p.metrics.addDepth(-1)
					p.handle(context.WithoutCancel(ctx), a)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) handle(ctx context.Context, a Action) {
	var err error
	var kind string
	switch act := a.(type) {
	case ProcessInbound:
		kind = "process_inbound"
		_, err = p.svc.Process(ctx, act.Event)
	case SendResponse:
		kind = "send_response"
		_, err = p.svc.SendResponse(ctx, act.ResponseID)
	default:
		p.logger.Warn(ctx, "unknown action dropped", "type", fmt.Sprintf("%T", a))
		return
	}

	if err != nil {
		p.metrics.recordAction(kind, "error")
		p.logger.Error(ctx, err, "action failed", "kind", kind, "chat_key", a.ChatKey())
		// Upstream trouble tends to persist; slow down rather than hammer.
		if errors.Is(err, chat.ErrUpstream) {
			select {
			case <-time.After(p.opts.ErrorBackoff):
			case <-ctx.Done():
			}
		}
		return
	}
	p.metrics.recordAction(kind, "success")
}

func (p *Pool) route(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck
	return int(h.Sum32() % uint32(len(p.queues)))
}
