package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DouglasDev222/ServerZap/internal/persistence"
)

const (
	defaultWorkerCount  = 4
	defaultPollInterval = 250 * time.Millisecond
	defaultSendTimeout  = 30 * time.Second
	notReadyReason      = "session not ready"
)

var ErrRecipientRequired = errors.New("recipient is required")
var ErrBodyRequired = errors.New("body is required")

// Session is the slice of the session controller the workers consume:
// readiness reads plus the send primitive of the current client.
type Session interface {
	IsReady() bool
	Send(ctx context.Context, address string, body string) (string, error)
}

type PoolOptions struct {
	Workers      int
	PollInterval time.Duration
	SendTimeout  time.Duration
	Policy       persistence.Policy
}

// Pool drains the dispatch queue with N concurrent workers. Jobs to distinct
// recipients interleave freely; no ordering is guaranteed.
type Pool struct {
	queue        *persistence.Queue
	session      Session
	workers      int
	pollInterval time.Duration
	sendTimeout  time.Duration
	policy       persistence.Policy
	log          zerolog.Logger
	nowFn        func() time.Time

	wg sync.WaitGroup
}

func NewPool(queue *persistence.Queue, session Session, opts PoolOptions, log zerolog.Logger) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Pool{
		queue:        queue,
		session:      session,
		workers:      workers,
		pollInterval: pollInterval,
		sendTimeout:  sendTimeout,
		policy:       opts.Policy,
		log:          log.With().Str("component", "dispatch").Logger(),
		nowFn:        time.Now,
	}
}

// Submit validates and enqueues a send request, returning the job ID
// immediately. Delivery happens asynchronously.
func (p *Pool) Submit(ctx context.Context, recipient string, body string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", ErrRecipientRequired
	}
	if strings.TrimSpace(body) == "" {
		return "", ErrBodyRequired
	}
	return p.queue.Enqueue(ctx, recipient, body, p.policy, p.nowFn())
}

// Run starts the workers and blocks until ctx is canceled and all workers
// have drained their in-flight job.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for {
		if ctx.Err() != nil {
			return
		}
		job, ok, err := p.queue.Lease(ctx, p.nowFn())
		if err != nil {
			log.Error().Err(err).Msg("lease failed")
			ok = false
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}
		p.process(ctx, log, job)
	}
}

func (p *Pool) process(ctx context.Context, log zerolog.Logger, job *persistence.Job) {
	attempt := job.Attempt + 1
	log = log.With().Str("job_id", job.ID).Int("attempt", attempt).Logger()

	// A session that is not ready will not become ready by retrying inside
	// this attempt window; the job is abandoned instead of recycled through
	// the backoff schedule.
	if !p.session.IsReady() {
		if err := p.queue.FailTerminal(ctx, job, notReadyReason, p.nowFn()); err != nil {
			log.Error().Err(err).Msg("failed to record not-ready attempt")
			return
		}
		log.Warn().Msg("job abandoned: session not ready")
		return
	}

	address := TransportAddress(job.Recipient)
	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	messageID, sendErr := p.session.Send(sendCtx, address, job.Body)
	cancel()

	if sendErr != nil {
		requeued, err := p.queue.Retry(ctx, job, sendErr, p.nowFn())
		if err != nil {
			log.Error().Err(err).Msg("failed to record send failure")
			return
		}
		if requeued {
			log.Warn().Err(sendErr).Msg("send failed, job re-queued with backoff")
		} else {
			log.Error().Err(sendErr).Msg("send failed, attempts exhausted, job dead-lettered")
		}
		return
	}

	if err := p.queue.Complete(ctx, job, messageID, p.nowFn()); err != nil {
		log.Error().Err(err).Msg("failed to record delivery")
		return
	}
	log.Info().Str("message_id", messageID).Msg("message delivered")
}
