package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/credits-gateway/internal/config"
	"github.com/nimasrn/credits-gateway/internal/queue"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/redis"
	"github.com/nimasrn/credits-gateway/pkg/worker"
	"github.com/robfig/cron/v3"
)

const ProcessingTimeout = time.Second * 10
const ShutdownTimeout = time.Minute

// Processor handles one queue message. Returning an error leaves the message pending for redelivery.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

// Reporter runs on the report schedule.
type Reporter interface {
	Report(ctx context.Context)
}

type Options struct {
	Queue      queue.QueueConfig
	Consumers  int
	Workers    int
	ReportSpec string
}

// OptionsFromConfig builds the reconciler options from the loaded config.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Queue: queue.QueueConfig{
			Name:              c.ReconcileStream,
			ConsumerGroup:     c.ReconcileGroup,
			ConsumerName:      c.ReconcileConsumer,
			MaxRetries:        int64(c.ReconcileMaxRetries),
			VisibilityTimeout: c.ReconcileVisibilityTimeout,
			PollInterval:      c.ReconcilePollInterval,
			BatchSize:         10,
			EnableDLQ:         true,
		},
		Consumers:  1,
		Workers:    c.ReconcileWorkers,
		ReportSpec: c.ReconcileReportSpec,
	}
}

// ProcessorService consumes the reconciliation stream through a worker pool and runs the periodic report.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	options   Options
	queues    []*queue.Queue
	processor Processor
	reporter  Reporter
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	cron      *cron.Cron
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewProcessorService(adapter redis.RedisAdapter, options Options, processor Processor, reporter Reporter) *ProcessorService {
	if options.Consumers <= 0 {
		options.Consumers = 1
	}
	if options.Workers <= 0 {
		options.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter:   adapter,
		options:   options,
		processor: processor,
		reporter:  reporter,
		metrics:   NewServiceMetrics(),
		worker:    worker.NewWorkerManager(options.Workers*10, options.Workers, nil),
		cron:      cron.New(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches workers, consumers and the report job. It returns once everything runs.
func (s *ProcessorService) Start() error {
	logger.Info("starting reconciler", "type", s.processor.GetType(), "stream", s.options.Queue.Name)

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker.Start()
	}()

	for i := 0; i < s.options.Consumers; i++ {
		qc := s.options.Queue
		qc.ConsumerName = fmt.Sprintf("%s-%d", qc.ConsumerName, i)

		q, err := queue.NewQueue(s.ctx, s.adapter, qc)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	if s.reporter != nil && s.options.ReportSpec != "" {
		_, err := s.cron.AddFunc(s.options.ReportSpec, func() {
			ctx, cancel := context.WithTimeout(s.ctx, ProcessingTimeout)
			defer cancel()
			s.reporter.Report(ctx)
			s.logStats()
		})
		if err != nil {
			return fmt.Errorf("invalid report spec %q: %w", s.options.ReportSpec, err)
		}
		s.cron.Start()
	}

	logger.Info("reconciler started", "consumers", len(s.queues), "workers", s.options.Workers)
	return nil
}

func (s *ProcessorService) logStats() {
	stats := s.metrics.Snapshot()
	logger.Info("reconciler stats",
		"processed", stats.Processed,
		"failed", stats.Failed,
		"avg_duration_ms", stats.AvgDuration.Milliseconds(),
		"uptime", stats.Uptime.String(),
	)

	for _, q := range s.queues {
		if qs, err := q.GetStats(s.ctx); err == nil {
			logger.Info("queue stats", "queue", q.Name(), "total", qs.TotalMessages, "pending", qs.PendingMessages, "dead_letters", qs.DeadLetters)
		}
	}
}

// Stop drains the consumers, the worker pool and the scheduler.
func (s *ProcessorService) Stop() {
	logger.Info("shutting down reconciler...")

	cronDone := s.cron.Stop()

	var qwg sync.WaitGroup
	for _, q := range s.queues {
		qwg.Add(1)
		go func(q *queue.Queue) {
			defer qwg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping queue", "queue", q.Name(), "error", err)
			}
		}(q)
	}
	qwg.Wait()

	s.cancel()
	s.worker.Exit()
	s.wg.Wait()
	<-cronDone.Done()

	s.logStats()
	logger.Info("reconciler stopped")
}

// Metrics exposes the in-process counters.
func (s *ProcessorService) Metrics() *ServiceMetrics {
	return s.metrics
}

type job struct {
	msg    *queue.Message
	result chan error
	ctx    context.Context
}

// messageHandler hands the message to the pool and waits for the verdict.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	jctx, cancel := context.WithTimeout(ctx, ProcessingTimeout)
	defer cancel()

	j := &job{msg: msg, result: make(chan error, 1), ctx: jctx}
	if !s.worker.Enqueue(j) {
		return fmt.Errorf("worker pool stopped")
	}

	select {
	case err := <-j.result:
		return err
	case <-jctx.Done():
		return fmt.Errorf("timeout waiting for worker: %w", jctx.Err())
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, payload interface{}) {
	j, ok := payload.(*job)
	if !ok {
		logger.Error("invalid job type", "worker", workerIndex)
		return
	}
	if j.ctx.Err() != nil {
		logger.Warn("job expired before processing", "worker", workerIndex, "message_id", j.msg.ID)
		return
	}

	start := time.Now()
	err := s.processor.Process(j.ctx, j.msg)
	if err != nil {
		s.metrics.RecordFailure()
		logger.Error("failed to process message", "worker", workerIndex, "message_id", j.msg.ID, "attempts", j.msg.Attempts, "error", err)
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}

	// result is buffered, the waiter may already have given up
	j.result <- err
}
