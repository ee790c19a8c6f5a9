package services

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"go.uber.org/zap"
)

// PoolConfig describes the fixed worker set created at startup.
type PoolConfig struct {
	Size                int // 0 = host core count
	RtcMinPort          uint16
	RtcMaxPort          uint16
	ListenIP            string
	AnnouncedIP         string
	FatalGrace          time.Duration
	HealthCheckInterval time.Duration
}

// WorkerPool owns the fixed set of media-engine workers and assigns them to
// new rooms in strict round-robin order. A worker that reports a terminal
// failure is NOT removed from rotation: the process logs the failure and
// exits after a short grace delay, relying on the external supervisor to
// restart it. A dead worker leaves every room assigned to it in an
// unrecoverable half state, so fail-fast is the only sound policy here.
type WorkerPool struct {
	workers []ports.Worker

	mu   sync.Mutex
	next int

	fatalGrace time.Duration
	fatal      func(workerID string, err error)

	stop     chan struct{}
	stopOnce sync.Once

	logger *zap.SugaredLogger
}

// NewWorkerPool creates cfg.Size workers up front, slicing the configured RTC
// port range evenly between them so no two workers contend for ports.
func NewWorkerPool(ctx context.Context, engine ports.MediaEngine, cfg PoolConfig, logger *zap.SugaredLogger) (*WorkerPool, error) {
	size := cfg.Size
	if size <= 0 {
		size = runtime.NumCPU()
	}

	span := int(cfg.RtcMaxPort-cfg.RtcMinPort+1) / size
	if span < 1 {
		return nil, fmt.Errorf("rtc port range %d-%d too small for %d workers", cfg.RtcMinPort, cfg.RtcMaxPort, size)
	}

	p := &WorkerPool{
		workers:    make([]ports.Worker, 0, size),
		fatalGrace: cfg.FatalGrace,
		stop:       make(chan struct{}),
		logger:     logger,
	}
	p.fatal = p.exitProcess

	for i := 0; i < size; i++ {
		minPort := cfg.RtcMinPort + uint16(i*span)
		maxPort := minPort + uint16(span) - 1
		if i == size-1 {
			maxPort = cfg.RtcMaxPort
		}

		w, err := engine.CreateWorker(ctx, ports.WorkerConfig{
			Index:       i,
			RtcMinPort:  minPort,
			RtcMaxPort:  maxPort,
			ListenIP:    cfg.ListenIP,
			AnnouncedIP: cfg.AnnouncedIP,
		})
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("create worker %d: %w", i, err)
		}

		p.workers = append(p.workers, w)
		go p.watchWorker(w)

		logger.Infow("media worker started", "worker_id", w.ID(), "rtc_min_port", minPort, "rtc_max_port", maxPort)
	}

	if cfg.HealthCheckInterval > 0 {
		go p.healthLoop(cfg.HealthCheckInterval)
	}

	return p, nil
}

// Acquire returns the next worker in round-robin order. The cursor is shared
// across all callers, so distribution stays even regardless of room lifetime
// skew.
func (p *WorkerPool) Acquire() (ports.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) == 0 {
		return nil, fmt.Errorf("worker pool is empty")
	}

	w := p.workers[p.next]
	p.next++
	if p.next == len(p.workers) {
		p.next = 0
	}
	return w, nil
}

// Size returns the fixed pool size.
func (p *WorkerPool) Size() int {
	return len(p.workers)
}

// SetFatalHandler replaces the process-exit reaction to a worker death.
// Intended for tests and for supervisors that forbid in-process exits.
func (p *WorkerPool) SetFatalHandler(fn func(workerID string, err error)) {
	p.mu.Lock()
	p.fatal = fn
	p.mu.Unlock()
}

// Close stops monitoring and closes every worker.
func (p *WorkerPool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	for _, w := range p.workers {
		if err := w.Close(); err != nil {
			p.logger.Warnw("worker close failed", "worker_id", w.ID(), "error", err)
		}
	}
}

func (p *WorkerPool) watchWorker(w ports.Worker) {
	select {
	case err, ok := <-w.Died():
		if !ok {
			return
		}
		if err == nil {
			err = domain.ErrWorkerFatal
		} else {
			err = fmt.Errorf("%w: %w", domain.ErrWorkerFatal, err)
		}
		p.mu.Lock()
		fatal := p.fatal
		p.mu.Unlock()
		fatal(w.ID(), err)
	case <-p.stop:
	}
}

func (p *WorkerPool) exitProcess(workerID string, err error) {
	p.logger.Errorw("media worker died, exiting shortly",
		"worker_id", workerID,
		"grace", p.fatalGrace,
		"error", err,
	)
	time.AfterFunc(p.fatalGrace, func() { os.Exit(1) })
}

func (p *WorkerPool) healthLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			next := p.next
			p.mu.Unlock()
			p.logger.Infow("worker pool health", "workers", len(p.workers), "next_cursor", next)
		case <-p.stop:
			return
		}
	}
}
