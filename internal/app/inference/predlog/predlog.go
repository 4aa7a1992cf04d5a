// Package predlog implements a durable, non-blocking prediction logger:
// Predict enqueues onto a buffered channel and returns immediately; a single
// consumer goroutine drains it into the catalog, spilling to a JSON-lines
// file on disk whenever the catalog falls behind rather than dropping
// predictions.
package predlog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	core "github.com/r3e-network/fraudctl/internal/app/core/service"
	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
	"github.com/r3e-network/fraudctl/internal/app/system"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

// Writer is the catalog's append side of the prediction log.
type Writer interface {
	AppendPrediction(ctx context.Context, p prediction.Prediction) (prediction.Prediction, error)
}

var _ system.Service = (*Logger)(nil)

// Logger is the buffered, disk-spillover prediction queue.
type Logger struct {
	writer    Writer
	spillPath string
	log       *logger.Logger
	retry     core.RetryPolicy

	queue chan prediction.Prediction

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	spill   *os.File
	spillW  *bufio.Writer
}

// New builds a Logger. spillPath is the JSON-lines file predictions are
// appended to when the queue is full; it is replayed into the catalog on the
// next Start.
func New(writer Writer, spillPath string, log *logger.Logger) *Logger {
	if log == nil {
		log = logger.NewDefault("inference-predlog")
	}
	return &Logger{
		writer:    writer,
		spillPath: spillPath,
		log:       log,
		retry:     core.RetryPolicy{Attempts: 3, InitialBackoff: 50 * time.Millisecond, Multiplier: 2, MaxBackoff: 1 * time.Second},
		queue:     make(chan prediction.Prediction, 1024),
	}
}

func (l *Logger) Name() string { return "inference-prediction-log" }

// Start replays any spilled predictions from a prior run, opens the spill
// file for append, and starts the consumer goroutine.
func (l *Logger) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	if l.spillPath != "" {
		l.replaySpillLocked(ctx)
		f, err := os.OpenFile(l.spillPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		l.spill = f
		l.spillW = bufio.NewWriter(f)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				l.drainRemaining()
				return
			case p := <-l.queue:
				l.deliver(runCtx, p)
			}
		}
	}()

	l.log.Info("inference prediction logger started")
	return nil
}

func (l *Logger) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel := l.cancel
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	if l.spillW != nil {
		_ = l.spillW.Flush()
	}
	if l.spill != nil {
		_ = l.spill.Close()
	}
	l.mu.Unlock()
	return nil
}

// Enqueue is the hot-path call: it never blocks. A full queue spills the
// prediction straight to disk instead of waiting for the consumer.
func (l *Logger) Enqueue(p prediction.Prediction) {
	select {
	case l.queue <- p:
	default:
		l.spillToDisk(p)
	}
}

func (l *Logger) drainRemaining() {
	for {
		select {
		case p := <-l.queue:
			l.spillToDisk(p)
		default:
			return
		}
	}
}

func (l *Logger) deliver(ctx context.Context, p prediction.Prediction) {
	err := core.Retry(ctx, l.retry, func() error {
		_, err := l.writer.AppendPrediction(ctx, p)
		return err
	})
	if err != nil {
		l.log.WithError(err).Warn("prediction log write failed after retries, spilling to disk")
		l.spillToDisk(p)
	}
}

func (l *Logger) spillToDisk(p prediction.Prediction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spillW == nil {
		l.log.Warn("prediction dropped: no spill file configured")
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		l.log.WithError(err).Error("failed to marshal prediction for spill")
		return
	}
	if _, err := l.spillW.Write(append(raw, '\n')); err != nil {
		l.log.WithError(err).Error("failed to write prediction spill record")
		return
	}
	_ = l.spillW.Flush()
}

// replaySpillLocked reads any predictions left over from a prior run's
// spill file and attempts to deliver them, truncating the file afterward.
// Caller holds l.mu.
func (l *Logger) replaySpillLocked(ctx context.Context) {
	f, err := os.Open(l.spillPath)
	if err != nil {
		return
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var replayed int
	for scanner.Scan() {
		var p prediction.Prediction
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			continue
		}
		if _, err := l.writer.AppendPrediction(ctx, p); err != nil {
			continue
		}
		replayed++
	}
	f.Close()
	if replayed > 0 {
		l.log.WithField("count", replayed).Info("replayed spilled predictions")
	}
	_ = os.Remove(l.spillPath)
}
