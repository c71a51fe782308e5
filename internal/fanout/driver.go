// Package fanout runs independent connect-and-copy replicas concurrently.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/STRATINT/streamdump/internal/models"
	"github.com/STRATINT/streamdump/internal/stream"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Policy decides what a replica failure does to the rest of the run.
type Policy int

const (
	// CollectAll lets every replica run to completion and reports all
	// failures together.
	CollectAll Policy = iota
	// FailFast cancels the remaining replicas after the first failure.
	FailFast
)

// ParsePolicy maps "collect" and "fail-fast" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "collect", "":
		return CollectAll, nil
	case "fail-fast":
		return FailFast, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", s)
	}
}

func (p Policy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "collect"
}

// Stages at which a replica can fail.
const (
	StageSink    = "sink"
	StageConnect = "connect"
	StageCopy    = "copy"
)

// OutputName returns the output name for replica i.
func OutputName(i int) string {
	return fmt.Sprintf("stream_%d.dat", i)
}

// Connector opens a live stream.
type Connector interface {
	Connect(ctx context.Context) (*stream.Stream, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (*stream.Stream, error)

// Connect calls f(ctx).
func (f ConnectorFunc) Connect(ctx context.Context) (*stream.Stream, error) { return f(ctx) }

// Sink opens the output for a replica.
type Sink interface {
	Open(ctx context.Context, name string) (io.WriteCloser, error)
	Location(name string) string
}

type replicaKey struct{}

// ReplicaFromContext returns the index of the replica a Connect call belongs
// to.
func ReplicaFromContext(ctx context.Context) (int, bool) {
	i, ok := ctx.Value(replicaKey{}).(int)
	return i, ok
}

// Recorder stores replica outcomes.
type Recorder interface {
	Record(ctx context.Context, run models.ReplicaRun) error
}

// Observer receives replica lifecycle events. All methods must be safe for
// concurrent use.
type Observer interface {
	ReplicaStarted(replica int)
	Connected(replica, status int)
	Copied(replica, n int)
	ReplicaFinished(replica int, outcome string, elapsed time.Duration)
}

// CopyCounter adapts a per-replica byte counter to Observer.
type CopyCounter func(replica, n int)

// ReplicaStarted is a no-op.
func (f CopyCounter) ReplicaStarted(int) {}

// Connected is a no-op.
func (f CopyCounter) Connected(int, int) {}

// Copied calls f(replica, n).
func (f CopyCounter) Copied(replica, n int) {
	f(replica, n)
}

// ReplicaFinished is a no-op.
func (f CopyCounter) ReplicaFinished(int, string, time.Duration) {}

// ReplicaError is the failure of a single replica.
type ReplicaError struct {
	Index int
	Stage string
	Err   error
}

func (e *ReplicaError) Error() string {
	return fmt.Sprintf("replica %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *ReplicaError) Unwrap() error { return e.Err }

// Result is the outcome of one replica.
type Result struct {
	Index   int
	Output  string
	Bytes   int64
	Status  models.RunStatus
	Err     error
	Started time.Time
	Elapsed time.Duration
}

// Report summarises a run.
type Report struct {
	RunID   string
	Results []Result
}

// Failed returns the results that did not complete.
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Options configures a Driver.
type Options struct {
	Endpoint    string
	Policy      Policy
	BufferSize  int
	ConnectRate float64
	Recorder    Recorder
	Observers   []Observer
	Logger      *slog.Logger
}

// Driver launches replicas and waits for all of them.
type Driver struct {
	connector Connector
	sink      Sink
	opts      Options
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewDriver creates a driver. A zero ConnectRate means connections are not
// rate limited.
func NewDriver(connector Connector, sink Sink, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.ConnectRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ConnectRate), 1)
	}

	return &Driver{
		connector: connector,
		sink:      sink,
		opts:      opts,
		limiter:   limiter,
		logger:    logger,
	}
}

// Run starts n replicas, numbered 0..n-1, and blocks until all have
// finished. The returned error joins every replica failure; the Report holds
// one Result per replica in index order regardless of policy.
func (d *Driver) Run(ctx context.Context, n int) (Report, error) {
	if n <= 0 {
		return Report{}, fmt.Errorf("replica count must be positive, got %d", n)
	}

	report := Report{
		RunID:   uuid.New().String(),
		Results: make([]Result, n),
	}

	d.logger.Info("starting replicas",
		"run_id", report.RunID,
		"replicas", n,
		"policy", d.opts.Policy.String(),
		"endpoint", d.opts.Endpoint)

	switch d.opts.Policy {
	case FailFast:
		d.runFailFast(ctx, report)
	default:
		d.runCollect(ctx, report)
	}

	var errs []error
	for _, res := range report.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}

	d.logger.Info("replicas finished",
		"run_id", report.RunID,
		"replicas", n,
		"failed", len(errs))

	return report, errors.Join(errs...)
}

func (d *Driver) runCollect(ctx context.Context, report Report) {
	var wg sync.WaitGroup
	for i := range report.Results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report.Results[i] = d.runReplica(ctx, report.RunID, i)
		}(i)
	}
	wg.Wait()
}

func (d *Driver) runFailFast(ctx context.Context, report Report) {
	g, gctx := errgroup.WithContext(ctx)
	for i := range report.Results {
		g.Go(func() error {
			res := d.runReplica(gctx, report.RunID, i)
			report.Results[i] = res
			return res.Err
		})
	}
	// Every error is already captured in report.Results.
	_ = g.Wait()
}

// runReplica connects, opens the output, and copies until the stream ends.
func (d *Driver) runReplica(ctx context.Context, runID string, i int) Result {
	name := OutputName(i)
	res := Result{
		Index:   i,
		Output:  d.sink.Location(name),
		Started: time.Now(),
	}
	logger := d.logger.With("replica", i, "output", res.Output)
	ctx = context.WithValue(ctx, replicaKey{}, i)

	d.notify(func(o Observer) { o.ReplicaStarted(i) })

	httpStatus, err := d.dump(ctx, i, name, &res, logger)
	res.Elapsed = time.Since(res.Started)

	switch {
	case err == nil:
		res.Status = models.RunStatusCompleted
		logger.Info("stream ended", "bytes", res.Bytes, "elapsed", res.Elapsed)
	case errors.Is(err, context.Canceled):
		res.Status = models.RunStatusCancelled
		res.Err = err
		logger.Warn("replica cancelled", "bytes", res.Bytes, "error", err)
	default:
		res.Status = models.RunStatusFailed
		res.Err = err
		logger.Error("replica failed", "bytes", res.Bytes, "error", err)
	}

	d.notify(func(o Observer) { o.ReplicaFinished(i, string(res.Status), res.Elapsed) })
	d.record(ctx, runID, res, httpStatus, logger)

	return res
}

// dump returns the HTTP status observed, or 0 when none was. The output is
// created only once the endpoint has accepted the connection.
func (d *Driver) dump(ctx context.Context, i int, name string, res *Result, logger *slog.Logger) (int, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return 0, &ReplicaError{Index: i, Stage: StageConnect, Err: err}
		}
	}

	s, err := d.connector.Connect(ctx)
	if err != nil {
		status := 0
		var statusErr *stream.StatusError
		if errors.As(err, &statusErr) {
			status = statusErr.Code
		}
		d.notify(func(o Observer) { o.Connected(i, status) })
		return status, &ReplicaError{Index: i, Stage: StageConnect, Err: err}
	}
	defer s.Close()
	d.notify(func(o Observer) { o.Connected(i, s.Status) })

	out, err := d.sink.Open(ctx, name)
	if err != nil {
		return s.Status, &ReplicaError{Index: i, Stage: StageSink, Err: err}
	}
	logger.Info("dumping stream")

	pump := stream.NewPump(d.opts.BufferSize, stream.ObserverFunc(func(n int) {
		d.notify(func(o Observer) { o.Copied(i, n) })
	}))

	res.Bytes, err = pump.Copy(ctx, out, s)
	closeErr := out.Close()
	if err != nil {
		return s.Status, &ReplicaError{Index: i, Stage: StageCopy, Err: err}
	}
	if closeErr != nil {
		return s.Status, &ReplicaError{Index: i, Stage: StageCopy, Err: fmt.Errorf("close output: %w", closeErr)}
	}
	return s.Status, nil
}

func (d *Driver) notify(fn func(Observer)) {
	for _, o := range d.opts.Observers {
		fn(o)
	}
}

func (d *Driver) record(ctx context.Context, runID string, res Result, httpStatus int, logger *slog.Logger) {
	if d.opts.Recorder == nil {
		return
	}

	run := models.ReplicaRun{
		RunID:      runID,
		Replica:    res.Index,
		Endpoint:   d.opts.Endpoint,
		Output:     res.Output,
		Status:     res.Status,
		Bytes:      res.Bytes,
		StartedAt:  res.Started,
		FinishedAt: res.Started.Add(res.Elapsed),
	}
	if httpStatus > 0 {
		run.HTTPStatus = &httpStatus
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
		var replicaErr *ReplicaError
		if errors.As(res.Err, &replicaErr) {
			run.Stage = replicaErr.Stage
		}
	}

	// Record even when the run was cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := d.opts.Recorder.Record(recordCtx, run); err != nil {
		logger.Warn("failed to record replica run", "error", err)
	}
}
