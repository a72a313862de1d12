package application

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/crmsync/target-salesforce/internal/application/sinks"
	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/internal/infrastructure/auth"
	"github.com/crmsync/target-salesforce/internal/infrastructure/salesforce"
	"github.com/crmsync/target-salesforce/internal/interfaces/singer"
	"github.com/crmsync/target-salesforce/pkg/errors"
	"github.com/crmsync/target-salesforce/pkg/expression"
)

// MaxParallelism bounds how many records are in flight across all streams.
// Records within one stream are always processed in arrival order.
const MaxParallelism = 10

// Target drives a full run: it consumes Singer messages, routes records to
// per-stream sinks, and emits the final state.
type Target struct {
	cfg      *bootstrap.Config
	client   *salesforce.Client
	registry *sinks.Registry
	filters  *expression.Engine

	sem     chan struct{}
	workers map[string]*streamWorker
	wg      sync.WaitGroup

	mu        sync.Mutex
	summary   models.RunSummary
	lastState map[string]interface{}
	fatal     error
	cancel    context.CancelFunc
}

// NewTarget wires a target from its config: OAuth authenticator, REST
// client, sink registry, and the stream-filter engine.
func NewTarget(cfg *bootstrap.Config) (*Target, error) {
	engine := expression.NewEngine()
	for stream, filter := range cfg.StreamFilters {
		if err := engine.Validate(filter); err != nil {
			return nil, err
		}
		log.Printf("Stream %s is filtered by: %s", stream, filter)
	}

	authenticator := auth.New(cfg)
	client := salesforce.NewClient(cfg, authenticator)
	return &Target{
		cfg:      cfg,
		client:   client,
		registry: sinks.NewRegistry(client, cfg),
		filters:  engine,
		sem:      make(chan struct{}, MaxParallelism),
		workers:  make(map[string]*streamWorker),
		summary:  make(models.RunSummary),
	}, nil
}

// Client exposes the underlying API client, mainly for health checks.
func (t *Target) Client() *salesforce.Client { return t.client }

// Summary returns the accumulated per-stream results.
func (t *Target) Summary() models.RunSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// streamWorker serializes the records of one stream. Workers for different
// streams run concurrently under the shared parallelism semaphore.
type streamWorker struct {
	sink    sinks.Sink
	records chan map[string]interface{}
}

// Run consumes Singer messages from in until EOF, then drains the workers
// and writes the final STATE to out. A quota overrun aborts the run with
// the quota error; everything else fails at record granularity.
func (t *Target) Run(ctx context.Context, in io.Reader, out io.Writer) (models.RunSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.cancel = cancel

	reader := singer.NewReader(in)
	var readErr error
	for {
		msg, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		if err := t.handle(ctx, msg); err != nil {
			readErr = err
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	for _, w := range t.workers {
		close(w.records)
	}
	t.wg.Wait()

	t.mu.Lock()
	summary := t.summary
	fatal := t.fatal
	state := t.lastState
	t.mu.Unlock()

	if fatal != nil {
		return summary, fatal
	}
	if readErr != nil {
		return summary, readErr
	}

	if state == nil {
		state = map[string]interface{}{}
	}
	state["summary"] = summary
	if err := singer.WriteState(out, state); err != nil {
		return summary, err
	}
	return summary, nil
}

func (t *Target) handle(ctx context.Context, msg *singer.Message) error {
	switch msg.Type {
	case singer.TypeSchema:
		sink := t.registry.Get(msg.Stream)
		log.Printf("Initializing target sink for stream %s (%s)", msg.Stream, sink.Name())
		return nil

	case singer.TypeRecord:
		keep, err := t.passesFilter(msg.Stream, msg.Record)
		if err != nil {
			return err
		}
		if !keep {
			return nil
		}
		t.worker(ctx, msg.Stream).records <- msg.Record
		return nil

	case singer.TypeState:
		t.mu.Lock()
		t.lastState = msg.Value
		t.mu.Unlock()
		return nil

	default:
		log.Printf("⚠️ Ignoring unknown message type %q", msg.Type)
		return nil
	}
}

func (t *Target) passesFilter(stream string, record map[string]interface{}) (bool, error) {
	filter, ok := t.cfg.StreamFilters[stream]
	if !ok {
		return true, nil
	}
	keep, err := t.filters.EvaluateBool(filter, record)
	if err != nil {
		return false, err
	}
	if !keep {
		log.Printf("Record filtered out of stream %s", stream)
	}
	return keep, nil
}

func (t *Target) worker(ctx context.Context, stream string) *streamWorker {
	if w, ok := t.workers[stream]; ok {
		return w
	}
	w := &streamWorker{
		sink:    t.registry.Get(stream),
		records: make(chan map[string]interface{}, MaxParallelism),
	}
	t.workers[stream] = w
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for record := range w.records {
			if ctx.Err() != nil {
				continue
			}
			t.sem <- struct{}{}
			t.processRecord(ctx, w.sink, record)
			<-t.sem
		}
	}()
	return w
}

// processRecord runs one record through its sink. Mapping and write
// failures become per-record outcomes; only quota overruns stop the run.
func (t *Target) processRecord(ctx context.Context, sink sinks.Sink, record map[string]interface{}) {
	payload, err := sink.Preprocess(ctx, record)
	if err != nil {
		t.recordOutcome(sink.Name(), models.RecordOutcome{Error: errors.Summary(err)}, false, false)
		t.checkFatal(err)
		return
	}
	if payload == nil {
		return
	}

	result, err := sink.Process(ctx, payload)
	if err != nil {
		log.Printf("❌ %s record failed: %v", sink.Name(), err)
		t.recordOutcome(sink.Name(), models.RecordOutcome{Error: errors.Summary(err)}, false, false)
		t.checkFatal(err)
		return
	}

	t.recordOutcome(sink.Name(), models.RecordOutcome{
		ID:         result.ID,
		Success:    true,
		ExternalID: result.ExternalID,
	}, result.Updated, result.Existing)
}

func (t *Target) recordOutcome(stream string, outcome models.RecordOutcome, updated, existing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.summary[stream]
	if !ok {
		state = &models.StreamState{}
		t.summary[stream] = state
	}
	state.Record(outcome, updated, existing)
}

// checkFatal promotes run-level errors. Quota overruns cancel in-flight
// work so no further API calls burn the remaining allotment.
func (t *Target) checkFatal(err error) {
	if !errors.IsQuotaExceeded(err) {
		return
	}
	t.mu.Lock()
	if t.fatal == nil {
		t.fatal = err
	}
	t.mu.Unlock()
	t.cancel()
}
