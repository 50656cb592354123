package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	The non-blocking observability substrate (spec.md
 *		§4/§3): a bounded ring buffer of log records, a
 *		topic-glob matcher, and per-call flush. Replaces the
 *		"batched log callback emulated with a growing buffer"
 *		pattern flagged in spec.md §9 with a fixed-capacity ring.
 *
 *----------------------------------------------------------------*/

import (
	"strings"
	"sync/atomic"
)

// LogLevel mirrors spec.md §3's severity set.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l LogLevel) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// LogRecord is one entry produced inside the executor (spec.md §3).
type LogRecord struct {
	Topic         string
	Level         LogLevel
	Message       string
	Context       map[string]any
	TimestampMono int64
	Priority      int
	TraceID       string
	SpanID        string
	CorrelationID string
}

const defaultLogRingCapacity = 32

// logRing is a fixed-capacity circular buffer; once full, pushing
// overwrites the oldest record. Draining (flush) empties it completely.
type logRing struct {
	capacity int
	buf      []LogRecord
	head     int
	size     int
	seq      int64
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = defaultLogRingCapacity
	}
	return &logRing{capacity: capacity, buf: make([]LogRecord, capacity)}
}

func (r *logRing) push(rec LogRecord) {
	rec.TimestampMono = atomic.AddInt64(&r.seq, 1)
	idx := (r.head + r.size) % r.capacity
	if r.size == r.capacity {
		r.head = (r.head + 1) % r.capacity
	} else {
		r.size++
	}
	r.buf[idx] = rec
}

// flush drains every record currently in the ring, oldest first, and
// empties it.
func (r *logRing) flush() []LogRecord {
	out := make([]LogRecord, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%r.capacity]
	}
	r.head = 0
	r.size = 0
	return out
}

func (r *logRing) len() int { return r.size }

// TopicMatches reports whether a dotted topic matches a glob pattern where
// "*" matches exactly one dotted segment (spec.md §6's log topic grammar,
// scenario S7).
func TopicMatches(pattern, topic string) bool {
	patternSegs := strings.Split(pattern, ".")
	topicSegs := strings.Split(topic, ".")
	if len(patternSegs) != len(topicSegs) {
		return false
	}
	for i, p := range patternSegs {
		if p != "*" && p != topicSegs[i] {
			return false
		}
	}
	return true
}

// TopicMatchesAny reports whether topic matches any of the given patterns.
func TopicMatchesAny(patterns []string, topic string) bool {
	for _, p := range patterns {
		if TopicMatches(p, topic) {
			return true
		}
	}
	return false
}

// ObservabilityConfig configures a Pipeline's logging and callback taps
// (spec.md §6's callback interfaces).
type ObservabilityConfig struct {
	RingCapacity int
	TopicFilter  []string

	OnLog        func(topic string, level LogLevel, message string, context map[string]any)
	OnLogBatch   func(records []LogRecord)
	OnBatch      func(stageName string, samples SampleBlock, startIndex, count int)
	OnStageDone  func(pipelineName string, durationMs float64)
	OnError      func(stageName string, err error)
	OnDrift      func(DriftEvent)
	Taps         []func(stageName string, samples SampleBlock)
}

// observer owns one pipeline's log ring and dispatches to the configured
// callbacks, catching and logging any callback failure under
// pipeline.callback.error rather than letting it propagate (spec.md §5).
type observer struct {
	cfg  ObservabilityConfig
	ring *logRing
}

func newObserver(cfg ObservabilityConfig) *observer {
	return &observer{cfg: cfg, ring: newLogRing(cfg.RingCapacity)}
}

func (o *observer) logFunc() LogFunc {
	return func(topic string, level LogLevel, message string, kv map[string]any) {
		if len(o.cfg.TopicFilter) > 0 && !TopicMatchesAny(o.cfg.TopicFilter, topic) {
			return
		}
		rec := LogRecord{Topic: topic, Level: level, Message: message, Context: kv, Priority: 5}
		o.ring.push(rec)
		if o.cfg.OnLog != nil {
			o.safeCall(topic, func() { o.cfg.OnLog(topic, level, message, kv) })
		}
	}
}

// flush drains the ring and forwards it to OnLogBatch, per spec.md §4.1
// executor algorithm step 5 ("Flush the log ring").
func (o *observer) flush() {
	records := o.ring.flush()
	if len(records) == 0 || o.cfg.OnLogBatch == nil {
		return
	}
	o.safeCall("pipeline.log.batch", func() { o.cfg.OnLogBatch(records) })
}

func (o *observer) notifyBatch(stageName string, samples SampleBlock) {
	if o.cfg.OnBatch != nil {
		o.safeCall("pipeline.callback.onBatch", func() { o.cfg.OnBatch(stageName, samples, 0, len(samples)) })
	}
	for _, tap := range o.cfg.Taps {
		t := tap
		o.safeCall("pipeline.callback.tap", func() { t(stageName, samples) })
	}
}

func (o *observer) notifyStageDone(pipelineName string, durationMs float64) {
	if o.cfg.OnStageDone != nil {
		o.safeCall("pipeline.callback.onStageComplete", func() { o.cfg.OnStageDone(pipelineName, durationMs) })
	}
}

func (o *observer) notifyError(stageName string, err error) {
	if o.cfg.OnError != nil {
		o.safeCall("pipeline.callback.onError", func() { o.cfg.OnError(stageName, err) })
	}
}

func (o *observer) notifyDrift(ev DriftEvent) {
	if o.cfg.OnDrift != nil {
		o.safeCall("pipeline.callback.onDrift", func() { o.cfg.OnDrift(ev) })
	}
}

// safeCall executes fn, recovering from a panic and logging it under
// pipeline.callback.error (spec.md §5: "if they block or throw, the
// pipeline catches and logs ... and continues").
func (o *observer) safeCall(topic string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			failure := &CallbackFailureError{Topic: topic, Detail: toErrorDetail(r)}
			o.ring.push(LogRecord{Topic: "pipeline.callback.error", Level: LevelError, Message: failure.Error()})
		}
	}()
	fn()
}

func toErrorDetail(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "panic: non-error recover value"
}
