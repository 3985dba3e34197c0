package transcript

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrSessionNotLive  = errors.New("transcript: session is not live")
	ErrInvalidFragment = errors.New("transcript: invalid fragment")
)

// Store persists fragments for later retrieval and analysis.
type Store interface {
	Append(ctx context.Context, f Fragment) error
	ListFinal(ctx context.Context, familyID, sessionID string) ([]Fragment, error)
}

// Sink consumes fragments for evaluation. Implementations must tolerate
// concurrent calls for different speakers of the same session.
type Sink interface {
	Process(ctx context.Context, f Fragment)
}

// LivenessSource reports whether a session currently accepts fragments.
// Implemented by *session.Manager.
type LivenessSource interface {
	IsLive(ctx context.Context, familyID, sessionID string) (bool, error)
}

// Queue is the transcript ingest queue.
//
// One buffered channel exists per (session, speaker) pair with a dedicated
// consumer goroutine, so per-speaker FIFO holds and evaluation latency never
// blocks Submit. When a buffer is full the oldest fragment is dropped and
// logged: a speech pipeline is expected to keep up in real time, so bounding
// is a safety valve, not the common path.
type Queue struct {
	store    Store
	sink     Sink
	liveness LivenessSource
	log      *slog.Logger

	buffer int
	clock  func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionPipeline
	wg       sync.WaitGroup
}

type sessionPipeline struct {
	// sendMu guards sends against a concurrent Close: producers hold the read
	// side for the duration of a send, Close takes the write side before
	// closing the channels.
	sendMu   sync.RWMutex
	closed   bool
	speakers map[string]chan Fragment
}

func NewQueue(store Store, sink Sink, liveness LivenessSource, buffer int, log *slog.Logger) *Queue {
	if buffer <= 0 {
		buffer = 200
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		store:    store,
		sink:     sink,
		liveness: liveness,
		log:      log,
		buffer:   buffer,
		clock:    time.Now,
		sessions: map[string]*sessionPipeline{},
	}
}

// Submit accepts one fragment and returns as soon as it is persisted and
// queued. Fragments for sessions that are not live are rejected, not
// silently dropped: the caller must know ingestion stopped.
func (q *Queue) Submit(ctx context.Context, f Fragment) error {
	if f.FragmentID == "" || f.FamilyID == "" || f.SessionID == "" || f.SpeakerID == "" {
		return ErrInvalidFragment
	}

	live, err := q.liveness.IsLive(ctx, f.FamilyID, f.SessionID)
	if err != nil {
		return err
	}
	if !live {
		return ErrSessionNotLive
	}

	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = q.clock().UTC()
	}
	if err := q.store.Append(ctx, f); err != nil {
		return err
	}

	p, ch, err := q.channelFor(f.SessionID, f.SpeakerID)
	if err != nil {
		return err
	}

	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		return ErrSessionNotLive
	}

	// Bounded handoff with drop-oldest.
	select {
	case ch <- f:
		return nil
	default:
	}
	select {
	case dropped := <-ch:
		q.log.Warn("ingest buffer full, dropping oldest fragment",
			"session_id", dropped.SessionID,
			"speaker_id", dropped.SpeakerID,
			"fragment_id", dropped.FragmentID,
		)
	default:
		// Consumer drained the buffer in the meantime.
	}
	ch <- f
	return nil
}

func (q *Queue) channelFor(sessionID, speakerID string) (*sessionPipeline, chan Fragment, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.sessions[sessionID]
	if !ok {
		p = &sessionPipeline{speakers: map[string]chan Fragment{}}
		q.sessions[sessionID] = p
	}
	if p.closed {
		return nil, nil, ErrSessionNotLive
	}

	ch, ok := p.speakers[speakerID]
	if !ok {
		ch = make(chan Fragment, q.buffer)
		p.speakers[speakerID] = ch
		q.wg.Add(1)
		go q.consume(ch)
	}
	return p, ch, nil
}

// consume drains one speaker's channel in FIFO order. It keeps running after
// Close until all queued fragments have been evaluated.
func (q *Queue) consume(ch chan Fragment) {
	defer q.wg.Done()
	for f := range ch {
		// Evaluation must not be tied to the (long gone) request context.
		q.sink.Process(context.Background(), f)
	}
}

// Close stops accepting fragments for the session and lets queued fragments
// drain through the sink. Safe to call more than once.
func (q *Queue) Close(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.sessions[sessionID]
	if !ok {
		q.sessions[sessionID] = &sessionPipeline{closed: true, speakers: map[string]chan Fragment{}}
		return
	}
	if p.closed {
		return
	}
	p.sendMu.Lock()
	p.closed = true
	for _, ch := range p.speakers {
		close(ch)
	}
	p.sendMu.Unlock()
}

// Drain blocks until every consumer goroutine has finished. Call Close on all
// sessions first; used during shutdown and in tests.
func (q *Queue) Drain() {
	q.wg.Wait()
}

// Shutdown closes every open pipeline and waits for the consumers to finish
// their queued fragments.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	for _, p := range q.sessions {
		if p.closed {
			continue
		}
		p.sendMu.Lock()
		p.closed = true
		for _, ch := range p.speakers {
			close(ch)
		}
		p.sendMu.Unlock()
	}
	q.mu.Unlock()
	q.wg.Wait()
}
