package realtime

import (
	"context"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shaunmat/PostGradePortal/internal/model"
)

var snapshotsDelivered = promauto.NewCounter(prometheus.CounterOpts{
	Name: "portal_conversation_snapshots_delivered_total",
	Help: "Number of full message snapshots delivered to conversation subscribers.",
})

// Lister loads conversation state from the store. Snapshots come back in the
// store's order (created_at ascending, ties by id) and are never reordered
// here.
type Lister interface {
	ConversationExists(ctx context.Context, conversationID string) (bool, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Syncer mirrors a remote conversation while a subscriber is attached. It
// keeps an outer watch on the conversation document and, only while the
// conversation exists, a nested inner watch on its message collection. Every
// inner event reloads the complete ordered message list and hands it to the
// subscriber whole; callbacks are snapshots, never diffs.
type Syncer struct {
	bus    Bus
	lister Lister
}

func NewSyncer(bus Bus, lister Lister) *Syncer {
	return &Syncer{bus: bus, lister: lister}
}

// Subscribe attaches onUpdate to a conversation and returns a cancel func.
// Cancel is idempotent and blocks until both watches are torn down; it also
// runs implicitly when ctx is cancelled, so a subscription cannot outlive the
// view that owns it. A conversation that does not exist yet yields an empty
// snapshot and the outer watch stays up waiting for the first message to
// create it.
func (s *Syncer) Subscribe(ctx context.Context, conversationID string, onUpdate func([]model.Message)) func() {
	ctx, cancelCtx := context.WithCancel(ctx)
	done := make(chan struct{})

	go s.run(ctx, conversationID, onUpdate, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelCtx()
			<-done
		})
	}
}

func (s *Syncer) run(ctx context.Context, conversationID string, onUpdate func([]model.Message), done chan<- struct{}) {
	defer close(done)

	outerEvents, stopOuter := s.bus.Subscribe(ctx, ConversationChannel(conversationID))
	defer stopOuter()

	// The inner watch handle is owned by this goroutine alone. At most one
	// inner watch is alive at any moment: establish tears the previous one
	// down before deciding whether a new one is needed.
	var innerEvents <-chan struct{}
	var stopInner func()
	defer func() {
		if stopInner != nil {
			stopInner()
		}
	}()

	deliver := func() {
		messages, err := s.lister.ListMessages(ctx, conversationID)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("conversation %s: message load error: %v", conversationID, err)
			}
			return
		}
		if messages == nil {
			messages = []model.Message{}
		}
		snapshotsDelivered.Inc()
		onUpdate(messages)
	}

	establish := func() {
		if stopInner != nil {
			stopInner()
			stopInner = nil
			innerEvents = nil
		}
		exists, err := s.lister.ConversationExists(ctx, conversationID)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("conversation %s: existence check error: %v", conversationID, err)
			}
			return
		}
		if !exists {
			snapshotsDelivered.Inc()
			onUpdate([]model.Message{})
			return
		}
		innerEvents, stopInner = s.bus.Subscribe(ctx, MessagesChannel(conversationID))
		deliver()
	}

	establish()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-outerEvents:
			if !ok {
				return
			}
			establish()
		case _, ok := <-innerEvents:
			if !ok {
				innerEvents = nil
				continue
			}
			deliver()
		}
	}
}

// View serializes subscriptions for a single consumer surface: subscribing
// to a new conversation first tears the previous subscription fully down, so
// two watches on the same view never overlap.
type View struct {
	syncer *Syncer

	mu     sync.Mutex
	cancel func()
}

func NewView(syncer *Syncer) *View {
	return &View{syncer: syncer}
}

func (v *View) Subscribe(ctx context.Context, conversationID string, onUpdate func([]model.Message)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
	}
	v.cancel = v.syncer.Subscribe(ctx, conversationID, onUpdate)
}

func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}
