package events

import (
	"sync"

	"vashsender/internal/utils/logger"
)

// Event names emitted across the application.
const (
	ContactImportCreated = "contact_import.created"
	CampaignStarted      = "campaign.started"
	CampaignCompleted    = "campaign.completed"
	SubscriptionUpdated  = "subscription.updated"
	DomainVerified       = "domain.verified"
)

type Handler func(data interface{})

// Bus is a synchronous in-process publish/subscribe hub. Handlers run in
// registration order on the emitting goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
}

func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.New("EVENTS")
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

func (b *Bus) On(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Off removes every handler registered for name.
func (b *Bus) Off(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, name)
}

func (b *Bus) Emit(name string, data interface{}) {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[name]))
	copy(hs, b.handlers[name])
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(name, h, data)
	}
}

func (b *Bus) dispatch(name string, h Handler, data interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler for %s panicked: %v", name, r)
		}
	}()
	h(data)
}

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the process-wide bus used by On and Emit.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = NewBus(nil)
	})
	return defaultBus
}

func On(name string, h Handler) { Default().On(name, h) }

func Off(name string) { Default().Off(name) }

func Emit(name string, data interface{}) { Default().Emit(name, data) }
