package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Topic is one of the engine's publish points
type Topic int

const (
	TopicEndOfPriceUpdateRound Topic = iota + 1
	TopicOrderAction
	TopicPositionRenewal
	TopicAfterStartOfDayLoad
	TopicBeforeEndOfDaySave
	TopicAccountBalanceUpdate
	TopicImmediateFillBuyPlacement
)

var topicNames = map[Topic]string{
	TopicEndOfPriceUpdateRound:     "EndOfPriceUpdateRound",
	TopicOrderAction:               "OrderAction",
	TopicPositionRenewal:           "PositionRenewal",
	TopicAfterStartOfDayLoad:       "AfterStartOfDayLoad",
	TopicBeforeEndOfDaySave:        "BeforeEndOfDaySave",
	TopicAccountBalanceUpdate:      "AccountBalanceUpdate",
	TopicImmediateFillBuyPlacement: "ImmediateFillBuyPlacement",
}

func (t Topic) String() string {
	if name, ok := topicNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Topic(%d)", int(t))
}

// Valid reports whether the topic is part of the closed set
func (t Topic) Valid() bool {
	_, ok := topicNames[t]
	return ok
}

// Event is a payload published on exactly one topic
type Event interface {
	Topic() Topic
}

// Handler receives an event; returned errors are joined by Publish
type Handler func(ctx context.Context, ev Event) error

// Bus fans events out to subscribed handlers
// ⭐ SSOT: 엔진 → 로깅/검증/영속화 연결은 이 버스로만
// Publish는 모든 핸들러가 끝날 때까지 대기 (fire-and-forget 아님)
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

// New creates an empty bus
func New() *Bus {
	return &Bus{handlers: make(map[Topic][]Handler)}
}

// Subscribe registers a handler for a topic
func (b *Bus) Subscribe(topic Topic, h Handler) error {
	if !topic.Valid() {
		return fmt.Errorf("cannot subscribe to unknown topic %s", topic)
	}
	if h == nil {
		return fmt.Errorf("nil handler for topic %s", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
	return nil
}

// Subscribers returns the number of handlers for a topic
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// Publish runs every handler of the event's topic concurrently and waits for all of them
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	topic := ev.Topic()
	if !topic.Valid() {
		return fmt.Errorf("cannot publish to unknown topic %s", topic)
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%s handler panic: %v", topic, r)
				}
			}()
			if err := h(ctx, ev); err != nil {
				errs[i] = fmt.Errorf("%s handler: %w", topic, err)
			}
		}(i, h)
	}
	wg.Wait()

	return errors.Join(errs...)
}
