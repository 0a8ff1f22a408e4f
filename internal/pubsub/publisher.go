package pubsub

import (
	"errors"
	"sync"
)

const (
	DefaultPublisherBufSize  = 1
	DefaultSubscriberBufSize = 1
)

var (
	ErrPublisherClosed = errors.New("publisher closed")
)

// Publisher fans messages out to any number of subscribers. A subscriber that
// closes its channel is dropped on the next send to it.
type Publisher[T any] interface {
	SenderCloser[T]
	Subscribe() (ReceiverCloser[T], error)
	SubscribeBufSize(int) (ReceiverCloser[T], error)
}

type publisher[T any] struct {
	mu          sync.Mutex
	ch          Channel[T]
	running     sync.WaitGroup // Fan-out goroutine in progress
	pending     sync.WaitGroup // Messages not yet sent to all subscribers
	subsMu      sync.Mutex
	subscribers map[SenderCloser[T]]struct{}
	closed      bool
}

func NewPublisher[T any]() Publisher[T] {
	return NewPublisherBufSize[T](DefaultPublisherBufSize)
}

func NewPublisherBufSize[T any](bufSize int) Publisher[T] {
	p := &publisher[T]{
		ch:          NewChannel[T](bufSize),
		subscribers: make(map[SenderCloser[T]]struct{}),
	}
	p.running.Add(1)
	go func() {
		defer p.running.Done()
		for v := range p.ch.Receive() {
			// Snapshot the subscriber set, so new subscribers aren't blocked
			// behind a slow fan-out.
			for _, s := range p.subscriberSlice() {
				if ok := s.Send(v); !ok {
					p.unsubscribe(s)
				}
			}
			p.pending.Done()
		}
	}()
	return p
}

// Send publishes the value to all subscribers (non-blocking for slow
// subscribers that use buffered channels).
func (p *publisher[T]) Send(msg T) bool {
	p.pending.Add(1)
	if ok := p.ch.Send(msg); !ok {
		p.pending.Done()
		return false
	}
	return true
}

func (p *publisher[T]) Subscribe() (ReceiverCloser[T], error) {
	return p.SubscribeBufSize(DefaultSubscriberBufSize)
}

func (p *publisher[T]) SubscribeBufSize(bufSize int) (ReceiverCloser[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	s := NewChannel[T](bufSize)
	p.subsMu.Lock()
	p.subscribers[s] = struct{}{}
	p.subsMu.Unlock()
	return s, nil
}

func (p *publisher[T]) subscriberSlice() []SenderCloser[T] {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	subs := make([]SenderCloser[T], 0, len(p.subscribers))
	for s := range p.subscribers {
		subs = append(subs, s)
	}
	return subs
}

func (p *publisher[T]) unsubscribe(s SenderCloser[T]) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	delete(p.subscribers, s)
}

// Close idempotently shuts down the publisher, closing all subscribers too.
func (p *publisher[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	// Close the send channel and wait for it to be flushed
	p.ch.Close()
	p.pending.Wait()
	p.running.Wait()
	// Close all subscribers
	p.subsMu.Lock()
	subs := p.subscribers
	p.subscribers = make(map[SenderCloser[T]]struct{})
	p.subsMu.Unlock()
	for s := range subs {
		s.Close()
	}
	p.closed = true
}
