package pubsub

import (
	"sync"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestPublisher_Send_Receive(t *testing.T) {
	assert := assert_.New(t)

	p := NewPublisher[int]()
	sub, err := p.SubscribeBufSize(100)
	assert.NoError(err)

	var waiting sync.WaitGroup
	waiting.Add(1)
	received := make([]int, 0, 10)
	go func() {
		defer waiting.Done()
		for v := range sub.Receive() {
			received = append(received, v)
		}
	}()

	for i := 0; i < 10; i++ {
		assert.True(p.Send(i))
	}
	p.Close()
	waiting.Wait()
	assert.Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, received)
}

func TestPublisher_MultipleSubscribers(t *testing.T) {
	assert := assert_.New(t)

	p := NewPublisher[string]()
	a := make(chan string, 10)
	b := make(chan string, 10)
	subA, _ := p.SubscribeBufSize(10)
	subB, _ := p.SubscribeBufSize(10)

	var waiting sync.WaitGroup
	waiting.Add(2)
	go func() {
		defer waiting.Done()
		for v := range subA.Receive() {
			a <- v
		}
		close(a)
	}()
	go func() {
		defer waiting.Done()
		for v := range subB.Receive() {
			b <- v
		}
		close(b)
	}()

	assert.True(p.Send("hello"))
	p.Close()
	waiting.Wait()

	assert.Equal("hello", <-a)
	assert.Equal("hello", <-b)
}

func TestPublisher_Close(t *testing.T) {
	assert := assert_.New(t)

	p := NewPublisher[int]()
	sub, err := p.Subscribe()
	assert.NoError(err)
	p.Close()

	assert.False(p.Send(1), "expected send on closed publisher to fail")
	_, ok := <-sub.Receive()
	assert.False(ok, "expected subscriber to be closed")

	_, err = p.Subscribe()
	assert.ErrorIs(err, ErrPublisherClosed)

	// Close is idempotent.
	p.Close()
}
