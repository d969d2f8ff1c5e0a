// Package actor implements a cooperative, single-threaded-per-actor
// runtime: each actor owns a mailbox and a behave loop that processes one
// message at a time with respect to its own state, scheduled onto a small
// shared worker pool rather than one goroutine per actor.
package actor

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Message is one unit of work delivered to an actor's mailbox. Done, if
// non-nil, is closed once Handle returns, letting a suspended caller's
// continuation resume.
type Message struct {
	Handle func(ctx context.Context)
	Done   chan struct{}
}

// Actor serializes delivery of messages to a single behave function by
// running its mailbox drain loop as one logical task on the shared pool
// at a time: a second drain is never scheduled while one is in flight,
// so the actor's own state needs no internal locking.
type Actor struct {
	pool     *ants.Pool
	mailbox  chan Message
	draining bool
	mu       sync.Mutex
}

// New creates an actor scheduled on pool, with a mailbox of the given
// capacity (0 is unbuffered, every Send blocks until drained).
func New(pool *ants.Pool, mailboxCapacity int) *Actor {
	return &Actor{
		pool:    pool,
		mailbox: make(chan Message, mailboxCapacity),
	}
}

// Send enqueues msg and ensures a drain task is scheduled, returning once
// the message has been accepted into the mailbox (not once it has run).
func (a *Actor) Send(msg Message) {
	a.mailbox <- msg
	a.ensureDraining()
}

// Ask sends msg and blocks the caller until it has been handled, without
// blocking the worker pool goroutine that runs Handle.
func (a *Actor) Ask(ctx context.Context, handle func(ctx context.Context)) {
	done := make(chan struct{})
	a.Send(Message{Handle: handle, Done: done})
	<-done
}

func (a *Actor) ensureDraining() {
	a.mu.Lock()
	if a.draining {
		a.mu.Unlock()
		return
	}
	a.draining = true
	a.mu.Unlock()

	_ = a.pool.Submit(a.drain)
}

// drain processes every message currently queued, one at a time, then
// releases the draining flag. If a Send races in after the queue empties
// but before the flag clears, ensureDraining schedules a fresh drain.
func (a *Actor) drain() {
	for {
		select {
		case msg := <-a.mailbox:
			msg.Handle(context.Background())
			if msg.Done != nil {
				close(msg.Done)
			}
		default:
			a.mu.Lock()
			select {
			case msg := <-a.mailbox:
				a.mu.Unlock()
				msg.Handle(context.Background())
				if msg.Done != nil {
					close(msg.Done)
				}
				continue
			default:
			}
			a.draining = false
			a.mu.Unlock()
			return
		}
	}
}

// Pool wraps an ants.Pool sized for the kernel's small fixed worker
// count.
type Pool struct {
	inner *ants.Pool
}

func NewPool(size int) (*Pool, error) {
	p, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &Pool{inner: p}, nil
}

func (p *Pool) NewActor(mailboxCapacity int) *Actor {
	return New(p.inner, mailboxCapacity)
}

func (p *Pool) Release() { p.inner.Release() }
