package robot_protocol

import (
	"context"
	"errors"
	"time"
)

// DefaultQueueDepth bounds every Link's buffered channel, per the resource
// model's default of 64 messages. Overflow on Send blocks the sender; this
// is acceptable because every message is part of a tick-synchronous
// handshake and the fleet is not expected to run that far ahead.
const DefaultQueueDepth = 64

// ErrLinkClosed is returned by Receive once the Link has been closed and
// drained, so a robot or manager message loop can exit cleanly instead of
// blocking forever.
var ErrLinkClosed = errors.New("robot_protocol: link closed")

// Link is one direction of a channel pair: a bounded FIFO with independent,
// randomly sampled transit delay applied on both Send and Receive, per the
// channel layer's "symmetric in-flight time on each direction" contract.
// Messages on a single Link are delivered in send order; loss is not
// modelled, only delay.
type Link struct {
	queue chan Message
	delay NetworkDelay
	done  chan struct{}
}

// NewLink creates a Link with the default queue depth and the given delay
// model. A zero-value NetworkDelay (no Sample support needed) is fine for
// tests that don't care about timing.
func NewLink(delay NetworkDelay) *Link {
	return &Link{
		queue: make(chan Message, DefaultQueueDepth),
		delay: delay,
		done:  make(chan struct{}),
	}
}

// Send suspends for a sampled transit delay, then enqueues msg. Returns
// ctx.Err() if ctx is cancelled while waiting, or ErrLinkClosed if the link
// was closed first.
func (l *Link) Send(ctx context.Context, msg Message) error {
	if err := l.suspend(ctx); err != nil {
		return err
	}
	// Close also closes queue, and a send on a closed channel panics, so a
	// link that is already closed must be caught before the send below.
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}
	select {
	case l.queue <- msg:
		return nil
	case <-l.done:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive suspends for a sampled transit delay, then dequeues the next
// message in send order. Returns ErrLinkClosed once the link is closed and
// drained.
func (l *Link) Receive(ctx context.Context) (Message, error) {
	if err := l.suspend(ctx); err != nil {
		return Message{}, err
	}
	select {
	case msg, ok := <-l.queue:
		if !ok {
			return Message{}, ErrLinkClosed
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (l *Link) suspend(ctx context.Context) error {
	d := l.delay.Sample(nil)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(d * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-l.done:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the link. Pending Receive calls waiting on an empty queue
// unblock with ErrLinkClosed; messages already enqueued are still
// deliverable via a final drain by the caller if desired.
func (l *Link) Close() {
	select {
	case <-l.done:
		// already closed
	default:
		close(l.done)
		close(l.queue)
	}
}

// ChannelPair is the per-robot pair of Links: ToRobot carries
// Manager-to-Robot traffic (the robot's inbox), ToManager carries
// Robot-to-Manager traffic (the robot's outbox). A pair is an opaque handle
// from either side's perspective — neither side holds a reference to the
// other's object, only to this shared pair.
type ChannelPair struct {
	ToRobot   *Link
	ToManager *Link
}

// NewChannelPair builds a fresh pair with the given delay model applied
// identically in both directions.
func NewChannelPair(delay NetworkDelay) *ChannelPair {
	return &ChannelPair{
		ToRobot:   NewLink(delay),
		ToManager: NewLink(delay),
	}
}

// Close tears down both directions of the pair.
func (p *ChannelPair) Close() {
	p.ToRobot.Close()
	p.ToManager.Close()
}
