package robot_protocol

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// negligibleDelay keeps tests fast: Sample always returns Min=Max=0.
var negligibleDelay = NetworkDelay{Mean: 0, Std: 0, Min: 0, Max: 0}

func TestLinkFIFOOrdering(t *testing.T) {
	Convey("Given a Link with negligible delay", t, func() {
		link := NewLink(negligibleDelay)
		ctx := context.Background()

		Convey("Messages sent in order are received in the same order", func() {
			for i := 0; i < 5; i++ {
				So(link.Send(ctx, Message{Type: StateUpdate, SenderID: i}), ShouldBeNil)
			}
			for i := 0; i < 5; i++ {
				msg, err := link.Receive(ctx)
				So(err, ShouldBeNil)
				So(msg.SenderID, ShouldEqual, i)
			}
		})
	})
}

func TestLinkCloseUnblocksReceive(t *testing.T) {
	Convey("Given a Link with nothing enqueued", t, func() {
		link := NewLink(negligibleDelay)
		ctx := context.Background()

		Convey("Closing it while a Receive is pending yields ErrLinkClosed", func() {
			done := make(chan error, 1)
			go func() {
				_, err := link.Receive(ctx)
				done <- err
			}()
			time.Sleep(10 * time.Millisecond)
			link.Close()

			select {
			case err := <-done:
				So(err, ShouldEqual, ErrLinkClosed)
			case <-time.After(time.Second):
				t.Fatal("Receive did not unblock after Close")
			}
		})
	})
}

func TestMessageRoundTrip(t *testing.T) {
	Convey("Given a message sent through a channel pair", t, func() {
		pair := NewChannelPair(negligibleDelay)
		ctx := context.Background()

		original := Message{
			Type:     ComputeRequest,
			SenderID: ManagerSenderID,
			Data:     SimulationParams{Kt: 3, Ts: 0.2},
			Timestamp: 123.456,
		}

		Convey("Every field round-trips exactly, including the timestamp set once by the sender", func() {
			So(pair.ToRobot.Send(ctx, original), ShouldBeNil)
			received, err := pair.ToRobot.Receive(ctx)
			So(err, ShouldBeNil)
			So(received.Type, ShouldEqual, original.Type)
			So(received.SenderID, ShouldEqual, original.SenderID)
			So(received.Timestamp, ShouldEqual, original.Timestamp)
			So(received.Data, ShouldResemble, original.Data)
		})
	})
}

func TestNetworkDelayBoundsTotalTransitTime(t *testing.T) {
	Convey("Given a Link whose delay is clamped to [0.01s, 0.03s]", t, func() {
		delay := NetworkDelay{Mean: 0.02, Std: 0.005, Min: 0.01, Max: 0.03}
		link := NewLink(delay)
		ctx := context.Background()

		Convey("A send-then-receive round trip completes within twice the max (one delay per direction)", func() {
			start := time.Now()
			So(link.Send(ctx, Message{Type: StepComplete}), ShouldBeNil)
			_, err := link.Receive(ctx)
			So(err, ShouldBeNil)
			elapsed := time.Since(start)
			So(elapsed, ShouldBeLessThanOrEqualTo, time.Duration(2*delay.Max*float64(time.Second))+50*time.Millisecond)
			So(elapsed, ShouldBeGreaterThanOrEqualTo, time.Duration(2*delay.Min*float64(time.Second)))
		})
	})
}
