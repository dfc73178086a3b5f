package ping

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent    chan uint16
	failing bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan uint16, 8)}
}

func (f *fakeSender) SendPing(seq uint16) error {
	if f.failing {
		return context.DeadlineExceeded
	}
	f.sent <- seq
	return nil
}

func TestCheckPingSuccess(t *testing.T) {
	mock := clock.NewMock()
	sender := newFakeSender()
	checker := New(sender, mock)

	resultCh := make(chan uint32, 1)
	go func() {
		resultCh <- checker.CheckPing(context.Background(), 5*time.Second)
	}()

	seq := <-sender.sent
	mock.Add(12 * time.Millisecond)
	checker.Deliver(seq)

	result := <-resultCh
	require.Equal(t, uint32(12), result)
}

func TestCheckPingTimeout(t *testing.T) {
	mock := clock.NewMock()
	sender := newFakeSender()
	checker := New(sender, mock)

	resultCh := make(chan uint32, 1)
	go func() {
		resultCh <- checker.CheckPing(context.Background(), 5*time.Second)
	}()

	<-sender.sent
	mock.Add(5 * time.Second)

	result := <-resultCh
	require.Equal(t, DownCost, result)
}

func TestDeliverIgnoresStaleSeq(t *testing.T) {
	mock := clock.NewMock()
	sender := newFakeSender()
	checker := New(sender, mock)

	checker.Deliver(999) // no probe in flight, must not panic

	resultCh := make(chan uint32, 1)
	go func() {
		resultCh <- checker.CheckPing(context.Background(), time.Second)
	}()
	seq := <-sender.sent
	checker.Deliver(seq)
	result := <-resultCh
	require.NotEqual(t, DownCost, result)
}

func TestCheckPingSendFailure(t *testing.T) {
	mock := clock.NewMock()
	sender := newFakeSender()
	sender.failing = true
	checker := New(sender, mock)

	result := checker.CheckPing(context.Background(), time.Second)
	require.Equal(t, DownCost, result)
}
