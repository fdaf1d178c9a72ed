package modlink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestModuleMessageNumbers(t *testing.T) {
	tr := &testTransport{}
	m := newTestModule(3, tr).WithOptions(fastOptions())

	// wraps around skipping zero
	m.nextMessageNumber.Store(253)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Transmit(context.Background(), &testNotice{}))
	}
	require.Zero(t, m.UnfinishedCount())
	var numbers []byte
	for _, d := range tr.datagrams() {
		numbers = append(numbers, d.MessageNumber)
	}
	require.Equal(t, []byte{254, 255, 1, 2}, numbers)

	// numbers of unfinished exchanges are skipped
	held := newTestCommand(m, testCmdSet, false)
	m.pendingLock.Lock()
	m.unfinished[3] = held
	m.pendingLock.Unlock()
	require.NoError(t, m.Transmit(context.Background(), &testNotice{}))
	sent := tr.datagrams()
	require.Equal(t, byte(4), sent[len(sent)-1].MessageNumber)
}

func TestModuleSendCommandSerializes(t *testing.T) {
	tr := &testTransport{}
	m := newTestModule(3, tr)
	cmd := newTestCommand(m, testCmdEcho, true, 1, 2)
	cmd.SetReferenceNumber(0)
	require.NoError(t, m.SendCommand(cmd))

	sent := tr.datagrams()
	require.Len(t, sent, 1)
	require.Equal(t, byte(3), sent[0].Dest)
	require.Equal(t, testCmdEcho, sent[0].PacketID)
	require.Equal(t, []byte{1, 2}, sent[0].Payload)
	require.NotNil(t, cmd.Serialization())
	require.True(t, cmd.HasBeenTransmitted())
	require.Equal(t, 1, m.UnfinishedCount())
	require.False(t, m.LastTransmit().IsZero())

	m.FinishedWithMessage(cmd)
	m.FinishedWithMessage(cmd)
	require.Nil(t, cmd.Serialization())
	require.Zero(t, m.UnfinishedCount())
	require.True(t, errors.Is(m.Retransmit(cmd), ErrNotSerialized))
}

func TestModuleRejectsOversizedPayload(t *testing.T) {
	tr := &testTransport{}
	m := newTestModule(3, tr)
	next := m.nextMessageNumber.Load()

	cmd := newTestCommand(m, testCmdSet, false, make([]byte, MaxPayloadLen+1)...)
	err := m.SendCommand(cmd)
	var tooLong *PayloadTooLongError
	require.True(t, errors.As(err, &tooLong))
	require.Equal(t, MaxPayloadLen+1, tooLong.Length)
	require.Empty(t, tr.datagrams())
	require.Zero(t, m.UnfinishedCount())
	require.Nil(t, cmd.Serialization())
	require.Equal(t, next, m.nextMessageNumber.Load())

	cmd = newTestCommand(m, testCmdSet, false, make([]byte, MaxPayloadLen)...)
	require.NoError(t, m.SendCommand(cmd))
	sent := tr.datagrams()
	require.Len(t, sent, 1)
	require.Equal(t, uint16(0xffff), sent[0].PacketLength)
}

func TestModuleValidatesLiveCommands(t *testing.T) {
	iface := NewInterface("Test", &CommandType{Name: "Echo"}, nil, &CommandType{Name: "Set"})
	iface.AssignBaseCommandNumber(testCmdEcho)

	tr := &testTransport{live: true}
	m := newTestModule(3, tr)
	err := m.SendCommand(newTestCommand(m, testCmdEcho, true))
	var unsupported *UnsupportedCommandError
	require.True(t, errors.As(err, &unsupported))
	require.Equal(t, testCmdEcho, unsupported.CommandNumber)
	require.Empty(t, tr.datagrams())

	// standard commands need no interface
	require.True(t, m.IsCommandSupported(CommandNumberKeepAlive))

	m.RegisterInterface(iface, 3)
	require.True(t, m.IsCommandSupported(testCmdEcho))
	require.False(t, m.IsCommandSupported(testCmdEcho+1))
	require.True(t, m.IsCommandSupported(testCmdEcho+2))
	require.True(t, m.IsCommandTypeSupported(iface, iface.CommandAt(2)))
	require.NoError(t, m.SendCommand(newTestCommand(m, testCmdEcho, true)))

	// an older module knows fewer commands
	m.RegisterInterface(iface, 1)
	require.True(t, m.IsCommandSupported(testCmdEcho))
	require.False(t, m.IsCommandSupported(testCmdEcho+2))
	require.False(t, m.IsCommandTypeSupported(iface, iface.CommandAt(2)))
	require.Equal(t, iface, m.Interface("Test"))

	// simulated modules accept everything
	sim := NewSimulatedModule(4)
	require.NoError(t, sim.SendCommand(newTestCommand(sim, 0x1234, false)))
}

func TestModuleDispatch(t *testing.T) {
	tr := &testTransport{}
	tr.reply = func(m *Module, d *Datagram) {
		switch d.PacketID {
		case testCmdEcho:
			go m.HandleDatagram(replyFrom(d, testCmdEcho|ResponseBit, d.Payload...))
		case testCmdSet:
			go m.HandleDatagram(replyFrom(d, CommandNumberAck, 1))
		default:
			go m.HandleDatagram(replyFrom(d, CommandNumberNack, byte(ReasonParam0+1)))
		}
	}
	m := newTestModule(3, tr).WithOptions(fastOptions())

	echo := newTestCommand(m, testCmdEcho, true, 5, 6, 7)
	resp, err := echo.SendReceive(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte{5, 6, 7}, resp.(*testResponse).data)
	require.Equal(t, echo.MessageNumber(), resp.MessageHeader().ReferenceNumber())
	require.False(t, resp.MessageHeader().ReceivedAt().IsZero())

	set := newTestCommand(m, testCmdSet, false)
	require.NoError(t, set.Send(context.Background()))
	require.Equal(t, uint32(1), m.AttentionCount())
	select {
	case <-m.Attention():
	default:
		require.Fail(t, "attention not signaled")
	}

	other := newTestCommand(m, 0x0020, false)
	err = other.Send(context.Background())
	var nackErr *NackError
	require.True(t, errors.As(err, &nackErr))
	require.Equal(t, ReasonCode(1), nackErr.Reason)
	require.Zero(t, m.UnfinishedCount())
}

func TestModuleDispatchIgnoresMismatches(t *testing.T) {
	tr := &testTransport{}
	m := newTestModule(3, tr).WithOptions(fastOptions())
	cmd := newTestCommand(m, testCmdEcho, true)
	require.NoError(t, m.SendCommand(cmd))
	d := tr.datagrams()[0]

	// unknown reference
	unknown := replyFrom(d, testCmdEcho|ResponseBit)
	unknown.ReferenceNumber++
	m.HandleDatagram(unknown)
	// response to another command
	m.HandleDatagram(replyFrom(d, 0x0030|ResponseBit))
	// an ack where a response is expected
	m.HandleDatagram(replyFrom(d, CommandNumberAck, 0))
	// undecodable nack
	m.HandleDatagram(replyFrom(d, CommandNumberNack))
	require.False(t, cmd.HasBeenAcknowledged())
	require.Equal(t, 1, m.UnfinishedCount())

	var unsolicited []*Datagram
	m.Unsolicited = HandleDatagramFunc(func(d *Datagram) { unsolicited = append(unsolicited, d) })
	m.HandleDatagram(replyFrom(d, 0x0040))
	require.Len(t, unsolicited, 1)

	m.HandleDatagram(replyFrom(d, testCmdEcho|ResponseBit, 9))
	require.True(t, cmd.IsAckOrResponseReceived())
	require.Zero(t, m.UnfinishedCount())

	// duplicate responses after completion are dropped
	m.HandleDatagram(replyFrom(d, testCmdEcho|ResponseBit, 10))
	require.Equal(t, []byte{9}, cmd.Response().(*testResponse).data)
}

func TestModuleRetransmitsUntilAnswered(t *testing.T) {
	var transmissions atomic.Int32
	tr := &testTransport{}
	tr.reply = func(m *Module, d *Datagram) {
		// the first two transmissions are lost
		if transmissions.Inc() == 3 {
			m.HandleDatagram(replyFrom(d, CommandNumberAck, 0))
		}
	}
	m := newTestModule(3, tr).WithOptions(Options{Retransmissions: 5, AwaitInterval: time.Second, RetransmitInterval: 10 * time.Millisecond})
	cmd := newTestCommand(m, testCmdSet, false)
	require.NoError(t, cmd.Send(context.Background()))
	require.Equal(t, int32(3), transmissions.Load())

	sent := tr.datagrams()
	require.Len(t, sent, 3)
	for _, d := range sent[1:] {
		require.Equal(t, sent[0].MessageNumber, d.MessageNumber)
	}
}

func TestModuleMutualExclusion(t *testing.T) {
	var inFlight, violations atomic.Int32
	tr := &testTransport{}
	tr.reply = func(m *Module, d *Datagram) {
		if inFlight.Inc() > 1 {
			violations.Inc()
		}
		go func() {
			time.Sleep(2 * time.Millisecond)
			inFlight.Dec()
			m.HandleDatagram(replyFrom(d, CommandNumberAck, 0))
		}()
	}
	m := newTestModule(3, tr).WithOptions(Options{Retransmissions: 0, AwaitInterval: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := newTestCommand(m, testCmdSet, false).Send(context.Background()); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()
	require.Zero(t, violations.Load())
	require.Len(t, tr.datagrams(), 40)
}

func TestModuleLockIsReentrantAndCancellable(t *testing.T) {
	m := NewSimulatedModule(3)
	owner := newTestCommand(m, testCmdSet, false)
	require.NoError(t, m.AcquireNetworkLock(context.Background(), owner))
	require.NoError(t, m.AcquireNetworkLock(context.Background(), owner))

	other := newTestCommand(m, testCmdSet, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := other.Send(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	// a non-owner release is ignored
	m.ReleaseNetworkLock(other)
	m.ReleaseNetworkLock(owner)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	require.Error(t, m.AcquireNetworkLock(ctx2, other))

	m.ReleaseNetworkLock(owner)
	require.NoError(t, other.Send(context.Background()))
}

func TestModuleSimulated(t *testing.T) {
	m := NewSimulatedModule(3)
	require.False(t, m.IsLive())

	echo := newTestCommand(m, testCmdEcho, true)
	echo.PretendResponse().(*testResponse).data = []byte{7}
	resp, err := echo.SendReceive(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte{7}, resp.(*testResponse).data)

	require.NoError(t, newTestCommand(m, testCmdSet, false).Send(context.Background()))
	require.Zero(t, m.UnfinishedCount())
	require.Zero(t, m.AttentionCount())
}

func TestModuleNackUnfinished(t *testing.T) {
	tr := &testTransport{}
	m := newTestModule(3, tr).WithOptions(Options{Retransmissions: 0, AwaitInterval: time.Minute})
	echo := newTestCommand(m, testCmdEcho, true)

	errCh := make(chan error, 1)
	go func() {
		_, err := echo.SendReceive(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return m.UnfinishedCount() == 1 }, time.Second, time.Millisecond)
	m.NackUnfinished()

	err := <-errCh
	var nackErr *NackError
	require.True(t, errors.As(err, &nackErr))
	require.Equal(t, ReasonAbandonedWaitingForResponse, nackErr.Reason)
	require.Zero(t, m.UnfinishedCount())
}

func TestModulePretendFinishUnfinished(t *testing.T) {
	tr := &testTransport{}
	m := newTestModule(3, tr).WithOptions(Options{Retransmissions: 0, AwaitInterval: time.Minute})
	set := newTestCommand(m, testCmdSet, false)

	errCh := make(chan error, 1)
	go func() { errCh <- set.Send(context.Background()) }()
	require.Eventually(t, func() bool { return m.UnfinishedCount() == 1 }, time.Second, time.Millisecond)
	m.PretendFinishUnfinished()
	require.NoError(t, <-errCh)
	require.Zero(t, m.UnfinishedCount())
}
