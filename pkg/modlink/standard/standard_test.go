package standard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/modlink/pkg/modlink"
)

// fakeModule answers datagrams as module firmware would.
type fakeModule struct {
	answer func(d *modlink.Datagram) *modlink.Datagram

	lock sync.Mutex
	mod  *modlink.Module
	sent []*modlink.Datagram
}

func newFakeModule(answer func(d *modlink.Datagram) *modlink.Datagram) (*fakeModule, *modlink.Module) {
	f := &fakeModule{answer: answer}
	f.mod = modlink.NewModule(2, f).WithOptions(modlink.Options{
		Retransmissions:    0,
		AwaitInterval:      100 * time.Millisecond,
		RetransmitInterval: 100 * time.Millisecond,
	})
	return f, f.mod
}

func (f *fakeModule) IsLive() bool { return true }

func (f *fakeModule) Transmit(m modlink.Message) error {
	d := *m.MessageHeader().Serialization()
	f.lock.Lock()
	f.sent = append(f.sent, &d)
	f.lock.Unlock()
	if reply := f.answer(&d); reply != nil {
		reply.Source, reply.Dest, reply.ReferenceNumber = d.Dest, d.Source, d.MessageNumber
		reply.ReceivedAt = time.Now()
		f.mod.HandleDatagram(reply)
	}
	return nil
}

func (f *fakeModule) commandNumbers() []uint16 {
	f.lock.Lock()
	defer f.lock.Unlock()
	var numbers []uint16
	for _, d := range f.sent {
		numbers = append(numbers, d.PacketID)
	}
	return numbers
}

func ack(attention bool) *modlink.Datagram {
	d := &modlink.Datagram{PacketID: modlink.CommandNumberAck, Payload: []byte{0}}
	if attention {
		d.Payload[0] = 1
	}
	return d
}

func response(m modlink.Message) *modlink.Datagram {
	return &modlink.Datagram{PacketID: m.CommandNumber() | modlink.ResponseBit, Payload: m.Payload()}
}

func TestPayloads(t *testing.T) {
	sim := modlink.NewSimulatedModule(2)
	testCases := []struct {
		name   string
		msg    modlink.Message
		expect []byte
	}{
		{"keep alive", NewKeepAlive(sim), nil},
		{"fail safe", NewFailSafe(sim), nil},
		{"get status", NewGetModuleStatus(sim, true), []byte{1}},
		{"status", &ModuleStatus{Status: 0x12, MotorAlerts: 0x21}, []byte{0x12, 0x21}},
		{"query interface", NewQueryInterface(sim, "DEKA"), []byte{'D', 'E', 'K', 'A', 0}},
		{"query interface response", &QueryInterfaceResponse{CommandNumberFirst: 0x1020, NumberOfCommands: 3}, []byte{0x20, 0x10, 3, 0}},
		{"set led color", NewSetModuleLEDColor(sim, Color{R: 1, G: 2, B: 3}), []byte{1, 2, 3}},
		{"led color", &ModuleLEDColor{Color: Color{R: 4, G: 5, B: 6}}, []byte{4, 5, 6}},
		{
			"led pattern",
			NewSetModuleLEDPattern(sim, LEDPatternStep{Duration: 250 * time.Millisecond, Color: Color{R: 0xff}}),
			[]byte{3, 0, 0, 0xff, 0, 0, 0, 0},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, tc.msg.Payload())
			require.True(t, modlink.IsStandardCommandNumber(tc.msg.CommandNumber()))
		})
	}
}

func TestLoadPayloads(t *testing.T) {
	sim := modlink.NewSimulatedModule(2)

	q := NewQueryInterface(sim, "")
	require.NoError(t, q.LoadPayload([]byte{'A', 'B', 0, 'x'}))
	require.Equal(t, "AB", q.InterfaceName)

	var qr QueryInterfaceResponse
	require.Error(t, qr.LoadPayload([]byte{1, 2, 3}))
	require.NoError(t, qr.LoadPayload([]byte{0x00, 0x10, 0x05, 0x00}))
	require.Equal(t, uint16(0x1000), qr.CommandNumberFirst)
	require.Equal(t, uint16(5), qr.NumberOfCommands)

	var st ModuleStatus
	var truncated *modlink.TruncatedFrameError
	require.True(t, errors.As(st.LoadPayload([]byte{1}), &truncated))
	require.NoError(t, st.LoadPayload([]byte{StatusKeepAliveTimeout | StatusFailSafe, 0x21}))
	require.True(t, st.IsKeepAliveTimeout())
	require.True(t, st.IsFailSafe())
	require.False(t, st.IsDeviceReset())
	require.False(t, st.IsBatteryLow())
	require.True(t, st.HasMotorLostCounts(0))
	require.False(t, st.HasMotorLostCounts(1))
	require.True(t, st.IsMotorBridgeOverTemp(1))
	require.Equal(t, "status=0x05 alerts=0x21: KeepAliveTimeout|FailSafe", st.String())

	var color ModuleLEDColor
	require.Error(t, color.LoadPayload([]byte{1, 2}))
	require.NoError(t, color.LoadPayload([]byte{1, 2, 3}))
	require.Equal(t, "#010203", color.Color.String())
	parsed, err := ParseColor("#0a0B0c")
	require.NoError(t, err)
	require.Equal(t, Color{R: 10, G: 11, B: 12}, parsed)
	_, err = ParseColor("#0a0b")
	require.Error(t, err)

	pattern := NewSetModuleLEDPattern(sim)
	require.NoError(t, pattern.LoadPayload([]byte{5, 1, 2, 3, 10, 4, 5, 6, 0, 0, 0, 0}))
	require.Equal(t, []LEDPatternStep{
		{Duration: 500 * time.Millisecond, Color: Color{R: 3, G: 2, B: 1}},
		{Duration: time.Second, Color: Color{R: 6, G: 5, B: 4}},
	}, pattern.Steps)

	var steps []LEDPatternStep
	for i := 0; i < MaxLEDPatternSteps+2; i++ {
		steps = append(steps, LEDPatternStep{Duration: time.Minute})
	}
	full := NewSetModuleLEDPattern(sim, steps...)
	require.Len(t, full.Steps, MaxLEDPatternSteps)
	require.Len(t, full.Payload(), MaxLEDPatternSteps*4)
	require.Equal(t, byte(255), full.Payload()[0])
}

func TestStandardCommandsOverModule(t *testing.T) {
	fake, m := newFakeModule(func(d *modlink.Datagram) *modlink.Datagram {
		switch d.PacketID {
		case modlink.CommandNumberGetModuleStatus:
			return response(&ModuleStatus{Status: StatusDeviceReset})
		case modlink.CommandNumberGetModuleLEDColor:
			return response(&ModuleLEDColor{Color: Color{R: 9}})
		default:
			return ack(false)
		}
	})
	ctx := context.Background()

	require.NoError(t, NewKeepAlive(m).Send(ctx))
	require.NoError(t, NewFailSafe(m).Send(ctx))
	require.NoError(t, NewSetModuleLEDColor(m, Color{R: 9}).Send(ctx))

	resp, err := NewGetModuleStatus(m, false).SendReceive(ctx)
	require.NoError(t, err)
	require.True(t, resp.(*ModuleStatus).IsDeviceReset())

	resp, err = NewGetModuleLEDColor(m).SendReceive(ctx)
	require.NoError(t, err)
	require.Equal(t, Color{R: 9}, resp.(*ModuleLEDColor).Color)

	require.Equal(t, []uint16{
		modlink.CommandNumberKeepAlive,
		modlink.CommandNumberFailSafe,
		modlink.CommandNumberSetModuleLEDColor,
		modlink.CommandNumberGetModuleStatus,
		modlink.CommandNumberGetModuleLEDColor,
	}, fake.commandNumbers())
}

func newTestInterface() *modlink.InterfaceDescriptor {
	return modlink.NewInterface("DEKA",
		&modlink.CommandType{Name: "GetBulkInputData", Response: &modlink.ResponseType{Name: "BulkInputData"}},
		nil,
		&modlink.CommandType{Name: "SetMotorPower"},
	)
}

func TestInterrogate(t *testing.T) {
	testCases := []struct {
		name      string
		count     uint16
		supported []bool
	}{
		{"all commands", 3, []bool{true, false, true}},
		{"older module", 2, []bool{true, false, false}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			iface := newTestInterface()
			_, m := newFakeModule(func(d *modlink.Datagram) *modlink.Datagram {
				var q QueryInterface
				require.NoError(t, q.LoadPayload(d.Payload))
				require.Equal(t, "DEKA", q.InterfaceName)
				return response(&QueryInterfaceResponse{CommandNumberFirst: 0x1000, NumberOfCommands: tc.count})
			})
			ok, err := Interrogate(context.Background(), m, iface)
			require.NoError(t, err)
			require.True(t, ok)
			require.False(t, iface.WasRejected())
			require.Equal(t, uint16(0x1000), iface.BaseCommandNumber())
			for i, supported := range tc.supported {
				require.Equal(t, supported, m.IsCommandSupported(0x1000+uint16(i)), "slot %d", i)
			}
		})
	}
}

func TestInterrogateRejected(t *testing.T) {
	iface := newTestInterface()
	_, m := newFakeModule(func(d *modlink.Datagram) *modlink.Datagram {
		return &modlink.Datagram{PacketID: modlink.CommandNumberNack, Payload: []byte{byte(modlink.ReasonPacketTypeIDUnknown)}}
	})
	ok, err := Interrogate(context.Background(), m, iface)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, iface.WasRejected())
	require.Nil(t, m.Interface("DEKA"))
}

func TestInterrogateTimeout(t *testing.T) {
	iface := newTestInterface()
	_, m := newFakeModule(func(d *modlink.Datagram) *modlink.Datagram { return nil })
	ok, err := Interrogate(context.Background(), m, iface)
	require.False(t, ok)
	var nackErr *modlink.NackError
	require.True(t, errors.As(err, &nackErr))
	require.True(t, nackErr.IsTimeout())
	require.False(t, iface.WasRejected())
}

func TestInterrogateSimulated(t *testing.T) {
	iface := newTestInterface()
	m := modlink.NewSimulatedModule(2)
	ok, err := Interrogate(context.Background(), m, iface)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, m.IsCommandTypeSupported(iface, iface.CommandAt(2)))
}

func TestPinger(t *testing.T) {
	var attention sync.Once
	fake, m := newFakeModule(func(d *modlink.Datagram) *modlink.Datagram {
		switch d.PacketID {
		case modlink.CommandNumberGetModuleStatus:
			if d.Payload[0] != 1 {
				return nil
			}
			return response(&ModuleStatus{Status: StatusKeepAliveTimeout})
		case modlink.CommandNumberKeepAlive:
			requested := false
			attention.Do(func() { requested = true })
			return ack(requested)
		}
		return nil
	})

	statusCh := make(chan *ModuleStatus, 1)
	p := NewPinger(m)
	p.Interval = 20 * time.Millisecond
	p.OnStatus = func(s *ModuleStatus) { statusCh <- s }
	require.Equal(t, "pinger[mod=2]", p.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	select {
	case s := <-statusCh:
		require.True(t, s.IsKeepAliveTimeout())
	case <-time.After(time.Second):
		require.Fail(t, "status not queried on attention")
	}
	require.Eventually(t, func() bool {
		var pings int
		for _, n := range fake.commandNumbers() {
			if n == modlink.CommandNumberKeepAlive {
				pings++
			}
		}
		return pings >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.True(t, errors.Is(<-errCh, context.Canceled))
}
