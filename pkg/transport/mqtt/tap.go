package mqtt

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"go.uber.org/atomic"

	"github.com/robotalks/modlink/pkg/framework"
	"github.com/robotalks/modlink/pkg/modlink"
)

// TopicTap is where tapped datagrams are published.
const TopicTap = "tap"

// DefaultTapQueueSize is the number of records buffered before dropping.
const DefaultTapQueueSize = 64

var (
	_ modlink.Tap        = (*TapPublisher)(nil)
	_ framework.Runnable = (*TapPublisher)(nil)
)

// Record is a datagram observed on a Link.
type Record struct {
	Direction modlink.Direction
	Time      time.Time
	Frame     []byte
}

// NewRecord captures the datagram, which is left unmodified.
func NewRecord(dir modlink.Direction, d *modlink.Datagram) (*Record, error) {
	frame, err := d.Encode()
	if err != nil {
		return nil, err
	}
	at := d.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	return &Record{Direction: dir, Time: at, Frame: frame}, nil
}

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}

func numberValue(n uint16) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: float64(n)}}
}

func boolValue(b bool) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_BoolValue{BoolValue: b}}
}

// Struct converts the record into a protobuf Struct with decoded fields
// alongside the raw frame.
func (r *Record) Struct() *structpb.Struct {
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		"direction": stringValue(r.Direction.String()),
		"time":      stringValue(r.Time.UTC().Format(time.RFC3339Nano)),
		"frame":     stringValue(hex.EncodeToString(r.Frame)),
	}}
	if d, err := modlink.ParseDatagram(r.Frame); err == nil {
		s.Fields["dest"] = numberValue(uint16(d.Dest))
		s.Fields["source"] = numberValue(uint16(d.Source))
		s.Fields["messageNumber"] = numberValue(uint16(d.MessageNumber))
		s.Fields["referenceNumber"] = numberValue(uint16(d.ReferenceNumber))
		s.Fields["commandNumber"] = numberValue(d.CommandNumber())
		s.Fields["response"] = boolValue(d.IsResponse())
	}
	return s
}

// Marshal encodes the record in protobuf wire format.
func (r *Record) Marshal() ([]byte, error) {
	return proto.Marshal(r.Struct())
}

// JSON renders the record.
func (r *Record) JSON() (string, error) {
	m := jsonpb.Marshaler{OrigName: true}
	return m.MarshalToString(r.Struct())
}

// Datagram decodes the frame.
func (r *Record) Datagram() (*modlink.Datagram, error) {
	return modlink.ParseDatagram(r.Frame)
}

// UnmarshalRecord decodes a record published by TapPublisher.
func UnmarshalRecord(payload []byte) (*Record, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("tap record: %w", err)
	}
	r := &Record{}
	switch dir := s.Fields["direction"].GetStringValue(); dir {
	case modlink.Inbound.String():
		r.Direction = modlink.Inbound
	case modlink.Outbound.String():
		r.Direction = modlink.Outbound
	default:
		return nil, fmt.Errorf("tap record: invalid direction %q", dir)
	}
	var err error
	if r.Time, err = time.Parse(time.RFC3339Nano, s.Fields["time"].GetStringValue()); err != nil {
		return nil, fmt.Errorf("tap record: %w", err)
	}
	if r.Frame, err = hex.DecodeString(s.Fields["frame"].GetStringValue()); err != nil {
		return nil, fmt.Errorf("tap record: %w", err)
	}
	return r, nil
}

// TapPublisher publishes datagrams passing through a Link. Records are
// queued so the Link is never blocked on the broker; records are dropped
// when the queue is full.
type TapPublisher struct {
	Queue *Queue
	Topic string

	recordCh chan *Record
	dropped  atomic.Uint64
}

// NewTapPublisher creates a TapPublisher.
func NewTapPublisher(q *Queue) *TapPublisher {
	return &TapPublisher{
		Queue:    q,
		Topic:    TopicTap,
		recordCh: make(chan *Record, DefaultTapQueueSize),
	}
}

// Name implements framework.Named.
func (p *TapPublisher) Name() string {
	return "tap[" + p.Queue.TopicPrefix + p.Topic + "]"
}

// TapDatagram implements modlink.Tap.
func (p *TapPublisher) TapDatagram(dir modlink.Direction, d *modlink.Datagram) {
	r, err := NewRecord(dir, d)
	if err != nil {
		glog.Warningf("tap: %v", err)
		return
	}
	select {
	case p.recordCh <- r:
	default:
		if n := p.dropped.Inc(); n == 1 || n%100 == 0 {
			glog.Warningf("tap: %d records dropped", n)
		}
	}
}

// Dropped returns the number of records dropped.
func (p *TapPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Run implements framework.Runnable.
func (p *TapPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-p.recordCh:
			payload, err := r.Marshal()
			if err == nil {
				err = p.Queue.Pub(p.Topic, payload)
			}
			if err != nil {
				glog.Warningf("tap: %v", err)
			}
		}
	}
}

// SubscribeTap delivers records published to topic.
func SubscribeTap(q *Queue, topic string, fn func(*Record)) (*Subscription, error) {
	return q.Sub(topic, func(_ string, payload []byte) {
		r, err := UnmarshalRecord(payload)
		if err != nil {
			glog.Warningf("%v", err)
			return
		}
		fn(r)
	})
}
