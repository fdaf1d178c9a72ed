package mqtt

import (
	"bytes"
	"io"
	"sync"
)

// Topics used to carry the byte stream between the host and the bridge
// which owns the physical connection to the modules.
const (
	TopicUplink   = "uplink"
	TopicDownlink = "downlink"
)

// Stream implements io.ReadWriteCloser over a pair of topics.
// Bytes published to SubTopic are read back in order; each Write is
// published to PubTopic as one message.
type Stream struct {
	Queue    *Queue
	SubTopic string
	PubTopic string
	// CloseQueue also closes Queue when the Stream is closed.
	CloseQueue bool

	sub     *Subscription
	lock    sync.Mutex
	buf     bytes.Buffer
	readyCh chan struct{}
	closeCh chan struct{}
	once    sync.Once
}

// NewStream subscribes sub and creates the Stream.
func NewStream(q *Queue, sub, pub string) (*Stream, error) {
	s := &Stream{
		Queue:    q,
		SubTopic: sub,
		PubTopic: pub,
		readyCh:  make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
	var err error
	if s.sub, err = q.Sub(sub, s.handleMsg); err != nil {
		return nil, err
	}
	return s, nil
}

// NewHostStream creates the Stream used by the host side.
func NewHostStream(q *Queue) (*Stream, error) {
	return NewStream(q, TopicUplink, TopicDownlink)
}

// NewBridgeStream creates the Stream used by the side owning the device.
func NewBridgeStream(q *Queue) (*Stream, error) {
	return NewStream(q, TopicDownlink, TopicUplink)
}

func (s *Stream) handleMsg(_ string, payload []byte) {
	s.lock.Lock()
	s.buf.Write(payload)
	s.lock.Unlock()
	select {
	case s.readyCh <- struct{}{}:
	default:
	}
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	for {
		s.lock.Lock()
		if s.buf.Len() > 0 {
			n, err := s.buf.Read(p)
			s.lock.Unlock()
			return n, err
		}
		s.lock.Unlock()
		select {
		case <-s.readyCh:
		case <-s.closeCh:
			return 0, io.EOF
		}
	}
}

// Write implements io.Writer.
func (s *Stream) Write(p []byte) (int, error) {
	select {
	case <-s.closeCh:
		return 0, io.ErrClosedPipe
	default:
	}
	if err := s.Queue.Pub(s.PubTopic, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements io.Closer.
func (s *Stream) Close() (err error) {
	s.once.Do(func() {
		close(s.closeCh)
		err = s.sub.Close()
		if s.CloseQueue {
			s.Queue.Close()
		}
	})
	return
}
