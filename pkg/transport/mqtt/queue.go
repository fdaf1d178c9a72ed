package mqtt

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
)

// DefaultTimeout bounds the wait on broker acknowledgements.
const DefaultTimeout = 5 * time.Second

// Handler is the callback when a message is received.
type Handler func(topic string, payload []byte)

// ConnectHandler is to handle connect/disconnect events.
type ConnectHandler func(*Queue)

// Queue wraps MQTT client. All topics are relative to TopicPrefix.
type Queue struct {
	Client       paho.Client
	TopicPrefix  string
	Timeout      time.Duration
	OnConnect    ConnectHandler
	OnDisconnect ConnectHandler

	subsLock sync.RWMutex
	subs     map[string][]*Subscription
}

// Subscription is a subscribed topic.
type Subscription struct {
	queue   *Queue
	topic   string
	handler Handler
}

// MatchTopic matches topic with pattern.
func MatchTopic(topic, pattern string) bool {
	tokensT, tokensP := strings.Split(topic, "/"), strings.Split(pattern, "/")
	for i, token := range tokensP {
		if token == "#" && i+1 == len(tokensP) {
			return true
		}
		if i >= len(tokensT) {
			return false
		}
		if token != "+" && token != tokensT[i] {
			return false
		}
	}
	return len(tokensP) == len(tokensT)
}

// DefaultClientID derives a client id from the machine id, unique per process.
func DefaultClientID() string {
	id, err := machineid.ProtectedID("modlink")
	if err != nil {
		glog.V(1).Infof("machine id unavailable: %v", err)
		return fmt.Sprintf("modlink-%d", os.Getpid())
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("modlink-%s-%d", id, os.Getpid())
}

// ClientOptionsFromURL creates ClientOptions from URL
// mqtt://[user[:password]@]host:port/topic-prefix/?client-id=id.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	scheme := u.Scheme
	switch scheme {
	case "", "mqtt":
		scheme = "tcp"
	case "mqtts":
		scheme = "ssl"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	clientID := u.Query().Get("client-id")
	if clientID == "" {
		clientID = DefaultClientID()
	}
	opts.SetClientID(clientID)

	return opts, strings.TrimPrefix(u.Path, "/"), nil
}

// NewQueue creates Queue.
func NewQueue(options *paho.ClientOptions, topicPrefix string) *Queue {
	q := &Queue{TopicPrefix: topicPrefix, Timeout: DefaultTimeout}
	options.SetOnConnectHandler(q.OnConnectHandler)
	options.SetConnectionLostHandler(q.ConnectionLostHandler)
	q.Client = paho.NewClient(options)
	return q
}

// NewQueueFromURL creates Queue from URL.
func NewQueueFromURL(brokerURL string) (*Queue, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return NewQueue(opts, topicPrefix), nil
}

func (q *Queue) wait(token paho.Token, what string) error {
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt %s: timeout after %v", what, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", what, err)
	}
	return nil
}

// Connect connects the client and waits for the broker.
func (q *Queue) Connect() error {
	return q.wait(q.Client.Connect(), "connect")
}

// Close implements io.Closer.
func (q *Queue) Close() error {
	q.Client.Disconnect(250)
	return nil
}

// Sub subscribes a topic. The broker subscription is shared by all
// handlers of the same topic.
func (q *Queue) Sub(topic string, handler Handler) (*Subscription, error) {
	sub := &Subscription{queue: q, topic: topic, handler: handler}
	q.subsLock.Lock()
	if q.subs == nil {
		q.subs = make(map[string][]*Subscription)
	}
	subs := q.subs[topic]
	q.subs[topic] = append(subs, sub)
	q.subsLock.Unlock()

	if len(subs) > 0 {
		return sub, nil
	}
	glog.V(2).Infof("SUB %q", q.TopicPrefix+topic)
	if err := q.wait(q.Client.Subscribe(q.TopicPrefix+topic, 0, q.dispatcher(topic)), "subscribe "+topic); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// Pub publishes to a topic and waits for it to be sent.
func (q *Queue) Pub(topic string, payload []byte) error {
	return q.PubWith(topic, payload, 0, false)
}

// PubWith publishes with QoS and retain settings.
func (q *Queue) PubWith(topic string, payload []byte, qos byte, retain bool) error {
	return q.wait(q.Client.Publish(q.TopicPrefix+topic, qos, retain, payload), "publish "+topic)
}

// Resubscribe is used in OnConnect handler to subscribe all existing topics.
func (q *Queue) Resubscribe() error {
	q.subsLock.RLock()
	topics := make([]string, 0, len(q.subs))
	for topic := range q.subs {
		topics = append(topics, topic)
	}
	q.subsLock.RUnlock()
	var errs *multierror.Error
	for _, topic := range topics {
		glog.V(2).Infof("SUB %q", q.TopicPrefix+topic)
		if err := q.wait(q.Client.Subscribe(q.TopicPrefix+topic, 0, q.dispatcher(topic)), "subscribe "+topic); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// OnConnectHandler is the default implementation of paho.OnConnectHandler.
func (q *Queue) OnConnectHandler(paho.Client) {
	glog.Info("mqtt connected")
	// paho handlers must not block on tokens
	go func() {
		if err := q.Resubscribe(); err != nil {
			glog.Errorf("resubscribe: %v", err)
		}
	}()
	if h := q.OnConnect; h != nil {
		h(q)
	}
}

// ConnectionLostHandler is the default implementation of paho.ConnectLostHandler.
func (q *Queue) ConnectionLostHandler(c paho.Client, err error) {
	glog.Warningf("mqtt connection lost: %v", err)
	if h := q.OnDisconnect; h != nil {
		h(q)
	}
}

// dispatcher delivers messages of one subscribed pattern. paho calls the
// dispatcher of every matching pattern, so overlapping subscriptions don't
// duplicate deliveries.
func (q *Queue) dispatcher(pattern string) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		topic := msg.Topic()
		if !strings.HasPrefix(topic, q.TopicPrefix) {
			return
		}
		topic = topic[len(q.TopicPrefix):]
		if !MatchTopic(topic, pattern) {
			return
		}
		glog.V(3).Infof("RCV %q", topic)
		q.subsLock.RLock()
		subs := q.subs[pattern]
		handlers := make([]Handler, 0, len(subs))
		for _, sub := range subs {
			handlers = append(handlers, sub.handler)
		}
		q.subsLock.RUnlock()
		payload := msg.Payload()
		for _, h := range handlers {
			h(topic, payload)
		}
	}
}

// Topic returns the subscribed topic without prefix.
func (s *Subscription) Topic() string {
	return s.topic
}

// Close unsubscribes a handler.
func (s *Subscription) Close() error {
	q := s.queue
	q.subsLock.Lock()
	subs := q.subs[s.topic]
	for i, sub := range subs {
		if sub == s {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(q.subs, s.topic)
	} else {
		q.subs[s.topic] = subs
	}
	q.subsLock.Unlock()
	if len(subs) > 0 {
		return nil
	}
	glog.V(2).Infof("UNSUB %q", q.TopicPrefix+s.topic)
	return q.wait(q.Client.Unsubscribe(q.TopicPrefix+s.topic), "unsubscribe "+s.topic)
}
