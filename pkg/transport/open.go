// Package transport opens the byte streams a Link runs over.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/websocket"

	"github.com/robotalks/modlink/pkg/framework"
	"github.com/robotalks/modlink/pkg/transport/mqtt"
)

// DefaultOrigin is the Origin header sent when dialing websockets.
const DefaultOrigin = "http://localhost/"

// Open opens the stream described by a URL:
//
//	/dev/ttyUSB0, file:///dev/ttyUSB0   serial device (line settings left as configured)
//	tcp://host:port                     raw TCP
//	ws://host:port/path, wss://...      binary websocket frames
//	mqtt://host:port/prefix/            uplink/downlink topics of a bridge
func Open(ctx context.Context, rawURL string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid transport URL %q: %w", rawURL, err)
	}
	var rwc io.ReadWriteCloser
	switch u.Scheme {
	case "", "file", "serial":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		var f *os.File
		if f, err = os.OpenFile(path, os.O_RDWR, 0); err == nil {
			rwc = f
		}
	case "tcp":
		var d net.Dialer
		rwc, err = d.DialContext(ctx, "tcp", u.Host)
	case "ws", "wss":
		var conn *websocket.Conn
		if conn, err = DialWebsocket(ctx, rawURL); err == nil {
			rwc = conn
		}
	case "mqtt", "mqtts":
		var s *mqtt.Stream
		if s, err = OpenMQTT(rawURL, false); err == nil {
			rwc = s
		}
	default:
		return nil, fmt.Errorf("unknown transport URL scheme: %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("opened %s", rawURL)
	return rwc, nil
}

// DialWebsocket connects to a websocket carrying binary frames.
func DialWebsocket(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	config, err := websocket.NewConfig(rawURL, DefaultOrigin)
	if err != nil {
		return nil, err
	}
	conn, err := config.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	return conn, nil
}

// OpenMQTT connects to the broker and opens the host side of the stream,
// or the bridge side if bridge is set.
func OpenMQTT(brokerURL string, bridge bool) (*mqtt.Stream, error) {
	q, err := mqtt.NewQueueFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	if err = q.Connect(); err != nil {
		return nil, err
	}
	var s *mqtt.Stream
	if bridge {
		s, err = mqtt.NewBridgeStream(q)
	} else {
		s, err = mqtt.NewHostStream(q)
	}
	if err != nil {
		q.Close()
		return nil, err
	}
	s.CloseQueue = true
	return s, nil
}

// Relay copies bytes both ways until either side fails or ctx is done.
// Both sides are closed on return.
func Relay(ctx context.Context, a, b io.ReadWriteCloser) error {
	errCh := make(chan error, 2)
	copyFn := func(dst io.Writer, src io.Reader, name string) {
		n, err := io.Copy(dst, src)
		glog.V(1).Infof("relay %s stopped after %d bytes: %v", name, n, err)
		if err == nil {
			err = io.EOF
		}
		errCh <- fmt.Errorf("relay %s: %w", name, err)
	}
	closeAll := func() error {
		var errs *multierror.Error
		if err := a.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := b.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		return errs.ErrorOrNil()
	}
	err := framework.RunWithContextCancel(ctx, func() { closeAll() }, func() error {
		go copyFn(b, a, "a->b")
		go copyFn(a, b, "b->a")
		return <-errCh
	})
	if ctx.Err() == nil {
		closeAll()
	}
	<-errCh
	return err
}
