// Package gobwas_ws_conn implements the Conn interface from
// https://github.com/SirGFM/go-chat-rooms over a WebSocket connection from
// https://github.com/gobwas/ws.
package gobwas_ws_conn

import (
    "errors"
    gochat "github.com/SirGFM/go-chat-rooms"
    "github.com/gobwas/ws"
    "github.com/gobwas/ws/wsutil"
    "log"
    "net"
    "net/http"
    "sync"
    "sync/atomic"
    "time"
)

// defaultPing is sent on ping messages as the application data.
const defaultPing = "go_chat_rooms says hi"

// module is the string used when logging messages from this package.
const module = "go-chat-rooms/gobwas-ws-conn"

// Options configures connections created by NewConn.
type Options struct {
    // Timeout without receiving anything before the remote endpoint gets
    // pinged. The connection is closed if it times out twice in a row.
    Timeout time.Duration

    // WriteTimeout bounds each frame written to the remote endpoint. Zero
    // disables it.
    WriteTimeout time.Duration

    // ReadLimit is the largest message accepted from the remote endpoint.
    // Bigger messages close the connection. Zero disables it.
    ReadLimit int

    // Logger used to report failures. If this is nil, no message shall be
    // logged!
    Logger *log.Logger
}

// GetDefaultOptions retrieve the options used by the chat server.
func GetDefaultOptions() Options {
    return Options {
        Timeout: time.Minute,
        WriteTimeout: time.Second * 10,
        ReadLimit: 64 * 1024,
    }
}

// gbwConn wrap a raw, upgraded, net.Conn into a gochat.Conn.
type gbwConn struct {
    conn net.Conn

    opts Options

    // pending holds text messages already read but not yet returned by
    // Recv. Only accessed by Recv.
    pending []string

    // buf is reused across reads. Only accessed by Recv.
    buf []wsutil.Message

    // timedOut is set after the first consecutive timeout, when the remote
    // endpoint gets pinged. Only accessed by Recv.
    timedOut bool

    // sendMutex synchronizes write operations on `conn`.
    sendMutex sync.Mutex

    // Whether the connection is currently active.
    active uint32
}

func (c *gbwConn) isActive() bool {
    return atomic.LoadUint32(&c.active) == 1
}

func (c *gbwConn) logf(format string, args ...interface{}) {
    if c.opts.Logger != nil {
        c.opts.Logger.Printf("[ERROR] " + module + ": " + format, args...)
    }
}

// Close the connection, notifying the remote endpoint.
//
// This can safely be called multiple times (and from multiple goroutines).
func (c *gbwConn) Close() error {
    if atomic.CompareAndSwapUint32(&c.active, 1, 0) {
        c.sendMutex.Lock()
        c.conn.SetWriteDeadline(time.Now().Add(time.Second))
        body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
        ws.WriteFrame(c.conn, ws.NewCloseFrame(body))
        c.conn.Close()
        c.sendMutex.Unlock()
    }

    return nil
}

// send a single frame, properly synchronizing the connection.
func (c *gbwConn) send(op ws.OpCode, data []byte) error {
    c.sendMutex.Lock()
    defer c.sendMutex.Unlock()

    if !c.isActive() {
        return gochat.ConnEOF
    }

    if c.opts.WriteTimeout > 0 {
        c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
    }
    return wsutil.WriteServerMessage(c.conn, op, data)
}

// SendStr send `msg`, previously formatted by the caller.
func (c *gbwConn) SendStr(msg string) error {
    op := ws.OpText

    if len(msg) == 0 {
        // In case of empty message, just change it into a pong, to check
        // if the remote endpoint is alive.
        op = ws.OpPong
    }

    return c.send(op, []byte(msg))
}

// read wait for the next batch of messages, handling timeouts.
func (c *gbwConn) read() ([]wsutil.Message, error) {
    for {
        c.conn.SetReadDeadline(time.Now().Add(c.opts.Timeout))

        msgs, err := wsutil.ReadClientMessage(c.conn, c.buf[:0])
        var netErr net.Error
        if errors.As(err, &netErr) && netErr.Timeout() && !c.timedOut {
            // Try to ping the remote endpoint and see if there's any
            // response.
            c.timedOut = true
            err = c.send(ws.OpPing, []byte(defaultPing))
            if err != nil {
                return nil, err
            }
            continue
        } else if err != nil {
            return nil, err
        }

        c.timedOut = false
        return msgs, nil
    }
}

// Recv blocks until a new text message was received.
func (c *gbwConn) Recv() (string, error) {
    for c.isActive() {
        if len(c.pending) > 0 {
            msg := c.pending[0]
            c.pending = c.pending[1:]
            return msg, nil
        }

        msgs, err := c.read()
        if err != nil {
            if c.isActive() {
                c.logf("Couldn't read from the connection: %+v", err)
            }
            c.Close()
            return "", gochat.ConnEOF
        }
        c.buf = msgs

        for i := range msgs {
            data := &(msgs[i])

            switch data.OpCode {
            case ws.OpClose:
                c.Close()
                return "", gochat.ConnEOF
            case ws.OpPing:
                err = c.send(ws.OpPong, data.Payload)
                if err != nil {
                    c.Close()
                    return "", gochat.ConnEOF
                }
            case ws.OpText:
                if c.opts.ReadLimit > 0 && len(data.Payload) > c.opts.ReadLimit {
                    c.logf("Message too big: %d bytes", len(data.Payload))
                    c.Close()
                    return "", gochat.ConnEOF
                }
                c.pending = append(c.pending, string(data.Payload))
            default:
                // Pongs only count as activity, and binary messages aren't
                // part of the protocol.
            }
        }
    }

    return "", gochat.ConnEOF
}

// NewConn upgrade a HTTP connection to a Chat Connection.
//
// The connection times out if it doesn't receive any message from its
// remote endpoint in `opts.Timeout`. Upon timing out, the connection will
// first try to ping the remote end point, but it will close if there's no
// response in a timely manner.
func NewConn(opts Options, w http.ResponseWriter, req *http.Request) (gochat.Conn, error) {
    if opts.Timeout <= 0 {
        opts.Timeout = GetDefaultOptions().Timeout
    }

    conn, _, _, err := ws.UpgradeHTTP(req, w)
    if err != nil {
        return nil, err
    }

    c := &gbwConn {
        conn: conn,
        opts: opts,
        buf: make([]wsutil.Message, 0, 4),
        active: 1,
    }
    return c, nil
}
