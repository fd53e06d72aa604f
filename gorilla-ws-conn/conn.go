// Package gorilla_ws_conn implements the Conn interface from
// https://github.com/SirGFM/go-chat-rooms over a WebSocket connection from
// https://github.com/gorilla/websocket.
package gorilla_ws_conn

import (
    gochat "github.com/SirGFM/go-chat-rooms"
    gows "github.com/gorilla/websocket"
    "log"
    "net/http"
    "sync"
    "sync/atomic"
    "time"
)

// defaultPing is sent on ping messages as the application data.
const defaultPing = "go_chat_rooms says hi"

// module is the string used when logging messages from this package.
const module = "go-chat-rooms/gorilla-ws-conn"

// Options configures connections created by NewConn.
type Options struct {
    // Timeout without receiving anything before the remote endpoint gets
    // pinged. The connection is closed if it times out twice in a row.
    Timeout time.Duration

    // WriteTimeout bounds each frame written to the remote endpoint. Zero
    // disables it.
    WriteTimeout time.Duration

    // ReadLimit is the largest frame accepted from the remote endpoint.
    // Bigger frames close the connection. Zero disables it.
    ReadLimit int64

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

// gwsConn wrap a gorilla/ws connection into a gochat.Conn.
type gwsConn struct {
    // The gorilla WebSocket connection.
    conn *gows.Conn

    opts Options

    // ticker generates a message on a channel if `opts.Timeout` elapsed
    // without receiving any message.
    ticker *time.Ticker

    // timeoutCount counts the number of consecutive timeouts that happened.
    timeoutCount uint32

    // sendMutex synchronizes write operations on `conn`.
    sendMutex sync.Mutex

    // Whether the connection is currently active.
    active uint32

    // stop signals, by getting closed, that the connection should get
    // closed.
    stop chan struct{}
}

// isActive check if the connection is still active.
func (c *gwsConn) isActive() bool {
    return atomic.LoadUint32(&c.active) == 1
}

func (c *gwsConn) logf(format string, args ...interface{}) {
    if c.opts.Logger != nil {
        c.opts.Logger.Printf("[ERROR] " + module + ": " + format, args...)
    }
}

// Close the connection.
//
// This can safely be called multiple times (and from multiple goroutines).
func (c *gwsConn) Close() error {
    if atomic.CompareAndSwapUint32(&c.active, 1, 0) {
        c.sendMutex.Lock()
        deadline := time.Now().Add(time.Second)
        msg := gows.FormatCloseMessage(gows.CloseNormalClosure, "")
        c.conn.WriteControl(gows.CloseMessage, msg, deadline)
        c.conn.Close()
        c.sendMutex.Unlock()

        c.ticker.Stop()
        close(c.stop)
    }

    return nil
}

// resetTimeout reset the last timeout.
//
// This must be called whenever this connections receives any message from
// its remote endpoint.
func (c *gwsConn) resetTimeout() {
    atomic.StoreUint32(&c.timeoutCount, 0)
    c.ticker.Reset(c.opts.Timeout)
}

// Recv blocks until a new text frame was received.
func (c *gwsConn) Recv() (string, error) {
    for c.isActive() {
        typ, txt, err := c.conn.ReadMessage()
        if err != nil {
            if !gows.IsCloseError(err, gows.CloseNormalClosure, gows.CloseGoingAway) && c.isActive() {
                c.logf("Couldn't read from the connection: %+v", err)
            }
            c.Close()
            return "", gochat.ConnEOF
        }

        c.resetTimeout()

        if typ == gows.TextMessage {
            return string(txt), nil
        }
        // Binary frames aren't part of the protocol.
    }

    return "", gochat.ConnEOF
}

// send the message, properly synchronizing the connection.
func (c *gwsConn) send(mType int, data []byte) error {
    c.sendMutex.Lock()
    defer c.sendMutex.Unlock()

    if !c.isActive() {
        return gochat.ConnEOF
    }

    if c.opts.WriteTimeout > 0 {
        c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
    }
    return c.conn.WriteMessage(mType, data)
}

// SendStr send `msg`, previously formatted by the caller.
func (c *gwsConn) SendStr(msg string) error {
    mType := gows.TextMessage

    if len(msg) == 0 {
        // In case of empty message, just change it into a pong, to check
        // if the remote endpoint is alive.
        mType = gows.PongMessage
    }

    return c.send(mType, []byte(msg))
}

// detectTimeout wait some time checking if the connection timed out.
//
// After two consecutive timeouts, the connection is automatically closed.
func (c *gwsConn) detectTimeout() {
    for c.isActive() {
        select {
        case <-c.ticker.C:
            if atomic.CompareAndSwapUint32(&c.timeoutCount, 0, 1) {
                // Try to ping the remote endpoint and see if there's any
                // response.
                err := c.send(gows.PingMessage, []byte(defaultPing))
                if err != nil {
                    c.logf("Couldn't ping on timeout: %+v", err)
                    c.Close()
                }
            } else {
                c.Close()
            }
        case <-c.stop:
        }
    }
}

// ping answer pings through `send`, so the pong never races with other
// writes. It also counts as activity.
func (c *gwsConn) ping(appData string) error {
    c.resetTimeout()

    err := c.send(gows.PongMessage, []byte(appData))
    if err == gochat.ConnEOF {
        return nil
    }
    return err
}

// pong count any pong as activity, requested or not.
func (c *gwsConn) pong(appData string) error {
    c.resetTimeout()
    return nil
}

// NewConn upgrade a HTTP connection to a Chat Connection.
//
// The supplied `upgrader` is used to upgrade the HTTP request into a
// WebSocket connection. Other than that, this connection's times out if it
// doesn't receive any message from its remote endpoint in `opts.Timeout`.
// Upon timing out, the connection will first try to ping the remote end
// point, but it will close if there's no response in a timely manner.
//
// Gorilla/ws's documentation specifies that if `SetReadDeadline` is set
// and a read times out, the websocket becomes corrupt. To work around
// that, `NewConn` spawns a goroutine to manually detect timeouts.
func NewConn(upgrader gows.Upgrader, opts Options, w http.ResponseWriter,
        req *http.Request) (gochat.Conn, error) {

    if opts.Timeout <= 0 {
        opts.Timeout = GetDefaultOptions().Timeout
    }

    conn, err := upgrader.Upgrade(w, req, nil)
    if err != nil {
        return nil, err
    }
    if opts.ReadLimit > 0 {
        conn.SetReadLimit(opts.ReadLimit)
    }

    c := &gwsConn {
        conn: conn,
        opts: opts,
        ticker: time.NewTicker(opts.Timeout),
        active: 1,
        stop: make(chan struct{}),
    }
    conn.SetPingHandler(c.ping)
    conn.SetPongHandler(c.pong)
    go c.detectTimeout()

    return c, nil
}
