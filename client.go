package go_chat_rooms

import (
    "io"
    "sync/atomic"
)

// Conn is a generic interface for sending and receiving messages.
type Conn interface {
    io.Closer

    // Recv blocks until a new message was received.
    Recv() (string, error)

    // SendStr send `msg`, previously formatted by the caller.
    SendStr(msg string) error
}

// client represent a live connection to the server.
type client struct {
    // id uniquely identifies this connection. It's also the key of the
    // connection's session.
    id string

    // The connection to the user's remote endpoint.
    conn Conn

    // channel is the room this connection is bound to for broadcasts. It's
    // synchronized by the server's lockClients.
    channel *channel

    // Whether the client is currently running.
    running uint32
}

// isRunning check if the client is still running.
func (c *client) isRunning() bool {
    return atomic.LoadUint32(&c.running) == 1
}

// run wait for new events from the remote endpoint and forward them to
// `handle`, until the connection gets closed.
//
// Frames that can't be decoded are passed to `drop` and otherwise ignored.
func (c *client) run(handle func(*client, Event), drop func(*client, string)) {
    for c.isRunning() {
        frame, err := c.conn.Recv()
        if err != nil {
            c.Close()
            return
        }

        ev, err := DecodeEvent(frame)
        if err != nil {
            drop(c, frame)
            continue
        }

        handle(c, ev)
    }
}

// SendStr a new, formatted, frame to the client.
func (c *client) SendStr(frame string) error {
    if !c.isRunning() {
        return ConnEOF
    }
    return c.conn.SendStr(frame)
}

// Close the client's connection.
//
// This can safely be called multiple times (and from multiple goroutines),
// as it will only run on the first call.
func (c *client) Close() error {
    if atomic.CompareAndSwapUint32(&c.running, 1, 0) {
        c.conn.Close()
    }

    return nil
}

// newClient wrap `conn` into a running client identified by `id`.
func newClient(id string, conn Conn) *client {
    return &client {
        id: id,
        conn: conn,
        running: 1,
    }
}
