package go_chat_rooms

import (
    "encoding/json"
    "sync/atomic"
    "testing"
    "time"
)

// A simple mock connection, used to test the chat server without an actual
// HTTP connection.
//
// Although the server may use the `Conn` API to use this connection, tests
// must access this structure directly to simulate interactions.
//
// To simulate an event arriving from the client's remote endpoint, push a
// frame into `fromClient`:
//
//     c := newMockConn()
//     /* Connect it to the server. */
//     c.fromClient <- `{"event": "get_rooms"}`
//
// On the other hand, to simulate a client receiving an event, pop a frame
// from `fromServer`, preferably through `TestRecv`, to avoid causing tests
// to hang.
type mockConn struct {
    // fromClient simulates incoming messages (from the server's
    // perspectives) from the client's remote endpoint. Therefore, tests
    // must push directly to this channel.
    fromClient chan string

    // fromServer simulates outgoing messages (from the server's
    // perspectives) to the client's remote endpoint. Therefore, tests must
    // read directly to this channel
    fromServer chan string

    // stop signals, by getting closed, that the channel should get closed.
    stop chan struct{}

    // Whether the connection is currently running.
    running uint32
}

// isClosed check if the connection is closed.
func (mc *mockConn) isClosed() bool {
    return atomic.LoadUint32(&mc.running) == 0
}

// Close the connection.
//
// This can safely be called multiple times without any issue.
func (mc *mockConn) Close() error {
    if atomic.CompareAndSwapUint32(&mc.running, 1, 0) {
        close(mc.stop)
    }
    return nil
}

// Recv blocks until a new message was received.
func (mc *mockConn) Recv() (string, error) {
    select {
    case msg := <-mc.fromClient:
        return msg, nil
    case <-mc.stop:
        return "", ConnEOF
    }
}

// SendStr send `msg`, previously formatted by the caller.
func (mc *mockConn) SendStr(msg string) error {
    if mc.isClosed() {
        return ConnEOF
    }

    select {
    case mc.fromServer <- msg:
        return nil
    case <-mc.stop:
        return ConnEOF
    }
}

// TestSend send an event from the client to the server.
func (mc *mockConn) TestSend(name string, data interface{}) error {
    if mc.isClosed() {
        return ConnEOF
    }

    frame, err := EncodeEvent(name, data)
    if err != nil {
        return err
    }

    select {
    case mc.fromClient <- frame:
        return nil
    case <-mc.stop:
        return ConnEOF
    }
}

// TestSendRaw send an unformatted frame from the client to the server.
func (mc *mockConn) TestSendRaw(frame string) error {
    select {
    case mc.fromClient <- frame:
        return nil
    case <-mc.stop:
        return ConnEOF
    }
}

// TestRecv wait for `timeout` to receive an event from the server.
func (mc *mockConn) TestRecv(timeout time.Duration) (Event, error) {
    select {
    case msg := <-mc.fromServer:
        return DecodeEvent(msg)
    case <-time.After(timeout):
        return Event{}, TestTimeout
    }
}

// newMockConn create a dummy, mock connection that may be used in tests.
func newMockConn() *mockConn {
    return &mockConn {
        fromClient: make(chan string),
        fromServer: make(chan string, 100),
        stop: make(chan struct{}),
        running: 1,
    }
}

// Timeout used to wait for events that should arrive.
const recvTimeout = time.Second * 2

// Timeout used to check that no event arrives.
const silenceTimeout = time.Millisecond * 100

// expectEvent wait for the next event on `mc`, failing the test unless it's
// named `name`. If `v` isn't nil, the event's payload is decoded into it.
func expectEvent(t *testing.T, mc *mockConn, name string, v interface{}) {
    t.Helper()

    ev, err := mc.TestRecv(recvTimeout)
    if err != nil {
        t.Fatalf("Didn't receive '%s': %+v", name, err)
    } else if want, got := name, ev.Name; want != got {
        t.Fatalf("Invalid event received: expected '%s' but got '%s' (%s)", want, got, string(ev.Data))
    }

    if v != nil {
        err = json.Unmarshal(ev.Data, v)
        if err != nil {
            t.Fatalf("Couldn't decode the payload of '%s': %+v", name, err)
        }
    }
}

// expectSilence fail the test if `mc` receives any event.
func expectSilence(t *testing.T, mc *mockConn) {
    t.Helper()

    ev, err := mc.TestRecv(silenceTimeout)
    if err == nil {
        t.Fatalf("Unexpected event received: '%s' (%s)", ev.Name, string(ev.Data))
    }
}
