/*
Package go_chat_rooms implements a connection-agnostic, room-based chat
server whose state lives in a shared Redis store.

The chat is divided into a few components:

 - `ChatServer`: The interface for the actual server
 - `Conn`: A connection to the remote client
 - `Identity`: The user database, which checks passwords and creates
   accounts
 - `TaskQueue`: The durable queue of messages waiting to be persisted

Internally, every connection gets a session in the store (`user:<id>`),
every room is a JSON document (`room:<name>`) and every room's history is a
list (`history:<name>`). Since all of that is in the store, no state is
lost when a single server restarts, other than the connections themselves.

The first step to start a Chat Server is to instantiate it through
`NewServerConf`, giving it the store and the identity collaborator:

    conf := go_chat_rooms.GetDefaultServerConf()
    conf.Store = redis.NewClient(&redis.Options{Addr: "localhost:6379"})
    conf.Identity = users
    // Modify 'conf' as desired
    server, err := go_chat_rooms.NewServerConf(conf)
    if err != nil {
        // Handle the error
    }

Before accepting any connection, sessions left over by a previous process
should be removed:

    _, err = server.PurgeSessions(ctx)

Then, each remote client is added to the server by calling either
`Connect`, which spawns a goroutine to wait for events from the client, or
`ConnectAndWait`, which blocks until the `Conn` gets closed. This second
option may be useful if the server already spawns a goroutine to handle
requests.

    var conn Conn
    id, err := server.Connect(conn)
    if err != nil {
        // Handle the error
    }

From this point onward, `Conn.Recv` blocks waiting for an event, encoded
as:

    {"event": "join_room", "data": {"room": "general"}}

Clients must log in before joining rooms or sending messages. Messages
sent to a room are appended to its history, queued in the `TaskQueue` and
broadcast to every connection in the room, including the sender.

The queue is consumed by a separate process, implemented in the
`persist-worker` package, which copies every message to permanent
storage.

`conn_test.go` implements `mockConn`, which uses chan string to send and
receive messages. The packages `gorilla-ws-conn` and `gobwas-ws-conn`
implement `Conn` over WebSockets.
*/
package go_chat_rooms
