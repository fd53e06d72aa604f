package go_chat_rooms

import (
    "hash/fnv"
)

// Number of locks shared by the rooms to order their messages.
const sendLockCount = 64

// channel is the set of live connections bound to a room. It only exists
// in this process and only decides who receives the room's broadcasts; the
// room's record in the store is the source of truth for its membership.
type channel struct {
    // name of the room.
    name string

    // clients bound to the room, by connection id.
    clients map[string]*client
}

// bindChannel move `c` into the channel of `room`, creating it as needed.
func (s *server) bindChannel(c *client, room string) {
    s.lockClients.Lock()
    defer s.lockClients.Unlock()

    if c.channel != nil && c.channel.name == room {
        return
    }
    s.unbindChannelUnsafe(c)

    ch, ok := s.channels[room]
    if !ok {
        ch = &channel {
            name: room,
            clients: make(map[string]*client),
        }
        s.channels[room] = ch
    }
    ch.clients[c.id] = c
    c.channel = ch
}

// unbindChannel remove `c` from whichever channel it was bound to.
func (s *server) unbindChannel(c *client) {
    s.lockClients.Lock()
    s.unbindChannelUnsafe(c)
    s.lockClients.Unlock()
}

// unbindChannelUnsafe remove `c` from its channel, assuming that access to
// the channels is properly synchronized. Empty channels are released.
func (s *server) unbindChannelUnsafe(c *client) {
    ch := c.channel
    if ch == nil {
        return
    }

    delete(ch.clients, c.id)
    if len(ch.clients) == 0 {
        delete(s.channels, ch.name)
    }
    c.channel = nil
}

// channelClients retrieve a snapshot of the clients bound to `room`.
func (s *server) channelClients(room string) []*client {
    s.lockClients.Lock()
    defer s.lockClients.Unlock()

    ch, ok := s.channels[room]
    if !ok {
        return nil
    }

    list := make([]*client, 0, len(ch.clients))
    for _, c := range ch.clients {
        list = append(list, c)
    }
    return list
}

// allClients retrieve a snapshot of every live client.
func (s *server) allClients() []*client {
    s.lockClients.Lock()
    defer s.lockClients.Unlock()

    list := make([]*client, 0, len(s.clients))
    for _, c := range s.clients {
        list = append(list, c)
    }
    return list
}

// messageClient send `frame` to the client `c`.
//
// If the frame can't be sent, the client gets closed. Its own goroutine
// then notices it and runs the disconnect cleanup.
func (s *server) messageClient(c *client, frame string) {
    err := c.SendStr(frame)
    if err == nil {
        return
    }

    if err == ConnEOF {
        s.log.Debug("channel", "Connection to client was closed.",
                "conn", c.id)
    } else {
        s.log.Error("channel", "Couldn't send a message to the client.",
                "conn", c.id, "error", err)
    }
    c.Close()
}

// reply send an event only to `c`.
func (s *server) reply(c *client, name string, data interface{}) {
    frame, err := EncodeEvent(name, data)
    if err != nil {
        s.log.Error("channel", "Couldn't encode the event.",
                "event", name, "error", err)
        return
    }

    s.messageClient(c, frame)
}

// broadcast send an event to every client in `list`. The event is encoded
// only once.
//
// This is best-effort: a client that disconnects after the list was taken
// simply doesn't receive it.
func (s *server) broadcast(list []*client, name string, data interface{}) {
    if len(list) == 0 {
        return
    }

    frame, err := EncodeEvent(name, data)
    if err != nil {
        s.log.Error("channel", "Couldn't encode the event.",
                "event", name, "error", err)
        return
    }

    for _, c := range list {
        s.messageClient(c, frame)
    }
}

// broadcastRoom send an event to every client bound to `room`.
func (s *server) broadcastRoom(room, name string, data interface{}) {
    s.log.Debug("channel", "Broadcasting to room.",
            "room", room, "event", name)
    s.broadcast(s.channelClients(room), name, data)
}

// broadcastAll send an event to every connected client.
func (s *server) broadcastAll(name string, data interface{}) {
    s.log.Debug("channel", "Broadcasting to everyone.",
            "event", name)
    s.broadcast(s.allClients(), name, data)
}

// lockRoom serialize the messages sent to `room`, returning the function
// that releases it. Rooms share a fixed set of locks, so unrelated rooms
// may occasionally wait on each other.
func (s *server) lockRoom(room string) func() {
    h := fnv.New32a()
    h.Write([]byte(room))

    m := &s.lockSend[h.Sum32() % sendLockCount]
    m.Lock()
    return m.Unlock
}
