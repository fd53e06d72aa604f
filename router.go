package go_chat_rooms

import (
    "context"
    "errors"
    "strings"
    "time"
)

// Messages sent back on failed requests.
const (
    msgUserDoesNotExist = "User does not exist."
    msgIncorrectPassword = "Incorrect password."
    msgInvalidLogin = "Invalid username or password."
    msgMissingCredentials = "Username and password are required."
    msgUsernameTaken = "Username already taken."
    msgRoomExists = "Room already exists or invalid."
    msgRoomNotFound = "Room not found."
    msgRoomNotSpecified = "Room not specified."
    msgInternalError = "Internal server error."
)

// responseOf maps requests to the event that answers them.
var responseOf = map[string]string {
    EvLogin: EvLoginResponse,
    EvRegister: EvRegisterResponse,
    EvCreateRoom: EvCreateRoomResponse,
    EvDeleteRoom: EvDeleteRoomResponse,
    EvClearHistory: EvClearHistoryResponse,
}

// handleEvent run the transition requested by `ev` for the client `c`.
//
// Events from a single client are handled in the order they arrive. Events
// from different clients run concurrently, touching only the client's own
// session and the rooms named in the event.
func (s *server) handleEvent(c *client, ev Event) {
    ctx, cancel := s.opContext()
    defer cancel()

    s.log.Debug("router", "Event received.",
            "conn", c.id, "event", ev.Name)

    var err error
    switch ev.Name {
    case EvLogin:
        err = s.login(ctx, c, ev)
    case EvRegister:
        err = s.registerAccount(ctx, c, ev)
    case EvReconnectLogin:
        err = s.reconnectLogin(ctx, c, ev)
    case EvLogout:
        err = s.logout(ctx, c)
    case EvGetRooms:
        err = s.getRooms(ctx, c)
    case EvCreateRoom:
        err = s.createRoom(ctx, c, ev)
    case EvDeleteRoom:
        err = s.deleteRoom(ctx, c, ev)
    case EvClearHistory:
        err = s.clearHistory(ctx, c, ev)
    case EvJoinRoom:
        err = s.joinRoom(ctx, c, ev)
    case EvSendMessage:
        err = s.sendMessage(ctx, c, ev)
    default:
        s.log.Debug("router", "Ignoring unknown event.",
                "conn", c.id, "event", ev.Name)
        return
    }

    if errors.Is(err, InvalidEvent) {
        // Malformed payloads are dropped like any other invalid request.
        s.log.Debug("router", "Dropping event with an invalid payload.",
                "conn", c.id, "event", ev.Name, "error", err)
    } else if err != nil {
        s.log.Error("router", "Couldn't handle the event.",
                "conn", c.id, "event", ev.Name, "error", err)
        s.replyFailure(c, ev.Name)
    }
}

// dropFrame log a frame that isn't a valid event.
func (s *server) dropFrame(c *client, frame string) {
    s.log.Debug("router", "Dropping invalid frame.",
            "conn", c.id, "frame", frame)
}

// replyFailure tell `c` that its request failed because of the server.
func (s *server) replyFailure(c *client, name string) {
    if res, ok := responseOf[name]; ok {
        s.reply(c, res, Response {
            Success: false,
            Message: msgInternalError,
        })
    } else {
        s.reply(c, EvError, ErrorInfo {
            Message: msgInternalError,
        })
    }
}

// broadcastRoomList send the list of rooms to every client.
func (s *server) broadcastRoomList(ctx context.Context) error {
    list, err := s.rooms.listRooms(ctx)
    if err != nil {
        return err
    }

    s.broadcastAll(EvRoomList, list)
    return nil
}

// login authenticate the client and bind its session to the user.
//
// Every successful login also sends the room list to every client.
func (s *server) login(ctx context.Context, c *client, ev Event) error {
    var req Credentials
    if err := ev.Payload(&req); err != nil {
        return err
    }

    err := s.conf.Identity.Authenticate(ctx, req.Username, req.Password)
    if errors.Is(err, UserDoesNotExist) || errors.Is(err, IncorrectPassword) {
        msg := msgInvalidLogin
        if !s.conf.GenericAuthFailure {
            if errors.Is(err, UserDoesNotExist) {
                msg = msgUserDoesNotExist
            } else {
                msg = msgIncorrectPassword
            }
        }

        s.log.Debug("router", "Login failed.",
                "conn", c.id, "user", req.Username, "reason", err)
        s.reply(c, EvLoginResponse, Response {
            Success: false,
            Message: msg,
        })
        return nil
    } else if err != nil {
        return err
    }

    // Logging in again, possibly as someone else, starts from no room.
    sess, ok, err := s.sessions.Get(ctx, c.id)
    if err != nil {
        return err
    } else if ok {
        err = s.leaveRoom(ctx, c, sess, false)
        if err != nil {
            return err
        }
        if len(sess.Username) > 0 && sess.Username != req.Username {
            err = s.markOffline(ctx, c.id, sess.Username)
            if err != nil {
                return err
            }
        }
    }

    err = s.conf.Identity.SetOnline(ctx, req.Username, true)
    if err != nil {
        return err
    }
    err = s.sessions.SetIdentity(ctx, c.id, req.Username)
    if err != nil {
        return err
    }

    s.log.Info("router", "User logged in.",
            "conn", c.id, "user", req.Username)
    s.reply(c, EvLoginResponse, Response {
        Success: true,
        Username: req.Username,
    })

    return s.broadcastRoomList(ctx)
}

// registerAccount create a new account. The client stays logged out.
func (s *server) registerAccount(ctx context.Context, c *client, ev Event) error {
    var req Credentials
    if err := ev.Payload(&req); err != nil {
        return err
    }

    if len(req.Username) == 0 || len(req.Password) == 0 {
        s.reply(c, EvRegisterResponse, Response {
            Success: false,
            Message: msgMissingCredentials,
        })
        return nil
    }

    err := s.conf.Identity.CreateAccount(ctx, req.Username, req.Password)
    if errors.Is(err, UserAlreadyExists) {
        s.reply(c, EvRegisterResponse, Response {
            Success: false,
            Message: msgUsernameTaken,
        })
        return nil
    } else if err != nil {
        return err
    }

    s.log.Info("router", "User registered.",
            "conn", c.id, "user", req.Username)
    s.reply(c, EvRegisterResponse, Response {
        Success: true,
    })
    return nil
}

// reconnectLogin silently rebind the session of a reconnected client to
// its previous identity.
func (s *server) reconnectLogin(ctx context.Context, c *client, ev Event) error {
    var req Credentials
    if err := ev.Payload(&req); err != nil {
        return err
    } else if len(req.Username) == 0 {
        return nil
    }

    sess, ok, err := s.sessions.Get(ctx, c.id)
    if err != nil {
        return err
    } else if ok {
        err = s.leaveRoom(ctx, c, sess, false)
        if err != nil {
            return err
        }
    }

    s.log.Debug("router", "Client reconnected.",
            "conn", c.id, "user", req.Username)
    return s.sessions.SetIdentity(ctx, c.id, req.Username)
}

// markOffline flag `username` as offline, unless some other connection is
// still bound to it.
func (s *server) markOffline(ctx context.Context, connID, username string) error {
    if len(username) == 0 {
        return nil
    }

    other, err := s.presence.HasOtherSession(ctx, username, "", connID)
    if err != nil {
        return err
    } else if other {
        return nil
    }

    return s.conf.Identity.SetOnline(ctx, username, false)
}

// leaveRoom remove the client from the room in `sess`, if any.
//
// The user stays a member of the room while any of its other connections
// are still in it. Everyone left in the room receives the updated list of
// users and, if `announce` is set, a notification that the user left.
//
// The membership update and the broadcasts aren't atomic. If the process
// dies in between, clients only resync on their next join.
func (s *server) leaveRoom(ctx context.Context, c *client, sess Session, announce bool) error {
    s.unbindChannel(c)
    if len(sess.Room) == 0 {
        return nil
    }
    room := sess.Room

    err := s.sessions.SetRoom(ctx, c.id, "")
    if err != nil {
        return err
    }

    left := false
    if len(sess.Username) > 0 {
        other, err := s.presence.HasOtherSession(ctx, sess.Username, room, c.id)
        if err != nil {
            return err
        } else if !other {
            left, err = s.removeMember(ctx, c, room, sess.Username)
            if err != nil {
                return err
            }
        }
    }

    users, err := s.presence.OnlineUsersInRoom(ctx, room)
    if err != nil {
        return err
    }

    s.log.Debug("router", "Client left the room.",
            "conn", c.id, "user", sess.Username, "room", room)
    s.broadcastRoom(room, EvRoomUsers, users)
    if announce && left {
        s.broadcastRoom(room, EvUserLeft, UserLeft {
            User: sess.Username,
            Room: room,
        })
    }
    return nil
}

// removeMember remove `username` from the membership of `room`, returning
// whether it was actually removed.
//
// Another connection of the same user may have joined the room after it
// was checked. Joining sets the session's room before adding the member, so
// checking the sessions again after the removal catches that join, and the
// member is restored.
func (s *server) removeMember(ctx context.Context, c *client, room, username string) (bool, error) {
    err := s.rooms.RemoveMember(ctx, room, username)
    if err != nil {
        return false, err
    }

    other, err := s.presence.HasOtherSession(ctx, username, room, c.id)
    if err != nil {
        return true, err
    } else if !other {
        return true, nil
    }

    s.log.Debug("router", "Another connection joined the room while leaving it.",
            "conn", c.id, "user", username, "room", room)
    err = s.rooms.AddMember(ctx, room, username)
    if errors.Is(err, RoomNotFound) {
        err = nil
    }
    return false, err
}

// logout leave the current room, unbind the identity and drop the session.
func (s *server) logout(ctx context.Context, c *client) error {
    sess, ok, err := s.sessions.Get(ctx, c.id)
    if err != nil {
        return err
    } else if !ok {
        return nil
    }

    err = s.leaveRoom(ctx, c, sess, true)
    if err != nil {
        return err
    }
    err = s.markOffline(ctx, c.id, sess.Username)
    if err != nil {
        return err
    }
    err = s.sessions.Remove(ctx, c.id)
    if err != nil {
        return err
    }

    s.log.Info("router", "User logged out.",
            "conn", c.id, "user", sess.Username)
    return s.broadcastRoomList(ctx)
}

// disconnect clean up after a closed connection.
//
// This runs with its own context, so it completes even if the connection
// died in the middle of another operation. Sessions that were already
// removed are ignored.
func (s *server) disconnect(c *client) {
    ctx, cancel := s.opContext()
    defer cancel()

    sess, ok, err := s.sessions.Get(ctx, c.id)
    if err != nil {
        s.log.Error("router", "Couldn't retrieve the session of a closed connection.",
                "conn", c.id, "error", err)
        return
    } else if !ok {
        s.log.Debug("router", "Unknown client disconnected.",
                "conn", c.id)
        return
    }

    err = s.leaveRoom(ctx, c, sess, false)
    if err == nil {
        err = s.markOffline(ctx, c.id, sess.Username)
    }
    if err != nil {
        s.log.Error("router", "Couldn't clean up after a closed connection.",
                "conn", c.id, "user", sess.Username, "error", err)
    }

    // Always drop the session, so it doesn't linger in the presence.
    err = s.sessions.Remove(ctx, c.id)
    if err != nil {
        s.log.Error("router", "Couldn't remove the session.",
                "conn", c.id, "error", err)
    }

    s.log.Info("router", "Client disconnected.",
            "conn", c.id, "user", sess.Username)
}

// getRooms send the list of rooms to the client.
func (s *server) getRooms(ctx context.Context, c *client) error {
    list, err := s.rooms.listRooms(ctx)
    if err != nil {
        return err
    }

    s.reply(c, EvRoomList, list)
    return nil
}

// createRoom create a new, empty room and announce it to every client.
func (s *server) createRoom(ctx context.Context, c *client, ev Event) error {
    var req RoomRequest
    if err := ev.Payload(&req); err != nil {
        return err
    }

    owner := req.Owner
    if len(owner) == 0 {
        sess, _, err := s.sessions.Get(ctx, c.id)
        if err != nil {
            return err
        }
        owner = sess.Username
    }

    err := s.rooms.Create(ctx, req.Room, owner)
    if errors.Is(err, RoomAlreadyExists) {
        s.reply(c, EvCreateRoomResponse, Response {
            Success: false,
            Message: msgRoomExists,
        })
        return nil
    } else if err != nil {
        return err
    }

    s.log.Info("router", "Room created.",
            "room", req.Room, "owner", owner)
    s.reply(c, EvCreateRoomResponse, Response {
        Success: true,
        Room: req.Room,
    })
    return s.broadcastRoomList(ctx)
}

// deleteRoom remove a room and announce it to every client.
//
// Sessions still in the room are left as is. Their next join or send
// fails silently, since the room no longer exists.
func (s *server) deleteRoom(ctx context.Context, c *client, ev Event) error {
    var req RoomRequest
    if err := ev.Payload(&req); err != nil {
        return err
    }

    err := s.rooms.Delete(ctx, req.Room)
    if errors.Is(err, RoomNotFound) {
        s.reply(c, EvDeleteRoomResponse, Response {
            Success: false,
            Message: msgRoomNotFound,
        })
        return nil
    } else if err != nil {
        return err
    }

    s.log.Info("router", "Room deleted.",
            "room", req.Room)
    s.reply(c, EvDeleteRoomResponse, Response {
        Success: true,
        Room: req.Room,
    })
    return s.broadcastRoomList(ctx)
}

// clearHistory erase the history of a room and send the empty history to
// everyone in it.
func (s *server) clearHistory(ctx context.Context, c *client, ev Event) error {
    var req RoomRequest
    if err := ev.Payload(&req); err != nil {
        return err
    }

    if len(req.Room) == 0 {
        s.reply(c, EvClearHistoryResponse, Response {
            Success: false,
            Message: msgRoomNotSpecified,
        })
        return nil
    }

    _, ok, err := s.rooms.Get(ctx, req.Room)
    if err != nil {
        return err
    } else if !ok {
        s.reply(c, EvClearHistoryResponse, Response {
            Success: false,
            Message: msgRoomNotFound,
        })
        return nil
    }

    err = s.history.Clear(ctx, req.Room)
    if err != nil {
        return err
    }

    s.log.Info("router", "History cleared.",
            "room", req.Room)
    s.reply(c, EvClearHistoryResponse, Response {
        Success: true,
        Room: req.Room,
    })
    s.broadcastRoom(req.Room, EvLoadHistory, []Message{})
    return nil
}

// joinRoom move the client into a room.
//
// Requests without a room, from clients that aren't logged in or for rooms
// that don't exist are silently dropped.
func (s *server) joinRoom(ctx context.Context, c *client, ev Event) error {
    var req RoomRequest
    if err := ev.Payload(&req); err != nil {
        return err
    } else if len(req.Room) == 0 {
        return nil
    }

    sess, ok, err := s.sessions.Get(ctx, c.id)
    if err != nil {
        return err
    } else if !ok || len(sess.Username) == 0 {
        return nil
    }

    room, ok, err := s.rooms.Get(ctx, req.Room)
    if err != nil {
        return err
    } else if !ok {
        s.log.Debug("router", "Tried to join a missing room.",
                "conn", c.id, "room", req.Room)
        return nil
    }

    if len(sess.Room) > 0 && sess.Room != req.Room {
        err = s.leaveRoom(ctx, c, sess, false)
        if err != nil {
            return err
        }
    }

    s.bindChannel(c, req.Room)
    err = s.sessions.SetRoom(ctx, c.id, req.Room)
    if err != nil {
        s.unbindChannel(c)
        return err
    }
    err = s.rooms.AddMember(ctx, req.Room, sess.Username)
    if errors.Is(err, RoomNotFound) {
        // Deleted right after it was read. Undo the join.
        s.unbindChannel(c)
        return s.sessions.SetRoom(ctx, c.id, "")
    } else if err != nil {
        return err
    }

    msgs, err := s.history.Load(ctx, req.Room)
    if err != nil {
        return err
    }
    s.reply(c, EvLoadHistory, msgs)

    users, err := s.presence.OnlineUsersInRoom(ctx, req.Room)
    if err != nil {
        return err
    }
    s.broadcastRoom(req.Room, EvRoomUsers, users)

    owner := room.Owner
    if len(owner) == 0 {
        owner = defRoomOwner
    }
    s.reply(c, EvRoomInfo, RoomInfo {
        Owner: owner,
    })

    s.log.Info("router", "User joined the room.",
            "conn", c.id, "user", sess.Username, "room", req.Room)
    return nil
}

// sendMessage store a message in the room's history, queue it to be
// persisted and broadcast it to everyone in the room, including the
// sender.
//
// The message is sent to the room it names or, if none, to the room the
// client is in. Requests without a room or text, from clients that aren't
// logged in or for rooms that don't exist are silently dropped.
func (s *server) sendMessage(ctx context.Context, c *client, ev Event) error {
    var req SendRequest
    if err := ev.Payload(&req); err != nil {
        return err
    }

    sess, ok, err := s.sessions.Get(ctx, c.id)
    if err != nil {
        return err
    }

    room := req.Room
    if len(room) == 0 {
        room = sess.Room
    }
    text := strings.TrimSpace(req.Text)
    if len(room) == 0 || len(text) == 0 {
        return nil
    } else if !ok || len(sess.Username) == 0 {
        return nil
    }

    _, ok, err = s.rooms.Get(ctx, room)
    if err != nil {
        return err
    } else if !ok {
        s.log.Debug("router", "Tried to send a message to a missing room.",
                "conn", c.id, "room", room)
        return nil
    }

    msg := Message {
        User: sess.Username,
        Text: text,
    }

    // The room receives its messages in the same order they are stored.
    unlock := s.lockRoom(room)
    defer unlock()

    err = s.history.Append(ctx, room, msg)
    if err != nil {
        return err
    }

    // The message is already in the history, so it's delivered even if it
    // can't be queued for permanent storage.
    err = s.queue.Enqueue(ctx, Task {
        Room: room,
        User: msg.User,
        Text: msg.Text,
        Timestamp: time.Now().UTC(),
    })
    if err != nil {
        s.log.Error("router", "Couldn't queue the message for persistence.",
                "room", room, "user", msg.User, "error", err)
    }

    s.log.Debug("router", "Message sent.",
            "room", room, "user", msg.User, "text", msg.Text)
    s.broadcastRoom(room, EvReceiveMessage, msg)
    return nil
}
