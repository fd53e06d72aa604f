package go_chat_rooms

import (
    "context"
    "reflect"
    "testing"
    "time"
)

// drain discard every event already sent to `mc`.
func drain(mc *mockConn) {
    for {
        select {
        case <-mc.fromServer:
        case <-time.After(silenceTimeout):
            return
        }
    }
}

// login authenticate `mc` and consume the events sent back to it.
func login(t *testing.T, mc *mockConn, username, password string) {
    t.Helper()

    var res Response
    mc.TestSend(EvLogin, Credentials {
        Username: username,
        Password: password,
    })
    expectEvent(t, mc, EvLoginResponse, &res)
    if !res.Success {
        t.Fatalf("Couldn't log in as '%s': %s", username, res.Message)
    }
    expectEvent(t, mc, EvRoomList, nil)
}

// join enter `room` and consume the events sent back to `mc`.
func join(t *testing.T, mc *mockConn, room string) []Message {
    t.Helper()

    var msgs []Message
    mc.TestSend(EvJoinRoom, RoomRequest {
        Room: room,
    })
    expectEvent(t, mc, EvLoadHistory, &msgs)
    expectEvent(t, mc, EvRoomUsers, nil)
    expectEvent(t, mc, EvRoomInfo, nil)
    return msgs
}

// createRoom create `room` through `mc`, discarding the broadcast room list.
func createRoom(t *testing.T, mc *mockConn, room string) {
    t.Helper()

    var res Response
    mc.TestSend(EvCreateRoom, RoomRequest {
        Room: room,
    })
    expectEvent(t, mc, EvCreateRoomResponse, &res)
    if !res.Success {
        t.Fatalf("Couldn't create '%s': %s", room, res.Message)
    }
    expectEvent(t, mc, EvRoomList, nil)
}

// members retrieve the stored membership of `room`.
func (env *testEnv) members(t *testing.T, room string) []string {
    t.Helper()

    r, ok, err := env.s.rooms.Get(context.Background(), room)
    if err != nil || !ok {
        t.Fatalf("Couldn't get the room '%s': %+v", room, err)
    }
    return r.Membership
}

// TestLogin check every login outcome.
func TestLogin(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "secret")
    mc := env.connect(t)

    for _, tc := range []struct {
        user, pass, msg string
    } {
        {"bob", "secret", "User does not exist."},
        {"alice", "wrong", "Incorrect password."},
    } {
        var res Response
        mc.TestSend(EvLogin, Credentials {
            Username: tc.user,
            Password: tc.pass,
        })
        expectEvent(t, mc, EvLoginResponse, &res)
        if res.Success {
            t.Errorf("Logged in as '%s' with password '%s'", tc.user, tc.pass)
        } else if want, got := tc.msg, res.Message; want != got {
            t.Errorf("Invalid message: expected '%s' but got '%s'", want, got)
        }
    }
    expectSilence(t, mc)

    var res Response
    mc.TestSend(EvLogin, Credentials {
        Username: "alice",
        Password: "secret",
    })
    expectEvent(t, mc, EvLoginResponse, &res)
    if !res.Success {
        t.Fatalf("Couldn't log in: %s", res.Message)
    } else if want, got := "alice", res.Username; want != got {
        t.Errorf("Invalid username: expected '%s' but got '%s'", want, got)
    }

    var list []RoomSummary
    expectEvent(t, mc, EvRoomList, &list)
    if want, got := 0, len(list); want != got {
        t.Errorf("Invalid room list size: expected '%d' but got '%d'", want, got)
    }

    if !env.users.isOnline("alice") {
        t.Error("The user wasn't set online")
    }
}

// TestLoginGenericFailure check that failures can't be told apart when
// configured so.
func TestLoginGenericFailure(t *testing.T) {
    conf := GetDefaultServerConf()
    conf.GenericAuthFailure = true
    env := newTestEnv(t, conf, "alice", "secret")
    mc := env.connect(t)

    for _, user := range []string {"bob", "alice"} {
        var res Response
        mc.TestSend(EvLogin, Credentials {
            Username: user,
            Password: "wrong",
        })
        expectEvent(t, mc, EvLoginResponse, &res)
        if want, got := "Invalid username or password.", res.Message; want != got {
            t.Errorf("Invalid message: expected '%s' but got '%s'", want, got)
        }
    }
}

// TestRegister check account creation. Registering doesn't log in.
func TestRegister(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "secret")
    mc := env.connect(t)

    for _, tc := range []struct {
        user, pass string
        success bool
        msg string
    } {
        {"", "pass", false, "Username and password are required."},
        {"bob", "", false, "Username and password are required."},
        {"alice", "other", false, "Username already taken."},
        {"bob", "pass", true, ""},
    } {
        var res Response
        mc.TestSend(EvRegister, Credentials {
            Username: tc.user,
            Password: tc.pass,
        })
        expectEvent(t, mc, EvRegisterResponse, &res)
        if want, got := tc.success, res.Success; want != got {
            t.Errorf("Invalid result for '%s': expected '%v' but got '%v'", tc.user, want, got)
        } else if want, got := tc.msg, res.Message; want != got {
            t.Errorf("Invalid message: expected '%s' but got '%s'", want, got)
        }
    }

    if err := env.users.Authenticate(context.Background(), "bob", "pass"); err != nil {
        t.Errorf("The account wasn't created: %+v", err)
    } else if env.users.isOnline("bob") {
        t.Error("Registering set the user online")
    }

    // Still logged out, so joining must be ignored.
    createRoom(t, mc, "general")
    mc.TestSend(EvJoinRoom, RoomRequest {
        Room: "general",
    })
    expectSilence(t, mc)
}

// TestChatRoom run two users through a room: creating it, joining it and
// exchanging messages.
func TestChatRoom(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "a", "bob", "b")
    ctx := context.Background()

    alice := env.connect(t)
    bob := env.connect(t)
    login(t, alice, "alice", "a")
    drain(bob)
    login(t, bob, "bob", "b")
    drain(alice)

    var res Response
    alice.TestSend(EvCreateRoom, RoomRequest {
        Room: "general",
    })
    expectEvent(t, alice, EvCreateRoomResponse, &res)
    if !res.Success {
        t.Fatalf("Couldn't create the room: %s", res.Message)
    } else if want, got := "general", res.Room; want != got {
        t.Errorf("Invalid room: expected '%s' but got '%s'", want, got)
    }

    want := []RoomSummary {
        {Name: "general", Owner: "alice"},
    }
    for _, mc := range []*mockConn {alice, bob} {
        var list []RoomSummary
        expectEvent(t, mc, EvRoomList, &list)
        if !reflect.DeepEqual(want, list) {
            t.Errorf("Invalid room list: expected '%+v' but got '%+v'", want, list)
        }
    }

    // Alice joins the empty room.
    var msgs []Message
    var users []string
    var info RoomInfo
    alice.TestSend(EvJoinRoom, RoomRequest {
        Room: "general",
    })
    expectEvent(t, alice, EvLoadHistory, &msgs)
    expectEvent(t, alice, EvRoomUsers, &users)
    expectEvent(t, alice, EvRoomInfo, &info)
    if want, got := 0, len(msgs); want != got {
        t.Errorf("Invalid history size: expected '%d' but got '%d'", want, got)
    } else if want, got := []string {"alice"}, users; !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid users: expected '%+v' but got '%+v'", want, got)
    } else if want, got := "alice", info.Owner; want != got {
        t.Errorf("Invalid owner: expected '%s' but got '%s'", want, got)
    }
    expectSilence(t, bob)

    // Messages are echoed to the sender, trimmed.
    var msg Message
    alice.TestSend(EvSendMessage, SendRequest {
        Room: "general",
        Text: "  hello  ",
    })
    expectEvent(t, alice, EvReceiveMessage, &msg)
    if want, got := (Message {User: "alice", Text: "hello"}), msg; want != got {
        t.Errorf("Invalid message: expected '%+v' but got '%+v'", want, got)
    }
    alice.TestSend(EvSendMessage, SendRequest {
        Text: "anyone?",
    })
    expectEvent(t, alice, EvReceiveMessage, &msg)

    // Bob joins and gets the history, in order.
    bob.TestSend(EvJoinRoom, RoomRequest {
        Room: "general",
    })
    expectEvent(t, bob, EvLoadHistory, &msgs)
    wantMsgs := []Message {
        {User: "alice", Text: "hello"},
        {User: "alice", Text: "anyone?"},
    }
    if !reflect.DeepEqual(wantMsgs, msgs) {
        t.Errorf("Invalid history: expected '%+v' but got '%+v'", wantMsgs, msgs)
    }
    for _, mc := range []*mockConn {bob, alice} {
        expectEvent(t, mc, EvRoomUsers, &users)
        if want, got := []string {"alice", "bob"}, users; !reflect.DeepEqual(want, got) {
            t.Errorf("Invalid users: expected '%+v' but got '%+v'", want, got)
        }
    }
    expectEvent(t, bob, EvRoomInfo, &info)

    bob.TestSend(EvSendMessage, SendRequest {
        Room: "general",
        Text: "hi!",
    })
    for _, mc := range []*mockConn {alice, bob} {
        expectEvent(t, mc, EvReceiveMessage, &msg)
        if want, got := (Message {User: "bob", Text: "hi!"}), msg; want != got {
            t.Errorf("Invalid message: expected '%+v' but got '%+v'", want, got)
        }
    }

    if want, got := []string {"alice", "bob"}, env.members(t, "general"); !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid membership: expected '%+v' but got '%+v'", want, got)
    }

    // Every message was queued to be persisted.
    n, err := env.s.queue.Len(ctx)
    if err != nil {
        t.Fatalf("Couldn't get the queue's length: %+v", err)
    } else if want, got := int64(3), n; want != got {
        t.Fatalf("Invalid queue length: expected '%d' but got '%d'", want, got)
    }
    task, _, err := env.s.queue.Dequeue(ctx)
    if err != nil {
        t.Fatalf("Couldn't dequeue the task: %+v", err)
    } else if task.Room != "general" || task.User != "alice" || task.Text != "hello" {
        t.Errorf("Invalid task: '%+v'", task)
    } else if task.Timestamp.IsZero() {
        t.Error("The task doesn't have a timestamp")
    }
}

// TestHistoryLimit check that only the most recent messages are loaded.
func TestHistoryLimit(t *testing.T) {
    conf := GetDefaultServerConf()
    conf.HistoryLimit = 2
    env := newTestEnv(t, conf, "alice", "a")

    alice := env.connect(t)
    login(t, alice, "alice", "a")
    createRoom(t, alice, "general")
    join(t, alice, "general")

    for _, text := range []string {"1", "2", "3"} {
        alice.TestSend(EvSendMessage, SendRequest {
            Text: text,
        })
        expectEvent(t, alice, EvReceiveMessage, nil)
    }

    msgs := join(t, env.connectAs(t, "alice", "a"), "general")
    want := []Message {
        {User: "alice", Text: "2"},
        {User: "alice", Text: "3"},
    }
    if !reflect.DeepEqual(want, msgs) {
        t.Errorf("Invalid history: expected '%+v' but got '%+v'", want, msgs)
    }
}

// connectAs connect and log in a new client.
func (env *testEnv) connectAs(t *testing.T, username, password string) *mockConn {
    t.Helper()

    mc := env.connect(t)
    login(t, mc, username, password)
    return mc
}

// TestLogout check that logging out leaves the room, announcing it.
func TestLogout(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "a", "bob", "b")
    ctx := context.Background()

    alice := env.connectAs(t, "alice", "a")
    createRoom(t, alice, "general")
    bob := env.connectAs(t, "bob", "b")
    drain(alice)
    join(t, alice, "general")
    join(t, bob, "general")
    drain(alice)

    bob.TestSend(EvLogout, nil)

    var users []string
    var left UserLeft
    expectEvent(t, alice, EvRoomUsers, &users)
    expectEvent(t, alice, EvUserLeft, &left)
    if want, got := []string {"alice"}, users; !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid users: expected '%+v' but got '%+v'", want, got)
    } else if want, got := (UserLeft {User: "bob", Room: "general"}), left; want != got {
        t.Errorf("Invalid user_left: expected '%+v' but got '%+v'", want, got)
    }
    expectEvent(t, alice, EvRoomList, nil)
    expectEvent(t, bob, EvRoomList, nil)

    if want, got := []string {"alice"}, env.members(t, "general"); !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid membership: expected '%+v' but got '%+v'", want, got)
    }
    if env.users.isOnline("bob") {
        t.Error("The user is still online")
    }

    // Logged out, so messages are ignored.
    bob.TestSend(EvSendMessage, SendRequest {
        Room: "general",
        Text: "still here?",
    })
    expectSilence(t, alice)

    // Logging out twice does nothing.
    bob.TestSend(EvLogout, nil)
    expectSilence(t, bob)
    expectSilence(t, alice)

    n, _ := env.s.queue.Len(ctx)
    if want, got := int64(0), n; want != got {
        t.Errorf("Invalid queue length: expected '%d' but got '%d'", want, got)
    }
}

// TestDisconnect check the cleanup after a connection closes.
func TestDisconnect(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "a", "bob", "b")

    alice := env.connectAs(t, "alice", "a")
    createRoom(t, alice, "general")
    bob := env.connectAs(t, "bob", "b")
    drain(alice)
    join(t, alice, "general")
    join(t, bob, "general")
    drain(alice)

    bob.Close()

    var users []string
    expectEvent(t, alice, EvRoomUsers, &users)
    if want, got := []string {"alice"}, users; !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid users: expected '%+v' but got '%+v'", want, got)
    }
    expectSilence(t, alice)

    waitFor(t, "the user to go offline", func() bool {
        return !env.users.isOnline("bob")
    })
    if want, got := []string {"alice"}, env.members(t, "general"); !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid membership: expected '%+v' but got '%+v'", want, got)
    }
}

// TestMultipleConnections check that a user with two connections stays in
// the room, and online, until both are closed.
func TestMultipleConnections(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "a", "bob", "b")

    alice1 := env.connectAs(t, "alice", "a")
    createRoom(t, alice1, "general")
    alice2 := env.connectAs(t, "alice", "a")
    bob := env.connectAs(t, "bob", "b")
    drain(alice1)
    drain(alice2)
    join(t, alice1, "general")
    join(t, alice2, "general")
    join(t, bob, "general")
    drain(alice1)
    drain(alice2)

    alice1.Close()

    var users []string
    expectEvent(t, bob, EvRoomUsers, &users)
    if want, got := []string {"alice", "bob"}, users; !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid users: expected '%+v' but got '%+v'", want, got)
    }
    expectEvent(t, alice2, EvRoomUsers, nil)

    if want, got := []string {"alice", "bob"}, env.members(t, "general"); !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid membership: expected '%+v' but got '%+v'", want, got)
    }
    if !env.users.isOnline("alice") {
        t.Error("The user went offline while still connected")
    }

    // The remaining connection still gets the room's messages.
    bob.TestSend(EvSendMessage, SendRequest {
        Text: "hi",
    })
    expectEvent(t, alice2, EvReceiveMessage, nil)
    expectEvent(t, bob, EvReceiveMessage, nil)
}

// TestSwitchRoom check that joining another room leaves the previous one.
func TestSwitchRoom(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "a", "bob", "b")

    alice := env.connectAs(t, "alice", "a")
    createRoom(t, alice, "one")
    createRoom(t, alice, "two")
    bob := env.connectAs(t, "bob", "b")
    drain(alice)
    join(t, alice, "one")
    join(t, bob, "one")
    drain(alice)

    join(t, alice, "two")

    var users []string
    expectEvent(t, bob, EvRoomUsers, &users)
    if want, got := []string {"bob"}, users; !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid users: expected '%+v' but got '%+v'", want, got)
    }
    expectSilence(t, bob)

    if want, got := []string {"bob"}, env.members(t, "one"); !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid membership: expected '%+v' but got '%+v'", want, got)
    } else if want, got := []string {"alice"}, env.members(t, "two"); !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid membership: expected '%+v' but got '%+v'", want, got)
    }

    // Messages to the old room no longer reach alice.
    bob.TestSend(EvSendMessage, SendRequest {
        Text: "bye",
    })
    expectEvent(t, bob, EvReceiveMessage, nil)
    expectSilence(t, alice)
}

// TestIgnoredEvents check that invalid requests are silently dropped.
func TestIgnoredEvents(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "a")

    alice := env.connect(t)
    for _, frame := range []string {
        `not json`,
        `{"data": {}}`,
        `{"event": "unknown"}`,
        `{"event": "login", "data": "alice"}`,
        `{"event": "join_room", "data": {"room": "general"}}`,
        `{"event": "send_message", "data": {"room": "general", "text": "hi"}}`,
    } {
        alice.TestSendRaw(frame)
        expectSilence(t, alice)
    }

    login(t, alice, "alice", "a")
    createRoom(t, alice, "general")
    for _, frame := range []string {
        `{"event": "join_room", "data": {}}`,
        `{"event": "join_room", "data": {"room": "missing"}}`,
        `{"event": "send_message", "data": {"room": "general", "text": "   "}}`,
        `{"event": "send_message", "data": {"text": "no room"}}`,
        `{"event": "send_message", "data": {"room": "missing", "text": "hi"}}`,
        `{"event": "reconnect_login", "data": {}}`,
    } {
        alice.TestSendRaw(frame)
        expectSilence(t, alice)
    }

    n, _ := env.s.queue.Len(context.Background())
    if want, got := int64(0), n; want != got {
        t.Errorf("Invalid queue length: expected '%d' but got '%d'", want, got)
    }
    if alice.isClosed() {
        t.Error("Invalid events closed the connection")
    }
}

// TestRooms check creating, listing and deleting rooms.
func TestRooms(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "a")
    alice := env.connectAs(t, "alice", "a")
    other := env.connect(t)

    var res Response
    var list []RoomSummary

    createRoom(t, alice, "zeta")
    alice.TestSend(EvCreateRoom, RoomRequest {
        Room: "alpha",
        Owner: "carol",
    })
    expectEvent(t, alice, EvCreateRoomResponse, &res)
    expectEvent(t, alice, EvRoomList, &list)
    want := []RoomSummary {
        {Name: "alpha", Owner: "carol"},
        {Name: "zeta", Owner: "alice"},
    }
    if !reflect.DeepEqual(want, list) {
        t.Errorf("Invalid room list: expected '%+v' but got '%+v'", want, list)
    }
    drain(other)

    // Duplicated or empty names fail, without broadcasting anything.
    for _, name := range []string {"zeta", ""} {
        alice.TestSend(EvCreateRoom, RoomRequest {
            Room: name,
        })
        expectEvent(t, alice, EvCreateRoomResponse, &res)
        if res.Success {
            t.Errorf("Created the room '%s' twice", name)
        } else if want, got := "Room already exists or invalid.", res.Message; want != got {
            t.Errorf("Invalid message: expected '%s' but got '%s'", want, got)
        }
    }
    expectSilence(t, other)

    // Rooms may be created and listed without logging in.
    other.TestSend(EvGetRooms, nil)
    expectEvent(t, other, EvRoomList, &list)
    if !reflect.DeepEqual(want, list) {
        t.Errorf("Invalid room list: expected '%+v' but got '%+v'", want, list)
    }
    expectSilence(t, alice)

    alice.TestSend(EvDeleteRoom, RoomRequest {
        Room: "alpha",
    })
    expectEvent(t, alice, EvDeleteRoomResponse, &res)
    if !res.Success {
        t.Errorf("Couldn't delete the room: %s", res.Message)
    }
    want = want[1:]
    for _, mc := range []*mockConn {alice, other} {
        expectEvent(t, mc, EvRoomList, &list)
        if !reflect.DeepEqual(want, list) {
            t.Errorf("Invalid room list: expected '%+v' but got '%+v'", want, list)
        }
    }

    alice.TestSend(EvDeleteRoom, RoomRequest {
        Room: "alpha",
    })
    expectEvent(t, alice, EvDeleteRoomResponse, &res)
    if res.Success {
        t.Error("Deleted a missing room")
    } else if want, got := "Room not found.", res.Message; want != got {
        t.Errorf("Invalid message: expected '%s' but got '%s'", want, got)
    }

    // The name may be reused.
    createRoom(t, alice, "alpha")
}

// TestClearHistory check that clearing the history empties it for everyone
// in the room.
func TestClearHistory(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "a", "bob", "b")

    alice := env.connectAs(t, "alice", "a")
    createRoom(t, alice, "general")
    bob := env.connectAs(t, "bob", "b")
    drain(alice)
    join(t, alice, "general")
    join(t, bob, "general")
    drain(alice)

    alice.TestSend(EvSendMessage, SendRequest {
        Text: "hello",
    })
    expectEvent(t, alice, EvReceiveMessage, nil)
    expectEvent(t, bob, EvReceiveMessage, nil)

    var res Response
    for _, tc := range []struct {
        room, msg string
    } {
        {"", "Room not specified."},
        {"missing", "Room not found."},
    } {
        bob.TestSend(EvClearHistory, RoomRequest {
            Room: tc.room,
        })
        expectEvent(t, bob, EvClearHistoryResponse, &res)
        if res.Success {
            t.Errorf("Cleared the history of '%s'", tc.room)
        } else if want, got := tc.msg, res.Message; want != got {
            t.Errorf("Invalid message: expected '%s' but got '%s'", want, got)
        }
    }

    bob.TestSend(EvClearHistory, RoomRequest {
        Room: "general",
    })
    expectEvent(t, bob, EvClearHistoryResponse, &res)
    if !res.Success {
        t.Errorf("Couldn't clear the history: %s", res.Message)
    }
    for _, mc := range []*mockConn {alice, bob} {
        var msgs []Message
        expectEvent(t, mc, EvLoadHistory, &msgs)
        if want, got := 0, len(msgs); want != got {
            t.Errorf("Invalid history size: expected '%d' but got '%d'", want, got)
        }
    }

    msgs := join(t, env.connectAs(t, "alice", "a"), "general")
    if want, got := 0, len(msgs); want != got {
        t.Errorf("Invalid history size: expected '%d' but got '%d'", want, got)
    }
}

// TestReconnectLogin check that a reconnected client is bound back to its
// identity without any reply.
func TestReconnectLogin(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "a")

    alice := env.connectAs(t, "alice", "a")
    createRoom(t, alice, "general")

    mc := env.connect(t)
    drain(alice)
    mc.TestSend(EvReconnectLogin, Credentials {
        Username: "alice",
    })
    expectSilence(t, mc)

    join(t, mc, "general")
    mc.TestSend(EvSendMessage, SendRequest {
        Text: "back",
    })

    var msg Message
    expectEvent(t, mc, EvReceiveMessage, &msg)
    if want, got := "alice", msg.User; want != got {
        t.Errorf("Invalid sender: expected '%s' but got '%s'", want, got)
    }
}

// TestStoreFailure check that requests fail gracefully while the store is
// unavailable.
func TestStoreFailure(t *testing.T) {
    conf := GetDefaultServerConf()
    conf.StoreTimeout = time.Millisecond * 500
    env := newTestEnv(t, conf, "alice", "a")

    alice := env.connect(t)
    env.mr.SetError("store unavailable")

    var res Response
    alice.TestSend(EvLogin, Credentials {
        Username: "alice",
        Password: "a",
    })
    expectEvent(t, alice, EvLoginResponse, &res)
    if res.Success {
        t.Error("Logged in without a store")
    } else if want, got := "Internal server error.", res.Message; want != got {
        t.Errorf("Invalid message: expected '%s' but got '%s'", want, got)
    }

    var info ErrorInfo
    alice.TestSend(EvGetRooms, nil)
    expectEvent(t, alice, EvError, &info)
    if want, got := "Internal server error.", info.Message; want != got {
        t.Errorf("Invalid message: expected '%s' but got '%s'", want, got)
    }

    // The connection survives the failure.
    env.mr.SetError("")
    login(t, alice, "alice", "a")
}

// TestAnonymousSession check that a session that never logged in can
// manage rooms, but can't take part in them.
func TestAnonymousSession(t *testing.T) {
    env := newTestEnv(t, GetDefaultServerConf(), "alice", "a")
    alice := env.connectAs(t, "alice", "a")
    anon := env.connect(t)

    var res Response
    anon.TestSend(EvCreateRoom, RoomRequest {
        Room: "general",
    })
    expectEvent(t, anon, EvCreateRoomResponse, &res)
    if !res.Success {
        t.Fatalf("Couldn't create the room: %s", res.Message)
    }
    expectEvent(t, anon, EvRoomList, nil)
    drain(alice)

    join(t, alice, "general")
    for _, frame := range []string {
        `{"event": "join_room", "data": {"room": "general"}}`,
        `{"event": "send_message", "data": {"room": "general", "text": "hi"}}`,
    } {
        anon.TestSendRaw(frame)
        expectSilence(t, anon)
        expectSilence(t, alice)
    }

    if want, got := []string {"alice"}, env.members(t, "general"); !reflect.DeepEqual(want, got) {
        t.Errorf("Invalid membership: expected '%+v' but got '%+v'", want, got)
    }
    msgs, _ := env.s.history.Load(context.Background(), "general")
    if want, got := 0, len(msgs); want != got {
        t.Errorf("Invalid history length: expected '%d' but got '%d'", want, got)
    }
}
