package go_chat_rooms

import (
    "encoding/json"
    "fmt"
)

// Inbound events, sent by clients.
const (
    EvLogin = "login"
    EvRegister = "register"
    EvReconnectLogin = "reconnect_login"
    EvLogout = "logout"
    EvGetRooms = "get_rooms"
    EvCreateRoom = "create_room"
    EvDeleteRoom = "delete_room"
    EvClearHistory = "clear_history"
    EvJoinRoom = "join_room"
    EvSendMessage = "send_message"
)

// Outbound events, sent by the server.
const (
    EvLoginResponse = "login_response"
    EvRegisterResponse = "register_response"
    EvCreateRoomResponse = "create_room_response"
    EvDeleteRoomResponse = "delete_room_response"
    EvClearHistoryResponse = "clear_history_response"
    EvRoomList = "room_list"
    EvRoomUsers = "room_users"
    EvUserLeft = "user_left"
    EvLoadHistory = "load_history"
    EvRoomInfo = "room_info"
    EvReceiveMessage = "receive_message"
    EvError = "error"
)

// Event is the envelope of every frame exchanged over a Conn.
type Event struct {
    // Name of the event, e.g. "join_room".
    Name string `json:"event"`

    // Data is the event's payload, decoded according to its Name.
    Data json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent build the frame for an event named `name` carrying `data`.
// `data` may be nil for events without a payload.
func EncodeEvent(name string, data interface{}) (string, error) {
    ev := Event {
        Name: name,
    }

    if data != nil {
        raw, err := json.Marshal(data)
        if err != nil {
            return "", fmt.Errorf("encode %s: %w", name, err)
        }
        ev.Data = raw
    }

    out, err := json.Marshal(&ev)
    if err != nil {
        return "", fmt.Errorf("encode %s: %w", name, err)
    }
    return string(out), nil
}

// DecodeEvent parse a frame received from a Conn.
func DecodeEvent(frame string) (Event, error) {
    var ev Event

    err := json.Unmarshal([]byte(frame), &ev)
    if err != nil || len(ev.Name) == 0 {
        return ev, InvalidEvent
    }
    return ev, nil
}

// Payload decode the event's data into `v`. Missing data leaves `v`
// untouched.
func (ev Event) Payload(v interface{}) error {
    if len(ev.Data) == 0 || string(ev.Data) == "null" {
        return nil
    }
    if err := json.Unmarshal(ev.Data, v); err != nil {
        return fmt.Errorf("%w: %s: %v", InvalidEvent, ev.Name, err)
    }
    return nil
}

// Credentials is the payload of "login" and "register".
type Credentials struct {
    Username string `json:"username"`
    Password string `json:"password"`
}

// RoomRequest is the payload of every event that names a room.
type RoomRequest struct {
    Room string `json:"room"`
    Owner string `json:"owner,omitempty"`
}

// SendRequest is the payload of "send_message".
type SendRequest struct {
    Room string `json:"room,omitempty"`
    Text string `json:"text"`
}

// Response is the payload of every "*_response" event.
type Response struct {
    Success bool `json:"success"`
    Message string `json:"message,omitempty"`
    Username string `json:"username,omitempty"`
    Room string `json:"room,omitempty"`
}

// RoomSummary is an entry of "room_list".
type RoomSummary struct {
    Name string `json:"name"`
    Owner string `json:"owner"`
}

// RoomInfo is the payload of "room_info".
type RoomInfo struct {
    Owner string `json:"owner"`
}

// UserLeft is the payload of "user_left".
type UserLeft struct {
    User string `json:"user"`
    Room string `json:"room"`
}

// ErrorInfo is the payload of "error".
type ErrorInfo struct {
    Message string `json:"message"`
}
