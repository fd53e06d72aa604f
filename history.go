package go_chat_rooms

import (
    "context"
    "encoding/json"
    "fmt"
    "github.com/redis/go-redis/v9"
)

// Prefix of the lists holding each room's messages.
const historyPrefix = "history:"

// Message is a single chat message, as stored in a room's history and as
// broadcast to the room.
type Message struct {
    User string `json:"user"`
    Text string `json:"text"`
}

// history stores the messages of each room, oldest first.
type history struct {
    store redis.UniversalClient

    // limit of messages returned by Load. Zero means no limit.
    limit int

    log Logger
}

func historyKey(room string) string {
    return historyPrefix + room
}

// Append `msg` to the end of the room's history.
func (h *history) Append(ctx context.Context, room string, msg Message) error {
    data, err := json.Marshal(&msg)
    if err != nil {
        return fmt.Errorf("append to %s: %w", room, err)
    }

    err = h.store.RPush(ctx, historyKey(room), data).Err()
    if err != nil {
        return fmt.Errorf("append to %s: %w", room, err)
    }
    return nil
}

// Load every message of the room, oldest first. If a limit was
// configured, only that many of the most recent messages are returned.
//
// An unknown room simply has no history.
func (h *history) Load(ctx context.Context, room string) ([]Message, error) {
    start := int64(0)
    if limit := h.limit; limit > 0 {
        start = -int64(limit)
    }

    raw, err := h.store.LRange(ctx, historyKey(room), start, -1).Result()
    if err != nil {
        return nil, fmt.Errorf("load history of %s: %w", room, err)
    }

    msgs := make([]Message, 0, len(raw))
    for _, entry := range raw {
        var msg Message

        err = json.Unmarshal([]byte(entry), &msg)
        if err != nil {
            h.log.Error("history", "Skipping malformed history entry.",
                    "room", room, "entry", entry)
            continue
        }
        msgs = append(msgs, msg)
    }

    return msgs, nil
}

// Clear every message of the room. The room itself is kept.
func (h *history) Clear(ctx context.Context, room string) error {
    err := h.store.Del(ctx, historyKey(room)).Err()
    if err != nil {
        return fmt.Errorf("clear history of %s: %w", room, err)
    }
    return nil
}
