package go_chat_rooms

import (
    "context"
    "fmt"
    "github.com/redis/go-redis/v9"
    "strings"
)

// Prefix of the keys holding each connection's session.
const sessionPrefix = "user:"

// Session binds a live connection to an identity and a room.
type Session struct {
    // Identity bound to the connection. Empty until the user logs in.
    Username string

    // Room the connection joined. Empty if not in any room.
    Room string
}

// sessionRegistry stores one hash per live connection.
type sessionRegistry struct {
    store redis.UniversalClient
}

func sessionKey(connID string) string {
    return sessionPrefix + connID
}

// Create an empty session for `connID`, unless one already exists.
func (r *sessionRegistry) Create(ctx context.Context, connID string) error {
    key := sessionKey(connID)

    _, err := r.store.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
        pipe.HSetNX(ctx, key, "username", "")
        pipe.HSetNX(ctx, key, "room", "")
        return nil
    })
    if err != nil {
        return fmt.Errorf("create session %s: %w", connID, err)
    }
    return nil
}

// SetIdentity bind `connID` to `username`, resetting its room.
func (r *sessionRegistry) SetIdentity(ctx context.Context, connID, username string) error {
    err := r.store.HSet(ctx, sessionKey(connID), "username", username, "room", "").Err()
    if err != nil {
        return fmt.Errorf("bind session %s: %w", connID, err)
    }
    return nil
}

// SetRoom update the room of the session.
func (r *sessionRegistry) SetRoom(ctx context.Context, connID, room string) error {
    err := r.store.HSet(ctx, sessionKey(connID), "room", room).Err()
    if err != nil {
        return fmt.Errorf("set room of session %s: %w", connID, err)
    }
    return nil
}

// Get retrieve the session of `connID`. The boolean is false if there's no
// such session.
func (r *sessionRegistry) Get(ctx context.Context, connID string) (Session, bool, error) {
    fields, err := r.store.HGetAll(ctx, sessionKey(connID)).Result()
    if err != nil {
        return Session{}, false, fmt.Errorf("get session %s: %w", connID, err)
    } else if len(fields) == 0 {
        return Session{}, false, nil
    }

    return Session {
        Username: fields["username"],
        Room: fields["room"],
    }, true, nil
}

// Remove the session of `connID`.
func (r *sessionRegistry) Remove(ctx context.Context, connID string) error {
    err := r.store.Del(ctx, sessionKey(connID)).Err()
    if err != nil {
        return fmt.Errorf("remove session %s: %w", connID, err)
    }
    return nil
}

// Each call `fn` for every live session. Sessions removed while scanning
// are skipped. Returning an error from `fn` stops the scan.
func (r *sessionRegistry) Each(ctx context.Context, fn func(connID string, s Session) error) error {
    it := r.store.Scan(ctx, 0, sessionPrefix + "*", 100).Iterator()
    for it.Next(ctx) {
        key := it.Val()

        vals, err := r.store.HMGet(ctx, key, "username", "room").Result()
        if err != nil {
            return fmt.Errorf("scan sessions: %w", err)
        }
        if vals[0] == nil && vals[1] == nil {
            continue
        }

        var s Session
        s.Username, _ = vals[0].(string)
        s.Room, _ = vals[1].(string)

        err = fn(strings.TrimPrefix(key, sessionPrefix), s)
        if err != nil {
            return err
        }
    }
    if err := it.Err(); err != nil {
        return fmt.Errorf("scan sessions: %w", err)
    }
    return nil
}

// Purge every session left over by a previous process and empty the
// membership of every room, since no connection survives a restart.
//
// This must only be called before accepting any connection. It returns
// how many sessions were removed.
func (r *sessionRegistry) Purge(ctx context.Context, rooms *roomDirectory) (int, error) {
    var stale []string

    err := r.Each(ctx, func(connID string, s Session) error {
        stale = append(stale, sessionKey(connID))
        return nil
    })
    if err != nil {
        return 0, err
    }

    for _, key := range stale {
        err = r.store.Del(ctx, key).Err()
        if err != nil {
            return 0, fmt.Errorf("purge sessions: %w", err)
        }
    }

    it := rooms.ListAll(ctx)
    for it.Next(ctx) {
        err = rooms.clearMembership(ctx, it.Room().Name)
        if err != nil {
            return 0, err
        }
    }
    if err = it.Err(); err != nil {
        return 0, err
    }

    return len(stale), nil
}
