package go_chat_rooms

import (
    "context"
    "errors"
    "sort"
)

// presence derives who is in each room from the live sessions. It doesn't
// store anything by itself.
type presence struct {
    sessions *sessionRegistry
}

// errStopScan stops a scan that already found what it was looking for.
var errStopScan = errors.New("stop scan")

// OnlineUsersInRoom list, sorted and without duplicates, the identity of
// every session currently in `room`.
func (p *presence) OnlineUsersInRoom(ctx context.Context, room string) ([]string, error) {
    seen := make(map[string]struct{})

    err := p.sessions.Each(ctx, func(_ string, s Session) error {
        if s.Room == room && len(s.Username) > 0 {
            seen[s.Username] = struct{}{}
        }
        return nil
    })
    if err != nil {
        return nil, err
    }

    users := make([]string, 0, len(seen))
    for username := range seen {
        users = append(users, username)
    }
    sort.Strings(users)

    return users, nil
}

// HasOtherSession check whether any session other than `connID` is bound
// to `username`. If `room` isn't empty, only sessions in that room count.
func (p *presence) HasOtherSession(ctx context.Context, username, room, connID string) (bool, error) {
    found := false

    err := p.sessions.Each(ctx, func(id string, s Session) error {
        if id == connID || s.Username != username {
            return nil
        } else if len(room) > 0 && s.Room != room {
            return nil
        }
        found = true
        return errStopScan
    })
    if err != nil && !errors.Is(err, errStopScan) {
        return false, err
    }

    return found, nil
}
