package go_chat_rooms

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "github.com/redis/go-redis/v9"
    "sort"
    "strings"
)

// Prefix of the keys holding each room.
const roomPrefix = "room:"

// How many times a membership update is retried if the room keeps
// changing under it.
const maxMembershipRetries = 16

// Room is the record stored for every room.
type Room struct {
    // Owner is the identity that created the room.
    Owner string `json:"owner"`

    // Membership holds every identity currently in the room, sorted and
    // without duplicates.
    Membership []string `json:"membership"`
}

// has check whether `username` is a member of the room.
func (r *Room) has(username string) bool {
    i := sort.SearchStrings(r.Membership, username)
    return i < len(r.Membership) && r.Membership[i] == username
}

// add `username` to the membership. Returns false if it was already there.
func (r *Room) add(username string) bool {
    i := sort.SearchStrings(r.Membership, username)
    if i < len(r.Membership) && r.Membership[i] == username {
        return false
    }

    r.Membership = append(r.Membership, "")
    copy(r.Membership[i+1:], r.Membership[i:])
    r.Membership[i] = username
    return true
}

// remove `username` from the membership. Returns false if it wasn't there.
func (r *Room) remove(username string) bool {
    i := sort.SearchStrings(r.Membership, username)
    if i >= len(r.Membership) || r.Membership[i] != username {
        return false
    }

    r.Membership = append(r.Membership[:i], r.Membership[i+1:]...)
    return true
}

// roomDirectory stores one JSON document per room.
type roomDirectory struct {
    store redis.UniversalClient
}

func roomKey(name string) string {
    return roomPrefix + name
}

func decodeRoom(data []byte) (Room, error) {
    var room Room

    err := json.Unmarshal(data, &room)
    if err != nil {
        return room, err
    }
    if room.Membership == nil {
        room.Membership = []string{}
    }
    sort.Strings(room.Membership)
    return room, nil
}

// Create a new room named `name`, owned by `owner`.
//
// Fails with RoomAlreadyExists if the name is empty or already taken.
func (d *roomDirectory) Create(ctx context.Context, name, owner string) error {
    if len(name) == 0 {
        return RoomAlreadyExists
    }

    data, err := json.Marshal(&Room {
        Owner: owner,
        Membership: []string{},
    })
    if err != nil {
        return fmt.Errorf("create room %s: %w", name, err)
    }

    ok, err := d.store.SetNX(ctx, roomKey(name), data, 0).Result()
    if err != nil {
        return fmt.Errorf("create room %s: %w", name, err)
    } else if !ok {
        return RoomAlreadyExists
    }
    return nil
}

// Get retrieve the room named `name`. The boolean is false if there's no
// such room.
func (d *roomDirectory) Get(ctx context.Context, name string) (Room, bool, error) {
    if len(name) == 0 {
        return Room{}, false, nil
    }

    data, err := d.store.Get(ctx, roomKey(name)).Bytes()
    if errors.Is(err, redis.Nil) {
        return Room{}, false, nil
    } else if err != nil {
        return Room{}, false, fmt.Errorf("get room %s: %w", name, err)
    }

    room, err := decodeRoom(data)
    if err != nil {
        return Room{}, false, fmt.Errorf("decode room %s: %w", name, err)
    }
    return room, true, nil
}

// Delete the room named `name`, failing with RoomNotFound if it doesn't
// exist.
//
// Sessions that point to the room are left untouched.
func (d *roomDirectory) Delete(ctx context.Context, name string) error {
    if len(name) == 0 {
        return RoomNotFound
    }

    n, err := d.store.Del(ctx, roomKey(name)).Result()
    if err != nil {
        return fmt.Errorf("delete room %s: %w", name, err)
    } else if n == 0 {
        return RoomNotFound
    }
    return nil
}

// update atomically apply `fn` to the room named `name`. `fn` reports
// whether it modified the room. If the room doesn't exist, RoomNotFound is
// returned.
func (d *roomDirectory) update(ctx context.Context, name string, fn func(*Room) bool) error {
    key := roomKey(name)

    txf := func(tx *redis.Tx) error {
        data, err := tx.Get(ctx, key).Bytes()
        if errors.Is(err, redis.Nil) {
            return RoomNotFound
        } else if err != nil {
            return err
        }

        room, err := decodeRoom(data)
        if err != nil {
            return fmt.Errorf("decode room %s: %w", name, err)
        }
        if !fn(&room) {
            return nil
        }

        data, err = json.Marshal(&room)
        if err != nil {
            return err
        }

        _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            pipe.Set(ctx, key, data, 0)
            return nil
        })
        return err
    }

    for i := 0; i < maxMembershipRetries; i++ {
        err := d.store.Watch(ctx, txf, key)
        if errors.Is(err, redis.TxFailedErr) {
            continue
        } else if err != nil && !errors.Is(err, RoomNotFound) {
            return fmt.Errorf("update room %s: %w", name, err)
        }
        return err
    }

    return StoreConflict
}

// AddMember add `username` to the room. Adding an existing member is a
// no-op.
func (d *roomDirectory) AddMember(ctx context.Context, name, username string) error {
    return d.update(ctx, name, func(r *Room) bool {
        return r.add(username)
    })
}

// RemoveMember remove `username` from the room. Removing a missing member,
// or removing from a room that no longer exists, is a no-op.
func (d *roomDirectory) RemoveMember(ctx context.Context, name, username string) error {
    err := d.update(ctx, name, func(r *Room) bool {
        return r.remove(username)
    })
    if errors.Is(err, RoomNotFound) {
        return nil
    }
    return err
}

// clearMembership empty the membership of the room, if it exists.
func (d *roomDirectory) clearMembership(ctx context.Context, name string) error {
    err := d.update(ctx, name, func(r *Room) bool {
        if len(r.Membership) == 0 {
            return false
        }
        r.Membership = []string{}
        return true
    })
    if errors.Is(err, RoomNotFound) {
        return nil
    }
    return err
}

// ListAll start a lazy listing of every room. The listing may be
// restarted by calling ListAll again.
func (d *roomDirectory) ListAll(ctx context.Context) *RoomIterator {
    return &RoomIterator {
        dir: d,
        it: d.store.Scan(ctx, 0, roomPrefix + "*", 100).Iterator(),
    }
}

// RoomIterator walks over every room in storage order.
//
//     it := rooms.ListAll(ctx)
//     for it.Next(ctx) {
//         summary := it.Room()
//     }
//     if err := it.Err(); err != nil {
//         // Handle the error
//     }
type RoomIterator struct {
    dir *roomDirectory
    it *redis.ScanIterator
    cur RoomSummary
    err error
}

// Next advance to the following room, returning false once every room was
// visited or on error.
func (i *RoomIterator) Next(ctx context.Context) bool {
    if i.err != nil {
        return false
    }

    for i.it.Next(ctx) {
        name := strings.TrimPrefix(i.it.Val(), roomPrefix)

        room, ok, err := i.dir.Get(ctx, name)
        if err != nil {
            var syntaxErr *json.SyntaxError
            var typeErr *json.UnmarshalTypeError
            if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
                // Skip rooms that can't be decoded.
                continue
            }
            i.err = err
            return false
        } else if !ok {
            // Deleted while iterating.
            continue
        }

        owner := room.Owner
        if len(owner) == 0 {
            owner = defRoomOwner
        }
        i.cur = RoomSummary {
            Name: name,
            Owner: owner,
        }
        return true
    }

    if err := i.it.Err(); err != nil {
        i.err = fmt.Errorf("list rooms: %w", err)
    }
    return false
}

// Room retrieve the room at the current position.
func (i *RoomIterator) Room() RoomSummary {
    return i.cur
}

// Err report the error that stopped the iteration, if any.
func (i *RoomIterator) Err() error {
    return i.err
}

// listRooms collect every room, sorted by name.
func (d *roomDirectory) listRooms(ctx context.Context) ([]RoomSummary, error) {
    list := []RoomSummary{}

    it := d.ListAll(ctx)
    for it.Next(ctx) {
        list = append(list, it.Room())
    }
    if err := it.Err(); err != nil {
        return nil, err
    }

    sort.Slice(list, func(a, b int) bool {
        return list[a].Name < list[b].Name
    })
    return list, nil
}
