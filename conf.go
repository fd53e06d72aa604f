package go_chat_rooms

import (
    "github.com/redis/go-redis/v9"
    "log"
    "time"
)

// Name of the queue consumed by the persistence worker.
const DefaultTaskQueue = "chat:task_queue"

// Upper bound for every round-trip to the store.
const defStoreTimeout = time.Second * 5

// Owner reported for rooms that don't have one.
const defRoomOwner = "System"

// ServerConf configures a ChatServer.
type ServerConf struct {
    // Store is the shared key-value store holding sessions, rooms, history
    // and the task queue. Required.
    Store redis.UniversalClient

    // Identity authenticates users and creates accounts. Required.
    Identity Identity

    // TaskQueue is the list to which persistence tasks are pushed.
    TaskQueue string

    // HistoryLimit limits how many messages are sent when joining a room.
    // Zero sends the whole history.
    HistoryLimit int

    // StoreTimeout bounds each operation issued to the store.
    StoreTimeout time.Duration

    // GenericAuthFailure hides whether a login failed because the user
    // doesn't exist or because the password is wrong.
    GenericAuthFailure bool

    // Logger used by the server to report events. If this is nil, no
    // message shall be logged!
    Logger *log.Logger

    // Whether debug messages should be logged.
    DebugLog bool
}

// GetDefaultServerConf retrieve a usable configuration, lacking only the
// Store and the Identity.
func GetDefaultServerConf() ServerConf {
    return ServerConf {
        TaskQueue: DefaultTaskQueue,
        StoreTimeout: defStoreTimeout,
    }
}
