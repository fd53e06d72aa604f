package go_chat_rooms

import (
    "context"
    "github.com/google/uuid"
    "io"
    "sync"
    "sync/atomic"
)

// The chat server.
type server struct {
    // conf used to create the server.
    conf ServerConf

    log Logger

    // Components backed by the shared store.
    sessions *sessionRegistry
    rooms *roomDirectory
    presence *presence
    history *history
    queue *TaskQueue

    // Every live client, by connection id.
    clients map[string]*client

    // Every channel with at least one client, by room name.
    channels map[string]*channel

    // Synchronizes access to clients, channels and each client's channel.
    lockClients sync.Mutex

    // Orders the messages sent to each room. See lockRoom.
    lockSend [sendLockCount]sync.Mutex

    // Whether the chat server is currently running.
    running uint32
}

// The public interface of the chat server.
type ChatServer interface {
    io.Closer

    // GetConf retrieve the configuration used by the server.
    GetConf() ServerConf

    // PurgeSessions remove every session left in the store by a previous
    // process and empty the membership of every room. It must be called
    // before accepting connections, and returns how many sessions were
    // removed.
    PurgeSessions(ctx context.Context) (int, error)

    // Connect add a new connection to the server, returning the id of its
    // session.
    //
    // A new goroutine handles events received from the connection until it
    // gets closed.
    //
    // On error, `conn` is left unchanged and must be closed by the caller.
    //
    // If `conn` is nil, then this function will panic!
    Connect(conn Conn) (string, error)

    // ConnectAndWait add a new connection to the server and blocks until
    // the connection gets closed.
    //
    // Differently from `Connect`, this function handles events from the
    // remote client in the calling goroutine. This may be advantageous if
    // the external server already spawns a new goroutine to handle each
    // new connection.
    //
    // On error, `conn` is left unchanged and must be closed by the caller.
    //
    // If `conn` is nil, then this function will panic!
    ConnectAndWait(conn Conn) error
}

// GetConf retrieve the configuration used by the server.
func (s *server) GetConf() ServerConf {
    return s.conf
}

// isRunning check if the server is still accepting connections.
func (s *server) isRunning() bool {
    return atomic.LoadUint32(&s.running) == 1
}

// opContext bound a single operation on the store.
func (s *server) opContext() (context.Context, context.CancelFunc) {
    return context.WithTimeout(context.Background(), s.conf.StoreTimeout)
}

// PurgeSessions remove stale sessions from the store.
//
// See `ChatServer.PurgeSessions` for a more complete description.
func (s *server) PurgeSessions(ctx context.Context) (int, error) {
    n, err := s.sessions.Purge(ctx, s.rooms)
    if err != nil {
        s.log.Error("server", "Couldn't purge stale sessions.",
                "error", err)
        return n, err
    }

    s.log.Info("server", "Purged stale sessions.",
            "count", n)
    return n, nil
}

// register create the session of a new connection and start tracking it.
func (s *server) register(conn Conn) (*client, error) {
    if conn == nil {
        panic("go_chat_rooms/server register: nil conn")
    } else if !s.isRunning() {
        return nil, ConnEOF
    }

    c := newClient(uuid.NewString(), conn)

    ctx, cancel := s.opContext()
    defer cancel()
    err := s.sessions.Create(ctx, c.id)
    if err != nil {
        s.log.Error("server", "Couldn't create the session.",
                "conn", c.id, "error", err)
        return nil, err
    }

    s.lockClients.Lock()
    s.clients[c.id] = c
    s.lockClients.Unlock()

    s.log.Debug("server", "Client connected.",
            "conn", c.id)
    return c, nil
}

// serve handle events from `c` until it's closed, then clean up after it.
func (s *server) serve(c *client) {
    c.run(s.handleEvent, s.dropFrame)

    s.disconnect(c)

    s.lockClients.Lock()
    s.unbindChannelUnsafe(c)
    delete(s.clients, c.id)
    s.lockClients.Unlock()
}

// Connect add a new connection to the server.
//
// See `ChatServer.Connect` for a more complete description.
func (s *server) Connect(conn Conn) (string, error) {
    c, err := s.register(conn)
    if err != nil {
        return "", err
    }

    go s.serve(c)

    return c.id, nil
}

// ConnectAndWait add a new connection to the server and wait until it's
// closed.
//
// See `ChatServer.ConnectAndWait` for a more complete description.
func (s *server) ConnectAndWait(conn Conn) error {
    c, err := s.register(conn)
    if err != nil {
        return err
    }

    s.serve(c)

    return nil
}

// Close every connection and stop accepting new ones.
//
// Each connection's goroutine still cleans up its session.
func (s *server) Close() error {
    if atomic.CompareAndSwapUint32(&s.running, 1, 0) {
        for _, c := range s.allClients() {
            c.Close()
        }
    }

    return nil
}

// NewServerConf create a new chat server from `conf`.
//
// `conf.Store` and `conf.Identity` must be set. Every other field missing
// from `conf` gets its default value, from `GetDefaultServerConf`.
func NewServerConf(conf ServerConf) (ChatServer, error) {
    if conf.Store == nil {
        return nil, MissingStore
    } else if conf.Identity == nil {
        return nil, MissingIdentity
    }

    def := GetDefaultServerConf()
    if len(conf.TaskQueue) == 0 {
        conf.TaskQueue = def.TaskQueue
    }
    if conf.StoreTimeout <= 0 {
        conf.StoreTimeout = def.StoreTimeout
    }
    if conf.HistoryLimit < 0 {
        conf.HistoryLimit = 0
    }

    logger := NewLogger(conf.Logger, "go_chat_rooms", conf.DebugLog)

    sessions := &sessionRegistry {
        store: conf.Store,
    }

    s := &server {
        conf: conf,
        log: logger,
        sessions: sessions,
        rooms: &roomDirectory {
            store: conf.Store,
        },
        presence: &presence {
            sessions: sessions,
        },
        history: &history {
            store: conf.Store,
            limit: conf.HistoryLimit,
            log: logger,
        },
        queue: NewTaskQueue(conf.Store, conf.TaskQueue),
        clients: make(map[string]*client),
        channels: make(map[string]*channel),
        running: 1,
    }

    return s, nil
}
