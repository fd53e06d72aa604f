package main

import (
    "context"
    "fmt"
    gochat "github.com/SirGFM/go-chat-rooms"
    mongo_store "github.com/SirGFM/go-chat-rooms/mongo-store"
    "github.com/redis/go-redis/v9"
    "io"
    "log"
    "net/http"
    "net/url"
    "os"
    "path"
    "time"
)

type server struct {
    // The server's HTTP server
    httpServer *http.Server
    // The chat server
    chat gochat.ChatServer
    // The shared store, also used by the chat server
    store redis.UniversalClient
    // The user database, if connected by runWeb
    users *mongo_store.Store
    // upgrade requests into chat connections
    upgrade connUpgrader
}

// ServeHTTP is called by Go's http package whenever a new HTTP request arrives
func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
    uri := cleanURL(req.URL)
    log.Printf("%s - %s - %s", req.RemoteAddr, req.Method, uri)

    switch uri {
    case "ws":
        conn, err := s.upgrade(w, req)
        if err != nil {
            // The upgrader already replied to the request.
            log.Printf("%s - %s - %s - Couldn't upgrade the connection: %+v", req.RemoteAddr, req.Method, uri, err)
            return
        }

        // On success, the upgraded request will be handled by the chat server
        err = s.chat.ConnectAndWait(conn)
        if err != nil {
            // Can't do HTTP anymore as the connection was upgraded to a websocket
            conn.Close()
            log.Printf("%s - %s - %s - Couldn't connect to the chat server: %+v", req.RemoteAddr, req.Method, uri, err)
        }
    case "healthz":
        ctx, cancel := context.WithTimeout(req.Context(), time.Second * 2)
        defer cancel()

        err := s.store.Ping(ctx).Err()
        if err != nil {
            httpTextReply(http.StatusServiceUnavailable, fmt.Sprintf("Store unavailable: %+v", err), w)
            log.Printf("%s - %s - %s [503]", req.RemoteAddr, req.Method, uri)
            return
        }
        httpTextReply(http.StatusOK, "OK", w)
    default:
        httpTextReply(http.StatusNotFound, "404 - Nothing to see here...", w)
        log.Printf("%s - %s - %s [404]", req.RemoteAddr, req.Method, uri)
    }
}

// cleanURL so everything is properly escaped/encoded and so it may be split into each of its components.
//
// Use `url.Unescape` to retrieve the unescaped path, if so desired.
func cleanURL(uri *url.URL) string {
    // Normalize and strip the URL from its leading prefix (and slash)
    resUrl := path.Clean(uri.EscapedPath())
    if len(resUrl) > 0 && resUrl[0] == '/' {
        resUrl = resUrl[1:]
    } else if len(resUrl) == 1 && resUrl[0] == '.' {
        // Clean converts an empty path into a single "."
        resUrl = ""
    }

    return resUrl
}

// httpTextReply send a simple HTTP response as a plain text.
func httpTextReply(status int, msg string, w http.ResponseWriter) {
    w.Header().Set("Content-Type", "text/plain")
    w.WriteHeader(status)

    for data := []byte(msg); len(data) > 0; {
        n, err := w.Write(data)
        if err != nil {
            log.Printf("Failed to send %d: %+v", status, err)
            return
        }
        data = data[n:]
    }
}

// Close the running web server and clean up resourcers
func (s *server) Close() error {
    if s.httpServer != nil {
        s.httpServer.Close()
        s.httpServer = nil
    }
    s.chat.Close()
    s.store.Close()

    if s.users != nil {
        ctx, cancel := context.WithTimeout(context.Background(), time.Second * 5)
        defer cancel()
        s.users.Close(ctx)
    }

    return nil
}

// newServer create the chat server over `store` and `identity`, removing
// sessions left by a previous run.
func newServer(ctx context.Context, args Args, store redis.UniversalClient,
        identity gochat.Identity) (*server, error) {

    conf := gochat.GetDefaultServerConf()
    conf.Store = store
    conf.Identity = identity
    conf.StoreTimeout = args.StoreTimeout
    conf.HistoryLimit = args.HistoryLimit
    conf.GenericAuthFailure = args.GenericAuthFailure
    conf.Logger = log.New(os.Stderr, "", log.LstdFlags)
    conf.DebugLog = args.Debug

    chat, err := gochat.NewServerConf(conf)
    if err != nil {
        return nil, err
    }

    _, err = chat.PurgeSessions(ctx)
    if err != nil {
        chat.Close()
        return nil, err
    }

    return &server {
        chat: chat,
        store: store,
        upgrade: newUpgrader(args, conf.Logger),
    }, nil
}

// runWeb server into a goroutine
func runWeb(ctx context.Context, args Args) (io.Closer, error) {
    opts, err := redis.ParseURL(args.RedisURL)
    if err != nil {
        return nil, fmt.Errorf("invalid redis URL: %w", err)
    }
    store := redis.NewClient(opts)

    initCtx, cancel := context.WithTimeout(ctx, time.Second * 10)
    defer cancel()

    users, err := mongo_store.Connect(initCtx, args.MongoURI, args.MongoDB)
    if err != nil {
        store.Close()
        return nil, err
    }
    identity := users.Users()
    err = identity.EnsureIndexes(initCtx)
    if err != nil {
        store.Close()
        users.Close(context.Background())
        return nil, err
    }

    srv, err := newServer(initCtx, args, store, identity)
    if err != nil {
        store.Close()
        users.Close(context.Background())
        return nil, err
    }
    srv.users = users
    srv.httpServer = &http.Server {
        Addr: fmt.Sprintf("%s:%d", args.IP, args.Port),
        Handler: srv,
    }

    go func() {
        log.Printf("Waiting...")
        err := srv.httpServer.ListenAndServe()
        if err != nil && err != http.ErrServerClosed {
            log.Printf("HTTP server stopped: %+v", err)
        }
    } ()

    return srv, nil
}
