package main

import (
    gochat "github.com/SirGFM/go-chat-rooms"
    gobwas_ws "github.com/SirGFM/go-chat-rooms/gobwas-ws-conn"
    gorilla_ws "github.com/SirGFM/go-chat-rooms/gorilla-ws-conn"
    gows "github.com/gorilla/websocket"
    "log"
    "net/http"
)

// connUpgrader upgrade HTTP requests into chat connections.
type connUpgrader func(w http.ResponseWriter, req *http.Request) (gochat.Conn, error)

func ignoreOrigin(r *http.Request) bool {
    return true
}

// newUpgrader for the transport selected in `args`.
func newUpgrader(args Args, logger *log.Logger) connUpgrader {
    if args.Transport == "gobwas" {
        opts := gobwas_ws.GetDefaultOptions()
        opts.Timeout = args.IdleTimeout
        opts.ReadLimit = args.ReadLimit
        opts.Logger = logger

        return func(w http.ResponseWriter, req *http.Request) (gochat.Conn, error) {
            return gobwas_ws.NewConn(opts, w, req)
        }
    }

    upgrader := gows.Upgrader {
        ReadBufferSize:  args.ReadSize,
        WriteBufferSize: args.WriteSize,
    }
    if args.IgnoreOrigin {
        upgrader.CheckOrigin = ignoreOrigin
    }

    opts := gorilla_ws.GetDefaultOptions()
    opts.Timeout = args.IdleTimeout
    opts.ReadLimit = int64(args.ReadLimit)
    opts.Logger = logger

    return func(w http.ResponseWriter, req *http.Request) (gochat.Conn, error) {
        return gorilla_ws.NewConn(upgrader, opts, w, req)
    }
}
