package main

import (
    "bufio"
    "context"
    "encoding/json"
    "fmt"
    gochat "github.com/SirGFM/go-chat-rooms"
    "github.com/gobwas/ws"
    "github.com/gobwas/ws/wsutil"
    "github.com/spf13/cobra"
    "io"
    "log"
    "net"
    "os"
    "os/signal"
    "sync"
)

type Args struct {
    URL string
    Username string
    Password string
    Room string
    Register bool
}

// client is a line-oriented chat session over a raw gobwas connection.
type client struct {
    conn net.Conn
    out io.Writer

    // m synchronizes writes to conn.
    m sync.Mutex
}

// send an event to the server.
func (c *client) send(name string, data interface{}) error {
    frame, err := gochat.EncodeEvent(name, data)
    if err != nil {
        return err
    }

    c.m.Lock()
    defer c.m.Unlock()
    return wsutil.WriteClientMessage(c.conn, ws.OpText, []byte(frame))
}

// Close the connection, notifying the server.
func (c *client) Close() error {
    c.m.Lock()
    wsutil.WriteClientMessage(c.conn, ws.OpClose, nil)
    c.m.Unlock()

    return c.conn.Close()
}

// show print an event received from the server.
func (c *client) show(ev gochat.Event) {
    switch ev.Name {
    case gochat.EvReceiveMessage:
        var msg gochat.Message
        if json.Unmarshal(ev.Data, &msg) == nil {
            fmt.Fprintf(c.out, "%s: %s\n", msg.User, msg.Text)
            return
        }
    case gochat.EvLoadHistory:
        var msgs []gochat.Message
        if json.Unmarshal(ev.Data, &msgs) == nil {
            fmt.Fprintf(c.out, "--- %d message(s) in history ---\n", len(msgs))
            for _, msg := range msgs {
                fmt.Fprintf(c.out, "%s: %s\n", msg.User, msg.Text)
            }
            return
        }
    case gochat.EvRoomUsers:
        var users []string
        if json.Unmarshal(ev.Data, &users) == nil {
            fmt.Fprintf(c.out, "--- online: %v ---\n", users)
            return
        }
    }

    fmt.Fprintf(c.out, "[%s] %s\n", ev.Name, string(ev.Data))
}

// readLoop print everything received until the connection closes.
func (c *client) readLoop() error {
    var buf [1]wsutil.Message

    for {
        msgs, err := wsutil.ReadServerMessage(c.conn, buf[:0])
        if err != nil {
            return err
        }

        for i := range msgs {
            data := &(msgs[i])
            switch data.OpCode {
            case ws.OpClose:
                return io.EOF
            case ws.OpPing:
                c.m.Lock()
                err = wsutil.WriteClientMessage(c.conn, ws.OpPong, data.Payload)
                c.m.Unlock()
                if err != nil {
                    return err
                }
            case ws.OpText:
                ev, err := gochat.DecodeEvent(string(data.Payload))
                if err != nil {
                    log.Printf("Ignoring invalid frame: %s", string(data.Payload))
                    continue
                }
                c.show(ev)
            }
        }
    }
}

// run a chat session, sending each line of `in` to the room.
func run(ctx context.Context, args Args, in io.Reader, out io.Writer) error {
    ctx, cancel := context.WithCancel(ctx)
    defer cancel()

    conn, _, _, err := ws.Dial(ctx, args.URL)
    if err != nil {
        return fmt.Errorf("couldn't connect: %w", err)
    }

    c := &client {
        conn: conn,
        out: out,
    }

    go func() {
        <-ctx.Done()
        c.Close()
    } ()

    done := make(chan error, 1)
    go func() {
        done <- c.readLoop()
    } ()

    if args.Register {
        c.send(gochat.EvRegister, gochat.Credentials {
            Username: args.Username,
            Password: args.Password,
        })
    }
    c.send(gochat.EvLogin, gochat.Credentials {
        Username: args.Username,
        Password: args.Password,
    })
    // Creating an existing room simply fails.
    c.send(gochat.EvCreateRoom, gochat.RoomRequest {
        Room: args.Room,
    })
    c.send(gochat.EvJoinRoom, gochat.RoomRequest {
        Room: args.Room,
    })

    lines := make(chan string)
    go func() {
        scanner := bufio.NewScanner(in)
        for scanner.Scan() {
            lines <- scanner.Text()
        }
        close(lines)
    } ()

    for {
        select {
        case line, ok := <-lines:
            if !ok {
                c.send(gochat.EvLogout, nil)
                return nil
            }
            err = c.send(gochat.EvSendMessage, gochat.SendRequest {
                Text: line,
            })
            if err != nil {
                return fmt.Errorf("couldn't send message: %w", err)
            }
        case err = <-done:
            if err == io.EOF {
                log.Printf("Server closed the connection")
                return nil
            }
            return err
        }
    }
}

func main() {
    var args Args

    log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)

    cmd := &cobra.Command {
        Use: "chat-client",
        Short: "Chat from the terminal, one message per line",
        SilenceUsage: true,
        Args: cobra.NoArgs,
        RunE: func(cmd *cobra.Command, _ []string) error {
            ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
            defer stop()

            return run(ctx, args, os.Stdin, os.Stdout)
        },
    }
    cmd.Flags().StringVar(&args.URL, "url", "ws://localhost:8888/ws", "URL of the chat server")
    cmd.Flags().StringVarP(&args.Username, "username", "u", "", "Username")
    cmd.Flags().StringVarP(&args.Password, "password", "p", "", "Password")
    cmd.Flags().StringVarP(&args.Room, "room", "r", "general", "Room to join")
    cmd.Flags().BoolVar(&args.Register, "register", false, "Register the user before logging in")
    cmd.MarkFlagRequired("username")
    cmd.MarkFlagRequired("password")

    err := cmd.ExecuteContext(context.Background())
    if err != nil {
        os.Exit(1)
    }
}
