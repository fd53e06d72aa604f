package main

import (
    "context"
    "log"
    "os"
    "os/signal"
)

// startServer and configure its signal handler.
func startServer(args Args) error {
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
    defer stop()

    closer, err := runWeb(ctx, args)
    if err != nil {
        return err
    }

    <-ctx.Done()
    log.Printf("Exiting...")
    return closer.Close()
}

func main() {
    log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)

    defer func() {
        if r := recover(); r != nil {
            log.Fatalf("Application panicked! %+v", r)
        }
    } ()

    err := newRootCmd(startServer).Execute()
    if err != nil {
        os.Exit(1)
    }
}
