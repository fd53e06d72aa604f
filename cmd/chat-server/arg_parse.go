package main

import (
    "fmt"
    "github.com/spf13/cobra"
    "github.com/spf13/viper"
    "log"
    "strings"
    "time"
)

type Args struct {
    // IP on which the server will accept connections. Defaults to 0.0.0.0
    IP string `mapstructure:"ip"`
    // Port on which the server will accept connections. Defaults to 8888
    Port int `mapstructure:"port"`
    // ReadSize allocated for gorilla-ws's buffer when a new connection is accepted. Defaults to 1024
    ReadSize int `mapstructure:"read-size"`
    // WriteSize allocated for gorilla-ws's buffer when a new connection is accepted. Defaults to 1024
    WriteSize int `mapstructure:"write-size"`
    // IgnoreOrigin and accept connections from any source (mostly for development)
    IgnoreOrigin bool `mapstructure:"ignore-origin"`
    // Transport is the WebSocket library, either "gorilla" or "gobwas". Defaults to gorilla
    Transport string `mapstructure:"transport"`
    // IdleTimeout before pinging a silent client. Defaults to 1m
    IdleTimeout time.Duration `mapstructure:"idle-timeout"`
    // ReadLimit is the largest frame accepted from a client. Defaults to 64KiB
    ReadLimit int `mapstructure:"read-limit"`
    // RedisURL of the shared store. Defaults to redis://localhost:6379/0
    RedisURL string `mapstructure:"redis-url"`
    // MongoURI of the user database. Defaults to mongodb://localhost:27017/
    MongoURI string `mapstructure:"mongo-uri"`
    // MongoDB is the name of the database. Defaults to chat_app
    MongoDB string `mapstructure:"mongo-db"`
    // StoreTimeout bounds each request to the shared store. Defaults to 5s
    StoreTimeout time.Duration `mapstructure:"store-timeout"`
    // HistoryLimit of messages sent when joining a room. Defaults to 0 (everything)
    HistoryLimit int `mapstructure:"history-limit"`
    // GenericAuthFailure hides why a login failed
    GenericAuthFailure bool `mapstructure:"generic-auth-failure"`
    // Debug enables debug messages
    Debug bool `mapstructure:"debug"`
}

// newRootCmd create the command that starts the server with the parsed
// arguments.
//
// Arguments come from the command line, from `CHAT_*` environment
// variables and from the JSON file in `--confFile`, in that order of
// priority.
func newRootCmd(run func(args Args) error) *cobra.Command {
    var confFile string
    v := viper.New()

    cmd := &cobra.Command {
        Use: "chat-server",
        Short: "Room-based chat server over WebSockets",
        SilenceUsage: true,
        Args: cobra.NoArgs,
        RunE: func(cmd *cobra.Command, _ []string) error {
            args, err := loadArgs(v, confFile)
            if err != nil {
                return err
            }
            return run(args)
        },
    }

    flags := cmd.Flags()
    flags.String("ip", "0.0.0.0", "IP on which the server will accept connections")
    flags.Int("port", 8888, "Port on which the server will accept connections")
    flags.Int("read-size", 1024, "ReadSize allocated for gorilla-ws's buffer when a new connection is accepted")
    flags.Int("write-size", 1024, "WriteSize allocated for gorilla-ws's buffer when a new connection is accepted")
    flags.Bool("ignore-origin", true, "IgnoreOrigin and accept connections from any source (mostly for development)")
    flags.String("transport", "gorilla", "WebSocket library used for connections: gorilla or gobwas")
    flags.Duration("idle-timeout", time.Minute, "How long a client may stay silent before getting pinged")
    flags.Int("read-limit", 64 * 1024, "Largest frame accepted from a client, in bytes")
    flags.String("redis-url", "redis://localhost:6379/0", "URL of the shared Redis store")
    flags.String("mongo-uri", "mongodb://localhost:27017/", "URI of the MongoDB holding the users")
    flags.String("mongo-db", "chat_app", "Name of the MongoDB database")
    flags.Duration("store-timeout", time.Second * 5, "Timeout of each request to the shared store")
    flags.Int("history-limit", 0, "How many messages are sent when joining a room (0 sends everything)")
    flags.Bool("generic-auth-failure", false, "Hide whether a login failed because of the username or of the password")
    flags.Bool("debug", false, "Log debug messages")
    flags.StringVar(&confFile, "confFile", "", "JSON file with the configuration options. May be overriden by other CLI arguments")

    v.BindPFlags(flags)
    v.SetEnvPrefix("CHAT")
    v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
    v.AutomaticEnv()

    return cmd
}

// loadArgs merge every source of arguments.
func loadArgs(v *viper.Viper, confFile string) (Args, error) {
    var args Args

    if len(confFile) != 0 {
        v.SetConfigFile(confFile)
        v.SetConfigType("json")
        err := v.ReadInConfig()
        if err != nil {
            return args, fmt.Errorf("couldn't read the configuration file '%s': %w", confFile, err)
        }
    }

    err := v.Unmarshal(&args)
    if err != nil {
        return args, fmt.Errorf("couldn't decode the configuration: %w", err)
    }

    switch args.Transport {
    case "gorilla", "gobwas":
    default:
        return args, fmt.Errorf("invalid transport '%s'", args.Transport)
    }

    log.Printf("Starting server with options:")
    log.Printf("  - IP: %+v", args.IP)
    log.Printf("  - Port: %+v", args.Port)
    log.Printf("  - ReadSize: %+v", args.ReadSize)
    log.Printf("  - WriteSize: %+v", args.WriteSize)
    log.Printf("  - IgnoreOrigin: %+v", args.IgnoreOrigin)
    log.Printf("  - Transport: %+v", args.Transport)
    log.Printf("  - IdleTimeout: %+v", args.IdleTimeout)
    log.Printf("  - ReadLimit: %+v", args.ReadLimit)
    log.Printf("  - MongoDB: %+v", args.MongoDB)
    log.Printf("  - StoreTimeout: %+v", args.StoreTimeout)
    log.Printf("  - HistoryLimit: %+v", args.HistoryLimit)
    log.Printf("  - GenericAuthFailure: %+v", args.GenericAuthFailure)
    log.Printf("  - Debug: %+v", args.Debug)

    return args, nil
}
