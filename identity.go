package go_chat_rooms

import (
    "context"
)

// Identity is the user database consulted by the chat server. The server
// never sees password hashes: it only asks whether a password is right.
type Identity interface {
    // Authenticate check `password` against the one registered for
    // `username`, failing with UserDoesNotExist or IncorrectPassword.
    Authenticate(ctx context.Context, username, password string) error

    // CreateAccount register a new user, failing with UserAlreadyExists if
    // `username` was already taken. The new user starts offline.
    CreateAccount(ctx context.Context, username, password string) error

    // SetOnline flag whether `username` currently has a live connection.
    SetOnline(ctx context.Context, username string, online bool) error
}
