package go_chat_rooms

// Error type for this package.
type ChatError uint

const (
    // The connection was closed, either by the remote endpoint or locally.
    ConnEOF ChatError = iota
    // Timed out waiting for a message. Only used by tests.
    TestTimeout
    // A room with the requested name already exists (or the name is empty).
    RoomAlreadyExists
    // The requested room doesn't exist.
    RoomNotFound
    // The requested username has already been registered.
    UserAlreadyExists
    // Tried to authenticate as a user that was never registered.
    UserDoesNotExist
    // The supplied password doesn't match the registered one.
    IncorrectPassword
    // Received an event that couldn't be decoded.
    InvalidEvent
    // A task popped from the queue couldn't be decoded.
    MalformedTask
    // ServerConf doesn't have a store.
    MissingStore
    // ServerConf doesn't have an identity collaborator.
    MissingIdentity
    // A key kept changing while it was being updated.
    StoreConflict
)

func (c ChatError) Error() string {
    switch c {
    case ConnEOF:
        return "Connection closed"
    case TestTimeout:
        return "Timed out"
    case RoomAlreadyExists:
        return "Room already exists or invalid"
    case RoomNotFound:
        return "Room not found"
    case UserAlreadyExists:
        return "Username already taken"
    case UserDoesNotExist:
        return "User does not exist"
    case IncorrectPassword:
        return "Incorrect password"
    case InvalidEvent:
        return "Invalid event"
    case MalformedTask:
        return "Malformed task"
    case MissingStore:
        return "No store was configured"
    case MissingIdentity:
        return "No identity provider was configured"
    case StoreConflict:
        return "Too many concurrent updates to the same key"
    default:
        return "Unknown error"
    }
}
