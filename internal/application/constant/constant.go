package constant

// slog attribute keys.
const (
	Error    = "error"
	UserID   = "user_id"
	RoomID   = "room_id"
	ClientID = "client_id"
	Driver   = "driver"
)
