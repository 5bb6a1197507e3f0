package core

// Event names the core emits to clients.
const (
	// EventRoomJoined confirms that the connection joined an existing room.
	EventRoomJoined = "room_joined"
	// EventRoomCreated confirms that a new room was created and joined.
	EventRoomCreated = "room_created"
	// EventRoomLeft confirms that the connection stopped viewing a room.
	EventRoomLeft = "room_left"
	// EventNewRoom tells a participant that someone created a room with them.
	EventNewRoom = "new_room"
	// EventReceiveMessage carries a new message to everyone viewing the room.
	EventReceiveMessage = "receive_message"
	// EventNotify carries a new message to a participant not viewing the room.
	EventNotify = "notify"
	// EventChatHistory delivers one page of room history.
	EventChatHistory = "chat_history"
	// EventMessageDelivered carries a message whose status became DELIVERED.
	EventMessageDelivered = "message_delivered"
	// EventMessageStatusUpdated tells a sender that one of their messages changed status.
	EventMessageStatusUpdated = "message-status-updated"
	// EventMessageRead lists the messages of one room that became READ.
	EventMessageRead = "message_read"
	// EventRoomList delivers the requesting user's rooms.
	EventRoomList = "room_list"
	// EventError notifies the originating connection about a failed request.
	EventError = "error"
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Name    string
	Channel string // empty for direct replies
	Payload any
}
