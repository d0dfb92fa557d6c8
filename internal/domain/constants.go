package domain

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Call session states. Ended sessions are removed, never stored.
const (
	CallStateRinging = "ringing"
	CallStateActive  = "active"
)

const (
	ReasonUserRejected = "user_rejected"
	ReasonDisconnect   = "disconnect"
)

// Inbound event names.
const (
	EvtCallUser     = "call-user"
	EvtAcceptCall   = "accept-call"
	EvtRejectCall   = "reject-call"
	EvtEndCall      = "end-call"
	EvtIceCandidate = "ice-candidate"
	EvtHeartbeat    = "heartbeat"
	EvtJoinRoom     = "join-room"
	EvtLeaveRoom    = "leave-room"
	EvtTyping       = "typing"
)

// Outbound event names.
const (
	EvtIncomingCall     = "incoming-call"
	EvtCallBusy         = "call-busy"
	EvtCallAccepted     = "call-accepted"
	EvtCallRejected     = "call-rejected"
	EvtCallTimeout      = "call-timeout"
	EvtCallEnded        = "call-ended"
	EvtCallError        = "call-error"
	EvtIceServers       = "ice-servers"
	EvtUserStatusChange = "user-status-change"
)

// UserChannel is the inbox channel every identified connection joins.
func UserChannel(userID string) string { return "user:" + userID }

// ConversationChannel is the room for one conversation's live events.
func ConversationChannel(conversationID string) string { return "conversation:" + conversationID }
