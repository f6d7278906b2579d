package domain

type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

type VotingPolicy string

const (
	VotingPolicyMajority     VotingPolicy = "majority"
	VotingPolicyHostOverride VotingPolicy = "host_override"
	VotingPolicyFree         VotingPolicy = "free"
)

type ParticipantStatus string

const (
	ParticipantStatusConnected    ParticipantStatus = "connected"
	ParticipantStatusSyncing      ParticipantStatus = "syncing"
	ParticipantStatusDisconnected ParticipantStatus = "disconnected"
)

type ParticipantRole string

const (
	RoleController ParticipantRole = "controller"
	RolePlayback   ParticipantRole = "playback"
	RoleListener   ParticipantRole = "listener"
)
