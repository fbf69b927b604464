// Package protocol defines the JSON wire messages exchanged with clients.
package protocol

import "github.com/SkynetNext/game-server/internal/domain"

// Inbound message types
const (
	TypeLogin           = "LOGIN"
	TypeUpdateResources = "UPDATE_RESOURCES"
	TypeSendGift        = "SEND_GIFT"
	TypeAddFriend       = "ADD_FRIEND"
)

// Outbound message types
const (
	TypeLoginResponse   = "LOGIN_RESPONSE"
	TypeResourceUpdated = "RESOURCE_UPDATED"
	TypeGiftReceived    = "GIFT_RECEIVED"
	TypeFriendAdded     = "FRIEND_ADDED"
	TypeFriendOnline    = "FRIEND_ONLINE"
	TypeServerShutdown  = "SERVER_SHUTDOWN"
	TypeError           = "ERROR"
)

// LoginRequest is the LOGIN payload
type LoginRequest struct {
	DeviceID string `json:"deviceId"`
}

// UpdateResourcesRequest is the UPDATE_RESOURCES payload. Value is a signed delta.
type UpdateResourcesRequest struct {
	Type  domain.ResourceType `json:"type"`
	Value int64               `json:"value"`
}

// SendGiftRequest is the SEND_GIFT payload
type SendGiftRequest struct {
	FriendPlayerID domain.PlayerID     `json:"friendPlayerId"`
	Type           domain.ResourceType `json:"type"`
	Value          int64               `json:"value"`
}

// AddFriendRequest is the ADD_FRIEND payload
type AddFriendRequest struct {
	FriendPlayerID domain.PlayerID `json:"friendPlayerId"`
}

// LoginResponse is the LOGIN_RESPONSE payload
type LoginResponse struct {
	PlayerID domain.PlayerID `json:"playerId"`
}

// ResourceUpdated is the RESOURCE_UPDATED payload
type ResourceUpdated struct {
	Type       domain.ResourceType `json:"type"`
	NewBalance int64               `json:"newBalance"`
}

// GiftReceived is the GIFT_RECEIVED payload
type GiftReceived struct {
	FromPlayerID domain.PlayerID     `json:"fromPlayerId"`
	Type         domain.ResourceType `json:"type"`
	Amount       int64               `json:"amount"`
}

// FriendAdded is the FRIEND_ADDED payload
type FriendAdded struct {
	ByPlayerID domain.PlayerID `json:"byPlayerId"`
}

// FriendOnline is the FRIEND_ONLINE payload
type FriendOnline struct {
	PlayerID domain.PlayerID `json:"playerId"`
}

// ServerShutdown is the SERVER_SHUTDOWN payload
type ServerShutdown struct {
	Reason string `json:"reason"`
}

// ErrorPayload is the ERROR payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
