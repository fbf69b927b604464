// Package domain holds the value types shared by the wire protocol, the
// handlers and the repository.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// PlayerID identifies a player
type PlayerID = uuid.UUID

// NewPlayerID returns a fresh random player ID
func NewPlayerID() PlayerID {
	return uuid.New()
}

// ResourceType is an enumerated in-game currency
type ResourceType int

const (
	Coins ResourceType = iota
	Rolls
)

// ResourceTypes lists every known resource type, in storage order
var ResourceTypes = []ResourceType{Coins, Rolls}

var resourceNames = map[ResourceType]string{
	Coins: "Coins",
	Rolls: "Rolls",
}

// Valid reports whether t is one of the known kinds
func (t ResourceType) Valid() bool {
	_, ok := resourceNames[t]
	return ok
}

func (t ResourceType) String() string {
	if name, ok := resourceNames[t]; ok {
		return name
	}
	return "ResourceType(" + strconv.Itoa(int(t)) + ")"
}

// ParseResourceType resolves a resource name (case-sensitive)
func ParseResourceType(name string) (ResourceType, bool) {
	for t, n := range resourceNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// MarshalJSON writes known kinds by name and unknown ones as numbers
func (t ResourceType) MarshalJSON() ([]byte, error) {
	if name, ok := resourceNames[t]; ok {
		return json.Marshal(name)
	}
	return []byte(strconv.Itoa(int(t))), nil
}

// UnmarshalJSON accepts a name ("Coins") or a number (0). An unknown name
// decodes to -1 so that validation, not decoding, rejects it.
func (t *ResourceType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		if parsed, ok := ParseResourceType(name); ok {
			*t = parsed
			return nil
		}
		*t = -1
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("resource type: %w", err)
	}
	*t = ResourceType(n)
	return nil
}
