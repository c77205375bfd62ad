package structs

import (
	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
)

// SandwichMetadata represents the identification information that consumers will use.
type SandwichMetadata struct {
	Version     string `json:"v"`
	Identifier  string `json:"i"`
	Application string `json:"a"`
	// Shard ID, Shard Count
	Shard [2]int32 `json:"s"`
}

// SandwichPayload represents the data that is sent to consumers.
type SandwichPayload struct {
	Metadata *SandwichMetadata `json:"__sandwich"`
	Type     string            `json:"t,omitempty"`

	Data     any               `json:"d"`
	Sequence *int64            `json:"s,omitempty"`
	Op       discord.GatewayOp `json:"op"`
}
