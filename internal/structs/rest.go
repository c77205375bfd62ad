package structs

import (
	"encoding/json"
)

type BaseRestResponse struct {
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Ok    bool        `json:"ok"`
}

type StatusEndpointResponse struct {
	Managers []StatusEndpointManager `json:"managers"`
	Uptime   int                     `json:"uptime"`
}

type StatusEndpointManager struct {
	Identifier  string                `json:"identifier"`
	DisplayName string                `json:"display_name"`
	Shards      []StatusEndpointShard `json:"shards"`
	Finished    bool                  `json:"finished"`
}

type StatusEndpointShard struct {
	// Uptime in seconds since the shard connected.
	Uptime   int         `json:"uptime"`
	ShardID  int32       `json:"shard_id"`
	Status   ShardStatus `json:"status"`
	Finished bool        `json:"finished"`
}

// SendPayloadArguments is the body accepted when sending a payload to a shard.
type SendPayloadArguments struct {
	Data    json.RawMessage `json:"d"`
	ShardID int32           `json:"shard_id"`
	Op      uint8           `json:"op"`
}
