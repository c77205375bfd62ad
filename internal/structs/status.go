package structs

type ShardStatus uint8

const (
	ShardStatusIdle ShardStatus = iota
	ShardStatusConnecting
	ShardStatusConnected

	ShardStatusClosing
	ShardStatusClosed
	ShardStatusErroring
)

var shardStatusNames = [...]string{
	ShardStatusIdle:       "idle",
	ShardStatusConnecting: "connecting",
	ShardStatusConnected:  "connected",
	ShardStatusClosing:    "closing",
	ShardStatusClosed:     "closed",
	ShardStatusErroring:   "erroring",
}

func (s ShardStatus) String() string {
	if int(s) < len(shardStatusNames) {
		return shardStatusNames[s]
	}

	return "unknown"
}

type ShardStatusUpdate struct {
	Manager string      `json:"manager"`
	Shard   int32       `json:"shard_id"`
	Status  ShardStatus `json:"status"`
}
