package internal

import (
	"errors"
	"fmt"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/etf"
	"github.com/WelcomerTeam/Sandwich-Gateway/internal/structs"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/valyala/fasthttp"
)

// StatusEndpoint returns the status of every manager and its shards.
func (sg *Sandwich) StatusEndpoint(ctx *fasthttp.RequestCtx) {
	writeResponse(ctx, fasthttp.StatusOK, structs.BaseRestResponse{
		Ok:   true,
		Data: sg.Status(),
	})
}

// SendEndpoint queues a payload on a shard of a manager. The "d" value is
// converted to a term with integers kept as integers.
func (sg *Sandwich) SendEndpoint(ctx *fasthttp.RequestCtx) {
	identifier, _ := ctx.UserValue("identifier").(string)

	manager, err := sg.GetManager(identifier)
	if err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)

		return
	}

	var arguments structs.SendPayloadArguments

	err = sandwichjson.UnmarshalUseNumber(ctx.PostBody(), &arguments)
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, fmt.Errorf("failed to read body: %w", err))

		return
	}

	op := discord.GatewayOp(arguments.Op)
	if !op.IsSendable() {
		writeError(ctx, fasthttp.StatusBadRequest, fmt.Errorf("%w: %s", discord.ErrInvalidSendOp, op))

		return
	}

	var data interface{}

	if len(arguments.Data) > 0 {
		err = sandwichjson.UnmarshalUseNumber(arguments.Data, &data)
		if err != nil {
			writeError(ctx, fasthttp.StatusBadRequest, fmt.Errorf("failed to read data: %w", err))

			return
		}
	}

	term, err := etf.From(data)
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)

		return
	}

	err = manager.Send(&discord.SentPayload{
		ShardID: arguments.ShardID,
		Op:      op,
		Data:    term,
	})
	if err != nil {
		if errors.Is(err, ErrShardMissing) {
			writeError(ctx, fasthttp.StatusNotFound, err)
		} else {
			writeError(ctx, fasthttp.StatusInternalServerError, err)
		}

		return
	}

	writeResponse(ctx, fasthttp.StatusOK, structs.BaseRestResponse{
		Ok: true,
	})
}
