package internal

import (
	"github.com/WelcomerTeam/Sandwich-Gateway/internal/structs"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// NewRestRouter returns the handler serving the HTTP API.
func (sg *Sandwich) NewRestRouter() fasthttp.RequestHandler {
	r := router.New()

	r.GET("/api/status", sg.StatusEndpoint)
	r.POST("/api/managers/{identifier}/send", sg.SendEndpoint)

	return r.Handler
}

// HandleRequest handles any incoming HTTP requests.
func (sg *Sandwich) HandleRequest(ctx *fasthttp.RequestCtx) {
	defer func() {
		sg.Logger.Info().Msgf("%s %s %s %d",
			ctx.RemoteAddr(),
			ctx.Request.Header.Method(),
			ctx.Request.URI().Path(),
			ctx.Response.StatusCode())
	}()

	sg.RouterHandler(ctx)
}

func writeResponse(ctx *fasthttp.RequestCtx, statusCode int, i interface{}) {
	ctx.SetContentType("application/json;charset=UTF-8")
	ctx.SetStatusCode(statusCode)

	err := sandwichjson.MarshalToWriter(ctx, i)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}

func writeError(ctx *fasthttp.RequestCtx, statusCode int, err error) {
	writeResponse(ctx, statusCode, structs.BaseRestResponse{
		Ok:    false,
		Error: err.Error(),
	})
}
