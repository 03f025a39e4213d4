package main

import (
	"context"
	"log/slog"

	"github.com/bamsammich/botstream/internal/protocol"
)

const healthPath = "/api/health"

// echoBot answers every request by streaming the request's content back to
// the sender.
type echoBot struct{}

type healthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type requestSummary struct {
	Verb string `json:"verb"`
	Path string `json:"path"`
}

func (echoBot) ProcessRequest(_ context.Context, req *protocol.ReceiveRequest) (*protocol.Response, error) {
	slog.Debug("request received", "verb", req.Verb, "path", req.Path, "streams", len(req.Streams))

	if req.Path == healthPath {
		body, err := protocol.JSONContent(healthStatus{Status: "ok", Version: version})
		if err != nil {
			return nil, err
		}
		return protocol.NewResponse(200, body), nil
	}

	// Without content there is nothing to echo; describe the request instead.
	if len(req.Streams) == 0 {
		body, err := protocol.JSONContent(requestSummary{Verb: req.Verb, Path: req.Path})
		if err != nil {
			return nil, err
		}
		return protocol.NewResponse(200, body), nil
	}

	// Incoming streams are read while the response is sent, so large bodies
	// are relayed chunk by chunk.
	resp := protocol.NewResponse(200)
	for _, s := range req.Streams {
		resp.AddStream(protocol.NewContent(s.Type, s.Body, s.Length))
	}
	return resp, nil
}
