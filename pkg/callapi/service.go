package callapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// ServiceName is the fully-qualified name of the call service.
const ServiceName = "tablecall.call.v1.CallService"

// Procedure paths of the call service.
const (
	StartCallProcedure = "/" + ServiceName + "/StartCall"
	SendTurnProcedure  = "/" + ServiceName + "/SendTurn"
	EndCallProcedure   = "/" + ServiceName + "/EndCall"
	GetCallProcedure   = "/" + ServiceName + "/GetCall"
)

// Codec marshals call service messages as JSON.
type Codec struct{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CallServiceHandler is implemented by the server.
type CallServiceHandler interface {
	StartCall(context.Context, *connect.Request[StartCallRequest]) (*connect.Response[StartCallResponse], error)
	SendTurn(context.Context, *connect.Request[SendTurnRequest]) (*connect.Response[SendTurnResponse], error)
	EndCall(context.Context, *connect.Request[EndCallRequest]) (*connect.Response[EndCallResponse], error)
	GetCall(context.Context, *connect.Request[GetCallRequest]) (*connect.Response[GetCallResponse], error)
}

// NewCallServiceHandler builds an HTTP handler for svc. It returns the path
// to mount the handler on.
func NewCallServiceHandler(svc CallServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	startCall := connect.NewUnaryHandler(StartCallProcedure, svc.StartCall, opts...)
	sendTurn := connect.NewUnaryHandler(SendTurnProcedure, svc.SendTurn, opts...)
	endCall := connect.NewUnaryHandler(EndCallProcedure, svc.EndCall, opts...)
	getCall := connect.NewUnaryHandler(GetCallProcedure, svc.GetCall,
		append(opts, connect.WithIdempotency(connect.IdempotencyNoSideEffects))...)

	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case StartCallProcedure:
			startCall.ServeHTTP(w, r)
		case SendTurnProcedure:
			sendTurn.ServeHTTP(w, r)
		case EndCallProcedure:
			endCall.ServeHTTP(w, r)
		case GetCallProcedure:
			getCall.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// CallServiceClient is a client for the call service.
type CallServiceClient interface {
	StartCall(context.Context, *connect.Request[StartCallRequest]) (*connect.Response[StartCallResponse], error)
	SendTurn(context.Context, *connect.Request[SendTurnRequest]) (*connect.Response[SendTurnResponse], error)
	EndCall(context.Context, *connect.Request[EndCallRequest]) (*connect.Response[EndCallResponse], error)
	GetCall(context.Context, *connect.Request[GetCallRequest]) (*connect.Response[GetCallResponse], error)
}

type callServiceClient struct {
	startCall *connect.Client[StartCallRequest, StartCallResponse]
	sendTurn  *connect.Client[SendTurnRequest, SendTurnResponse]
	endCall   *connect.Client[EndCallRequest, EndCallResponse]
	getCall   *connect.Client[GetCallRequest, GetCallResponse]
}

// NewCallServiceClient constructs a client for the service at baseURL.
func NewCallServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) CallServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &callServiceClient{
		startCall: connect.NewClient[StartCallRequest, StartCallResponse](httpClient, baseURL+StartCallProcedure, opts...),
		sendTurn:  connect.NewClient[SendTurnRequest, SendTurnResponse](httpClient, baseURL+SendTurnProcedure, opts...),
		endCall:   connect.NewClient[EndCallRequest, EndCallResponse](httpClient, baseURL+EndCallProcedure, opts...),
		getCall:   connect.NewClient[GetCallRequest, GetCallResponse](httpClient, baseURL+GetCallProcedure, opts...),
	}
}

func (c *callServiceClient) StartCall(ctx context.Context, req *connect.Request[StartCallRequest]) (*connect.Response[StartCallResponse], error) {
	return c.startCall.CallUnary(ctx, req)
}

func (c *callServiceClient) SendTurn(ctx context.Context, req *connect.Request[SendTurnRequest]) (*connect.Response[SendTurnResponse], error) {
	return c.sendTurn.CallUnary(ctx, req)
}

func (c *callServiceClient) EndCall(ctx context.Context, req *connect.Request[EndCallRequest]) (*connect.Response[EndCallResponse], error) {
	return c.endCall.CallUnary(ctx, req)
}

func (c *callServiceClient) GetCall(ctx context.Context, req *connect.Request[GetCallRequest]) (*connect.Response[GetCallResponse], error) {
	return c.getCall.CallUnary(ctx, req)
}
