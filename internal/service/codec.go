package service

import (
	"context"
	"encoding/json"
	"net/http"

	"connectrpc.com/connect"
)

// Fully-qualified service names. Procedures are "/<service>/<Method>".
const (
	AccountServiceName   = "trustfirst.v1.AccountService"
	AgreementServiceName = "trustfirst.v1.AgreementService"
	FundingServiceName   = "trustfirst.v1.FundingService"
)

// Procedure returns the HTTP path of a service method.
func Procedure(service, method string) string {
	return "/" + service + "/" + method
}

// PublicProcedures can be called without a token.
var PublicProcedures = []string{
	Procedure(AccountServiceName, "Register"),
	Procedure(AccountServiceName, "Login"),
}

// jsonCodec marshals plain Go structs as JSON on the wire.
type jsonCodec struct {
	name string
}

func (c jsonCodec) Name() string { return c.name }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

// Codec is the JSON codec clients must use to talk to these services.
func Codec() connect.Codec {
	return jsonCodec{name: "json"}
}

func handlerOptions(opts []connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{
		connect.WithCodec(jsonCodec{name: "json"}),
		connect.WithCodec(jsonCodec{name: "json; charset=utf-8"}),
	}, opts...)
}

// routes collects the unary handlers of one service.
type routes struct {
	service string
	mux     *http.ServeMux
	opts    []connect.HandlerOption
}

func newRoutes(service string, opts []connect.HandlerOption) *routes {
	return &routes{service: service, mux: http.NewServeMux(), opts: handlerOptions(opts)}
}

func handle[Req, Res any](r *routes, method string, fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error)) {
	procedure := Procedure(r.service, method)
	r.mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, r.opts...))
}

// handler returns the path prefix to mount and the service's handler.
func (r *routes) handler() (string, http.Handler) {
	return "/" + r.service + "/", r.mux
}
