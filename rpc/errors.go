// Package rpc is the client engine and server dispatcher, grounded on
// infra/network/rpc.go's RPCClient/RPCServer pair (which itself already
// carries a proto.Message-typed Call method), generalized to the wire
// package's framing and registry-backed endpoint resolution instead of
// a Consul client and raw binary.Read/Write calls.
package rpc

import "google.golang.org/grpc/codes"

// Error kinds surfaced through a Controller's (code, info) pair, mapped
// onto google.golang.org/grpc/codes.Code so the wire err_code field
// stays meaningful even to a peer that never calls into this package's
// helpers.
const (
	CodeChannelInit         = codes.InvalidArgument
	CodePeerAddrUnavailable = codes.Unavailable
	CodeConnectError        = codes.Unavailable
	CodeSerializeError      = codes.Internal
	CodeCallTimeout         = codes.DeadlineExceeded
	CodeMethodNotFound      = codes.NotFound
	CodeHandlerError        = codes.Internal
)

// codeFromWire reinterprets a frame's plain int32 err_code as a
// codes.Code, the inverse of int32(ctrl.ErrorCode()) on the server side.
func codeFromWire(errCode int32) codes.Code {
	return codes.Code(errCode)
}
