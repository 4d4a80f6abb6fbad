package proxy

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tedee/lock-command/pkg/bridge"
	"github.com/tedee/lock-command/pkg/protocol"
)

// readArguments decodes the optional JSON object in the request body.
func readArguments(req *http.Request) (bridge.Arguments, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBodyBytes+1))
	if err != nil {
		return nil, protocol.InvalidArgument("could not read request body: %w", err)
	}
	if len(body) > maxRequestBodyBytes {
		return nil, protocol.InvalidArgument("request body exceeds %d bytes", maxRequestBodyBytes)
	}
	if len(body) == 0 {
		return nil, nil
	}
	var args bridge.Arguments
	if err := json.Unmarshal(body, &args); err != nil {
		return nil, protocol.InvalidArgument("error occurred while parsing request parameters: %w", err)
	}
	return args, nil
}

// statusForFailure maps a failure code to the HTTP status reported to clients.
func statusForFailure(failure *protocol.Failure) int {
	switch failure.Code {
	case protocol.CodeInvalidArgs, protocol.CodeInvalidHex:
		return http.StatusBadRequest
	case protocol.CodeNotImplemented:
		return http.StatusNotFound
	case protocol.CodeAlreadyConnected:
		return http.StatusConflict
	case protocol.CodeBusy, protocol.CodeClosed:
		return http.StatusServiceUnavailable
	case protocol.CodeNetwork, protocol.CodeProvisioning:
		return http.StatusBadGateway
	case protocol.CodeDeviceResetRequired:
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}
