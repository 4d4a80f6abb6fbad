/*
Package proxy implements a REST API for sending commands to a lock through a bridge.

Endpoints:

	POST /api/1/lock/command/{name}   JSON object of command arguments (optional)
	GET  /api/1/lock/state            current connection state
	GET  /api/1/lock/events           websocket stream of bridge events

Successful commands reply with {"response": ...}. Failed commands reply with
{"error": CODE, "error_description": message} and an HTTP status derived from CODE.
*/
package proxy
