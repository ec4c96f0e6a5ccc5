// Package weave is a client-side connector for a Weave cluster: a
// document/graph database that speaks a length-prefixed binary protocol
// carrying MessagePack payloads over TCP or WebSocket, and pushes
// server-originated "room" events to subscribed clients.
//
// A Client multiplexes concurrent requests over one active transport,
// fails over across a pool of candidate nodes, re-authenticates, and
// re-joins rooms after a reconnect. Rooms deliver push events to
// user-registered handlers with single-writer ordering per room.
package weave

// Proto identifies the packet types carried in a frame header, both
// server-originated events and client/server request/response pairs.
type Proto uint8

const (
	// Events (server -> client).
	ProtoOnNodeStatus Proto = 0x00
	ProtoOnWarn       Proto = 0x05
	ProtoOnRoomJoin   Proto = 0x06
	ProtoOnRoomLeave  Proto = 0x07
	ProtoOnRoomEmit   Proto = 0x08
	ProtoOnRoomDelete Proto = 0x09

	// Responses (server -> client).
	ProtoResPing  Proto = 0x10
	ProtoResOK    Proto = 0x11
	ProtoResData  Proto = 0x12
	ProtoResError Proto = 0x13

	// Requests (client -> server).
	ProtoReqPing     Proto = 0x20
	ProtoReqAuth     Proto = 0x21
	ProtoReqQuery    Proto = 0x22
	ProtoReqRun      Proto = 0x25
	ProtoReqJoin     Proto = 0x26
	ProtoReqLeave    Proto = 0x27
	ProtoReqEmit     Proto = 0x28
	ProtoReqEmitPeer Proto = 0x29
)

func isResponseType(tp Proto) bool {
	switch tp {
	case ProtoResPing, ProtoResOK, ProtoResData, ProtoResError:
		return true
	}
	return false
}

func isEventType(tp Proto) bool {
	switch tp {
	case ProtoOnNodeStatus, ProtoOnWarn, ProtoOnRoomJoin, ProtoOnRoomLeave, ProtoOnRoomEmit, ProtoOnRoomDelete:
		return true
	}
	return false
}
