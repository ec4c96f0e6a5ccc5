package weave

import "fmt"

// pushHandlers bundles the callbacks the Event Router dispatches to.
// onNodeStatus and onWarn are optional and may be nil (the Client
// leaves both unset); room events are routed through the room registry
// via lookupRoom.
type pushHandlers struct {
	onNodeStatus func(status string, id int)
	onWarn       func(msg string)
	lookupRoom   func(id int) (*Room, bool)
}

// eventRouter demultiplexes inbound push packets. It holds
// no state of its own beyond the callbacks wired in by the Client.
type eventRouter struct {
	logger        Logger
	autoReconnect bool
	triggerReconn func()
	handlers      pushHandlers
}

func newEventRouter(logger Logger, autoReconnect bool, triggerReconnect func(), handlers pushHandlers) *eventRouter {
	return &eventRouter{
		logger:        logger,
		autoReconnect: autoReconnect,
		triggerReconn: triggerReconnect,
		handlers:      handlers,
	}
}

// route dispatches one push packet by type. Called from the Client's
// dedicated push-event dispatch goroutine (see Client.dispatchPushEvents),
// never from a transport's read-pump, since a room lookup below can
// block on roomsMu for as long as a Join is in flight.
func (r *eventRouter) route(pkt Packet) {
	switch pkt.Type {
	case ProtoOnNodeStatus:
		r.onNodeStatus(pkt)
	case ProtoOnWarn:
		r.onWarn(pkt)
	case ProtoOnRoomJoin:
		r.onRoomEvent(pkt, func(rm *Room, id int) { rm.enqueue(rm.handleJoin) })
	case ProtoOnRoomLeave:
		r.onRoomEvent(pkt, func(rm *Room, id int) { rm.enqueue(rm.handleLeave) })
	case ProtoOnRoomEmit:
		r.onRoomEmit(pkt)
	case ProtoOnRoomDelete:
		r.onRoomEvent(pkt, func(rm *Room, id int) { rm.enqueue(rm.handleDelete) })
	default:
		r.logger.Warnf("event router: unhandled push packet type 0x%02x", pkt.Type)
	}
}

func (r *eventRouter) onNodeStatus(pkt Packet) {
	m, err := unpackBodyMap(pkt.Payload)
	if err != nil {
		r.logger.Errorf("malformed NODE_STATUS payload: %v", err)
		return
	}
	status, _ := m["status"].(string)
	id, _ := toInt(m["id"])
	if r.handlers.onNodeStatus != nil {
		r.handlers.onNodeStatus(status, id)
	}
	if r.autoReconnect && status == "SHUTTING_DOWN" {
		r.logger.Infof("node %d reports SHUTTING_DOWN, starting reconnect", id)
		if r.triggerReconn != nil {
			r.triggerReconn()
		}
	}
}

func (r *eventRouter) onWarn(pkt Packet) {
	v, err := unpackBody(pkt.Payload)
	if err != nil {
		r.logger.Warnf("malformed WARN payload: %v", err)
		return
	}
	r.logger.Warnf("server warning: %v", v)
	if r.handlers.onWarn != nil {
		if m, ok := v.(map[string]any); ok {
			if msg, ok := m["warn_msg"].(string); ok {
				r.handlers.onWarn(msg)
				return
			}
		}
		r.handlers.onWarn(fmt.Sprintf("%v", v))
	}
}

func (r *eventRouter) onRoomEvent(pkt Packet, dispatch func(rm *Room, id int)) {
	m, err := unpackBodyMap(pkt.Payload)
	if err != nil {
		r.logger.Errorf("malformed room event payload (type 0x%02x): %v", pkt.Type, err)
		return
	}
	id, ok := toInt(m["id"])
	if !ok {
		r.logger.Errorf("room event payload missing id (type 0x%02x)", pkt.Type)
		return
	}
	rm, found := r.handlers.lookupRoom(id)
	if !found {
		r.logger.Warnf("room event for unknown room id %d (type 0x%02x), dropping", id, pkt.Type)
		return
	}
	dispatch(rm, id)
}

func (r *eventRouter) onRoomEmit(pkt Packet) {
	m, err := unpackBodyMap(pkt.Payload)
	if err != nil {
		r.logger.Errorf("malformed ROOM_EMIT payload: %v", err)
		return
	}
	id, ok := toInt(m["id"])
	if !ok {
		r.logger.Errorf("ROOM_EMIT payload missing id")
		return
	}
	rm, found := r.handlers.lookupRoom(id)
	if !found {
		r.logger.Warnf("ROOM_EMIT for unknown room id %d, dropping", id)
		return
	}
	event, _ := m["event"].(string)
	args, _ := m["args"].([]any)
	rm.enqueue(func() { rm.handleEmit(event, args) })
}
