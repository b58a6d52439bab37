package ipc

import (
	"encoding/json"
	"sync"
)

// laneEvents are the client events that can block for seconds (a stop waits
// out the agent's grace period) and so never run on the read loop.
var laneEvents = map[string]bool{
	ClientSessionStop:   true,
	ClientSessionDelete: true,
}

// sessionScoped are the client events whose payload names a session.
var sessionScoped = map[string]bool{
	ClientSessionContinue:    true,
	ClientSessionStop:        true,
	ClientSessionDelete:      true,
	ClientSessionHistory:     true,
	ClientPermissionResponse: true,
}

// sessionIDOf returns the sessionId named by a session-scoped event, or ""
// when the event has none or its payload does not parse. The relay reports
// the latter.
func sessionIDOf(ev ClientEvent) string {
	if !sessionScoped[ev.Type] || len(ev.Payload) == 0 {
		return ""
	}
	var ref sessionRef
	if err := json.Unmarshal(ev.Payload, &ref); err != nil {
		return ""
	}
	return ref.SessionID
}

// dispatcher runs one connection's client events. A stop or delete runs on
// a per-session lane off the read loop; later events for that session queue
// behind it until the lane drains. Everything else runs inline, in arrival
// order.
type dispatcher struct {
	handle func(ClientEvent)
	wg     *sync.WaitGroup

	mu    sync.Mutex
	lanes map[string][]ClientEvent // a key is present while its worker runs
}

func newDispatcher(handle func(ClientEvent), wg *sync.WaitGroup) *dispatcher {
	return &dispatcher{
		handle: handle,
		wg:     wg,
		lanes:  make(map[string][]ClientEvent),
	}
}

func (d *dispatcher) dispatch(ev ClientEvent) {
	id := sessionIDOf(ev)
	if id == "" {
		d.handle(ev)
		return
	}

	d.mu.Lock()
	queue, active := d.lanes[id]
	if !active && !laneEvents[ev.Type] {
		d.mu.Unlock()
		d.handle(ev)
		return
	}
	d.lanes[id] = append(queue, ev)
	d.mu.Unlock()

	if !active {
		d.wg.Go(func() {
			d.drain(id)
		})
	}
}

// drain handles the lane's events in order and retires the lane once empty.
func (d *dispatcher) drain(id string) {
	for {
		d.mu.Lock()
		queue := d.lanes[id]
		if len(queue) == 0 {
			delete(d.lanes, id)
			d.mu.Unlock()
			return
		}
		ev := queue[0]
		d.lanes[id] = queue[1:]
		d.mu.Unlock()

		d.handle(ev)
	}
}
