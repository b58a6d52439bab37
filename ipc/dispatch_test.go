package ipc

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIDOf(t *testing.T) {
	assert.Equal(t, "s1", sessionIDOf(event(t, ClientSessionStop, map[string]string{"sessionId": "s1"})))
	assert.Equal(t, "s1", sessionIDOf(event(t, ClientPermissionResponse, map[string]string{"sessionId": "s1", "toolUseId": "tu"})))
	assert.Empty(t, sessionIDOf(event(t, ClientSessionList, map[string]string{"sessionId": "s1"})))
	assert.Empty(t, sessionIDOf(event(t, ClientSessionStop, nil)))
	assert.Empty(t, sessionIDOf(ClientEvent{Type: ClientSessionStop, Payload: json.RawMessage(`"nope"`)}))
}

func TestDispatcher_LanesKeepSessionOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		handled []string
		wg      sync.WaitGroup
	)
	release := make(chan struct{})
	d := newDispatcher(func(ev ClientEvent) {
		id := sessionIDOf(ev)
		if ev.Type == ClientSessionStop && id == "slow" {
			<-release
		}
		mu.Lock()
		handled = append(handled, ev.Type+":"+id)
		mu.Unlock()
	}, &wg)
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), handled...)
	}

	ref := func(id string) map[string]string { return map[string]string{"sessionId": id} }
	d.dispatch(event(t, ClientSessionStop, ref("slow")))
	d.dispatch(event(t, ClientSessionContinue, ref("slow")))
	d.dispatch(event(t, ClientSessionHistory, ref("other")))
	d.dispatch(event(t, ClientSessionList, nil))

	// Inline events ran on the caller; the slow lane is still parked.
	assert.Equal(t, []string{ClientSessionHistory + ":other", ClientSessionList + ":"}, snapshot())

	close(release)
	wg.Wait()
	assert.Equal(t, []string{
		ClientSessionHistory + ":other",
		ClientSessionList + ":",
		ClientSessionStop + ":slow",
		ClientSessionContinue + ":slow",
	}, snapshot())

	// A drained lane is retired, so the next non-stop event runs inline again.
	d.mu.Lock()
	assert.Empty(t, d.lanes)
	d.mu.Unlock()
	d.dispatch(event(t, ClientSessionContinue, ref("slow")))
	assert.Equal(t, ClientSessionContinue+":slow", snapshot()[4])

	d.dispatch(event(t, ClientSessionDelete, ref("slow")))
	require.Eventually(t, func() bool { return len(snapshot()) == 6 }, time.Second, 5*time.Millisecond)
	wg.Wait()
}
