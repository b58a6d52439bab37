// Package session owns session metadata and message history.
//
// # Lifecycle
//
// A session is created idle, becomes running when a turn starts, and ends
// the turn completed or error. Completed and error sessions can start
// another turn; a running session cannot. Deleting a running session is
// refused until it has been stopped.
//
//	idle ──start/continue──▶ running ──exit──▶ completed | error
//	  ▲                        │                    │
//	  └──────────stop──────────┘        continue ───┘ (back to running)
//
// # Persistence
//
// Each session is one JSON file under the sessions directory holding its
// Info, the provider and tools it was started with, and its message
// history (oldest first, trimmed to a configurable maximum). Files are
// written when the session is created, when its status or CLI session id
// changes, and on Flush. A session found running at load time belonged to
// a host that exited mid-turn and is reset to idle.
package session
