// Package claude runs the Claude Code CLI for chat sessions.
//
// # Overview
//
// Each turn of a session is one CLI process started in stream-json mode.
// The prompt is written to stdin as a user message; stdout is read line by
// line and turned into events:
//
//	runner := claude.NewRunner(claude.RunnerConfig{SessionID: id, WorkingDir: cwd})
//	events, err := runner.Start(ctx, "Hello")
//	for ev := range events {
//	    switch ev.Kind {
//	    case claude.EventMessage:    // forward ev.Message
//	    case claude.EventPermission: // ask the user, then runner.RespondPermission
//	    case claude.EventDone:       // ev.Err is nil on success
//	    }
//	}
//
// The channel closes when the process exits or after Stop. A later turn of
// the same conversation uses a new Runner with ResumeID set to the session
// id reported in the CLI's system init message.
//
// # Permissions
//
// The CLI is started with --permission-prompt-tool stdio, so tool approval
// arrives on stdout as can_use_tool control requests and is answered on
// stdin. RespondPermission delivers at most one answer per tool use id;
// requests cancelled by the CLI or dropped by Stop can no longer be answered.
//
// # Environment
//
// BuildEnv layers provider credentials over the inherited environment and
// extends PATH with the usual install locations, so a host started from a
// desktop launcher can still find node, bun and git.
//
// # Shutdown
//
// Stop sends SIGTERM to the process group, waits the grace period, then
// sends SIGKILL. It returns after all reader goroutines have exited.
package claude
