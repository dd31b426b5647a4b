// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

import (
	"context"
	"fmt"

	"github.com/agentmirror/agentmirror/relay"
)

// StartHeartbeat launches the session's heartbeat loop: every
// Options.HeartbeatInterval it sends the current mode, thinking flag,
// and agent session id. The beacon is best-effort: send failures are
// logged and dropped, and ticks while the relay link is down are
// skipped outright, so a dead link never builds a backlog of stale
// heartbeats.
//
// The loop stops when ctx is cancelled. Each session owns exactly one
// heartbeat; calling StartHeartbeat twice is an error.
func (s *Session) StartHeartbeat(ctx context.Context) error {
	s.stateMu.Lock()
	if s.heartbeatDone != nil {
		s.stateMu.Unlock()
		return fmt.Errorf("statesync: heartbeat already running for session %s", s.id)
	}
	done := make(chan struct{})
	s.heartbeatDone = done
	s.stateMu.Unlock()

	ticker := s.options.Clock.NewTicker(s.options.HeartbeatInterval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if !s.api.Connected() {
				continue
			}

			s.stateMu.Lock()
			beat := relay.HeartbeatRequest{
				Mode:           s.agentState.Mode,
				Thinking:       s.agentState.Thinking,
				AgentSessionID: s.agentState.AgentSessionID,
			}
			s.stateMu.Unlock()

			if err := s.api.Heartbeat(ctx, s.id, beat); err != nil && ctx.Err() == nil {
				s.options.Logger.Debug("heartbeat dropped", "session", s.id, "error", err)
			}
		}
	}()
	return nil
}
