package model

import "time"

// TerminalSession is the local history record of one terminal session.
type TerminalSession struct {
	ID            string     `json:"id"`
	InstanceID    string     `json:"instanceId"`
	State         string     `json:"state"`
	BytesIn       int64      `json:"bytesIn"`
	BytesOut      int64      `json:"bytesOut"`
	RecordingPath string     `json:"recordingPath,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

// Duration returns how long the session lasted, or has lasted so far.
func (s *TerminalSession) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}
