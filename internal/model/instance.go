package model

import "fmt"

// InstanceStatus is the lifecycle status reported for a challenge instance.
type InstanceStatus string

const (
	InstanceStatusStarting InstanceStatus = "starting"
	InstanceStatusRunning  InstanceStatus = "running"
	InstanceStatusStopped  InstanceStatus = "stopped"
)

// Instance is a running (or recently stopped) challenge container owned by the user.
type Instance struct {
	ID          string         `json:"id"`
	ChallengeID string         `json:"challenge_id"`
	Status      InstanceStatus `json:"status"`
	SSHHost     *string        `json:"ssh_host,omitempty"`
	SSHPort     *int           `json:"ssh_port,omitempty"`
}

// IsRunning reports whether a terminal can be attached to the instance.
func (i *Instance) IsRunning() bool {
	return i.Status == InstanceStatusRunning
}

// SSHCommand returns the ssh invocation for the instance, or "starting..."
// while the platform has not assigned a port yet.
func (i *Instance) SSHCommand() string {
	if i.SSHPort == nil || *i.SSHPort == 0 || i.SSHHost == nil {
		return "starting..."
	}
	return fmt.Sprintf("ssh -p %d ctf@%s", *i.SSHPort, *i.SSHHost)
}

// StartInstanceRequest asks the platform to start a challenge instance.
type StartInstanceRequest struct {
	ChallengeID string `json:"challenge_id"`
}

// Validate validates the start request.
func (r *StartInstanceRequest) Validate() error {
	if r.ChallengeID == "" {
		return fmt.Errorf("challenge id is required")
	}
	return nil
}
