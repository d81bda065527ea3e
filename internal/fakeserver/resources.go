package fakeserver

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ctf-platform/ctf/internal/model"
)

func (s *Server) listChallenges(c *gin.Context) {
	s.mu.Lock()
	challenges := append([]model.Challenge{}, s.challenges...)
	s.mu.Unlock()

	c.JSON(http.StatusOK, challenges)
}

func (s *Server) listInstances(c *gin.Context) {
	username := c.GetString(userKey)

	s.mu.Lock()
	instances := []model.Instance{}
	for _, inst := range s.instances {
		if inst.owner == username {
			instances = append(instances, inst.Instance)
		}
	}
	s.mu.Unlock()

	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	c.JSON(http.StatusOK, instances)
}

func (s *Server) startInstance(c *gin.Context) {
	var req model.StartInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Validate() != nil {
		sendDetail(c, http.StatusUnprocessableEntity, "challenge_id is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flags[req.ChallengeID]; !ok {
		sendDetail(c, http.StatusNotFound, "Challenge not found")
		return
	}
	inst := s.createInstanceLocked(c.GetString(userKey), req.ChallengeID)
	c.JSON(http.StatusOK, inst.Instance)
}

func (s *Server) stopInstance(c *gin.Context) {
	id := c.Query("instance_id")

	s.mu.Lock()
	inst, ok := s.instances[id]
	if !ok || inst.owner != c.GetString(userKey) {
		s.mu.Unlock()
		sendDetail(c, http.StatusNotFound, "Instance not found")
		return
	}
	inst.Status = model.InstanceStatusStopped
	s.mu.Unlock()

	s.CloseStreams(id, websocket.ClosePolicyViolation, "instance stopped")
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) submitFlag(c *gin.Context) {
	var sub model.FlagSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		sendDetail(c, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	flag, ok := s.flags[sub.ChallengeID]
	s.mu.Unlock()
	if !ok {
		sendDetail(c, http.StatusNotFound, "Challenge not found")
		return
	}

	c.JSON(http.StatusOK, model.SubmissionResult{
		Correct:     sub.Flag == flag,
		SubmittedAt: s.clock().UTC().Truncate(time.Second),
	})
}

func (s *Server) setPublicKey(c *gin.Context) {
	var req model.PublicKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PublicKey == "" {
		sendDetail(c, http.StatusUnprocessableEntity, "public_key is required")
		return
	}

	s.mu.Lock()
	s.users[c.GetString(userKey)].publicKey = req.PublicKey
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
