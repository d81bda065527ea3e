package model

import (
	"fmt"
	"strings"
	"time"
)

// Challenge is a challenge definition as listed by the platform.
type Challenge struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
	Image       string   `json:"image"`
}

// Title renders the challenge heading shown in listings.
func (c *Challenge) Title() string {
	return fmt.Sprintf("%s: %s", c.ID, c.Name)
}

// CategoryList joins the categories for display.
func (c *Challenge) CategoryList() string {
	return strings.Join(c.Categories, ", ")
}

// Credentials is the body of a login or registration request.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate validates the credentials before they are sent.
func (c *Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

// TokenResponse is returned by login and registration.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// FlagSubmission is the body of a flag submission.
type FlagSubmission struct {
	ChallengeID string `json:"challenge_id"`
	Flag        string `json:"flag"`
}

// SubmissionResult reports whether a submitted flag was accepted.
type SubmissionResult struct {
	Correct     bool      `json:"correct"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PublicKeyRequest registers an SSH public key for the current user.
type PublicKeyRequest struct {
	PublicKey string `json:"public_key"`
}
