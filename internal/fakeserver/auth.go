package fakeserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ctf-platform/ctf/internal/model"
)

const userKey = "user"

// IssueToken signs an HS256 identity token for username.
func (s *Server) IssueToken(username string) (string, error) {
	now := s.clock()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// userFromToken validates token and returns the registered user it names.
func (s *Server) userFromToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[claims.Subject]; !ok {
		return "", errors.New("unknown user")
	}
	return claims.Subject, nil
}

func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			sendDetail(c, http.StatusUnauthorized, "Not authenticated")
			return
		}
		username, err := s.userFromToken(token)
		if err != nil {
			sendDetail(c, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		c.Set(userKey, username)
		c.Next()
	}
}

func (s *Server) register(c *gin.Context) {
	var creds model.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil || creds.Validate() != nil {
		sendDetail(c, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	s.mu.Lock()
	if _, exists := s.users[creds.Username]; exists {
		s.mu.Unlock()
		sendDetail(c, http.StatusBadRequest, "Username already registered")
		return
	}
	s.users[creds.Username] = &user{password: creds.Password}
	s.mu.Unlock()

	s.respondToken(c, creds.Username)
}

func (s *Server) login(c *gin.Context) {
	var creds model.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		sendDetail(c, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	u, ok := s.users[creds.Username]
	valid := ok && u.password == creds.Password
	s.mu.Unlock()
	if !valid {
		sendDetail(c, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	s.respondToken(c, creds.Username)
}

func (s *Server) respondToken(c *gin.Context, username string) {
	token, err := s.IssueToken(username)
	if err != nil {
		sendDetail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, model.TokenResponse{AccessToken: token, TokenType: "bearer"})
}

// Expire moves the server clock forward, so that tokens issued earlier expire.
func (s *Server) Expire(d time.Duration) {
	s.offset.Add(int64(d))
}

func (s *Server) clock() time.Time {
	return time.Now().Add(time.Duration(s.offset.Load()))
}
