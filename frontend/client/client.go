package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"

	"github.com/jghoshh/habittree/backend/engine"
	"github.com/jghoshh/habittree/backend/models"
)

// tokenKey is the keyring entry under which the access token is stored.
const tokenKey = "access-token"

// ErrNotLoggedIn is returned by calls that need a token when none is stored.
var ErrNotLoggedIn = errors.New("not logged in")

// ErrTokenExpired is returned when the stored or supplied token is past its exp claim.
var ErrTokenExpired = errors.New("token expired")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Client talks to the habit tracker REST API on behalf of one user. The bearer token
// lives in the system keyring under the configured service name.
type Client struct {
	serverURL      string
	keyringService string
	httpClient     *http.Client
	now            func() time.Time
}

// New returns a Client for serverURL that keeps its token under keyringService.
func New(serverURL, keyringService string) *Client {
	return &Client{
		serverURL:      strings.TrimRight(serverURL, "/"),
		keyringService: keyringService,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		now:            time.Now,
	}
}

// checkExpiry reads the exp claim without verifying the signature; only the server
// holds the signing key.
func (c *Client) checkExpiry(tokenStr string) error {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenStr, claims); err != nil {
		return errors.Wrap(err, "malformed token")
	}
	if !claims.VerifyExpiresAt(c.now().Unix(), false) {
		return ErrTokenExpired
	}
	return nil
}

// Login validates tokenStr locally and stores it in the keyring.
func (c *Client) Login(tokenStr string) error {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return errors.New("token cannot be empty")
	}
	if err := c.checkExpiry(tokenStr); err != nil {
		return err
	}
	if err := keyring.Set(c.keyringService, tokenKey, tokenStr); err != nil {
		return errors.Wrap(err, "failed to store token in keyring")
	}
	return nil
}

// Logout removes the stored token. Logging out twice is not an error.
func (c *Client) Logout() error {
	err := keyring.Delete(c.keyringService, tokenKey)
	if err != nil && err != keyring.ErrNotFound {
		return errors.Wrap(err, "failed to delete token from keyring")
	}
	return nil
}

// Token returns the stored token if there is one and it has not expired.
func (c *Client) Token() (string, error) {
	tokenStr, err := keyring.Get(c.keyringService, tokenKey)
	if err == keyring.ErrNotFound {
		return "", ErrNotLoggedIn
	} else if err != nil {
		return "", errors.Wrap(err, "failed to access keyring")
	}
	if err := c.checkExpiry(tokenStr); err != nil {
		return "", err
	}
	return tokenStr, nil
}

// do sends an authenticated request and decodes a JSON response into out when out is
// non-nil.
func (c *Client) do(method, path string, body, out interface{}) error {
	tokenStr, err := c.Token()
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.serverURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// Habits lists the user's habits, optionally restricted to one category.
func (c *Client) Habits(category models.Category) ([]models.Habit, error) {
	path := "/api/habits"
	if category != "" {
		path += "?category=" + url.QueryEscape(string(category))
	}
	var habits []models.Habit
	if err := c.do(http.MethodGet, path, nil, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

func (c *Client) AddHabit(in engine.NewHabit) (models.Habit, error) {
	var habit models.Habit
	err := c.do(http.MethodPost, "/api/habits", in, &habit)
	return habit, err
}

func (c *Client) DeleteHabit(id string) error {
	return c.do(http.MethodDelete, "/api/habits/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Toggle(id string) (engine.ToggleResult, error) {
	var result engine.ToggleResult
	err := c.do(http.MethodPost, "/api/habits/"+url.PathEscape(id)+"/toggle", nil, &result)
	return result, err
}

// Backfill records a completion value for a past date of a habit's history.
func (c *Client) Backfill(id, date string, completed bool) error {
	body := map[string]bool{"completed": completed}
	return c.do(http.MethodPut, "/api/habits/"+url.PathEscape(id)+"/history/"+url.PathEscape(date), body, nil)
}

func (c *Client) Progress() (engine.Snapshot, error) {
	var snapshot engine.Snapshot
	err := c.do(http.MethodGet, "/api/progress", nil, &snapshot)
	return snapshot, err
}

func (c *Client) Leaderboard() ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	if err := c.do(http.MethodGet, "/api/leaderboard", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) AddFriend(id string) error {
	return c.do(http.MethodPut, "/api/friends/"+url.PathEscape(id), nil, nil)
}
