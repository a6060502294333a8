package blocker

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/JSH-Team/threadsweeper/internal/workers/executor"
)

const (
	graphqlPath = "/api/graphql"

	// RateLimitCode is the error code the site returns when throttling.
	RateLimitCode = 1675004
)

type graphqlResponse struct {
	Errors []struct {
		Code    json.Number `json:"code"`
		Message string      `json:"message"`
	} `json:"errors"`
}

// ParseRateLimit inspects a GraphQL response body for a rate limit error.
func ParseRateLimit(body []byte) (message string, code string, ok bool) {
	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", false
	}

	for _, e := range resp.Errors {
		n, _ := strconv.Atoi(e.Code.String())
		if n == RateLimitCode || strings.Contains(strings.ToLower(e.Message), "rate limit") {
			message = e.Message
			if message == "" {
				message = "Rate limit exceeded"
			}
			code = e.Code.String()
			if code == "" {
				code = strconv.Itoa(RateLimitCode)
			}
			return message, code, true
		}
	}
	return "", "", false
}

// detector remembers the first rate limit seen on a page.
type detector struct {
	mu     sync.Mutex
	hit    bool
	result executor.Result
}

func (d *detector) inspect(body []byte) {
	msg, code, ok := ParseRateLimit(body)
	if !ok {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hit {
		return
	}
	d.hit = true
	d.result = executor.Result{Success: false, Error: msg, IsRateLimited: true, Code: code}
}

func (d *detector) check() (executor.Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result, d.hit
}
