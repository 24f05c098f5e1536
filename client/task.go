// Package client issues uniquely-identified GET requests against the
// server-under-test over one shared, pooled HTTP client.
package client

import (
	"strings"

	"github.com/google/uuid"
)

// Task is a single request target. The ID is fresh for every task so no
// cached or memoized response can satisfy more than one request.
type Task struct {
	BaseURL  string
	BasePath string
	ID       string
}

// NewTask creates a Task with a new random identifier.
func NewTask(baseURL, basePath string) Task {
	return Task{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		BasePath: basePath,
		ID:       uuid.NewString(),
	}
}

// Path returns the request path: the base path followed by the ID.
func (t Task) Path() string {
	return strings.TrimSuffix(t.BasePath, "/") + "/" + t.ID
}

// URL returns the absolute request URL.
func (t Task) URL() string {
	return t.BaseURL + t.Path()
}
