// Package testhelpers provides reusable testing utilities for the SLA tracker.
//
// This package contains:
// - HTTP test helpers (requests, path values, response assertions)
// - A fake clock and a recording notifier
// - An in-memory SQLite database with the schema migrated
// - Assertion helpers
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/claimops/slatracker/internal/database"
)

// ========================================
// HTTP Test Helpers
// ========================================

// HTTPTestContext holds components for HTTP handler testing
type HTTPTestContext struct {
	T        *testing.T
	Recorder *httptest.ResponseRecorder
	Request  *http.Request
}

// NewHTTPTestContext creates a new HTTP test context
func NewHTTPTestContext(t *testing.T, method, path string, body io.Reader) *HTTPTestContext {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	return &HTTPTestContext{
		T:        t,
		Recorder: httptest.NewRecorder(),
		Request:  req,
	}
}

// WithHeader adds a header to the request
func (ctx *HTTPTestContext) WithHeader(key, value string) *HTTPTestContext {
	ctx.Request.Header.Set(key, value)
	return ctx
}

// WithJSONBody sets JSON body on the request
func (ctx *HTTPTestContext) WithJSONBody(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		ctx.T.Fatalf("failed to marshal JSON body: %v", err)
	}
	req := httptest.NewRequest(ctx.Request.Method, ctx.Request.URL.String(), bytes.NewReader(body))
	req = req.WithContext(ctx.Request.Context())
	req.Header = ctx.Request.Header.Clone()
	req.Header.Set("Content-Type", "application/json")
	ctx.Request = req
	return ctx
}

// WithBearerToken adds Authorization Bearer header
func (ctx *HTTPTestContext) WithBearerToken(token string) *HTTPTestContext {
	return ctx.WithHeader("Authorization", "Bearer "+token)
}

// WithPathValue sets a route wildcard for handlers invoked without a ServeMux
func (ctx *HTTPTestContext) WithPathValue(name, value string) *HTTPTestContext {
	ctx.Request.SetPathValue(name, value)
	return ctx
}

// WithContext replaces the request context, e.g. to attach a caller scope
func (ctx *HTTPTestContext) WithContext(c context.Context) *HTTPTestContext {
	ctx.Request = ctx.Request.WithContext(c)
	return ctx
}

// Execute runs the handler and returns the response
func (ctx *HTTPTestContext) Execute(handler http.Handler) *HTTPTestContext {
	handler.ServeHTTP(ctx.Recorder, ctx.Request)
	return ctx
}

// ExecuteFunc runs the handler func and returns the response
func (ctx *HTTPTestContext) ExecuteFunc(handler http.HandlerFunc) *HTTPTestContext {
	handler(ctx.Recorder, ctx.Request)
	return ctx
}

// AssertStatus checks the response status code
func (ctx *HTTPTestContext) AssertStatus(expected int) *HTTPTestContext {
	ctx.T.Helper()
	if ctx.Recorder.Code != expected {
		ctx.T.Errorf("expected status %d, got %d. Body: %s", expected, ctx.Recorder.Code, ctx.Recorder.Body.String())
	}
	return ctx
}

// AssertBodyContains checks if response body contains substring
func (ctx *HTTPTestContext) AssertBodyContains(substr string) *HTTPTestContext {
	ctx.T.Helper()
	body := ctx.Recorder.Body.String()
	if !strings.Contains(body, substr) {
		ctx.T.Errorf("expected body to contain %q, got: %s", substr, body)
	}
	return ctx
}

// AssertHeader checks response header value
func (ctx *HTTPTestContext) AssertHeader(key, expected string) *HTTPTestContext {
	ctx.T.Helper()
	got := ctx.Recorder.Header().Get(key)
	if got != expected {
		ctx.T.Errorf("expected header %s=%q, got %q", key, expected, got)
	}
	return ctx
}

// DecodeJSON decodes response body as JSON
func (ctx *HTTPTestContext) DecodeJSON(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	if err := json.NewDecoder(ctx.Recorder.Body).Decode(v); err != nil {
		ctx.T.Fatalf("failed to decode JSON response: %v", err)
	}
	return ctx
}

// ========================================
// Database
// ========================================

// NewTestDB opens a private in-memory SQLite database with every table migrated
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	// Every connection to :memory: is its own database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&database.SLATracking{}, &database.Employee{}, &database.Client{}, &database.Notification{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// InsertSLA stores rec as-is and fails the test on error
func InsertSLA(t *testing.T, db *gorm.DB, rec database.SLATracking) database.SLATracking {
	t.Helper()
	if err := database.CreateSLATracking(db, &rec); err != nil {
		t.Fatalf("failed to insert sla tracking: %v", err)
	}
	return rec
}

// ========================================
// Fake Clock
// ========================================

// FakeClock is a manually advanced clock, safe for concurrent use
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock stopped at now
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now.UTC()}
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// ========================================
// Recording Notifier
// ========================================

// ErrNotifierDown is returned by a RecordingNotifier configured to fail
var ErrNotifierDown = errors.New("notifier unavailable")

// RecordingNotifier records every notification it receives
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []database.Notification
	fail bool
}

// NewRecordingNotifier creates an empty recorder
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// Failing makes every later Notify call fail after recording the attempt
func (n *RecordingNotifier) Failing() *RecordingNotifier {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = true
	return n
}

// Notify records the notification
func (n *RecordingNotifier) Notify(_ context.Context, note *database.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, *note)
	if n.fail {
		return ErrNotifierDown
	}
	return nil
}

// Sent returns a copy of the recorded notifications
func (n *RecordingNotifier) Sent() []database.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]database.Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

// Count returns how many notifications of the given type were recorded; "" counts all
func (n *RecordingNotifier) Count(notificationType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if notificationType == "" || s.Type == notificationType {
			count++
		}
	}
	return count
}

// ========================================
// Timing Helpers
// ========================================

// MustCompleteWithin fails the test if the function takes longer than the timeout
func MustCompleteWithin(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
		t.Fatalf("function did not complete within %v", timeout)
	}
}
