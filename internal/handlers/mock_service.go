package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"actuator_dashboard/internal/models"
	"actuator_dashboard/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(_ context.Context, username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(_ context.Context, username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

// mockDashboard serves fixed snapshots; panels beyond len(snaps) are unknown.
type mockDashboard struct {
	mu        sync.Mutex
	snaps     []models.Snapshot
	toggleErr error
	changes   chan struct{}

	toggles []struct{ panel, field int }
}

func (m *mockDashboard) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (m *mockDashboard) Panels() []models.PanelInfo {
	out := make([]models.PanelInfo, len(m.snaps))
	for i := range m.snaps {
		out[i] = models.PanelInfo{Index: i, Title: "panel", ChannelID: "ch", Actuators: models.Actuators()}
	}
	return out
}

func (m *mockDashboard) ChannelID(panel int) (string, error) {
	if panel < 0 || panel >= len(m.snaps) {
		return "", service.ErrUnknownPanel
	}
	return fmt.Sprintf("ch%d", panel), nil
}

func (m *mockDashboard) Snapshot(panel int) (models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if panel < 0 || panel >= len(m.snaps) {
		return models.Snapshot{}, service.ErrUnknownPanel
	}
	return m.snaps[panel], nil
}

func (m *mockDashboard) Toggle(panel, field int) (models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggles = append(m.toggles, struct{ panel, field int }{panel, field})
	if panel < 0 || panel >= len(m.snaps) {
		return models.Snapshot{}, service.ErrUnknownPanel
	}
	if m.toggleErr != nil {
		return models.Snapshot{}, m.toggleErr
	}
	if !models.ValidField(field) {
		return models.Snapshot{}, service.ErrInvalidField
	}
	s := m.snaps[panel]
	s.Fields.Set(field, !s.Fields.Get(field))
	s.Pending = []int{field}
	m.snaps[panel] = s
	return s, nil
}

func (m *mockDashboard) Subscribe(panel int) (<-chan struct{}, func(), error) {
	if panel < 0 || panel >= len(m.snaps) {
		return nil, nil, service.ErrUnknownPanel
	}
	ch := m.changes
	if ch == nil {
		ch = make(chan struct{})
	}
	return ch, func() {}, nil
}

func (m *mockDashboard) set(panel int, s models.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[panel] = s
}

type mockEventLog struct {
	resp        []models.ActuatorEvent
	err         error
	lastFrom    time.Time
	lastTo      time.Time
	lastType    string
	lastChannel string
}

func (m *mockEventLog) List(_ context.Context, f service.LogFilter) ([]models.ActuatorEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	m.lastChannel = f.ChannelID
	return m.resp, m.err
}

type mockSimulator struct {
	entry     models.FeedEntry
	lastErr   error
	updateID  int
	updateErr error

	lastChannel string
	lastKey     string
	lastValues  map[int]string
}

func (m *mockSimulator) LastEntry(_ context.Context, channelID, apiKey string) (models.FeedEntry, error) {
	m.lastChannel = channelID
	m.lastKey = apiKey
	return m.entry, m.lastErr
}

func (m *mockSimulator) Update(_ context.Context, writeKey string, values map[int]string) (int, error) {
	m.lastKey = writeKey
	m.lastValues = values
	return m.updateID, m.updateErr
}

func (m *mockSimulator) Run(ctx context.Context, _ time.Duration) {
	<-ctx.Done()
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func withAuth(req *http.Request) *http.Request {
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	return req
}
