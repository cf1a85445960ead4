package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// PostedAlert is one alert as received on POST /api/v2/alerts.
type PostedAlert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

// AlertmanagerServer is a minimal HTTP server that records alerts posted to /api/v2/alerts.
// Use for integration tests without a real Alertmanager.
type AlertmanagerServer struct {
	mu     sync.Mutex
	alerts []PostedAlert
	status int
	Server *httptest.Server
}

// NewAlertmanagerServer starts a test server answering 200 to alert posts.
func NewAlertmanagerServer() *AlertmanagerServer {
	m := &AlertmanagerServer{status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/alerts" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var batch []PostedAlert
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		status := m.status
		if status < 300 {
			m.alerts = append(m.alerts, batch...)
		}
		m.mu.Unlock()
		w.WriteHeader(status)
	}))
	return m
}

// SetStatus changes the status code returned for subsequent posts.
func (m *AlertmanagerServer) SetStatus(code int) {
	m.mu.Lock()
	m.status = code
	m.mu.Unlock()
}

// Alerts returns a copy of the alerts received so far.
func (m *AlertmanagerServer) Alerts() []PostedAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PostedAlert(nil), m.alerts...)
}

// URL returns the base URL of the server.
func (m *AlertmanagerServer) URL() string {
	return m.Server.URL
}

// Close shuts down the server.
func (m *AlertmanagerServer) Close() {
	m.Server.Close()
}
