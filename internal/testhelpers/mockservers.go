package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chinmina/imagedrift/internal/config"
)

// MockRegistryServer serves both the token endpoint and the registry v2 API
// for tags and manifests. All configuration and request counters are guarded,
// so they can be changed and read while handlers run.
type MockRegistryServer struct {
	Server *httptest.Server

	mu               sync.Mutex
	token            string // prefix of issued tokens
	authStatus       int    // HTTP status of the token endpoint
	expiresIn        int    // announced token lifetime in seconds
	tags             map[string][]string
	manifests        map[string]string
	manifestStatus   map[string]int
	dropConnection   map[string]bool
	tokenRequests    map[string]int
	manifestRequests map[string]int
	lastAccept       string
	lastService      string
}

// SetupMockRegistryServer creates a mock token service and registry. The
// server is closed when the test completes.
func SetupMockRegistryServer(t *testing.T) *MockRegistryServer {
	t.Helper()

	mock := &MockRegistryServer{
		token:            "test-registry-token",
		authStatus:       http.StatusOK,
		expiresIn:        300,
		tags:             map[string][]string{},
		manifests:        map[string]string{},
		manifestStatus:   map[string]int{},
		dropConnection:   map[string]bool{},
		tokenRequests:    map[string]int{},
		manifestRequests: map[string]int{},
	}

	router := http.NewServeMux()

	router.HandleFunc("GET /token", func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")

		mock.mu.Lock()
		mock.tokenRequests[scope]++
		mock.lastService = r.URL.Query().Get("service")
		status := mock.authStatus
		token := mock.token
		expiresIn := mock.expiresIn
		mock.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		WriteJSON(w, map[string]any{
			"access_token": token + ":" + scope,
			"expires_in":   expiresIn,
		})
	})

	router.HandleFunc("GET /v2/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v2/")

		if image, ok := strings.CutSuffix(path, "/tags/list"); ok {
			mock.serveTags(w, r, image)
			return
		}

		if i := strings.LastIndex(path, "/manifests/"); i > 0 {
			mock.serveManifest(w, r, path[:i], path[i+len("/manifests/"):])
			return
		}

		http.NotFound(w, r)
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Close)

	return mock
}

// RegistryConfig returns a configuration pointing the token service and the
// registry at the mock server.
func (m *MockRegistryServer) RegistryConfig() config.RegistryConfig {
	return config.RegistryConfig{
		AuthURL:        m.Server.URL + "/",
		Service:        "registry.test",
		URL:            m.Server.URL + "/v2/",
		RequestTimeout: 5 * time.Second,
		TokenTTL:       time.Minute,
		TokenCacheSize: 100,
	}
}

// SetTags configures the tag list returned for image. A nil slice is served
// as a JSON null.
func (m *MockRegistryServer) SetTags(image string, tags []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[image] = tags
}

// SetManifest configures the raw manifest body served for image:tag.
func (m *MockRegistryServer) SetManifest(image, tag, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[image+":"+tag] = body
}

// SetManifestStatus makes requests for image:tag fail with status.
func (m *MockRegistryServer) SetManifestStatus(image, tag string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifestStatus[image+":"+tag] = status
}

// DropManifestConnection makes requests for image:tag fail at the network
// level: the connection is closed without a response.
func (m *MockRegistryServer) DropManifestConnection(image, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropConnection[image+":"+tag] = true
}

// TokenRequests returns the number of token requests received for scope.
func (m *MockRegistryServer) TokenRequests(scope string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenRequests[scope]
}

// ManifestRequests returns the number of manifest requests for image:tag.
func (m *MockRegistryServer) ManifestRequests(image, tag string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifestRequests[image+":"+tag]
}

// LastAccept returns the Accept header of the most recent manifest request.
func (m *MockRegistryServer) LastAccept() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAccept
}

// LastService returns the service parameter of the most recent token request.
func (m *MockRegistryServer) LastService() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastService
}

// TokenFor returns the token the mock issues for scope.
func (m *MockRegistryServer) TokenFor(scope string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token + ":" + scope
}

// SetToken changes the prefix of issued tokens. Tokens issued earlier are
// rejected from then on.
func (m *MockRegistryServer) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// SetAuthStatus makes the token endpoint answer with status. Any status other
// than 200 returns no token.
func (m *MockRegistryServer) SetAuthStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authStatus = status
}

// SetTokenExpiry changes the token lifetime announced by the token endpoint.
func (m *MockRegistryServer) SetTokenExpiry(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiresIn = seconds
}

// Close shuts down the mock server.
func (m *MockRegistryServer) Close() {
	m.Server.Close()
}

func (m *MockRegistryServer) authorized(r *http.Request, image string) bool {
	return r.Header.Get("Authorization") == "Bearer "+m.TokenFor("repository:"+image+":pull")
}

func (m *MockRegistryServer) serveTags(w http.ResponseWriter, r *http.Request, image string) {
	if !m.authorized(r, image) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	m.mu.Lock()
	tags, ok := m.tags[image]
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		WriteJSON(w, map[string]any{"errors": []map[string]string{{"code": "NAME_UNKNOWN"}}})
		return
	}

	WriteJSON(w, map[string]any{
		"name": image,
		"tags": tags,
	})
}

func (m *MockRegistryServer) serveManifest(w http.ResponseWriter, r *http.Request, image, tag string) {
	key := image + ":" + tag

	m.mu.Lock()
	m.manifestRequests[key]++
	m.lastAccept = r.Header.Get("Accept")
	body, ok := m.manifests[key]
	status := m.manifestStatus[key]
	drop := m.dropConnection[key]
	m.mu.Unlock()

	if drop {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "hijacking not supported", http.StatusInternalServerError)
			return
		}
		conn, _, err := hijacker.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return
	}

	if !m.authorized(r, image) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		WriteJSON(w, map[string]any{"errors": []map[string]string{{"code": "MANIFEST_UNKNOWN"}}})
		return
	}

	w.Header().Set("Content-Type", "application/vnd.docker.distribution.manifest.v2+json")
	_, _ = io.WriteString(w, body)
}

// TriggerRequest is a request received by MockTriggerServer.
type TriggerRequest struct {
	ContentType   string
	Authorization string
	Body          string
}

// MockTriggerServer records build trigger invocations.
type MockTriggerServer struct {
	Server *httptest.Server

	mu         sync.Mutex
	statusCode int
	response   string
	requests   []TriggerRequest
}

// SetupMockTriggerServer creates a mock build trigger endpoint accepting
// POST /hook. The server is closed when the test completes.
func SetupMockTriggerServer(t *testing.T) *MockTriggerServer {
	t.Helper()

	mock := &MockTriggerServer{
		statusCode: http.StatusOK,
		response:   `{"state":"Success"}`,
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /hook", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.requests = append(mock.requests, TriggerRequest{
			ContentType:   r.Header.Get("Content-Type"),
			Authorization: r.Header.Get("Authorization"),
			Body:          string(body),
		})
		status := mock.statusCode
		response := mock.response
		mock.mu.Unlock()

		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Close)

	return mock
}

// Respond sets the status and body returned to subsequent trigger requests.
func (m *MockTriggerServer) Respond(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCode = status
	m.response = body
}

// URL returns the trigger URL of the mock.
func (m *MockTriggerServer) URL() string {
	return m.Server.URL + "/hook"
}

// Requests returns a copy of the trigger requests received so far.
func (m *MockTriggerServer) Requests() []TriggerRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TriggerRequest(nil), m.requests...)
}

// TriggeredTags decodes the docker_tag of every request received so far.
func (m *MockTriggerServer) TriggeredTags(t *testing.T) []string {
	t.Helper()

	var tags []string
	for _, req := range m.Requests() {
		var payload struct {
			DockerTag string `json:"docker_tag"`
		}
		if err := json.Unmarshal([]byte(req.Body), &payload); err != nil {
			t.Fatalf("trigger body is not valid JSON: %q: %v", req.Body, err)
		}
		tags = append(tags, payload.DockerTag)
	}
	return tags
}

// Close shuts down the mock server.
func (m *MockTriggerServer) Close() {
	m.Server.Close()
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
