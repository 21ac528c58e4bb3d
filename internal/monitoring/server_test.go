package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nugget/homelab-assistant/internal/httpkit"
)

type stubCollector struct {
	res *SystemResources
	err error
}

func (s stubCollector) Collect(context.Context) (*SystemResources, error) { return s.res, s.err }

type stubLister struct {
	list []Container
}

func (s stubLister) ListContainers(context.Context) ([]Container, error) { return s.list, nil }

func testServer(t *testing.T, c ResourceCollector, l ContainerLister) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(":0", c, l, slog.Default()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestServer_SystemResources(t *testing.T) {
	srv := testServer(t, stubCollector{res: &SystemResources{
		CPUPercent:  12.5,
		Disk:        []DiskUsage{{Path: "/", TotalGB: 100}},
		LoadAverage: [3]float64{0.1, 0.2, 0.3},
	}}, stubLister{})

	c := NewClient(srv.URL+"/", 5*time.Second)
	raw, err := c.SystemResources(context.Background())
	if err != nil {
		t.Fatalf("SystemResources() error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"cpu_percent", "memory_total_gb", "memory_used_gb", "memory_percent", "disk", "load_average"} {
		if _, ok := got[key]; !ok {
			t.Errorf("payload missing %q: %s", key, raw)
		}
	}
	if got["cpu_percent"].(float64) != 12.5 {
		t.Errorf("cpu_percent = %v", got["cpu_percent"])
	}
}

func TestServer_SystemResourcesError(t *testing.T) {
	srv := testServer(t, stubCollector{err: errors.New("no /proc")}, stubLister{})

	_, err := NewClient(srv.URL, 5*time.Second).SystemResources(context.Background())
	var se *httpkit.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Errorf("error = %v, want 500 StatusError", err)
	}
}

func TestServer_ContainersEmptyIsArray(t *testing.T) {
	srv := testServer(t, stubCollector{}, stubLister{})

	raw, err := NewClient(srv.URL, 5*time.Second).Containers(context.Background())
	if err != nil {
		t.Fatalf("Containers() error: %v", err)
	}
	if string(raw) != "[]\n" {
		t.Errorf("body = %q, want []", raw)
	}
}

func TestServer_Health(t *testing.T) {
	srv := testServer(t, stubCollector{}, stubLister{})

	if err := NewClient(srv.URL, 5*time.Second).Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewClient(url, time.Second).Containers(context.Background()); err == nil {
		t.Error("Containers() against closed server should error")
	}
}
