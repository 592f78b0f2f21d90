package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/activity"
	"github.com/joshdurbin/strava-runstats/internal/store"
	"github.com/joshdurbin/strava-runstats/internal/strava"
)

func newStravaServer(t *testing.T, pages map[string]string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		body, ok := pages[r.URL.Query().Get("page")]
		if !ok {
			body = "[]"
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(url string) *strava.Client {
	opts := strava.DefaultOptions()
	opts.ActivitiesURL = url
	opts.PageSize = 2
	opts.Retry = strava.RetryConfig{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
	return strava.NewClient("token", opts)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSyncSavesRuns(t *testing.T) {
	t.Parallel()

	hr := 150.0
	pages := map[string]string{
		"1": mustJSON(t, []strava.Activity{
			{Type: "Run", Distance: 5000, AverageSpeed: 3, AverageHeartrate: &hr, AverageCadence: 85, StartDate: "2022-05-02T07:00:00Z"},
			{Type: "Ride", Distance: 20000, AverageSpeed: 7, StartDate: "2022-05-01T07:00:00Z"},
		}),
		"2": mustJSON(t, []strava.Activity{
			{Type: "Run", Distance: 3000, AverageSpeed: 2.5, AverageCadence: 80, StartDate: "2022-04-28T07:00:00Z"},
		}),
	}
	srv := newStravaServer(t, pages, http.StatusOK)

	st := store.NewCSV(filepath.Join(t.TempDir(), "activities.csv"))
	svc := NewService(Static(newClient(srv.URL)), st)

	var progressCalls int
	result, err := svc.Sync(context.Background(), func(strava.FetchResult) { progressCalls++ })
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if len(result.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(result.Runs))
	}
	if progressCalls == 0 {
		t.Error("expected progress callbacks")
	}

	saved, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(saved) != 2 || saved[0].StartDate != "2022-05-02T07:00:00Z" || saved[1].HasHeartrate() {
		t.Errorf("unexpected snapshot %+v", saved)
	}
}

func TestSyncFailureWritesNothing(t *testing.T) {
	t.Parallel()

	srv := newStravaServer(t, map[string]string{
		"1": `{"message":"Authorization Error","errors":[{"resource":"Athlete","field":"access_token","code":"invalid"}]}`,
	}, http.StatusUnauthorized)

	st := store.NewCSV(filepath.Join(t.TempDir(), "activities.csv"))
	svc := NewService(Static(newClient(srv.URL)), st)

	_, err := svc.Sync(context.Background(), nil)
	var authErr *strava.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}

	if _, err := st.Load(context.Background()); !errors.Is(err, store.ErrNoSnapshot) {
		t.Errorf("expected no snapshot after failed sync, got %v", err)
	}
}

func TestSyncFetcherError(t *testing.T) {
	t.Parallel()

	boom := errors.New("no token")
	svc := NewService(func(context.Context) (Fetcher, error) { return nil, boom },
		store.NewCSV(filepath.Join(t.TempDir(), "activities.csv")))

	if _, err := svc.Sync(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("expected wrapped fetcher error, got %v", err)
	}
}

type failingStore struct{ err error }

func (f failingStore) Save(context.Context, activity.Table) error    { return f.err }
func (f failingStore) Load(context.Context) (activity.Table, error) { return nil, f.err }

func TestSyncStoreError(t *testing.T) {
	t.Parallel()

	srv := newStravaServer(t, map[string]string{}, http.StatusOK)
	boom := errors.New("disk full")
	svc := NewService(Static(newClient(srv.URL)), failingStore{err: boom})

	if _, err := svc.Sync(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}
}
