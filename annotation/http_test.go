package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

func startDispatcher(t *testing.T, app *LabelerApp) *Dispatcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(app)
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

type testResponse struct {
	OK     bool            `json:"ok"`
	Status string          `json:"status"`
	Error  string          `json:"error"`
	State  *StateView      `json:"state"`
	Result json.RawMessage `json:"result"`
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string, header ...string) (int, testResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp testResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, resp
}

func TestHTTPHandler(t *testing.T) {
	dir := setupProject(t)
	app := openApp(t, dir, newTestRepos(t))
	handler := NewHTTPHandler(startDispatcher(t, app))

	t.Run("state", func(t *testing.T) {
		code, resp := doRequest(t, handler, http.MethodGet, "/api/state?side=right", "")
		if code != http.StatusOK || !resp.OK {
			t.Fatalf("GET /api/state = %d %+v", code, resp)
		}
		if resp.State.Side != "right" || resp.State.Total != 2 || len(resp.State.Names) != 19 {
			t.Errorf("state = %+v", resp.State)
		}
		var result struct {
			LastFolder string `json:"last_folder"`
		}
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			t.Fatal(err)
		}
		if want := filepath.Join(dir, "images", "right"); result.LastFolder != want {
			t.Errorf("last_folder = %q, want %q", result.LastFolder, want)
		}
	})

	t.Run("add then drag", func(t *testing.T) {
		doRequest(t, handler, http.MethodPost, "/api/mode", `{"mode": "add"}`)
		code, resp := doRequest(t, handler, http.MethodPost, "/api/pointer", `{"side": "left", "event": "down", "x": 10, "y": 10}`)
		if code != http.StatusOK || resp.Status != "Added head" {
			t.Fatalf("add = %d %+v", code, resp)
		}

		doRequest(t, handler, http.MethodPost, "/api/mode", `{"mode": "move"}`)
		for _, event := range []string{
			`{"side": "left", "event": "down", "x": 11, "y": 10}`,
			`{"side": "left", "event": "move", "x": 20, "y": 10}`,
			`{"side": "left", "event": "move", "x": 30, "y": 10}`,
			`{"side": "left", "event": "up", "x": 40, "y": 10}`,
		} {
			doRequest(t, handler, http.MethodPost, "/api/pointer", event)
		}
		_, resp = doRequest(t, handler, http.MethodGet, "/api/state?side=left", "")
		if kp := resp.State.Annotation.Keypoints[0]; kp.X != 40 {
			t.Errorf("keypoint after drag = %+v", kp)
		}
		if resp.State.Undo != 2 || !resp.State.Dirty {
			t.Errorf("undo = %d, dirty = %v", resp.State.Undo, resp.State.Dirty)
		}
	})

	t.Run("undo past the start is not an error status", func(t *testing.T) {
		doRequest(t, handler, http.MethodPost, "/api/undo", `{"side": "left"}`)
		doRequest(t, handler, http.MethodPost, "/api/undo", `{"side": "left"}`)
		code, resp := doRequest(t, handler, http.MethodPost, "/api/undo", `{"side": "left"}`)
		if code != http.StatusOK || resp.OK || resp.Error == "" {
			t.Errorf("empty undo = %d %+v", code, resp)
		}
		if resp.State == nil || resp.State.Annotation.Keypoints[0].Labeled() {
			t.Errorf("state after undo = %+v", resp.State)
		}
	})

	t.Run("error mapping", func(t *testing.T) {
		tests := []struct {
			method, path, body string
			code               int
		}{
			{http.MethodPost, "/api/copy-next", `{"side": "left", "n": 0}`, http.StatusBadRequest},
			{http.MethodPost, "/api/mode", `{"mode": "paint"}`, http.StatusBadRequest},
			{http.MethodPost, "/api/select", `{"side": "top"}`, http.StatusBadRequest},
			{http.MethodPost, "/api/select", `{"side": "left", "index": 9}`, http.StatusOK},
			{http.MethodPost, "/api/export/parquet", `{"side": "left", "path": "x"}`, http.StatusNotFound},
			{http.MethodPost, "/api/undo", `{`, http.StatusBadRequest},
			{http.MethodGet, "/api/undo", ``, http.StatusMethodNotAllowed},
		}
		for _, tt := range tests {
			code, resp := doRequest(t, handler, tt.method, tt.path, tt.body)
			if code != tt.code || resp.OK {
				t.Errorf("%s %s %s = %d %+v, want %d", tt.method, tt.path, tt.body, code, resp, tt.code)
			}
		}
	})

	t.Run("copy to next frames", func(t *testing.T) {
		doRequest(t, handler, http.MethodPost, "/api/select", `{"side": "left", "index": 0}`)
		doRequest(t, handler, http.MethodPost, "/api/mode", `{"mode": "add"}`)
		doRequest(t, handler, http.MethodPost, "/api/pointer", `{"side": "left", "event": "down", "x": 5, "y": 5}`)
		code, resp := doRequest(t, handler, http.MethodPost, "/api/copy-next", `{"side": "left", "n": 5}`)
		if code != http.StatusOK || string(resp.Result) != `{"copied":2}` {
			t.Errorf("copy-next = %d %+v", code, resp)
		}
	})

	t.Run("localized status", func(t *testing.T) {
		_, resp := doRequest(t, handler, http.MethodPost, "/api/mode", `{"mode": "delete"}`, "Accept-Language", "pt-BR")
		if resp.Status == "" || resp.Status == "Mode: delete" {
			t.Errorf("status = %q, want a pt-BR message", resp.Status)
		}
	})

	t.Run("save and export", func(t *testing.T) {
		code, resp := doRequest(t, handler, http.MethodPost, "/api/save", `{}`)
		if code != http.StatusOK || !resp.OK {
			t.Fatalf("save = %d %+v", code, resp)
		}
		out := filepath.Join(dir, "export")
		code, resp = doRequest(t, handler, http.MethodPost, "/api/export/yolo", `{"side": "left", "path": "`+filepath.ToSlash(out)+`"}`)
		if code != http.StatusOK || string(resp.Result) != `{"images":3}` {
			t.Errorf("export yolo = %d %+v", code, resp)
		}
		code, resp = doRequest(t, handler, http.MethodGet, "/api/statistics", "")
		if code != http.StatusOK || !strings.Contains(string(resp.Result), `"annotated_images":3`) {
			t.Errorf("statistics = %d %s", code, resp.Result)
		}
	})
}

func TestDispatcher(t *testing.T) {
	dir := setupProject(t)
	app := openApp(t, dir, newTestRepos(t))
	d := startDispatcher(t, app)

	t.Run("recovers panics", func(t *testing.T) {
		err := d.Do(context.Background(), func(a *LabelerApp) error {
			var m map[string]int
			m["x"] = 1
			return nil
		})
		if err == nil || !strings.Contains(err.Error(), "panicked") {
			t.Errorf("Do() error = %v", err)
		}
	})

	t.Run("serializes commands", func(t *testing.T) {
		done := make(chan error, 10)
		for i := 0; i < 10; i++ {
			go func() {
				done <- d.Do(context.Background(), func(a *LabelerApp) error {
					return a.Session.SetMode(ModeAdd)
				})
			}()
		}
		for i := 0; i < 10; i++ {
			if err := <-done; err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}
	})

	t.Run("waits for an accepted command after cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		started, release := make(chan struct{}), make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- d.Do(ctx, func(a *LabelerApp) error {
				close(started)
				<-release
				return domain.Indexf("last image")
			})
		}()
		<-started
		cancel()
		select {
		case err := <-done:
			t.Fatalf("Do() returned %v while the command was running", err)
		case <-time.After(50 * time.Millisecond):
		}
		close(release)
		if err := <-done; !errors.Is(err, domain.ErrIndex) {
			t.Errorf("Do() error = %v, want the command error", err)
		}
	})

	t.Run("autosave saves dirty sides", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		d.Do(ctx, func(a *LabelerApp) error {
			_, _, err := a.Session.AddAt(domain.Left, domain.Point{X: 1, Y: 1})
			return err
		})
		go d.RunAutosave(ctx, 10*time.Millisecond)

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			var dirty bool
			d.Do(ctx, func(a *LabelerApp) error {
				dirty = a.Dirty()
				return nil
			})
			if !dirty {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Error("autosave did not save the dirty side")
	})
}

func TestHTTPHandler_CanceledRequest(t *testing.T) {
	dir := setupProject(t)
	app := openApp(t, dir, newTestRepos(t))
	h := &apiHandler{d: startDispatcher(t, app)}

	started, release := make(chan struct{}), make(chan struct{})
	handler := h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		close(started)
		<-release
		_, _, err := a.Session.AddAt(domain.Left, domain.Point{X: 3, Y: 4})
		return domain.Left, map[string]int{"added": 1}, err
	})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/add", strings.NewReader(`{}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	served := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(served)
	}()

	<-started
	cancel()
	select {
	case <-served:
		t.Fatal("handler answered before the command finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-served

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp testResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK || string(resp.Result) != `{"added":1}` || resp.State == nil {
		t.Errorf("response = %+v", resp)
	}
}

func TestDispatcher_Stopped(t *testing.T) {
	d := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	err := d.Do(context.Background(), func(a *LabelerApp) error { return nil })
	if err != ErrDispatcherStopped {
		t.Errorf("Do() after stop error = %v, want ErrDispatcherStopped", err)
	}
}
