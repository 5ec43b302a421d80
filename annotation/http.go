package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"github.com/lewtec/rotulador-keypoints/internal/format"
)

// i18nMiddleware adds the appropriate localizer to the request context
func i18nMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		localizer := GetLocalizerFromRequest(r)
		ctx := WithLocalizer(r.Context(), localizer)
		handler.ServeHTTP(w, r.WithContext(ctx))
	})
}

func HTTPLogger(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		initialTime := time.Now()
		method := r.Method
		path := r.URL.String()
		wr := NewStatusCodeRecorderResponseWriter(w)
		handler.ServeHTTP(wr, r)
		finalTime := time.Now()
		statusCode := wr.Status
		log.Printf("http: time:%dms %d %s %s", finalTime.Sub(initialTime)/time.Millisecond, statusCode, method, path)
	})
}

type StatusCodeRecorderResponseWriter struct {
	http.ResponseWriter
	Status int
}

func (r *StatusCodeRecorderResponseWriter) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

func NewStatusCodeRecorderResponseWriter(w http.ResponseWriter) *StatusCodeRecorderResponseWriter {
	return &StatusCodeRecorderResponseWriter{ResponseWriter: w, Status: 200}
}

func pathParts(path string) []string {
	parts := strings.Split(path, "/")
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

type apiResponse struct {
	OK     bool       `json:"ok"`
	Status string     `json:"status,omitempty"`
	Error  string     `json:"error,omitempty"`
	State  *StateView `json:"state,omitempty"`
	Result any        `json:"result,omitempty"`
}

type apiRequest struct {
	Side       string   `json:"side"`
	Index      int      `json:"index"`
	Delta      int      `json:"delta"`
	Synced     bool     `json:"synced"`
	Mode       string   `json:"mode"`
	Event      string   `json:"event"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Both       bool     `json:"both"`
	N          int      `json:"n"`
	Keypoint   int      `json:"keypoint"`
	Visibility int      `json:"visibility"`
	Path       string   `json:"path"`
	Format     string   `json:"format"`
	Names      []string `json:"names"`

	ctx  context.Context
	args []string
}

// side parses the side of the request, defaulting to the first open side
func (req *apiRequest) side(a *LabelerApp) (domain.Side, error) {
	if req.Side == "" {
		sides := a.Store().Sides()
		if len(sides) == 0 {
			return "", domain.NotFoundf("no side is open")
		}
		return sides[0], nil
	}
	return domain.ParseSide(req.Side)
}

func (req *apiRequest) point() domain.Point {
	return domain.Point{X: req.X, Y: req.Y}
}

// command runs against the app on the dispatcher goroutine. A non-empty
// side adds the state of that side to the response.
type command func(a *LabelerApp, req *apiRequest) (side domain.Side, result any, err error)

type apiHandler struct {
	d *Dispatcher
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIndex):
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: while writing response: %s", err)
	}
}

func (h *apiHandler) handle(method string, cmd command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, apiResponse{Error: "method not allowed"})
			return
		}
		req := apiRequest{ctx: r.Context(), args: pathParts(strings.TrimPrefix(r.URL.Path, "/api/"))}
		if method == http.MethodGet {
			req.Side = r.URL.Query().Get("side")
		} else if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, apiResponse{Error: domain.Validationf("malformed request: %s", err).Error()})
				return
			}
		}
		var resp apiResponse
		err := h.d.Do(r.Context(), func(a *LabelerApp) error {
			side, result, err := cmd(a, &req)
			resp.Result = result
			resp.Status = LocalizeWithContext(r.Context(), a.Session.Status())
			if side != "" {
				if state, stateErr := a.State(side); stateErr == nil {
					resp.State = state
				}
			}
			return err
		})
		if err != nil {
			status := errorStatus(err)
			if status == http.StatusInternalServerError {
				log.Printf("error: http: %s %s: %s", r.Method, r.URL.Path, err)
			}
			resp.Error = err.Error()
			writeJSON(w, status, resp)
			return
		}
		resp.OK = true
		writeJSON(w, http.StatusOK, resp)
	}
}

// NewHTTPHandler serves the JSON command API of the app behind d
func NewHTTPHandler(d *Dispatcher) http.Handler {
	h := &apiHandler{d: d}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/state", h.handle(http.MethodGet, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		folder, _, err := a.LastFolder(req.ctx, side)
		if err != nil {
			return "", nil, err
		}
		return side, map[string]string{"last_folder": folder}, nil
	}))
	mux.HandleFunc("/api/select", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		return side, nil, a.Session.SelectImage(side, req.Index)
	}))
	mux.HandleFunc("/api/navigate", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		if req.Delta == 0 {
			req.Delta = 1
		}
		return side, nil, a.Navigate(side, req.Delta, req.Synced)
	}))
	mux.HandleFunc("/api/match-frames", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		name, err := a.MatchFramesByFilename()
		return "", map[string]string{"name": name}, err
	}))
	mux.HandleFunc("/api/mode", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		mode, err := ParseMode(req.Mode)
		if err != nil {
			return "", nil, err
		}
		return "", nil, a.Session.SetMode(mode)
	}))
	mux.HandleFunc("/api/pointer", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		switch req.Event {
		case "down":
			err = a.Session.PointerDown(side, req.point())
		case "move":
			err = a.Session.PointerMove(req.point())
		case "up":
			err = a.Session.PointerUp(req.point())
		default:
			err = domain.Validationf("unknown pointer event %q", req.Event)
		}
		return side, nil, err
	}))
	mux.HandleFunc("/api/undo", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		ok, err := a.Session.Undo(side)
		if err == nil && !ok {
			err = domain.Indexf("nothing to undo")
		}
		return side, nil, err
	}))
	mux.HandleFunc("/api/redo", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		ok, err := a.Session.Redo(side)
		if err == nil && !ok {
			err = domain.Indexf("nothing to redo")
		}
		return side, nil, err
	}))
	mux.HandleFunc("/api/copy-previous", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		changed, err := a.Session.CopyPrevious(side, req.Both)
		return side, map[string]any{"changed": changed}, err
	}))
	mux.HandleFunc("/api/copy-next", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		n, err := a.Session.CopyToNextN(side, req.N)
		return side, map[string]int{"copied": n}, err
	}))
	mux.HandleFunc("/api/visibility", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		return side, nil, a.Session.SetVisibility(side, req.Keypoint, domain.Visibility(req.Visibility))
	}))
	mux.HandleFunc("/api/clear", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		return side, nil, a.Session.ClearKeypoints(side)
	}))
	mux.HandleFunc("/api/save", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		if req.Side == "" {
			return "", nil, a.SaveDirty(req.ctx)
		}
		side, err := domain.ParseSide(req.Side)
		if err != nil {
			return "", nil, err
		}
		return side, nil, a.Save(req.ctx, side)
	}))
	mux.HandleFunc("/api/format", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		return "", nil, a.SetFormat(format.Kind(req.Format))
	}))
	mux.HandleFunc("/api/export/", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		side, err := req.side(a)
		if err != nil {
			return "", nil, err
		}
		if req.Path == "" {
			return "", nil, domain.Validationf("missing export path")
		}
		kind := req.Format
		if len(req.args) > 1 {
			kind = req.args[1]
		}
		var n int
		switch kind {
		case "coco":
			n, err = a.ExportCOCO(side, req.Path)
		case "yolo":
			n, err = a.ExportYOLO(side, req.Path)
		case "voc":
			n, err = a.ExportVOC(side, req.Path)
		default:
			err = domain.NotFoundf("export format %q", kind)
		}
		return "", map[string]int{"images": n}, err
	}))
	mux.HandleFunc("/api/statistics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.handle(http.MethodGet, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
				report, err := a.Report()
				if err != nil {
					return "", nil, err
				}
				return "", report.Statistics(), nil
			})(w, r)
			return
		}
		h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
			if req.Path == "" {
				return "", nil, domain.Validationf("missing statistics path")
			}
			return "", nil, a.ExportStatistics(req.Path)
		})(w, r)
	})
	mux.HandleFunc("/api/keypoints", h.handle(http.MethodPost, func(a *LabelerApp, req *apiRequest) (domain.Side, any, error) {
		return "", nil, a.Session.RenameKeypoints(&domain.KeypointDefinition{Names: req.Names})
	}))

	var handler http.Handler = i18nMiddleware(mux)
	handler = HTTPLogger(handler)
	return handler
}
