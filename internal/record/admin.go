package record

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/beamscan/internal/httputil"
)

// AttachAdminRoutes mounts a tailsql console over the store, a JSON run
// listing and per-run samples under /debug/.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Scan records",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("runs", "Recorded scan runs (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runs, err := s.Runs(r.Context())
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
			return
		}
		type runJSON struct {
			ID         string   `json:"id"`
			Title      string   `json:"title"`
			Axes       []string `json:"axes"`
			StartedAt  string   `json:"started_at"`
			FinishedAt string   `json:"finished_at,omitempty"`
			Status     string   `json:"status"`
			Error      string   `json:"error,omitempty"`
			Steps      int      `json:"steps"`
		}
		out := make([]runJSON, 0, len(runs))
		for _, run := range runs {
			rj := runJSON{
				ID:        run.ID.String(),
				Title:     run.Title,
				Axes:      run.Axes,
				StartedAt: run.StartedAt.Format(timeLayout),
				Status:    run.Status,
				Error:     run.Error,
				Steps:     run.Steps,
			}
			if !run.FinishedAt.IsZero() {
				rj.FinishedAt = run.FinishedAt.Format(timeLayout)
			}
			out = append(out, rj)
		}
		httputil.WriteJSONOK(w, out)
	}))

	debug.HandleSilentFunc("run-samples", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		id, err := uuid.Parse(r.URL.Query().Get("id"))
		if err != nil {
			httputil.BadRequest(w, "missing or malformed run id")
			return
		}
		if _, err := s.Run(r.Context(), id); errors.Is(err, ErrRunNotFound) {
			httputil.NotFound(w, err.Error())
			return
		} else if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		samples, err := s.Samples(r.Context(), id)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		type sampleJSON struct {
			Position map[string]float64 `json:"position"`
			Value    float64            `json:"value"`
		}
		out := make([]sampleJSON, 0, len(samples))
		for _, smp := range samples {
			out = append(out, sampleJSON{Position: smp.Position, Value: smp.Value})
		}
		httputil.WriteJSONOK(w, out)
	})
	return nil
}
