package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"pwmctl/internal/pwm"
)

// Controller is what the HTTP API needs from the PWM controller.
// Implementations must be safe to call concurrently.
type Controller interface {
	Outputs() []pwm.Output
	Output(id string) (pwm.Output, bool)
	SetValue(id string, value float64) (pwm.Output, error)
	Status() pwm.HardwareStatus
}

func Handler(ctl Controller, status *Status, logs *LogBuffer) http.Handler {
	if status == nil {
		status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /pwm", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctl.Outputs())
	})

	mux.HandleFunc("GET /pwm/{id}", func(w http.ResponseWriter, r *http.Request) {
		out, ok := ctl.Output(r.PathValue("id"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("PUT /pwm/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		q := r.URL.Query()
		if !q.Has("value") {
			writeText(w, http.StatusBadRequest, "Missing required query parameter: value")
			return
		}
		raw := strings.TrimSpace(q.Get("value"))
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeText(w, http.StatusBadRequest, "Invalid value: "+raw)
			return
		}

		out, err := ctl.SetValue(id, value)
		if err != nil {
			var verr *pwm.ValidationError
			var uerr *pwm.UnknownIDError
			if errors.As(err, &verr) || errors.As(err, &uerr) {
				writeText(w, http.StatusBadRequest, err.Error())
				return
			}
			log.WithError(err).WithField("id", id).Error("set pwm value failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, status.Snapshot(time.Now().UTC(), ctl))
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}

	mux.HandleFunc("GET /api/about", aboutHandler(ctl, status))

	return requestLogger(mux)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg))
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"query":    r.URL.RawQuery,
			"status":   rec.code,
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}

// Serve runs the HTTP server until ctx is canceled, then shuts it down.
func Serve(ctx context.Context, listenAddr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.WithField("listen", listenAddr).Info("http server started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
