// directory-stub serves fake patient and staff records for local runs. Every
// UUID resolves to the same person on each request; the nil UUID is unknown.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-scheduling/internal/directory"
	"github.com/hackgods/slot-scheduling/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	log := logging.New("directory-stub", os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	addr := os.Getenv("DIRECTORY_STUB_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Info().Str("addr", addr).Msg("directory-stub listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func newRouter(log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/patients/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := personID(w, r)
		if !ok {
			return
		}
		log.Debug().Str("patient_id", id.String()).Msg("patient lookup")
		writeJSON(w, http.StatusOK, fakePatient(id))
	})

	r.Get("/doctors/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := personID(w, r)
		if !ok {
			return
		}
		log.Debug().Str("doctor_id", id.String()).Msg("doctor lookup")
		writeJSON(w, http.StatusOK, fakeDoctor(id))
	})

	return r
}

func personID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return uuid.Nil, false
	}
	if id == uuid.Nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return uuid.Nil, false
	}
	return id, true
}

func fakerFor(id uuid.UUID) *gofakeit.Faker {
	return gofakeit.New(binary.BigEndian.Uint64(id[:8]) ^ binary.BigEndian.Uint64(id[8:]))
}

func fakePatient(id uuid.UUID) directory.Patient {
	f := fakerFor(id)
	return directory.Patient{
		ID:        id,
		FirstName: f.FirstName(),
		LastName:  f.LastName(),
		Email:     f.Email(),
	}
}

func fakeDoctor(id uuid.UUID) directory.Doctor {
	f := fakerFor(id)
	return directory.Doctor{
		ID:        id,
		FirstName: f.FirstName(),
		LastName:  f.LastName(),
		Specialty: f.RandomString(specialties),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
