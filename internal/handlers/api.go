package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"imovelzap/internal/adapters/evolution"
	"imovelzap/internal/services"
)

const healthCacheKey = "gateway_probe"

// Prober is the connection-state surface the health check needs.
type Prober interface {
	FetchInstances(ctx context.Context) ([]evolution.Instance, error)
}

// Server owns the HTTP surface of the pipeline: the webhook endpoint, the
// scheduled-message operations, and the batch triggers an external cron
// invokes.
type Server struct {
	router            *mux.Router
	webhook           *WebhookHandler
	dispatcher        *services.Dispatcher
	archiver          *services.Archiver
	contacts          *services.ContactSyncService
	groups            *services.GroupSyncService
	prober            Prober
	probeCache        *gocache.Cache
	dispatchBatchSize int
	archiveBatchSize  int
}

// NewServer builds the router.
func NewServer(
	webhook *WebhookHandler,
	dispatcher *services.Dispatcher,
	archiver *services.Archiver,
	contacts *services.ContactSyncService,
	groups *services.GroupSyncService,
	prober Prober,
	dispatchBatchSize, archiveBatchSize int,
) *Server {
	s := &Server{
		router:            mux.NewRouter(),
		webhook:           webhook,
		dispatcher:        dispatcher,
		archiver:          archiver,
		contacts:          contacts,
		groups:            groups,
		prober:            prober,
		probeCache:        gocache.New(30*time.Second, time.Minute),
		dispatchBatchSize: dispatchBatchSize,
		archiveBatchSize:  archiveBatchSize,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("/webhooks/evolution", s.webhook.Handle).Methods(http.MethodPost)

	s.router.HandleFunc("/scheduled", s.CreateScheduled()).Methods(http.MethodPost)
	s.router.HandleFunc("/scheduled/dispatch", s.RunDispatch()).Methods(http.MethodPost)
	s.router.HandleFunc("/scheduled/{id:[0-9]+}/cancel", s.CancelScheduled()).Methods(http.MethodPost)
	s.router.HandleFunc("/scheduled/{id:[0-9]+}/retry", s.RetryScheduled()).Methods(http.MethodPost)

	s.router.HandleFunc("/archive/run", s.RunArchive()).Methods(http.MethodPost)
	s.router.HandleFunc("/conversations/{id:[0-9]+}/history", s.ConversationHistory()).Methods(http.MethodGet)

	s.router.HandleFunc("/sync/contacts", s.PreviewContacts()).Methods(http.MethodGet)
	s.router.HandleFunc("/sync/contacts", s.ImportContacts()).Methods(http.MethodPost)
	s.router.HandleFunc("/sync/groups", s.SyncGroups()).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.Health()).Methods(http.MethodGet)
}

// CreateScheduled accepts a new scheduled message.
func (s *Server) CreateScheduled() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in services.ScheduleInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		row, err := s.dispatcher.Schedule(r.Context(), in)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondJSON(w, http.StatusCreated, row)
	}
}

// RunDispatch triggers one dispatch batch. Invoked by an external
// time-based trigger or manually.
func (s *Server) RunDispatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.dispatcher.RunDueBatch(r.Context(), s.limitParam(r, s.dispatchBatchSize))
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, result)
	}
}

// CancelScheduled moves a pending row to cancelled.
func (s *Server) CancelScheduled() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := s.idParam(r)
		err := s.dispatcher.Cancel(r.Context(), id)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.respondError(w, http.StatusNotFound, "scheduled message not found")
		case errors.Is(err, services.ErrNotPending):
			s.respondError(w, http.StatusConflict, "scheduled message is not pending")
		case err != nil:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		default:
			s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		}
	}
}

// RetryScheduled clones a terminal row into a fresh pending attempt.
func (s *Server) RetryScheduled() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := s.idParam(r)
		row, err := s.dispatcher.Retry(r.Context(), id)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.respondError(w, http.StatusNotFound, "scheduled message not found")
		case errors.Is(err, services.ErrNotTerminal):
			s.respondError(w, http.StatusConflict, "scheduled message has not finished")
		case err != nil:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		default:
			s.respondJSON(w, http.StatusCreated, row)
		}
	}
}

// RunArchive triggers one archive batch.
func (s *Server) RunArchive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.archiver.ArchiveBatch(r.Context(), s.limitParam(r, s.archiveBatchSize))
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, result)
	}
}

// ConversationHistory returns the reconstructed timeline, archives included.
func (s *Server) ConversationHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := s.archiver.History(r.Context(), s.idParam(r))
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, history)
	}
}

// PreviewContacts returns the gateway contact list annotated with
// already-imported flags.
func (s *Server) PreviewContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		candidates, err := s.contacts.Preview(r.Context())
		if err != nil {
			s.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, candidates)
	}
}

// ImportContacts bulk-creates leads for contacts not yet stored.
func (s *Server) ImportContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.contacts.Import(r.Context())
		if err != nil {
			s.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, result)
	}
}

// SyncGroups backfills missing group conversation names.
func (s *Server) SyncGroups() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patched, err := s.groups.SyncNames(r.Context())
		if err != nil {
			s.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]int{"patched": patched})
	}
}

// Health probes the gateway's instance connection state, cached briefly so
// dashboards polling the endpoint do not hammer the gateway.
func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cached, found := s.probeCache.Get(healthCacheKey); found {
			s.respondJSON(w, http.StatusOK, cached)
			return
		}

		instances, err := s.prober.FetchInstances(r.Context())
		if err != nil {
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}

		connected := 0
		for _, inst := range instances {
			if inst.ConnectionStatus == "open" {
				connected++
			}
		}
		payload := map[string]interface{}{
			"status":    "ok",
			"connected": connected,
			"instances": instances,
		}
		s.probeCache.Set(healthCacheKey, payload, gocache.DefaultExpiration)
		s.respondJSON(w, http.StatusOK, payload)
	}
}

func (s *Server) idParam(r *http.Request) uint {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return uint(id)
}

func (s *Server) limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return def
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]string{"error": message})
}
