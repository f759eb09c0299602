// Package admin serves the HTTP control surface: manual scrapes, channel subscriptions, health and metrics.
package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/scheduler"
	"event-notifier-bot/subscription"
)

const (
	readTimeout  = time.Second * 10
	writeTimeout = time.Second * 10
	idleTimeout  = time.Minute
	pingTimeout  = time.Second * 5
)

type Cycles interface {
	Trigger(ctx context.Context) error
	State() scheduler.State
	NextWake() time.Time
}

type Subscriptions interface {
	Subscribe(ctx context.Context, channelId int64, topics []string) ([]string, []string, error)
	Unsubscribe(ctx context.Context, channelId int64, topics []string) ([]string, error)
	UnsubscribeAll(ctx context.Context, channelId int64) error
	Topics(ctx context.Context, channelId int64) ([]string, error)
	List(ctx context.Context) ([]event.Subscription, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	server  *http.Server
	cycles  Cycles
	subs    Subscriptions
	pinger  Pinger
	metrics http.Handler
	log     *logger.Logger
}

type topicsRequest struct {
	Topics []string `json:"topics"`
}

// unsubscribeRequest tells an absent topics key, which removes everything, from an empty list.
type unsubscribeRequest struct {
	Topics *[]string `json:"topics"`
}

type topicsResponse struct {
	ChannelId int64    `json:"channel_id"`
	Topics    []string `json:"topics"`
	Added     []string `json:"added,omitempty"`
}

type healthResponse struct {
	Status   string    `json:"status"`
	State    string    `json:"state"`
	NextWake time.Time `json:"next_wake"`
	Error    string    `json:"error,omitempty"`
}

// New builds the router. metrics may be nil.
func New(addr string, cycles Cycles, subs Subscriptions, pinger Pinger, metrics http.Handler, log *logger.Logger) *Server {
	s := &Server{
		server: &http.Server{
			Addr:         addr,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		cycles:  cycles,
		subs:    subs,
		pinger:  pinger,
		metrics: metrics,
		log:     log.WithComponent("admin"),
	}
	router := mux.NewRouter()
	s.routes(router)
	s.server.Handler = router
	return s
}

func (s *Server) routes(r *mux.Router) {
	r.Use(s.logRequests)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/scrape", s.scrape).Methods(http.MethodPost)
	r.HandleFunc("/channels", s.listChannels).Methods(http.MethodGet)
	r.HandleFunc("/channels/{id}/topics", s.getTopics).Methods(http.MethodGet)
	r.HandleFunc("/channels/{id}/topics", s.subscribe).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}/topics", s.unsubscribe).Methods(http.MethodDelete)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe blocks until Shutdown is called.
func (s *Server) ListenAndServe() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(started)).
			Msg("request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{
		Status:   "ok",
		State:    s.cycles.State().String(),
		NextWake: s.cycles.NextWake(),
	}
	code := http.StatusOK
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		err := s.pinger.Ping(ctx)
		if err != nil {
			response.Status = "unavailable"
			response.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, response)
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	err := s.cycles.Trigger(r.Context())
	if errors.Is(err, scheduler.ErrCycleRunning) {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("unable to trigger cycle")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subs.List(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("unable to list subscriptions")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	response := make([]topicsResponse, 0, len(subs))
	for _, sub := range subs {
		response = append(response, topicsResponse{ChannelId: sub.ChannelId, Topics: sub.Topics})
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) getTopics(w http.ResponseWriter, r *http.Request) {
	channelId, ok := s.channelId(w, r)
	if !ok {
		return
	}
	topics, err := s.subs.Topics(r.Context(), channelId)
	if err != nil {
		s.log.Error().Err(err).Int64("channel_id", channelId).Msg("unable to get topics")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, topicsResponse{ChannelId: channelId, Topics: topics})
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	channelId, ok := s.channelId(w, r)
	if !ok {
		return
	}
	var request topicsRequest
	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	if len(event.NormalizeTopics(request.Topics)) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("topics are required"))
		return
	}
	added, all, err := s.subs.Subscribe(r.Context(), channelId, request.Topics)
	if err != nil {
		s.log.Error().Err(err).Int64("channel_id", channelId).Msg("unable to subscribe")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, topicsResponse{ChannelId: channelId, Topics: all, Added: added})
}

// unsubscribe removes the topics in the body, or every topic when the body or its topics key is
// absent. A topic list that is blank after trimming is rejected.
func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	channelId, ok := s.channelId(w, r)
	if !ok {
		return
	}
	var request unsubscribeRequest
	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	if request.Topics == nil {
		err = s.subs.UnsubscribeAll(r.Context(), channelId)
		if err != nil {
			s.log.Error().Err(err).Int64("channel_id", channelId).Msg("unable to unsubscribe")
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, topicsResponse{ChannelId: channelId, Topics: []string{}})
		return
	}
	remaining, err := s.subs.Unsubscribe(r.Context(), channelId, *request.Topics)
	if errors.Is(err, subscription.ErrNoTopics) {
		s.writeError(w, http.StatusBadRequest, errors.New("topics must not be blank"))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("channel_id", channelId).Msg("unable to unsubscribe")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, topicsResponse{ChannelId: channelId, Topics: remaining})
}

func (s *Server) channelId(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid channel id"))
		return 0, false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.log.Warn().Err(err).Msg("unable to write response")
	}
}
