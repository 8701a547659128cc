package hubtest

import (
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"ripple/cmd/internal/stream"
	v1 "ripple/shared/contracts/stream/v1"
)

const (
	defaultTokenTTL      = time.Hour
	subscriberQueueSize  = 64
	maxStoredPerTopic    = 10_000
	defaultHistoryLimit  = 30
	maxHistoryLimit      = 200
	subscriberHelloFrame = ":ok\n\n"
)

// Config tunes a Hub. Zero values get safe defaults; a nil SigningKey makes
// every topic public (no token required to subscribe).
type Config struct {
	Logger     *slog.Logger
	SigningKey []byte
	TokenTTL   time.Duration

	RateEvents int
	RateWindow time.Duration
}

// Hub is the in-process push hub.
type Hub struct {
	log        *slog.Logger
	signingKey []byte
	tokenTTL   time.Duration
	rateEvents int
	rateWindow time.Duration

	mu       sync.Mutex
	nextSub  uint64
	topics   map[string]*topicState
	limiters map[string]*rateLimiter
}

type topicState struct {
	subscribers   map[uint64]chan []byte
	messages      []v1.Message
	notifications []v1.Notification
}

// New constructs a Hub.
func New(cfg Config) *Hub {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Hub{
		log:        log,
		signingKey: cfg.SigningKey,
		tokenTTL:   ttl,
		rateEvents: cfg.RateEvents,
		rateWindow: cfg.RateWindow,
		topics:     make(map[string]*topicState),
		limiters:   make(map[string]*rateLimiter),
	}
}

// Handler returns the hub's HTTP surface.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /authz/stream-token", h.handleToken)
	mux.HandleFunc("GET /subscribe", h.handleSubscribeSSE)
	mux.HandleFunc("GET /subscribe/ws", h.handleSubscribeWS)
	mux.HandleFunc("GET /messages", h.handleMessageHistory)
	mux.HandleFunc("POST /messages", h.handleSend)
	mux.HandleFunc("POST /messages/group", h.handleSendGroup)
	mux.HandleFunc("GET /notifications", h.handleNotificationHistory)
	mux.HandleFunc("POST /notifications", h.handleNotify)
	return mux
}

// ---- token issuance ----

func (h *Hub) handleToken(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Topics []string `json:"topics"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || len(request.Topics) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "topics required")
		return
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(h.tokenTTL).Unix(),
		"ripple": map[string]any{
			"subscribe": request.Topics,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.signingKeyOrDefault())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_mint", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      signed,
		"expires_in": int(h.tokenTTL / time.Second),
	})
}

// signingKeyOrDefault lets a public hub still mint tokens (they are simply
// never checked on subscribe).
func (h *Hub) signingKeyOrDefault() []byte {
	if len(h.signingKey) > 0 {
		return h.signingKey
	}
	return []byte("hubtest-public")
}

// authorizeSubscribe validates the bearer token for topic. A hub without a
// signing key is public and admits everyone.
func (h *Hub) authorizeSubscribe(r *http.Request, topic string) (int, bool) {
	if len(h.signingKey) == 0 {
		return 0, true
	}

	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		return http.StatusUnauthorized, false
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return h.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return http.StatusUnauthorized, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return http.StatusUnauthorized, false
	}
	scope, ok := claims["ripple"].(map[string]any)
	if !ok {
		return http.StatusForbidden, false
	}
	allowed, ok := scope["subscribe"].([]any)
	if !ok {
		return http.StatusForbidden, false
	}
	for _, t := range allowed {
		if s, ok := t.(string); ok && s == topic {
			return 0, true
		}
	}
	return http.StatusForbidden, false
}

// ---- subscribe ----

func (h *Hub) handleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "topic required")
		return
	}
	if status, ok := h.authorizeSubscribe(r, topic); !ok {
		writeError(w, status, "unauthorized", "subscribe rejected")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "no_flush", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(subscriberHelloFrame))
	flusher.Flush()

	id, ch := h.register(topic)
	defer h.unregister(topic, id)
	h.log.Debug("hubtest.subscribe", "topic", topic, "transport", "sse", "sub", id)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-ch:
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(frame)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func (h *Hub) register(topic string) (uint64, chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.topicLocked(topic)
	h.nextSub++
	id := h.nextSub
	ch := make(chan []byte, subscriberQueueSize)
	state.subscribers[id] = ch
	return id, ch
}

func (h *Hub) unregister(topic string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if state, ok := h.topics[topic]; ok {
		delete(state.subscribers, id)
	}
}

func (h *Hub) topicLocked(topic string) *topicState {
	state, ok := h.topics[topic]
	if !ok {
		state = &topicState{subscribers: make(map[uint64]chan []byte)}
		h.topics[topic] = state
	}
	return state
}

// broadcast fans a frame out to every subscriber of topic.
// Non-blocking: a full subscriber queue drops rather than stalling the hub.
func (h *Hub) broadcast(topic string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.topics[topic]
	if !ok {
		return
	}
	for _, ch := range state.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
}

// ---- send ----

func (h *Hub) handleSend(w http.ResponseWriter, r *http.Request) {
	var msg v1.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if msg.SenderID == "" || msg.ReceiverID == "" || msg.Content == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "sender_id, receiver_id and content required")
		return
	}
	if !h.allowSender(msg.SenderID) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "slow down")
		return
	}

	topic, err := stream.ConversationTopic(msg.SenderID, msg.ReceiverID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	stored := h.storeMessage(string(topic), msg)
	h.broadcastMessage(string(topic), stored)
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Hub) handleSendGroup(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Message    v1.Message `json:"message"`
		Recipients []string   `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	msg := request.Message
	if msg.SenderID == "" || msg.Content == "" || len(request.Recipients) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "sender_id, content and recipients required")
		return
	}
	if !h.allowSender(msg.SenderID) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "slow down")
		return
	}

	msg.GroupMessage = true
	var canonical v1.Message
	for i, recipient := range request.Recipients {
		copy := msg
		copy.ReceiverID = recipient
		topic, err := stream.ConversationTopic(msg.SenderID, recipient)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		stored := h.storeMessage(string(topic), copy)
		h.broadcastMessage(string(topic), stored)
		if i == 0 {
			canonical = stored
		}
	}
	writeJSON(w, http.StatusCreated, canonical)
}

func (h *Hub) allowSender(senderID string) bool {
	h.mu.Lock()
	limiter, ok := h.limiters[senderID]
	if !ok {
		limiter = newRateLimiter(h.rateEvents, h.rateWindow)
		h.limiters[senderID] = limiter
	}
	h.mu.Unlock()
	return limiter.allow(time.Now())
}

func (h *Hub) storeMessage(topic string, msg v1.Message) v1.Message {
	msg.ID = newServerID()
	msg.SentAt = time.Now().UTC()

	h.mu.Lock()
	state := h.topicLocked(topic)
	state.messages = append(state.messages, msg)
	if len(state.messages) > maxStoredPerTopic {
		state.messages = state.messages[len(state.messages)-maxStoredPerTopic:]
	}
	h.mu.Unlock()
	return msg
}

func (h *Hub) broadcastMessage(topic string, msg v1.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast(topic, frame)
}

// ---- notifications ----

func (h *Hub) handleNotify(w http.ResponseWriter, r *http.Request) {
	var request struct {
		UserID  string          `json:"user_id"`
		Title   string          `json:"titre"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if request.UserID == "" || request.Title == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id and titre required")
		return
	}

	topic, err := stream.NotificationTopic(request.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	notif := v1.Notification{
		ID:        newServerID(),
		Title:     request.Title,
		CreatedAt: time.Now().UTC(),
		Payload:   request.Payload,
	}

	h.mu.Lock()
	state := h.topicLocked(string(topic))
	state.notifications = append(state.notifications, notif)
	if len(state.notifications) > maxStoredPerTopic {
		state.notifications = state.notifications[len(state.notifications)-maxStoredPerTopic:]
	}
	h.mu.Unlock()

	if frame, err := json.Marshal(notif); err == nil {
		h.broadcast(string(topic), frame)
	}
	writeJSON(w, http.StatusCreated, notif)
}

// ---- history ----

func (h *Hub) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	topic, page, limit, ok := historyParams(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	var snapshot []v1.Message
	if state, exists := h.topics[topic]; exists {
		snapshot = append([]v1.Message(nil), state.messages...)
	}
	h.mu.Unlock()

	items, pages, total := pageWindow(snapshot, page, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items, "page": page, "pages": pages, "total": total,
	})
}

func (h *Hub) handleNotificationHistory(w http.ResponseWriter, r *http.Request) {
	topic, page, limit, ok := historyParams(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	var snapshot []v1.Notification
	if state, exists := h.topics[topic]; exists {
		snapshot = append([]v1.Notification(nil), state.notifications...)
	}
	h.mu.Unlock()

	items, pages, total := pageWindow(snapshot, page, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items, "page": page, "pages": pages, "total": total,
	})
}

func historyParams(w http.ResponseWriter, r *http.Request) (topic string, page, limit int, ok bool) {
	topic = r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "topic required")
		return "", 0, 0, false
	}
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return topic, page, limit, true
}

// pageWindow slices a newest-first page out of an ascending collection:
// page 1 is the most recent window, higher pages walk backwards in time.
// Items within each page stay ascending.
func pageWindow[T any](all []T, page, limit int) (items []T, pages, total int) {
	total = len(all)
	pages = int(math.Ceil(float64(total) / float64(limit)))
	if pages == 0 {
		pages = 1
	}

	end := total - (page-1)*limit
	if end <= 0 {
		return []T{}, pages, total
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	items = append([]T{}, all[start:end]...)
	return items, pages, total
}

// ---- helpers ----

func newServerID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
