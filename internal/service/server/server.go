package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sigchat/config"
	"sigchat/internal/metrics"
	"sigchat/internal/model"
	"sigchat/internal/service/challenge"
	"sigchat/internal/service/guard"
	"sigchat/internal/service/hub"
	"sigchat/internal/service/token"
	apperrors "sigchat/pkg/errors"
	"sigchat/pkg/log"
)

type (
	// UserStore, DeviceStore, ConversationStore and MessageStore are
	// the durable-store collaborators consumed by the handlers. The
	// Mongo repositories implement them; tests substitute in-memory
	// fakes.
	UserStore interface {
		Create(ctx context.Context, user *model.User) (int64, error)
		GetByUsername(ctx context.Context, username string) (*model.User, error)
		GetByID(ctx context.Context, id int64) (*model.User, error)
		List(ctx context.Context) ([]*model.User, error)
		Delete(ctx context.Context, id int64) error
	}

	DeviceStore interface {
		Upsert(ctx context.Context, ownerID int64, deviceID, publicKeyPEM string) error
		DeleteByOwner(ctx context.Context, ownerID int64) error
	}

	ConversationStore interface {
		Create(ctx context.Context, title string, memberIDs []int64) (*model.Conversation, error)
		Get(ctx context.Context, id int64) (*model.Conversation, error)
		ListByMember(ctx context.Context, userID int64) ([]*model.Conversation, error)
		IsMember(ctx context.Context, conversationID, principalID int64) (bool, error)
		AddMember(ctx context.Context, conversationID, userID int64) error
		RemoveMemberFromAll(ctx context.Context, userID int64) ([]int64, error)
		Delete(ctx context.Context, id int64) error
	}

	MessageStore interface {
		guard.ReplayChecker
		Insert(ctx context.Context, msg *model.Message) error
		ListRecent(ctx context.Context, conversationID, limit int64) ([]*model.Message, error)
		DeleteByConversation(ctx context.Context, conversationID int64) error
		DeleteBySender(ctx context.Context, senderID int64) error
	}

	// KeyResolver mirrors resolver.KeyResolver at the point of use.
	KeyResolver interface {
		Resolve(ctx context.Context, principalID int64, deviceID string) (string, error)
	}

	Deps struct {
		Users         UserStore
		Devices       DeviceStore
		Conversations ConversationStore
		Messages      MessageStore
		Keys          KeyResolver
		Challenges    challenge.Store
		Tokens        *token.Manager
	}

	HttpServer struct {
		cfg        *config.Config
		users      UserStore
		devices    DeviceStore
		convs      ConversationStore
		messages   MessageStore
		keys       KeyResolver
		challenges challenge.Store
		tokens     *token.Manager
		hub        *hub.Hub
		guard      *guard.Guard
		upgrader   websocket.Upgrader
		limiter    *ipLimiter
	}
)

func NewHttpServer(cfg *config.Config, deps Deps) *HttpServer {
	return &HttpServer{
		cfg:        cfg,
		users:      deps.Users,
		devices:    deps.Devices,
		convs:      deps.Conversations,
		messages:   deps.Messages,
		keys:       deps.Keys,
		challenges: deps.Challenges,
		tokens:     deps.Tokens,
		hub:        hub.New(),
		guard:      guard.New(cfg.Auth.FreshnessWindow, deps.Messages),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		limiter: newIPLimiter(rate.Limit(float64(cfg.Auth.LoginRatePerMin)/60.0), cfg.Auth.LoginRatePerMin),
	}
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.HandleWS()).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/register", s.rateLimited(s.HandleRegister())).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.rateLimited(s.HandleLogin())).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/enroll/start", s.rateLimited(s.HandleEnrollStart())).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/enroll/complete", s.HandleEnrollComplete()).Methods(http.MethodPost)

	authed := r.PathPrefix("/api").Subrouter()
	authed.Use(s.authRequired)

	authed.HandleFunc("/conversations", s.HandleCreateConversation()).Methods(http.MethodPost)
	authed.HandleFunc("/conversations", s.HandleListConversations()).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id}", s.HandleDeleteConversation()).Methods(http.MethodDelete)
	authed.HandleFunc("/conversations/{id}/members", s.HandleListMembers()).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id}/members", s.HandleAddMember()).Methods(http.MethodPost)
	authed.HandleFunc("/messages/{conversationId}", s.HandleListMessages()).Methods(http.MethodGet)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(s.authRequired, s.adminRequired)
	admin.HandleFunc("/users", s.HandleAdminListUsers()).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}", s.HandleAdminDeleteUser()).Methods(http.MethodDelete)

	return r
}

// Run blocks serving HTTP, or HTTPS when a certificate is configured.
func (s *HttpServer) Run() error {
	addr := s.cfg.Server.Addr
	if s.cfg.Server.TLSCert != "" {
		log.Info("listening with TLS", zap.String("addr", addr))
		return http.ListenAndServeTLS(addr, s.cfg.Server.TLSCert, s.cfg.Server.TLSKey, s.Router())
	}
	log.Info("listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
}

type ctxKey int

const claimsKey ctxKey = 0

func (s *HttpServer) authRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.tokens.Verify(bearerToken(r))
		if err != nil {
			respondError(w, apperrors.Unauthorized("invalid or expired token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (s *HttpServer) adminRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		if s.cfg.Auth.AdminUsername == "" || claims == nil || claims.Username != s.cfg.Auth.AdminUsername {
			respondError(w, apperrors.Forbidden("admin only"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFrom(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsKey).(*token.Claims)
	return claims
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return header
}

// ipLimiter throttles the credential endpoints per remote address.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (l *ipLimiter) allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}

func (s *HttpServer) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r.RemoteAddr) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encode response failed", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	message := "server error"

	switch code {
	case apperrors.CodeInvalidArgument, apperrors.CodeFreshness:
		status = http.StatusBadRequest
		message = apperrors.MessageOf(err)
	case apperrors.CodeUnauthenticated:
		status = http.StatusUnauthorized
		message = apperrors.MessageOf(err)
	case apperrors.CodePermissionDenied:
		status = http.StatusForbidden
		message = apperrors.MessageOf(err)
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
		message = apperrors.MessageOf(err)
	case apperrors.CodeAlreadyExists, apperrors.CodeReplay:
		status = http.StatusConflict
		message = apperrors.MessageOf(err)
	default:
		log.Error("internal error", zap.Error(err))
	}

	respondJSON(w, status, map[string]any{"error": message})
}
