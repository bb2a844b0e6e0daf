// Package chatapi exposes the REST collaborator endpoints consumed by
// the client reconciliation layer: login (which mints the accessToken
// cookie the websocket gateway authenticates), conversation listing
// and creation, and paginated message history for backfill.
package chatapi

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"connexa/cmd/internal/auth/password"
	"connexa/cmd/internal/auth/token"
	"connexa/cmd/internal/chat"
	"connexa/cmd/internal/invite"
)

const (
	maxBodyBytes    = 64 << 10
	maxParticipants = 50
)

// Handler wires the HTTP chat endpoints to the chat stores.
type Handler struct {
	log    *slog.Logger
	users  chat.UserStore
	convs  chat.ConversationStore
	msgs   chat.MessageStore
	tokens *token.Manager

	pageSize      int
	secureCookies bool

	invites *invite.Service
	policy  password.Policy
	limiter *loginLimiter

	// Dummy hash for timing-resistant login checks when the email does
	// not resolve.
	dummyHash string
}

// HandlerOption configures optional Handler behavior.
type HandlerOption func(*Handler)

// WithPageSize overrides the default page size for listings.
func WithPageSize(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.pageSize = n
		}
	}
}

// WithSecureCookies marks issued cookies Secure (TLS deployments).
func WithSecureCookies(secure bool) HandlerOption {
	return func(h *Handler) { h.secureCookies = secure }
}

// WithInvites enables the group invite endpoints.
func WithInvites(svc *invite.Service) HandlerOption {
	return func(h *Handler) { h.invites = svc }
}

// NewHandler constructs a chat API handler.
func NewHandler(log *slog.Logger, users chat.UserStore, convs chat.ConversationStore, msgs chat.MessageStore, tokens *token.Manager, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		users:    users,
		convs:    convs,
		msgs:     msgs,
		tokens:   tokens,
		pageSize: chat.DefaultPageSize,
		policy:   password.DefaultPolicy(),
		limiter:  newLoginLimiter(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	if hash, err := password.Hash("dummy-password-for-timing-only", password.DefaultParams()); err == nil {
		h.dummyHash = hash
	}
	return h
}

// Register wires the chat routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/v1/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", h.handleLogin)
	mux.HandleFunc("GET /api/v1/conversations", h.requireAuth(h.handleListConversations))
	mux.HandleFunc("POST /api/v1/conversations", h.requireAuth(h.handleCreateConversation))
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", h.requireAuth(h.handleMessages))

	if h.invites != nil {
		mux.HandleFunc("POST /api/v1/conversations/{id}/invites", h.requireAuth(h.handleCreateInvite))
		mux.HandleFunc("POST /api/v1/invites/accept", h.requireAuth(h.handleAcceptInvite))
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, id token.Identity)

func (h *Handler) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := h.tokens.VerifyRequest(r, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r, id)
	}
}

// ---- register ----

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	Message string    `json:"message"`
	Data    chat.User `json:"data"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.allow(r.RemoteAddr) {
		writeRateLimited(w, time.Minute)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Name, email and password are required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if err := h.policy.Validate(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, policyMessage(err))
		return
	}

	hash, err := password.Hash(req.Password, password.DefaultParams())
	if err != nil {
		h.log.Error("api.register.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	now := time.Now().UTC()
	id, err := chat.NewID(now)
	if err != nil {
		h.log.Error("api.register.id.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	u := chat.User{
		ID:           id,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := h.users.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, chat.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "Email is already registered")
			return
		}
		h.log.Error("api.register.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.log.Info("api.register.ok", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, registerResponse{Message: "Registered successfully", Data: u})
}

func policyMessage(err error) string {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "Password must be at least 8 characters"
	case errors.Is(err, password.ErrPasswordTooLong):
		return "Password is too long"
	case errors.Is(err, password.ErrWeakPassword):
		return "Password is too weak"
	default:
		return "Invalid password"
	}
}

// ---- login ----

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string    `json:"message"`
	Data    chat.User `json:"data"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.allow(r.RemoteAddr) {
		writeRateLimited(w, time.Minute)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	now := time.Now().UTC()

	u, err := h.users.UserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, chat.ErrUserNotFound) {
			// Burn comparable CPU so unknown emails are not
			// distinguishable by response timing.
			_, _ = password.Verify(h.dummyHash, req.Password)
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.log.Error("api.login.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	ok, err := password.Verify(u.PasswordHash, req.Password)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	signed, exp, err := h.tokens.Issue(now, token.Identity{UserID: u.ID, Email: u.Email})
	if err != nil {
		h.log.Error("api.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	http.SetCookie(w, token.Cookie(signed, exp, h.secureCookies))
	writeJSON(w, http.StatusOK, loginResponse{Message: "Logged in successfully", Data: u})
}

// ---- conversations ----

type conversationListResponse struct {
	Data []chat.Conversation `json:"data"`
	Meta chat.PageMeta       `json:"meta"`
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request, id token.Identity) {
	page := queryPage(r)

	convs, meta, err := h.convs.ListByUser(r.Context(), id.UserID, page, h.pageSize)
	if err != nil {
		h.log.Error("api.conversations.list.fail", "user_id", id.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversationListResponse{Data: convs, Meta: meta})
}

type createConversationRequest struct {
	IsGroup      bool     `json:"isGroup"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
	Admins       []string `json:"admins,omitempty"`
	AvatarURL    string   `json:"avatarUrl,omitempty"`
}

type createConversationResponse struct {
	Message string            `json:"message"`
	Data    chat.Conversation `json:"data"`
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request, id token.Identity) {
	var req createConversationRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if msg, ok := validateCreate(req, id.UserID); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	all := append(append([]string(nil), req.Participants...), req.Admins...)
	exists, err := h.users.ExistAll(r.Context(), all)
	if err != nil {
		h.log.Error("api.conversations.create.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !exists {
		writeError(w, http.StatusBadRequest, "One or more participants do not exist")
		return
	}

	conv, err := h.convs.CreateConversation(r.Context(), chat.CreateConversationInput{
		IsGroup:      req.IsGroup,
		Name:         req.Name,
		AvatarURL:    req.AvatarURL,
		OwnerID:      id.UserID,
		Participants: req.Participants,
		Admins:       req.Admins,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, chat.ErrDuplicateConversation) {
			writeError(w, http.StatusBadRequest, "A one-to-one conversation already exists between these participants")
			return
		}
		h.log.Error("api.conversations.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusCreated, createConversationResponse{
		Message: "Conversation created successfully",
		Data:    conv,
	})
}

func validateCreate(req createConversationRequest, callerID string) (string, bool) {
	if req.IsGroup && strings.TrimSpace(req.Name) == "" {
		return "Group name is mandatory", false
	}
	if len(req.Participants) < 2 {
		return "At least 2 participants are required to create a conversation", false
	}
	if len(req.Participants) > maxParticipants {
		return "A conversation can have a maximum of " + strconv.Itoa(maxParticipants) + " participants", false
	}
	if req.IsGroup && len(req.Admins) < 1 {
		return "At least 1 admin is required for a group conversation", false
	}
	if !slices.Contains(req.Participants, callerID) {
		return "Logged-in user must be a participant in the conversation", false
	}
	if req.IsGroup && !slices.Contains(req.Admins, callerID) {
		return "Logged-in user must be an admin in the group conversation", false
	}
	if !req.IsGroup && len(req.Participants) != 2 {
		return "One-to-one conversations can only have 2 participants", false
	}
	return "", true
}

// ---- group invites ----

type createInviteRequest struct {
	TTLHours int `json:"ttlHours,omitempty"`
	MaxUses  int `json:"maxUses,omitempty"`
}

type createInviteResponse struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	MaxUses   int       `json:"maxUses"`
}

func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request, id token.Identity) {
	conversationID := r.PathValue("id")

	conv, err := h.convs.ConversationByID(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		h.log.Error("api.invites.create.lookup.fail", "conversation_id", conversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !conv.IsGroup {
		writeError(w, http.StatusBadRequest, "Invites are only available for group conversations")
		return
	}
	if conv.OwnerID != id.UserID && !slices.Contains(conv.Admins, id.UserID) {
		writeError(w, http.StatusForbidden, "Only group admins can create invites")
		return
	}

	var req createInviteRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inv, plain, err := h.invites.Create(r.Context(), invite.CreateInput{
		ConversationID: conversationID,
		CreatedBy:      id.UserID,
		TTL:            time.Duration(req.TTLHours) * time.Hour,
		MaxUses:        req.MaxUses,
		Now:            time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("api.invites.create.fail", "conversation_id", conversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusCreated, createInviteResponse{
		Message:   "Invite created successfully",
		Token:     plain,
		ExpiresAt: inv.ExpiresAt,
		MaxUses:   inv.MaxUses,
	})
}

type acceptInviteRequest struct {
	Token string `json:"token"`
}

type acceptInviteResponse struct {
	Message string            `json:"message"`
	Data    chat.Conversation `json:"data"`
}

func (h *Handler) handleAcceptInvite(w http.ResponseWriter, r *http.Request, id token.Identity) {
	var req acceptInviteRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "Invite token is required")
		return
	}

	inv, err := h.invites.Consume(r.Context(), invite.ConsumeInput{
		Token:      req.Token,
		ConsumedBy: id.UserID,
		Now:        time.Now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, invite.ErrNotFound), errors.Is(err, invite.ErrNotActive):
			writeError(w, http.StatusBadRequest, "Invite is invalid or expired")
		default:
			h.log.Error("api.invites.accept.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	if err := h.convs.AddParticipant(r.Context(), inv.ConversationID, id.UserID); err != nil {
		h.log.Error("api.invites.join.fail", "conversation_id", inv.ConversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	conv, err := h.convs.ConversationByID(r.Context(), inv.ConversationID)
	if err != nil {
		h.log.Error("api.invites.load.fail", "conversation_id", inv.ConversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.log.Info("api.invites.accepted", "conversation_id", inv.ConversationID, "user_id", id.UserID)
	writeJSON(w, http.StatusOK, acceptInviteResponse{Message: "Joined conversation", Data: conv})
}

// ---- message history ----

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request, id token.Identity) {
	conversationID := r.PathValue("id")
	page := queryPage(r)

	participants, err := h.convs.Participants(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		h.log.Error("api.messages.participants.fail", "conversation_id", conversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !slices.Contains(participants, id.UserID) {
		writeError(w, http.StatusForbidden, "Not a participant of this conversation")
		return
	}

	pageData, err := h.msgs.HistoryPage(r.Context(), conversationID, page, h.pageSize)
	if err != nil {
		h.log.Error("api.messages.page.fail", "conversation_id", conversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if pageData.Data == nil {
		pageData.Data = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, pageData)
}

func queryPage(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
