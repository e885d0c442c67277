package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apperrors "sigchat/pkg/errors"
	"sigchat/pkg/log"
)

type (
	createConversationRequest struct {
		Title     string  `json:"title"`
		MemberIDs []int64 `json:"memberIds"`
	}

	addMemberRequest struct {
		UserID int64 `json:"userId"`
	}
)

func (s *HttpServer) HandleCreateConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())

		var req createConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperrors.InvalidArg("invalid payload"))
			return
		}

		// Creator is always a member.
		members := append([]int64{claims.UserID}, req.MemberIDs...)

		conv, err := s.convs.Create(r.Context(), req.Title, members)
		if err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}

		s.notifyConversationAdded(conv.ID, conv.MemberIDs)
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":           true,
			"conversation": conv,
		})
	}
}

func (s *HttpServer) HandleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())

		convs, err := s.convs.ListByMember(r.Context(), claims.UserID)
		if err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
	}
}

func (s *HttpServer) HandleListMembers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		convID, err := pathID(r, "id")
		if err != nil {
			respondError(w, err)
			return
		}

		if err := s.requireMember(r, convID, claims.UserID); err != nil {
			respondError(w, err)
			return
		}

		conv, err := s.convs.Get(r.Context(), convID)
		if err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}
		if conv == nil {
			respondError(w, apperrors.NotFound("conversation not found"))
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"memberIds": conv.MemberIDs})
	}
}

func (s *HttpServer) HandleAddMember() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		convID, err := pathID(r, "id")
		if err != nil {
			respondError(w, err)
			return
		}

		var req addMemberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
			respondError(w, apperrors.InvalidArg("invalid payload"))
			return
		}

		if err := s.requireMember(r, convID, claims.UserID); err != nil {
			respondError(w, err)
			return
		}

		target, err := s.users.GetByID(r.Context(), req.UserID)
		if err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}
		if target == nil {
			respondError(w, apperrors.NotFound("user to add not found"))
			return
		}

		if err := s.convs.AddMember(r.Context(), convID, req.UserID); err != nil {
			respondError(w, err)
			return
		}

		s.notifyConversationAdded(convID, []int64{req.UserID})
		respondJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// HandleDeleteConversation removes the conversation with its messages
// and membership; any member may delete.
func (s *HttpServer) HandleDeleteConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		convID, err := pathID(r, "id")
		if err != nil {
			respondError(w, err)
			return
		}

		if err := s.requireMember(r, convID, claims.UserID); err != nil {
			respondError(w, err)
			return
		}

		if err := s.messages.DeleteByConversation(r.Context(), convID); err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}
		if err := s.convs.Delete(r.Context(), convID); err != nil {
			respondError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "deletedConversationId": convID})
	}
}

func (s *HttpServer) HandleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		convID, err := pathID(r, "conversationId")
		if err != nil {
			respondError(w, err)
			return
		}

		limit := int64(50)
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		if limit > 200 {
			limit = 200
		}

		if err := s.requireMember(r, convID, claims.UserID); err != nil {
			respondError(w, err)
			return
		}

		msgs, err := s.messages.ListRecent(r.Context(), convID, limit)
		if err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}

		out := make([]any, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.Broadcast())
		}
		respondJSON(w, http.StatusOK, map[string]any{"messages": out})
	}
}

func (s *HttpServer) requireMember(r *http.Request, conversationID, userID int64) error {
	ok, err := s.convs.IsMember(r.Context(), conversationID, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "server error", err)
	}
	if !ok {
		return apperrors.Forbidden("not a member")
	}
	return nil
}

func (s *HttpServer) notifyConversationAdded(conversationID int64, memberIDs []int64) {
	frame, err := marshalEvent("conversationAdded", map[string]any{"conversationId": conversationID})
	if err != nil {
		log.Error("marshal conversationAdded failed", zap.Error(err))
		return
	}
	for _, uid := range memberIDs {
		s.hub.ToUser(uid, frame)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.InvalidArg("invalid conversation id")
	}
	return id, nil
}
