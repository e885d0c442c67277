package server

import (
	"net/http"

	"go.uber.org/zap"

	apperrors "sigchat/pkg/errors"
	"sigchat/pkg/log"
)

func (s *HttpServer) HandleAdminListUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := s.users.List(r.Context())
		if err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"users": users})
	}
}

// HandleAdminDeleteUser removes a user and everything hanging off them:
// devices, sent messages, memberships, and any conversation left with no
// members.
func (s *HttpServer) HandleAdminDeleteUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r, "id")
		if err != nil {
			respondError(w, apperrors.InvalidArg("invalid user id"))
			return
		}

		ctx := r.Context()

		if err := s.devices.DeleteByOwner(ctx, userID); err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}
		if err := s.messages.DeleteBySender(ctx, userID); err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}

		affected, err := s.convs.RemoveMemberFromAll(ctx, userID)
		if err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}

		for _, convID := range affected {
			conv, err := s.convs.Get(ctx, convID)
			if err != nil {
				respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
				return
			}
			if conv == nil || len(conv.MemberIDs) > 0 {
				continue
			}
			if err := s.messages.DeleteByConversation(ctx, convID); err != nil {
				respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
				return
			}
			if err := s.convs.Delete(ctx, convID); err != nil {
				respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
				return
			}
		}

		if err := s.users.Delete(ctx, userID); err != nil {
			respondError(w, err)
			return
		}

		log.Info("user deleted", zap.Int64("id", userID))
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "deletedUserId": userID})
	}
}
