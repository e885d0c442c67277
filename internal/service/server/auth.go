package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"sigchat/internal/cryptographic/password"
	"sigchat/internal/cryptographic/signature"
	"sigchat/internal/model"
	apperrors "sigchat/pkg/errors"
	"sigchat/pkg/log"
)

type (
	registerRequest struct {
		Username     string `json:"username"`
		DisplayName  string `json:"displayName"`
		Password     string `json:"password"`
		PublicKeyPEM string `json:"publicKeyPem"`
	}

	loginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	enrollStartRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	enrollCompleteRequest struct {
		Username     string `json:"username"`
		Code         string `json:"code"`
		DeviceID     string `json:"deviceId"`
		PublicKeyPEM string `json:"publicKeyPem"`
	}
)

func (s *HttpServer) HandleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperrors.InvalidArg("invalid payload"))
			return
		}
		if req.Username == "" || req.Password == "" {
			respondError(w, apperrors.InvalidArg("username and password are required"))
			return
		}

		// Account-scoped keys are registered up front; in the device
		// scope clients enroll keys per device instead.
		if req.PublicKeyPEM != "" {
			if _, err := signature.ParsePublicKeyPEM(req.PublicKeyPEM); err != nil {
				respondError(w, apperrors.InvalidArg("unparsable public key"))
				return
			}
		}

		salt, err := password.NewSalt()
		if err != nil {
			respondError(w, err)
			return
		}

		iterations := s.cfg.Auth.PasswordIterations
		displayName := req.DisplayName
		if displayName == "" {
			displayName = req.Username
		}

		user := &model.User{
			Username:           req.Username,
			DisplayName:        displayName,
			PasswordSalt:       salt,
			PasswordIterations: iterations,
			PasswordHash:       password.Hash(req.Password, salt, iterations),
			PublicKeyPEM:       signature.NormalizePEM(req.PublicKeyPEM),
		}

		id, err := s.users.Create(r.Context(), user)
		if err != nil {
			respondError(w, err)
			return
		}

		log.Info("user registered", zap.Int64("id", id), zap.String("username", req.Username))
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":   true,
			"user": user,
		})
	}
}

func (s *HttpServer) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperrors.InvalidArg("invalid payload"))
			return
		}

		user, err := s.authenticate(r, req.Username, req.Password)
		if err != nil {
			respondError(w, err)
			return
		}

		tok, err := s.tokens.Mint(user)
		if err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}

		respondJSON(w, http.StatusOK, map[string]any{
			"token": tok,
			"user":  map[string]any{"id": user.ID, "username": user.Username, "displayName": user.DisplayName},
		})
	}
}

// HandleEnrollStart verifies the password and issues a provisional
// enrollment credential: a short-lived single-use code bound to the
// username, good for enrolling exactly one device key.
func (s *HttpServer) HandleEnrollStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enrollStartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperrors.InvalidArg("invalid payload"))
			return
		}

		if _, err := s.authenticate(r, req.Username, req.Password); err != nil {
			respondError(w, err)
			return
		}

		code, err := s.challenges.Issue(r.Context(), req.Username, s.cfg.Auth.EnrollmentTTL)
		if err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}

		// Demo transport: the code goes back in the response instead of
		// an out-of-band channel.
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":        true,
			"code":      code,
			"expiresIn": s.cfg.Auth.EnrollmentTTL.String(),
		})
	}
}

func (s *HttpServer) HandleEnrollComplete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enrollCompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperrors.InvalidArg("invalid payload"))
			return
		}
		if req.Username == "" || req.Code == "" || req.DeviceID == "" || req.PublicKeyPEM == "" {
			respondError(w, apperrors.InvalidArg("username, code, deviceId and publicKeyPem are required"))
			return
		}

		if _, err := signature.ParsePublicKeyPEM(req.PublicKeyPEM); err != nil {
			respondError(w, apperrors.InvalidArg("unparsable public key"))
			return
		}

		if err := s.challenges.Consume(r.Context(), req.Username, req.Code); err != nil {
			respondError(w, err)
			return
		}

		user, err := s.users.GetByUsername(r.Context(), req.Username)
		if err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}
		if user == nil {
			respondError(w, apperrors.NotFound("user not found"))
			return
		}

		pem := signature.NormalizePEM(req.PublicKeyPEM)
		if err := s.devices.Upsert(r.Context(), user.ID, req.DeviceID, pem); err != nil {
			respondError(w, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
			return
		}

		log.Info("device enrolled", zap.Int64("owner", user.ID), zap.String("device", req.DeviceID))
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"deviceId": req.DeviceID,
		})
	}
}

func (s *HttpServer) authenticate(r *http.Request, username, pass string) (*model.User, error) {
	if username == "" || pass == "" {
		return nil, apperrors.InvalidArg("username and password are required")
	}

	user, err := s.users.GetByUsername(r.Context(), username)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "server error", err)
	}
	if user == nil {
		return nil, apperrors.Unauthorized("invalid credentials")
	}

	if !password.Compare(pass, user.PasswordSalt, user.PasswordIterations, user.PasswordHash) {
		return nil, apperrors.Unauthorized("invalid credentials")
	}
	return user, nil
}
