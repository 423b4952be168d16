package api

import (
	"net/http"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/portal"
	"github.com/halcyon-surgical/portal/internal/session"
)

// AuthResponse is returned by every auth endpoint. IDToken is only set right
// after a successful sign-in so the browser can restore the session later.
type AuthResponse struct {
	Session session.Snapshot `json:"session"`
	IDToken string           `json:"idToken,omitempty"`
}

type modeRequest struct {
	Mode session.Mode `json:"mode"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	DisplayName     string `json:"displayName,omitempty"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type restoreRequest struct {
	IDToken string `json:"idToken"`
}

func authResponse(f *session.Flow, user *domain.Identity) AuthResponse {
	resp := AuthResponse{Session: f.Snapshot()}
	if user != nil {
		resp.IDToken = user.IDToken
	}
	return resp
}

// AuthState returns the visitor's session snapshot.
func (h *Handler) AuthState(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, authResponse(v.Flow, nil))
}

// SetMode switches between the login, sign-up and reset forms.
func (h *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	var req modeRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := v.Flow.SetMode(req.Mode); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, authResponse(v.Flow, nil))
}

// Login signs in with email and password.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	user, err := v.Flow.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, authResponse(v.Flow, user))
}

// Signup creates an account and signs in.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	var req signupRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	user, err := v.Flow.SignUpWithPassword(r.Context(), req.Email, req.Password, req.ConfirmPassword, req.DisplayName)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusCreated, authResponse(v.Flow, user))
}

// Federated completes a popup or redirect sign-in.
func (h *Handler) Federated(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	var cred session.FederatedCredential
	if err := decode(r, &cred); err != nil {
		WriteError(w, err)
		return
	}
	user, err := v.Flow.SignInWithFederated(r.Context(), cred)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, authResponse(v.Flow, user))
}

// ResetPassword sends a password reset email.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := v.Flow.RequestPasswordReset(r.Context(), req.Email); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, authResponse(v.Flow, nil))
}

// Restore resumes a session from a previously issued ID token.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	user, err := v.Flow.Restore(r.Context(), req.IDToken)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, authResponse(v.Flow, user))
}

// Logout signs the visitor out. Signing out while anonymous is not an error.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	if err := v.Flow.SignOut(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	_ = v.Flow.SetMode(session.ModeLogin)
	if err := h.ctrl.Open(v, portal.TabContact); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, authResponse(v.Flow, nil))
}
