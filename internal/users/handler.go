package users

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/rbac"
)

const maxBodyBytes = 10 << 10

type registerRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Username  string `json:"username" validate:"required,alphanum,min=3,max=50"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
}

type authenticateRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type updateRequest struct {
	FirstName string `json:"first_name" validate:"omitempty,max=100"`
	LastName  string `json:"last_name" validate:"omitempty,max=100"`
	Email     string `json:"email" validate:"omitempty,email"`
	Password  string `json:"password" validate:"omitempty,min=8,max=128"`
}

type roleRequest struct {
	Role string `json:"role" validate:"required,oneof=User Manager Admin"`
}

// Handler serves the user endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, validate: v, logger: logger}
}

// FetchUser loads the user named by the {id} path value for
// rbac.RequireResourcePolicy.
func (h *Handler) FetchUser(r *http.Request) (any, error) {
	u, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrUserNotFound) {
		return nil, rbac.ErrResourceNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// HandleRegister creates an account. POST /api/v1/users/register
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.svc.Register(r.Context(), RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		h.writeError(w, r, err, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// HandleAuthenticate exchanges credentials for a bearer token.
// POST /api/v1/users/authenticate
func (h *Handler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.svc.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err, "authentication failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      session.Token,
		"token_type": "Bearer",
		"expires_in": int(h.svc.tokens.TTL().Seconds()),
		"user":       session.User,
	})
}

// HandleList returns every user. GET /api/v1/users
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, r, err, "listing users failed")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleMe returns the caller's own record. GET /api/v1/users/me
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	u, err := h.svc.Get(r.Context(), principal.Identity)
	if err != nil {
		h.writeError(w, r, err, "fetching user failed")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleGet returns the user loaded by FetchUser. GET /api/v1/users/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	u, ok := rbac.ResourceFromContext(r.Context()).(*User)
	if !ok || u == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleUpdate edits a profile. PUT /api/v1/users/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.svc.Update(r.Context(), r.PathValue("id"), UpdateInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		h.writeError(w, r, err, "updating user failed")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleChangeRole assigns a role. PUT /api/v1/users/{id}/role
func (h *Handler) HandleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	u, err := h.svc.ChangeRole(r.Context(), r.PathValue("id"), role)
	if err != nil {
		h.writeError(w, r, err, "changing role failed")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleDelete removes a user. DELETE /api/v1/users/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err, "deleting user failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = validationMessage(fe)
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": fields,
		})
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "alphanum":
		return "must contain only letters and digits"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
	case errors.Is(err, ErrUsernameTaken):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "username already taken"})
	case errors.Is(err, ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid username or password"})
	case errors.Is(err, ErrLastAdmin):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger.ErrorContext(r.Context(), fallback, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fallback})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
