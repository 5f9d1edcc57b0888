package profile

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/auth"
	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/internal/upload"
	"github.com/2beens/blogsrv/internal/user"
	"github.com/2beens/blogsrv/pkg"
)

type UserResponse struct {
	Message string     `json:"message"`
	User    *user.User `json:"user"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type Handler struct {
	service *Service
	uploads *upload.Validator
}

func NewHandler(service *Service, uploads *upload.Validator) *Handler {
	return &Handler{
		service: service,
		uploads: uploads,
	}
}

func (h *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/user/update", h.handleUpdate).Methods("PUT", "OPTIONS").Name("update-user")
	router.HandleFunc("/profile/update", h.handleUpdate).Methods("PUT", "OPTIONS").Name("update-profile")
	router.HandleFunc("/user/change-password", h.handleChangePassword).Methods("PUT", "OPTIONS").Name("change-password")
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "profileHandler.update")
	defer span.End()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		apperr.WriteHTTP(w, "please log in to update your profile", apperr.ErrUnauthorized)
		return
	}

	var params UpdateParams
	if pkg.IsJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			log.Errorf("profile update, unmarshal json params: %s", err)
			apperr.WriteHTTP(w, "error updating profile", apperr.Validation("malformed json body: %s", err))
			return
		}
	} else {
		if err := h.uploads.ParseRequest(w, r); err != nil {
			apperr.WriteHTTP(w, "error updating profile", err)
			return
		}
		params.Username = r.FormValue("username")
		params.Email = r.FormValue("email")
	}

	updated, err := h.service.UpdateProfile(ctx, identity, params, r.MultipartForm)
	if err != nil {
		apperr.WriteHTTP(w, "error updating profile", err)
		return
	}

	pkg.WriteJSON(w, http.StatusOK, UserResponse{
		Message: "profile updated successfully",
		User:    updated,
	})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "profileHandler.changePassword")
	defer span.End()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		apperr.WriteHTTP(w, "please log in to change your password", apperr.ErrUnauthorized)
		return
	}

	var req changePasswordRequest
	if pkg.IsJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperr.WriteHTTP(w, "error changing password", apperr.Validation("malformed json body: %s", err))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			apperr.WriteHTTP(w, "error changing password", apperr.Validation("malformed form body"))
			return
		}
		req.OldPassword = r.FormValue("oldPassword")
		req.NewPassword = r.FormValue("newPassword")
	}

	if err := h.service.ChangePassword(ctx, identity, req.OldPassword, req.NewPassword); err != nil {
		apperr.WriteHTTP(w, "error changing password", err)
		return
	}

	pkg.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "password changed successfully",
	})
}
