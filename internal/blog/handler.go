package blog

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/auth"
	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/internal/upload"
	"github.com/2beens/blogsrv/pkg"
)

type PostsResponse struct {
	Blogs []*Blog `json:"blogs"`
	Total int     `json:"total"`
}

type BlogResponse struct {
	Message string `json:"message,omitempty"`
	Blog    *Blog  `json:"blog"`
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
	router.HandleFunc("/blog/create", h.handleCreate).Methods("POST", "OPTIONS").Name("create-blog")
	router.HandleFunc("/blog", h.handleAll).Methods("GET").Name("all-blogs")
	// has to be registered before /blog/{id}
	router.HandleFunc("/blog/my-blogs", h.handleMine).Methods("GET").Name("my-blogs")
	router.HandleFunc("/blog/delete/{id}", h.handleDelete).Methods("DELETE", "OPTIONS").Name("delete-blog")
	router.HandleFunc("/blog/{id}", h.handleGet).Methods("GET").Name("get-blog")
	router.HandleFunc("/blog/{id}", h.handleUpdate).Methods("PUT", "OPTIONS").Name("update-blog")
}

func (h *Handler) readFields(w http.ResponseWriter, r *http.Request) (Fields, error) {
	var fields Fields
	if pkg.IsJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			log.Errorf("blog, unmarshal json params: %s", err)
			return Fields{}, apperr.Validation("malformed json body: %s", err)
		}
		return fields, nil
	}

	if err := h.uploads.ParseRequest(w, r); err != nil {
		return Fields{}, err
	}
	return Fields{
		Title:    r.FormValue("title"),
		Summary:  r.FormValue("summary"),
		Body:     r.FormValue("body"),
		Category: r.FormValue("category"),
		Tags:     TagsInput(r.FormValue("tags")),
	}, nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.create")
	defer span.End()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		apperr.WriteHTTP(w, "please log in to create a blog", apperr.ErrUnauthorized)
		return
	}

	fields, err := h.readFields(w, r)
	if err != nil {
		apperr.WriteHTTP(w, "error creating blog", err)
		return
	}

	newBlog, err := h.service.Create(ctx, identity, fields, r.MultipartForm)
	if err != nil {
		apperr.WriteHTTP(w, "error creating blog", err)
		return
	}

	span.SetAttributes(attribute.String("blog.id", newBlog.ID))
	log.Tracef("new blog %s: [%s] added", newBlog.ID, newBlog.Title)

	pkg.WriteJSON(w, http.StatusCreated, BlogResponse{
		Message: "blog created successfully",
		Blog:    newBlog,
	})
}

func (h *Handler) handleAll(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.all")
	defer span.End()

	blogs, err := h.service.ListAll(ctx)
	if err != nil {
		apperr.WriteHTTP(w, "error fetching blogs", err)
		return
	}

	pkg.WriteJSON(w, http.StatusOK, PostsResponse{
		Blogs: blogs,
		Total: len(blogs),
	})
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.mine")
	defer span.End()

	identity, _ := auth.IdentityFromContext(ctx)
	blogs, err := h.service.ListMine(ctx, identity)
	if err != nil {
		apperr.WriteHTTP(w, "error fetching user's blogs", err)
		return
	}

	pkg.WriteJSON(w, http.StatusOK, PostsResponse{
		Blogs: blogs,
		Total: len(blogs),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.get")
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("blog.id", id))

	identity, _ := auth.IdentityFromContext(ctx)
	found, err := h.service.Get(ctx, identity, id)
	if err != nil {
		apperr.WriteHTTP(w, "error fetching blog", err)
		return
	}

	pkg.WriteJSON(w, http.StatusOK, BlogResponse{Blog: found})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.update")
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("blog.id", id))

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		apperr.WriteHTTP(w, "please log in to update the blog", apperr.ErrUnauthorized)
		return
	}

	patch, err := h.readFields(w, r)
	if err != nil {
		apperr.WriteHTTP(w, "error updating blog", err)
		return
	}

	updated, err := h.service.Update(ctx, identity, id, patch, r.MultipartForm)
	if err != nil {
		apperr.WriteHTTP(w, "error updating blog", err)
		return
	}

	pkg.WriteJSON(w, http.StatusOK, BlogResponse{
		Message: "blog updated successfully",
		Blog:    updated,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.delete")
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("blog.id", id))

	identity, _ := auth.IdentityFromContext(ctx)
	if err := h.service.Delete(ctx, identity, id); err != nil {
		apperr.WriteHTTP(w, "error deleting blog", err)
		return
	}

	pkg.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "blog deleted successfully",
		"id":      id,
	})
}
