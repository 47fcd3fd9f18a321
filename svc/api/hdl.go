package api

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"pastelite/cfg"
	"pastelite/pkg/domain"
	"pastelite/svc/util"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

// PasteService is the store-facing surface the handlers need.
type PasteService interface {
	Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error)
	Get(ctx context.Context, id string) (*domain.View, error)
}

type Hdl struct {
	paste    PasteService
	cfg      *cfg.Cfg
	validate *validator.Validate
}

func NewHdl(p PasteService, c *cfg.Cfg) *Hdl {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Hdl{paste: p, cfg: c, validate: v}
}

type CreateReq struct {
	Content    string `json:"content" validate:"required"`
	TTLSeconds *int64 `json:"ttl_seconds,omitempty" validate:"omitempty,gt=0"`
	MaxViews   *int   `json:"max_views,omitempty" validate:"omitempty,gt=0"`
}
type CreateResp struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
	MaxViews  *int   `json:"maxViews,omitempty"`
}
type GetResp struct {
	Content   string `json:"content"`
	Views     int    `json:"views"`
	MaxViews  *int   `json:"maxViews,omitempty"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().Str("content_type", contentType).Msg("invalid Content-Type header")
		writeErr(w, r, domain.ErrUnsupportedMedia)
		return
	}
	if ce := r.Header.Get("Content-Encoding"); ce != "" && ce != "identity" {
		log.Warn().Str("content_encoding", ce).Msg("compressed content not allowed")
		writeErr(w, r, domain.ErrInvalidRequest)
		return
	}
	// JSON escaping can at most roughly double the payload
	limit := h.cfg.MaxPasteSize*2 + 1024
	if r.ContentLength > limit {
		log.Warn().Int64("content_length", r.ContentLength).Msg("Content-Length exceeds maximum")
		writeErr(w, r, domain.ErrPasteTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeErr(w, r, domain.ErrPasteTooLarge)
		case err == io.EOF:
			log.Warn().Msg("empty request body")
			writeErr(w, r, domain.ErrInvalidContent)
		default:
			log.Warn().Err(err).Msg("invalid request")
			writeErr(w, r, domain.ErrInvalidRequest)
		}
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn().Err(err).Msg("validation failed")
		writeErr(w, r, validationErr(err))
		return
	}
	params := domain.CreateParams{
		Content:  req.Content,
		MaxViews: req.MaxViews,
	}
	if req.TTLSeconds != nil {
		if *req.TTLSeconds > int64(h.cfg.MaxTTL/time.Second) {
			writeErr(w, r, domain.ErrInvalidParameter)
			return
		}
		ttl := time.Duration(*req.TTLSeconds) * time.Second
		params.TTL = &ttl
	}
	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create paste")
		writeErr(w, r, err)
		return
	}
	log.Info().
		Str("paste_id", util.RedactID(paste.ID)).
		Bool("ttl", paste.HasTTL()).
		Int("max_views", paste.MaxViews).
		Int("size", len(paste.Content)).
		Msg("paste created")
	resp := CreateResp{
		ID:  paste.ID,
		URL: h.cfg.BaseURL + "/p/" + paste.ID,
	}
	if paste.HasTTL() {
		ms := paste.ExpiresAt.UnixMilli()
		resp.ExpiresAt = &ms
	}
	if paste.HasViewLimit() {
		mv := paste.MaxViews
		resp.MaxViews = &mv
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	id := chi.URLParam(r, "id")
	w.Header().Set("Cache-Control", "no-store")
	view, err := h.paste.Get(r.Context(), id)
	if err != nil {
		var expired *domain.ExpiredError
		switch {
		case errors.As(err, &expired):
			log.Info().Str("paste_id", util.RedactID(id)).Str("reason", string(expired.Reason)).Msg("paste expired")
		case errors.Is(err, domain.ErrPasteNotFound):
			log.Debug().Str("paste_id", util.RedactID(id)).Msg("paste not found")
		default:
			log.Error().Err(err).Str("paste_id", util.RedactID(id)).Msg("get failed")
		}
		writeErr(w, r, err)
		return
	}
	log.Info().
		Str("paste_id", util.RedactID(id)).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Int("views", view.Views).
		Msg("paste retrieved")
	resp := GetResp{
		Content:  view.Content,
		Views:    view.Views,
		MaxViews: view.MaxViews,
	}
	if view.ExpiresAt != nil {
		ms := view.ExpiresAt.UnixMilli()
		resp.ExpiresAt = &ms
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

func validationErr(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "content" {
				return domain.ErrInvalidContent
			}
		}
	}
	return domain.ErrInvalidParameter
}

// writeErr renders err as {"error", "code", "request_id"} with the status
// from domain.Status. Expired responses also carry the exhausted limit.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	requestID := util.GetRequestID(r.Context())
	statusCode := domain.Status(err)
	detail := domain.ToResp(err).Error
	body := map[string]string{
		"error":      detail.Msg,
		"code":       detail.Code,
		"request_id": requestID,
	}
	if statusCode == http.StatusInternalServerError {
		body["error"] = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	var expired *domain.ExpiredError
	if errors.As(err, &expired) {
		body["reason"] = string(expired.Reason)
	}
	render.Status(r, statusCode)
	render.JSON(w, r, body)
}
