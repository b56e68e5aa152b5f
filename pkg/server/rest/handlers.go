// Package rest exposes the routing engine over HTTP: route queries,
// nearest-segment snapping and graph refresh.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"spoorzoeker/pkg/datastructure"
	"spoorzoeker/pkg/route"
	"spoorzoeker/pkg/server"
	"spoorzoeker/pkg/server/rest/service"
	"spoorzoeker/pkg/snap"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/paulmach/orb"
)

type NavigationService interface {
	FindRoute(ctx context.Context, start, end orb.Point, reversalsAllowed bool) (*route.Route, error)
	NearestSegment(ctx context.Context, p orb.Point) (datastructure.TrackSegment, snap.SnappedPoint, error)
	RefreshGraph(ctx context.Context, force bool) (service.GraphStats, error)
}

type NavigationHandler struct {
	svc NavigationService
}

func NavigationRouter(r *chi.Mux, svc NavigationService) {
	handler := &NavigationHandler{svc}

	r.Group(func(r chi.Router) {
		r.Route("/api/navigation", func(r chi.Router) {
			r.Post("/find-route", handler.FindRoute)
			r.Post("/nearest-segment", handler.NearestSegment)
		})
		r.Route("/api/graph", func(r chi.Router) {
			r.Post("/refresh", handler.RefreshGraph)
		})
	})
}

// Coord is a coordinate in the graph's reference system, RD metres by
// default. Zero is a legal ordinate, so presence is validated on the
// enclosing pointer, not the members.
type Coord struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type FindRouteRequest struct {
	Start            *Coord `json:"start" validate:"required"`
	End              *Coord `json:"end" validate:"required"`
	ReversalsAllowed bool   `json:"reversals_allowed"`
}

func (s *FindRouteRequest) Bind(r *http.Request) error {
	return nil
}

type FindRouteResponse struct {
	Path     string               `json:"path"`
	Distance float64              `json:"distance"`
	ETA      float64              `json:"eta"`
	Color    string               `json:"color"`
	Segments []route.RouteSegment `json:"segments"`
}

func RenderFindRouteResponse(d *route.DisplayRoute) *FindRouteResponse {
	return &FindRouteResponse{
		Path:     d.Polyline(),
		Distance: d.Distance(),
		ETA:      d.ETASeconds(),
		Color:    d.Color,
		Segments: d.Segments(),
	}
}

func (h *NavigationHandler) FindRoute(w http.ResponseWriter, r *http.Request) {
	data := &FindRouteRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	validate := validator.New()
	if err := validate.Struct(*data); err != nil {
		english := en.New()
		uni := ut.New(english, english)
		trans, _ := uni.GetTranslator("en")
		_ = enTranslations.RegisterDefaultTranslations(validate, trans)
		vv := translateError(err, trans)
		render.Render(w, r, ErrValidation(err, vv))
		return
	}

	rt, err := h.svc.FindRoute(r.Context(),
		orb.Point{data.Start.X, data.Start.Y},
		orb.Point{data.End.X, data.End.Y},
		data.ReversalsAllowed)
	if err != nil {
		render.Render(w, r, ErrService(err))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, RenderFindRouteResponse(route.NewDisplayRoute(rt)))
}

type NearestSegmentRequest struct {
	Point *Coord `json:"point" validate:"required"`
}

func (s *NearestSegmentRequest) Bind(r *http.Request) error {
	return nil
}

type NearestSegmentResponse struct {
	SegmentID string  `json:"segment_id"`
	Geocode   string  `json:"geocode"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Residual  float64 `json:"residual"`
}

func (h *NavigationHandler) NearestSegment(w http.ResponseWriter, r *http.Request) {
	data := &NearestSegmentRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	validate := validator.New()
	if err := validate.Struct(*data); err != nil {
		english := en.New()
		uni := ut.New(english, english)
		trans, _ := uni.GetTranslator("en")
		_ = enTranslations.RegisterDefaultTranslations(validate, trans)
		vv := translateError(err, trans)
		render.Render(w, r, ErrValidation(err, vv))
		return
	}

	seg, snapped, err := h.svc.NearestSegment(r.Context(), orb.Point{data.Point.X, data.Point.Y})
	if err != nil {
		render.Render(w, r, ErrService(err))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, &NearestSegmentResponse{
		SegmentID: seg.ID,
		Geocode:   seg.Geocode,
		X:         snapped.Point.X(),
		Y:         snapped.Point.Y(),
		Residual:  snapped.Residual,
	})
}

type RefreshGraphRequest struct {
	Force bool `json:"force"`
}

func (s *RefreshGraphRequest) Bind(r *http.Request) error {
	return nil
}

type RefreshGraphResponse struct {
	SourceID string `json:"source_id"`
	Segments int    `json:"segments"`
	Nodes    int    `json:"nodes"`
	Edges    int    `json:"edges"`
	Switches int    `json:"switches"`
	Dropped  int    `json:"dropped"`
}

func (h *NavigationHandler) RefreshGraph(w http.ResponseWriter, r *http.Request) {
	data := &RefreshGraphRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	stats, err := h.svc.RefreshGraph(r.Context(), data.Force)
	if err != nil {
		render.Render(w, r, ErrService(err))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, &RefreshGraphResponse{
		SourceID: stats.SourceID,
		Segments: stats.Segments,
		Nodes:    stats.Nodes,
		Edges:    stats.Edges,
		Switches: stats.Switches,
		Dropped:  stats.Dropped,
	})
}

// ErrResponse is the JSON error envelope.
type ErrResponse struct {
	Err            error `json:"-"` // low-level runtime error
	HTTPStatusCode int   `json:"-"` // http response status code

	StatusText    string   `json:"status"`          // user-level status message
	AppCode       int64    `json:"code,omitempty"`  // application-specific error code
	ErrorText     string   `json:"error,omitempty"` // application-level error message, for debugging
	ErrValidation []string `json:"validation,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: 400,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

func ErrValidation(err error, errV []error) render.Renderer {
	vv := []string{}
	for _, v := range errV {
		vv = append(vv, v.Error())
	}
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: 400,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
		ErrValidation:  vv,
	}
}

func ErrNotFoundRend(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: 404,
		StatusText:     "Not found.",
		ErrorText:      err.Error(),
	}
}

func ErrInternalServerErrorRend(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: 500,
		StatusText:     "Internal server error.",
		ErrorText:      err.Error(),
	}
}

// ErrService maps a service-layer error code onto the matching HTTP
// renderer.
func ErrService(err error) render.Renderer {
	var serr *server.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case server.ErrNotFound:
			return ErrNotFoundRend(serr)
		case server.ErrInvalidArgument:
			return ErrInvalidRequest(serr)
		}
	}
	return ErrInternalServerErrorRend(err)
}

func translateError(err error, trans ut.Translator) (errs []error) {
	if err == nil {
		return nil
	}
	validatorErrs := err.(validator.ValidationErrors)
	for _, e := range validatorErrs {
		translatedErr := fmt.Errorf(e.Translate(trans))
		errs = append(errs, translatedErr)
	}
	return errs
}
