// Package api provides primitives to interact with the anaxi HTTP API.
//
// The types and the chi wrapper follow the layout of oapi-codegen output so the
// server can be regenerated from an OpenAPI document later without touching
// the handlers.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// Defines values for HealthResponseStatus.
const (
	Healthy HealthResponseStatus = "healthy"
)

// Defines values for OutputFormat.
const (
	Bmp  OutputFormat = "bmp"
	Gif  OutputFormat = "gif"
	Jpg  OutputFormat = "jpg"
	Png  OutputFormat = "png"
	Tif  OutputFormat = "tif"
	Webp OutputFormat = "webp"
)

// Defines values for ValidationErrorResponseError.
const (
	VALIDATIONERROR ValidationErrorResponseError = "VALIDATION_ERROR"
)

// ErrorResponse defines model for ErrorResponse.
type ErrorResponse struct {
	Details   *map[string]interface{} `json:"details,omitempty"`
	Error     string                  `json:"error"`
	Message   string                  `json:"message"`
	RequestId *string                 `json:"request_id,omitempty"`
}

// GeoPoint defines model for GeoPoint.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// HealthResponse defines model for HealthResponse.
type HealthResponse struct {
	Status    HealthResponseStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`

	// Uptime Server uptime in seconds
	Uptime  *int    `json:"uptime,omitempty"`
	Version *string `json:"version,omitempty"`
}

// HealthResponseStatus defines model for HealthResponse.Status.
type HealthResponseStatus string

// OutputFormat defines model for OutputFormat.
type OutputFormat string

// OutputOptions defines model for OutputOptions.
type OutputOptions struct {
	// Format Encoder of the stitched image, defaults to the tile format
	Format *OutputFormat `json:"format,omitempty"`
}

// RangeResponse defines model for RangeResponse.
type RangeResponse struct {
	NorthWest GeoPoint  `json:"north_west"`
	Rect      TileRange `json:"rect"`
	SouthEast GeoPoint  `json:"south_east"`

	// TileWidthMeters Approximate width of one tile at the northern edge
	TileWidthMeters float64 `json:"tile_width_m"`
	Tiles           int     `json:"tiles"`
}

// Source defines model for Source.
type Source struct {
	Id      int     `json:"id"`
	License *string `json:"license,omitempty"`
	MaxZoom int     `json:"max_zoom"`
	MinZoom int     `json:"min_zoom"`
	Name    string  `json:"name"`
	Url     string  `json:"url"`
}

// SourceList defines model for SourceList.
type SourceList struct {
	Sources []Source `json:"sources"`
}

// StitchRequest defines model for StitchRequest.
type StitchRequest struct {
	End        GeoPoint       `json:"end"`
	Output     *OutputOptions `json:"output,omitempty"`
	Start      GeoPoint       `json:"start"`
	TileSource TileSource     `json:"tile_source"`
	Zoom       int            `json:"zoom"`
}

// TileEdges defines model for TileEdges.
type TileEdges struct {
	East  float64 `json:"east"`
	North float64 `json:"north"`
	South float64 `json:"south"`
	West  float64 `json:"west"`

	// WidthMeters Approximate width of the tile at its northern edge
	WidthMeters float64 `json:"width_m"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Z           int     `json:"z"`
}

// TileErrorResponse defines model for TileErrorResponse.
type TileErrorResponse struct {
	Error      string  `json:"error"`
	Message    string  `json:"message"`
	RequestId  *string `json:"request_id,omitempty"`
	StatusCode int     `json:"status_code"`
	TotalTiles int     `json:"total_tiles"`
	Url        string  `json:"url"`
}

// TileRange defines model for TileRange.
type TileRange struct {
	XMax int `json:"x_max"`
	XMin int `json:"x_min"`
	YMax int `json:"y_max"`
	YMin int `json:"y_min"`
	Zoom int `json:"zoom"`
}

// TileSource Either the id of a known source or a URL template
type TileSource struct {
	Id   *int    `json:"id,omitempty"`
	Name *string `json:"name,omitempty"`
	Url  *string `json:"url,omitempty"`
}

// ValidationErrorResponse defines model for ValidationErrorResponse.
type ValidationErrorResponse struct {
	Error            ValidationErrorResponseError `json:"error"`
	Message          string                       `json:"message"`
	RequestId        *string                      `json:"request_id,omitempty"`
	ValidationErrors []struct {
		Code    *string `json:"code,omitempty"`
		Field   string  `json:"field"`
		Message string  `json:"message"`
	} `json:"validation_errors"`
}

// ValidationErrorResponseError defines model for ValidationErrorResponse.Error.
type ValidationErrorResponseError string

// GetRangeParams defines parameters for GetRange.
type GetRangeParams struct {
	LatStart float64 `form:"lat_start" json:"lat_start"`
	LonStart float64 `form:"lon_start" json:"lon_start"`
	LatEnd   float64 `form:"lat_end" json:"lat_end"`
	LonEnd   float64 `form:"lon_end" json:"lon_end"`
	Zoom     int     `form:"zoom" json:"zoom"`
}

// CreateStitchedImageJSONRequestBody defines body for CreateStitchedImage for application/json ContentType.
type CreateStitchedImageJSONRequestBody = StitchRequest

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Health check
	// (GET /health)
	GetHealth(w http.ResponseWriter, r *http.Request)
	// Resolve a bounding box to a tile range
	// (GET /range)
	GetRange(w http.ResponseWriter, r *http.Request, params GetRangeParams)
	// List known tile servers
	// (GET /sources)
	ListSources(w http.ResponseWriter, r *http.Request)
	// Download and stitch a bounding box
	// (POST /stitch)
	CreateStitchedImage(w http.ResponseWriter, r *http.Request)
	// Geographic edges of a tile
	// (GET /tiles/{z}/{x}/{y}/edges)
	GetTileEdges(w http.ResponseWriter, r *http.Request, z int, x int, y int)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

type MiddlewareFunc func(http.Handler) http.Handler

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, h http.HandlerFunc) {
	handler := http.Handler(h)
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

// GetHealth operation middleware
func (siw *ServerInterfaceWrapper) GetHealth(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.GetHealth)
}

// GetRange operation middleware
func (siw *ServerInterfaceWrapper) GetRange(w http.ResponseWriter, r *http.Request) {
	var err error

	// Parameter object where we will unmarshal all parameters from the context
	var params GetRangeParams

	query := r.URL.Query()
	for _, p := range []struct {
		name string
		dest interface{}
	}{
		{"lat_start", &params.LatStart},
		{"lon_start", &params.LonStart},
		{"lat_end", &params.LatEnd},
		{"lon_end", &params.LonEnd},
		{"zoom", &params.Zoom},
	} {
		if _, ok := query[p.name]; !ok {
			siw.ErrorHandlerFunc(w, r, &RequiredParamError{ParamName: p.name})
			return
		}
		err = runtime.BindQueryParameter("form", true, true, p.name, query, p.dest)
		if err != nil {
			siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: p.name, Err: err})
			return
		}
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetRange(w, r, params)
	})
}

// ListSources operation middleware
func (siw *ServerInterfaceWrapper) ListSources(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.ListSources)
}

// CreateStitchedImage operation middleware
func (siw *ServerInterfaceWrapper) CreateStitchedImage(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.CreateStitchedImage)
}

// GetTileEdges operation middleware
func (siw *ServerInterfaceWrapper) GetTileEdges(w http.ResponseWriter, r *http.Request) {
	var err error
	var z, x, y int

	for _, p := range []struct {
		name string
		dest *int
	}{
		{"z", &z},
		{"x", &x},
		{"y", &y},
	} {
		err = runtime.BindStyledParameterWithOptions("simple", p.name, chi.URLParam(r, p.name), p.dest,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: p.name, Err: err})
			return
		}
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetTileEdges(w, r, z, x, y)
	})
}

type RequiredParamError struct {
	ParamName string
}

func (e *RequiredParamError) Error() string {
	return fmt.Sprintf("Query argument %s is required, but not found", e.ParamName)
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// Handler creates http.Handler with routing for all API operations.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerWithOptions creates http.Handler with additional options
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/health", wrapper.GetHealth)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/range", wrapper.GetRange)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/sources", wrapper.ListSources)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/stitch", wrapper.CreateStitchedImage)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/tiles/{z}/{x}/{y}/edges", wrapper.GetTileEdges)
	})

	return r
}
