package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kiesman99/anaxi/internal/api"
	"github.com/kiesman99/anaxi/internal/download"
	"github.com/kiesman99/anaxi/internal/stitch"
	"github.com/kiesman99/anaxi/internal/stitcher"
	"github.com/kiesman99/anaxi/pkg/tile"
)

// DefaultMaxTiles limits the tiles a single stitch request may download.
const DefaultMaxTiles = 1024

// Server implements the ServerInterface from the API package
type Server struct {
	startTime time.Time
	version   string

	sources   []tile.Source
	workDir   string
	userAgent string
	workers   int
	maxTiles  int
	maxPixels int64
	client    *http.Client
	log       logrus.FieldLogger
}

// Option configures a Server.
type Option func(*Server)

// WithSources replaces the known tile servers.
func WithSources(sources []tile.Source) Option {
	return func(s *Server) { s.sources = sources }
}

// WithWorkDir sets the directory holding per-request downloads.
func WithWorkDir(dir string) Option {
	return func(s *Server) { s.workDir = dir }
}

// WithUserAgent sets the User-Agent sent to tile servers.
func WithUserAgent(ua string) Option {
	return func(s *Server) { s.userAgent = ua }
}

// WithWorkers sets the download concurrency per request.
func WithWorkers(n int) Option {
	return func(s *Server) { s.workers = n }
}

// WithMaxTiles caps the tiles of one stitch request.
func WithMaxTiles(n int) Option {
	return func(s *Server) { s.maxTiles = n }
}

// WithMaxPixels caps the stitched canvas area. Zero removes the cap.
func WithMaxPixels(n int64) Option {
	return func(s *Server) { s.maxPixels = n }
}

// WithHTTPClient sets the client used to reach tile servers.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.client = c }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a new server instance
func NewServer(version string, opts ...Option) *Server {
	s := &Server{
		startTime: time.Now(),
		version:   version,
		sources:   tile.Sources(),
		workDir:   os.TempDir(),
		userAgent: download.DefaultUserAgent,
		workers:   4,
		maxTiles:  DefaultMaxTiles,
		maxPixels: stitcher.DefaultMaxPixels,
		log:       logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
	}
	s.writeJSON(w, http.StatusOK, response)
}

// ListSources returns the known tile servers with their IDs
func (s *Server) ListSources(w http.ResponseWriter, r *http.Request) {
	list := api.SourceList{Sources: make([]api.Source, 0, len(s.sources))}
	for i, src := range s.sources {
		item := api.Source{
			Id:      i,
			Name:    src.Name,
			Url:     src.URL,
			MinZoom: src.MinZoom,
			MaxZoom: src.MaxZoom,
		}
		if src.License != "" {
			license := src.License
			item.License = &license
		}
		list.Sources = append(list.Sources, item)
	}
	s.writeJSON(w, http.StatusOK, list)
}

// GetTileEdges returns the geographic bounds of a single tile
func (s *Server) GetTileEdges(w http.ResponseWriter, r *http.Request, z int, x int, y int) {
	requestID := requestIDFrom(r)
	if z < 0 || z > tile.MaxZoom {
		s.writeValidationErrorResponse(w, "z", fmt.Sprintf("zoom must be between 0 and %d", tile.MaxZoom), &requestID)
		return
	}
	n := 1 << uint(z)
	if x < 0 || x >= n || y < 0 || y >= n {
		s.writeValidationErrorResponse(w, "x/y", fmt.Sprintf("tile index must be between 0 and %d at zoom %d", n-1, z), &requestID)
		return
	}

	south, west, north, east := tile.TileEdges(x, y, z)
	s.writeJSON(w, http.StatusOK, api.TileEdges{
		X: x, Y: y, Z: z,
		South: south, West: west, North: north, East: east,
		WidthMeters: tile.HorizontalDistance(north, z),
	})
}

// GetRange resolves a bounding box to the covering tile rectangle
func (s *Server) GetRange(w http.ResponseWriter, r *http.Request, params api.GetRangeParams) {
	requestID := requestIDFrom(r)
	start := tile.GeoPoint{Lat: params.LatStart, Lon: params.LonStart}
	end := tile.GeoPoint{Lat: params.LatEnd, Lon: params.LonEnd}

	rect, err := tile.Resolve(start, end, params.Zoom)
	if err != nil {
		s.writeValidationErrorResponse(w, "query", err.Error(), &requestID)
		return
	}
	nw, se := rect.NorthWest(), rect.SouthEast()
	s.writeJSON(w, http.StatusOK, api.RangeResponse{
		Rect:            api.TileRange{Zoom: rect.Zoom, XMin: rect.XMin, XMax: rect.XMax, YMin: rect.YMin, YMax: rect.YMax},
		NorthWest:       api.GeoPoint{Lat: nw.Lat, Lon: nw.Lon},
		SouthEast:       api.GeoPoint{Lat: se.Lat, Lon: se.Lon},
		Tiles:           rect.Count(),
		TileWidthMeters: tile.HorizontalDistance(nw.Lat, rect.Zoom),
	})
}

// CreateStitchedImage implements the main stitching endpoint
func (s *Server) CreateStitchedImage(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	log := s.log.WithField("request_id", requestID)

	// Parse request body
	var req api.StitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON",
			"Invalid JSON in request body", &requestID, nil)
		return
	}

	if field, err := s.validateStitchRequest(&req); err != nil {
		s.writeValidationErrorResponse(w, field, err.Error(), &requestID)
		return
	}

	work := filepath.Join(s.workDir, "anaxi-"+uuid.NewString())
	defer func() {
		if err := os.RemoveAll(work); err != nil {
			log.Warnf("Could not remove %s: %v", work, err)
		}
	}()

	opts := s.convertToStitchOptions(&req, work)
	opts.Log = log
	st := stitch.NewStitcher(opts)

	plan, err := st.Plan()
	if err != nil {
		s.handleStitchingError(w, err, 0, &requestID)
		return
	}
	if plan.Tiles > s.maxTiles {
		s.writeValidationErrorResponse(w, "zoom",
			fmt.Sprintf("request covers %d tiles, at most %d are allowed", plan.Tiles, s.maxTiles), &requestID)
		return
	}

	result, err := st.RunPlan(r.Context(), plan)
	if err != nil {
		s.handleStitchingError(w, err, plan.Tiles, &requestID)
		return
	}

	data, err := os.ReadFile(result.MapFile)
	if err != nil {
		s.handleStitchingError(w, err, plan.Tiles, &requestID)
		return
	}
	f, err := stitcher.Lookup(filepath.Ext(result.MapFile))
	if err != nil {
		s.handleStitchingError(w, err, plan.Tiles, &requestID)
		return
	}

	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Tile-Range", result.Rect.String())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Errorf("Error writing response: %v", err)
	}
}

// validateStitchRequest validates the incoming stitch request and names the offending field
func (s *Server) validateStitchRequest(req *api.StitchRequest) (string, error) {
	if req.Zoom < 0 || req.Zoom > tile.MaxZoom {
		return "zoom", fmt.Errorf("zoom must be between 0 and %d", tile.MaxZoom)
	}
	src := req.TileSource
	switch {
	case src.Url == nil && src.Id == nil:
		return "tile_source", fmt.Errorf("tile_source.url or tile_source.id is required")
	case src.Url != nil && src.Id != nil:
		return "tile_source", fmt.Errorf("tile_source.url and tile_source.id are mutually exclusive")
	case src.Url != nil && !tile.HasTokens(*src.Url):
		return "tile_source.url", fmt.Errorf("tile_source.url must contain %%zoom%%, %%xTile%% and %%yTile%% (or {z}, {x}, {y}) placeholders")
	case src.Id != nil && (*src.Id < 0 || *src.Id >= len(s.sources)):
		return "tile_source.id", fmt.Errorf("tile_source.id must be between 0 and %d", len(s.sources)-1)
	}

	if req.Output != nil && req.Output.Format != nil {
		if err := stitcher.Supported(string(*req.Output.Format)); err != nil {
			return "output.format", err
		}
	}
	return "", nil
}

// convertToStitchOptions converts an API request to pipeline options
func (s *Server) convertToStitchOptions(req *api.StitchRequest, work string) stitch.Options {
	opts := stitch.Options{
		Start:     tile.GeoPoint{Lat: req.Start.Lat, Lon: req.Start.Lon},
		End:       tile.GeoPoint{Lat: req.End.Lat, Lon: req.End.Lon},
		Zoom:      req.Zoom,
		Sources:   s.sources,
		Name:      tile.DefaultName,
		OutputDir: work,
		Workers:   s.workers,
		UserAgent: s.userAgent,
		MaxPixels: s.maxPixels,
		Client:    s.client,
	}
	if req.TileSource.Url != nil {
		opts.Server = *req.TileSource.Url
	} else {
		opts.Server = strconv.Itoa(*req.TileSource.Id)
	}
	if req.Output != nil && req.Output.Format != nil {
		opts.Format = string(*req.Output.Format)
	}
	return opts
}

// handleStitchingError handles errors from the stitching process
func (s *Server) handleStitchingError(w http.ResponseWriter, err error, total int, requestID *string) {
	var httpErr *download.HTTPError
	switch {
	case errors.As(err, &httpErr):
		s.writeJSON(w, http.StatusBadGateway, api.TileErrorResponse{
			Error:      "TILE_SERVER_ERROR",
			Message:    err.Error(),
			Url:        httpErr.URL,
			StatusCode: httpErr.StatusCode,
			TotalTiles: total,
			RequestId:  requestID,
		})
	case errors.Is(err, tile.ErrInvalidCoordinate):
		s.writeValidationErrorResponse(w, "coordinates", err.Error(), requestID)
	case errors.Is(err, stitcher.ErrCanvasTooLarge):
		s.writeValidationErrorResponse(w, "zoom", err.Error(), requestID)
	case errors.Is(err, stitcher.ErrResourceUnavailable):
		s.writeErrorResponse(w, http.StatusNotImplemented, "FORMAT_UNAVAILABLE", err.Error(), requestID, nil)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, http.StatusGatewayTimeout, "TILE_SERVER_TIMEOUT",
			"Tile server requests timed out", requestID, nil)
	default:
		s.log.WithField("request_id", *requestID).Errorf("Stitching failed: %v", err)
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Internal server error", requestID, nil)
	}
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string, details map[string]interface{}) {
	response := api.ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
	}

	if details != nil {
		response.Details = &details
	}
	s.writeJSON(w, statusCode, response)
}

// writeValidationErrorResponse writes a validation error response
func (s *Server) writeValidationErrorResponse(w http.ResponseWriter, field, message string, requestID *string) {
	response := api.ValidationErrorResponse{
		Error:     api.VALIDATIONERROR,
		Message:   message,
		RequestId: requestID,
		ValidationErrors: []struct {
			Code    *string `json:"code,omitempty"`
			Field   string  `json:"field"`
			Message string  `json:"message"`
		}{
			{
				Field:   field,
				Message: message,
			},
		},
	}
	s.writeJSON(w, http.StatusBadRequest, response)
}

// ParamErrorHandler reports malformed path and query parameters as validation errors.
func (s *Server) ParamErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	requestID := requestIDFrom(r)
	field := "request"
	var req *api.RequiredParamError
	var inv *api.InvalidParamFormatError
	switch {
	case errors.As(err, &req):
		field = req.ParamName
	case errors.As(err, &inv):
		field = inv.ParamName
	}
	s.writeValidationErrorResponse(w, field, err.Error(), &requestID)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("Error encoding response: %v", err)
	}
}

// requestIDFrom reuses the chi request ID when present
func requestIDFrom(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return generateRequestID()
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	return "req_" + uuid.NewString()
}
