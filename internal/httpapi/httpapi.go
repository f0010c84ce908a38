// Package httpapi exposes the form service over HTTP for server mode.
// PDFs travel as request bodies or multipart uploads; filled forms are
// returned as application/pdf.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/a3tai/mcp-pdf-forms/internal/config"
	"github.com/a3tai/mcp-pdf-forms/internal/formdata"
	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/storage"
)

// Response headers carrying the fill report next to the PDF body
const (
	HeaderWritten  = "X-Form-Written"
	HeaderIgnored  = "X-Form-Ignored"
	HeaderWarnings = "X-Form-Warnings"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	// multipart and JSON overhead allowed on top of the PDF size limit
	bodySlack = 1 << 20
)

// Server serves the form API
type Server struct {
	config  *config.Config
	service *pdf.Service
	engine  *gin.Engine
}

// New creates the HTTP API for service
func New(cfg *config.Config, service *pdf.Service) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}

	if cfg.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.IsDebug() {
		engine.Use(gin.Logger())
	}
	engine.MaxMultipartMemory = service.GetMaxFileSize() + bodySlack

	s := &Server{config: cfg, service: service, engine: engine}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)

	api := s.engine.Group("/api/v1", s.limitBody)
	api.GET("/templates", s.templates)
	api.POST("/inspect", s.inspect)
	api.POST("/detect", s.detect)
	api.POST("/fill", s.fillUniversal)
	api.POST("/fill/:formType/:year", s.fill)
	api.POST("/fill-mapping/:formType/:year", s.fillWithMapping)
	api.GET("/mappings", s.listMappings)
	api.GET("/mappings/:formType/:year", s.getMapping)
	api.PUT("/mappings/:formType/:year", s.putMapping)
	api.GET("/mappings/:formType/:year/versions", s.mappingVersions)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return ctx.Err()
	}
}

// limitBody caps request bodies just above the PDF size limit
func (s *Server) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.service.GetMaxFileSize()+bodySlack)
	c.Next()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"server":  s.config.ServerName,
		"version": s.config.Version,
	})
}

func (s *Server) templates(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Templates())
}

func (s *Server) inspect(c *gin.Context) {
	pdfBytes, err := s.readPDF(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	result, err := s.service.Inspect(c.Request.Context(), pdfBytes)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) detect(c *gin.Context) {
	pdfBytes, err := s.readPDF(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	save, _ := strconv.ParseBool(c.DefaultQuery("save", "false"))
	result, err := s.service.Detect(c.Request.Context(), pdf.FormDetectRequest{
		PDF:      pdfBytes,
		FormType: c.Query("form_type"),
		Year:     c.Query("year"),
		Save:     save,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) fill(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.fail(c, formerrors.Wrap(formerrors.ErrorTypeUnsafeInput, "failed to read form data", err))
		return
	}
	data, err := decodeData(raw)
	if err != nil {
		s.fail(c, err)
		return
	}

	result, err := s.service.Fill(c.Request.Context(), pdf.FormFillRequest{
		FormType: c.Param("formType"),
		Year:     c.Param("year"),
		Data:     data,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	writePDF(c, result)
}

func (s *Server) fillUniversal(c *gin.Context) {
	pdfBytes, data, err := s.readUpload(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	result, err := s.service.FillUniversal(c.Request.Context(), pdf.FormFillUniversalRequest{
		PDF:      pdfBytes,
		FormType: c.PostForm("form_type"),
		Year:     c.PostForm("year"),
		Data:     data,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	writePDF(c, result)
}

func (s *Server) fillWithMapping(c *gin.Context) {
	pdfBytes, data, err := s.readUpload(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	result, err := s.service.FillWithMapping(c.Request.Context(), pdf.FormFillMappingRequest{
		PDF:      pdfBytes,
		FormType: c.Param("formType"),
		Year:     c.Param("year"),
		Data:     data,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	writePDF(c, result)
}

func (s *Server) listMappings(c *gin.Context) {
	mappings, err := s.service.Mappings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if mappings == nil {
		mappings = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}

func (s *Server) getMapping(c *gin.Context) {
	formType, year := c.Param("formType"), c.Param("year")

	var (
		m   *mapping.FieldMapping
		err error
	)
	if v := c.Query("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil || version < 1 {
			s.fail(c, formerrors.UnsafeInput(fmt.Sprintf("invalid version %q", v)))
			return
		}
		m, err = s.service.MappingVersion(c.Request.Context(), formType, year, version)
	} else {
		m, err = s.service.Mapping(c.Request.Context(), formType, year)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) putMapping(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.fail(c, formerrors.Wrap(formerrors.ErrorTypeUnsafeInput, "failed to read request body", err))
		return
	}
	m, err := mapping.Decode(body)
	if err != nil {
		s.fail(c, err)
		return
	}

	formType, year := c.Param("formType"), c.Param("year")
	if (m.FormType != "" && m.FormType != formType) || (m.Year != "" && m.Year != year) {
		s.fail(c, formerrors.InvalidMapping("", fmt.Sprintf("mapping is for %s/%s, not %s/%s", m.FormType, m.Year, formType, year)))
		return
	}
	m.FormType, m.Year = formType, year

	saved, err := s.service.SaveMapping(c.Request.Context(), m)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) mappingVersions(c *gin.Context) {
	result, err := s.service.MappingVersions(c.Request.Context(), c.Param("formType"), c.Param("year"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if result.Versions == nil {
		result.Versions = []int{}
	}
	c.JSON(http.StatusOK, result)
}

// readPDF returns the raw request body
func (s *Server) readPDF(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, formerrors.FileTooLarge(maxErr.Limit+1, s.service.GetMaxFileSize())
		}
		return nil, formerrors.Wrap(formerrors.ErrorTypeMalformedDocument, "failed to read request body", err)
	}
	return body, nil
}

// readUpload reads the multipart "pdf" file and "data" field
func (s *Server) readUpload(c *gin.Context) ([]byte, *formdata.Data, error) {
	header, err := c.FormFile("pdf")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, nil, formerrors.FileTooLarge(maxErr.Limit+1, s.service.GetMaxFileSize())
		}
		return nil, nil, formerrors.UnsafeInput("multipart field \"pdf\" is required")
	}
	if header.Size > s.service.GetMaxFileSize() {
		return nil, nil, formerrors.FileTooLarge(header.Size, s.service.GetMaxFileSize())
	}

	f, err := header.Open()
	if err != nil {
		return nil, nil, formerrors.Wrap(formerrors.ErrorTypeMalformedDocument, "failed to open upload", err)
	}
	defer f.Close()

	pdfBytes, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, formerrors.Wrap(formerrors.ErrorTypeMalformedDocument, "failed to read upload", err)
	}

	data, err := decodeData([]byte(c.PostForm("data")))
	if err != nil {
		return nil, nil, err
	}
	return pdfBytes, data, nil
}

// decodeData parses a JSON object of form data, keeping the caller's key
// order
func decodeData(raw []byte) (*formdata.Data, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, formerrors.UnsafeInput("form data is required")
	}

	data := &formdata.Data{}
	if err := data.UnmarshalJSON(raw); err != nil {
		return nil, formerrors.Wrap(formerrors.ErrorTypeUnsafeInput, "form data must be a JSON object", err)
	}
	return data, nil
}

// writePDF sends the filled document with the report summarized in headers
func writePDF(c *gin.Context, result *pdf.FormFillResult) {
	if r := result.Report; r != nil {
		c.Header(HeaderWritten, strings.Join(r.Written, ","))
		if len(r.Ignored) > 0 {
			c.Header(HeaderIgnored, strings.Join(r.Ignored, ","))
		}
		c.Header(HeaderWarnings, strconv.Itoa(len(r.Warnings)))
	}
	c.Data(http.StatusOK, "application/pdf", result.PDF)
}

// fail writes err as JSON with a status derived from its type
func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError || s.config.IsDebug() {
		log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	body := gin.H{"error": formerrors.PublicMessage(err, s.config.Production)}
	var fe *formerrors.FormError
	if errors.As(err, &fe) {
		body["details"] = fe
	}
	c.AbortWithStatusJSON(status, body)
}

// StatusFor maps an error to an HTTP status
func StatusFor(err error) int {
	var fe *formerrors.FormError
	if errors.As(err, &fe) {
		switch fe.Type {
		case formerrors.ErrorTypeTemplateNotFound:
			return http.StatusNotFound
		case formerrors.ErrorTypeFileTooLarge:
			return http.StatusRequestEntityTooLarge
		case formerrors.ErrorTypeMissingRequiredField, formerrors.ErrorTypeFieldValidation:
			return http.StatusUnprocessableEntity
		case formerrors.ErrorTypeMalformedDocument, formerrors.ErrorTypeInvalidMapping,
			formerrors.ErrorTypeUnsafeInput:
			return http.StatusBadRequest
		}
	}
	switch {
	case errors.Is(err, mapping.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
