// Package server exposes the conversion HTTP API: multipart uploads in,
// converted documents out, plus health, readiness and metrics endpoints.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"convertd/internal/convert"
	"convertd/internal/engine"
	"convertd/internal/history"
	"convertd/internal/metrics"
)

// DefaultMaxUploadBytes bounds a single uploaded document.
const DefaultMaxUploadBytes = 100 << 20

// Gateway is the conversion entry point the router delegates to.
type Gateway interface {
	Convert(ctx context.Context, src, from, to string) (string, error)
}

// EngineStatus reports supervisor state for readiness endpoints.
type EngineStatus interface {
	Status() engine.Status
}

// Router provides the embeddable HTTP handlers for the conversion service.
// Endpoints under basePath:
//
//	POST /convert   multipart form: file, input_format, output_format
//	GET  /healthz   process liveness
//	GET  /readyz    engine readiness
//	GET  /status    supervisor snapshot and supported format pairs
//	GET  /metrics   Prometheus exposition
type Router struct {
	gw       Gateway
	eng      EngineStatus
	hist     history.Sink
	log      *slog.Logger
	basePath string
	tempDir  string
	maxBytes int64
}

// Config carries the router's construction parameters.
type Config struct {
	BasePath       string
	TempDir        string // per-request upload scratch space; os.TempDir when empty
	MaxUploadBytes int64
}

// NewRouter constructs a Router. hist may be nil; records are then discarded.
func NewRouter(cfg Config, gw Gateway, eng EngineStatus, hist history.Sink, log *slog.Logger) *Router {
	if hist == nil {
		hist = history.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Router{
		gw:       gw,
		eng:      eng,
		hist:     hist,
		log:      log,
		basePath: sanitizeBase(cfg.BasePath),
		tempDir:  cfg.TempDir,
		maxBytes: cfg.MaxUploadBytes,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/convert", r.handleConvert)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/readyz", r.handleReadyz)
	group.GET("/status", r.handleStatus)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type statusResp struct {
	Engine engine.Status `json:"engine"`
	Pairs  [][2]string   `json:"supported_pairs"`
}

func (r *Router) handleConvert(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, r.maxBytes)

	file, header, err := c.Request.FormFile("file")
	inputFmt := c.PostForm("input_format")
	outputFmt := c.PostForm("output_format")
	if err != nil || inputFmt == "" || outputFmt == "" {
		if file != nil {
			_ = file.Close()
		}
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(c, http.StatusRequestEntityTooLarge, errorResp{Error: "uploaded file too large"})
			return
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "missing required fields: file, input_format, output_format"})
		return
	}
	defer func() { _ = file.Close() }()

	if !convert.Supported(inputFmt, outputFmt) {
		metrics.IncConversion(inputFmt, outputFmt, "unsupported")
		writeJSON(c, http.StatusBadRequest, errorResp{Error: (&convert.UnsupportedFormatError{From: inputFmt, To: outputFmt}).Error()})
		return
	}

	started := time.Now()
	rec := history.Record{
		ID:         uuid.NewString(),
		SourceFmt:  inputFmt,
		TargetFmt:  outputFmt,
		SourceName: header.Filename,
		SizeBytes:  header.Size,
		StartedAt:  started,
	}

	src, cleanup, err := r.spoolUpload(file, header, inputFmt)
	if err != nil {
		r.log.Error("spooling upload failed", "error", err)
		r.fail(c, rec, http.StatusInternalServerError, "error reading uploaded file")
		return
	}
	defer cleanup()

	if err := validateContent(src, inputFmt); err != nil {
		r.fail(c, rec, http.StatusBadRequest, err.Error())
		return
	}

	dest, err := r.gw.Convert(c.Request.Context(), src, inputFmt, outputFmt)
	rec.Duration = time.Since(started)
	if err != nil {
		status, msg := classifyError(err)
		r.fail(c, rec, status, msg)
		return
	}

	rec.Success = true
	r.record(rec)
	c.FileAttachment(dest, "converted."+outputFmt)
}

// spoolUpload writes the uploaded document into a fresh per-request directory
// and returns its path together with a cleanup func removing the directory.
func (r *Router) spoolUpload(file multipart.File, header *multipart.FileHeader, inputFmt string) (string, func(), error) {
	dir := filepath.Join(r.tempDir, "convertd-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	name := safeFilename(header.Filename, "upload."+inputFmt)
	src := filepath.Join(dir, name)
	out, err := os.OpenFile(src, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	_, cerr := io.Copy(out, file)
	if err := out.Close(); cerr == nil {
		cerr = err
	}
	if cerr != nil {
		cleanup()
		return "", nil, cerr
	}
	return src, cleanup, nil
}

// validateContent sniffs the spooled document and rejects uploads whose
// content does not plausibly match the claimed input format.
func validateContent(src, inputFmt string) error {
	head := make([]byte, 1024)
	f, err := os.Open(src)
	if err != nil {
		return errors.New("error reading uploaded file")
	}
	n, _ := io.ReadFull(f, head)
	_ = f.Close()
	head = head[:n]

	if len(head) == 0 {
		return errors.New("input file is empty or invalid")
	}
	if ft := convert.DetectFileType(head); !ft.MatchesFormat(inputFmt) {
		return errors.New("invalid or corrupted input file: content does not match " + inputFmt)
	}
	return nil
}

// classifyError maps gateway and engine failures onto response codes. A timed
// out conversion is a client-visible 408; an engine that cannot be launched is
// 503; everything else about a failed conversion is 500.
func classifyError(err error) (int, string) {
	var ue *convert.UnsupportedFormatError
	if errors.As(err, &ue) {
		return http.StatusBadRequest, ue.Error()
	}
	var se *engine.StartError
	if errors.As(err, &se) {
		return http.StatusServiceUnavailable, "conversion engine unavailable"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, "conversion timed out"
	}
	var ce *engine.ConversionError
	if errors.As(err, &ce) {
		return http.StatusInternalServerError, "conversion failed"
	}
	return http.StatusInternalServerError, "internal error"
}

func (r *Router) fail(c *gin.Context, rec history.Record, status int, msg string) {
	rec.Success = false
	rec.Error = msg
	if rec.Duration == 0 {
		rec.Duration = time.Since(rec.StartedAt)
	}
	r.record(rec)
	writeJSON(c, status, errorResp{Error: msg})
}

// record sends the audit record off the request path. Failures are logged,
// never surfaced.
func (r *Router) record(rec history.Record) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.hist.Send(ctx, rec); err != nil {
			r.log.Warn("history record failed", "id", rec.ID, "error", err)
		}
	}()
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleReadyz(c *gin.Context) {
	st := r.eng.Status()
	if !st.Running {
		writeJSON(c, http.StatusServiceUnavailable, st)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{Engine: r.eng.Status(), Pairs: convert.Pairs()})
}
