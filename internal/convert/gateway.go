// Package convert is the translation layer between inbound format pairs and
// engine invocations: it validates the pair, derives the destination path and
// delegates to the supervised engine.
package convert

import (
	"context"
	"log/slog"
	"time"

	"convertd/internal/metrics"
)

// Converter runs a single conversion against the supervised engine.
type Converter interface {
	Convert(ctx context.Context, src, dest, format string) (string, error)
}

type pair struct{ from, to string }

var supportedPairs = map[pair]struct{}{
	{"doc", "docx"}: {},
	{"docx", "pdf"}: {},
	{"ppt", "pptx"}: {},
	{"pptx", "pdf"}: {},
	{"xls", "xlsx"}: {},
}

// Supported reports whether a format pair has a conversion.
func Supported(from, to string) bool {
	_, ok := supportedPairs[pair{from, to}]
	return ok
}

// Pairs lists the supported format pairs as [from, to] tuples.
func Pairs() [][2]string {
	out := make([][2]string, 0, len(supportedPairs))
	for p := range supportedPairs {
		out = append(out, [2]string{p.from, p.to})
	}
	return out
}

// Gateway dispatches recognized format pairs to the engine. Stateless beyond
// its collaborators; safe for concurrent use.
type Gateway struct {
	eng Converter
	log *slog.Logger
}

// NewGateway constructs a gateway over the given engine.
func NewGateway(eng Converter, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{eng: eng, log: log}
}

// Convert validates the pair, derives the destination path and runs the
// conversion. Returns the destination path on success. An unrecognized pair
// fails immediately without touching the engine.
func (g *Gateway) Convert(ctx context.Context, src, from, to string) (string, error) {
	if !Supported(from, to) {
		metrics.IncConversion(from, to, "unsupported")
		return "", &UnsupportedFormatError{From: from, To: to}
	}

	dest := outputPath(src, from, to)
	started := time.Now()
	result, err := g.eng.Convert(ctx, src, dest, to)
	elapsed := time.Since(started)

	if err != nil {
		metrics.IncConversion(from, to, "error")
		g.log.Error("conversion failed", "from", from, "to", to, "src", src, "error", err)
		return "", err
	}
	metrics.IncConversion(from, to, "ok")
	metrics.ObserveConversionDuration(from, to, elapsed.Seconds())
	g.log.Info("conversion completed", "from", from, "to", to, "dest", result, "elapsed", elapsed)
	return result, nil
}

// DocToDocx converts a legacy Word document to OOXML.
func (g *Gateway) DocToDocx(ctx context.Context, src string) (string, error) {
	return g.Convert(ctx, src, "doc", "docx")
}

// DocxToPDF converts a Word document to PDF.
func (g *Gateway) DocxToPDF(ctx context.Context, src string) (string, error) {
	return g.Convert(ctx, src, "docx", "pdf")
}

// PptToPptx converts a legacy PowerPoint document to OOXML.
func (g *Gateway) PptToPptx(ctx context.Context, src string) (string, error) {
	return g.Convert(ctx, src, "ppt", "pptx")
}

// PptxToPDF converts a PowerPoint document to PDF.
func (g *Gateway) PptxToPDF(ctx context.Context, src string) (string, error) {
	return g.Convert(ctx, src, "pptx", "pdf")
}

// XlsToXlsx converts a legacy Excel document to OOXML.
func (g *Gateway) XlsToXlsx(ctx context.Context, src string) (string, error) {
	return g.Convert(ctx, src, "xls", "xlsx")
}
