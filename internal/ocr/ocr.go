// Package ocr analyzes an uploaded document image or PDF. PDFs are written
// to a scoped temp file, rasterized page by page, and every page is analyzed
// concurrently with a schema-constrained extraction call; results come back
// ordered by page number with aggregate token usage and cost.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"sort"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"sintgpt/internal/gemini"
	"sintgpt/internal/util"
)

// Cost per 1M tokens for the analysis model.
const (
	InputTokenCost  = 0.4
	OutputTokenCost = 1.6
)

// Pages are rasterized at twice the PDF's native 72 DPI.
const rasterDPI = 144

// ErrUnsupportedType rejects uploads that are neither an image nor a PDF,
// before any provider call is made.
var ErrUnsupportedType = errors.New("ocr: unsupported file type, only images and PDFs are accepted")

// ErrEmptyDocument rejects PDFs that contain no pages.
var ErrEmptyDocument = errors.New("ocr: document has no pages")

// ProcessingError wraps a failure inside the rasterization/extraction
// pipeline. The whole request fails; no partial results are returned.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("ocr: %s failed: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// FileKind is the upload variant, resolved once at entry.
type FileKind int

const (
	KindUnsupported FileKind = iota
	KindImage
	KindPDF
)

// Classify maps a declared content type onto a processing variant.
func Classify(contentType string) FileKind {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch {
	case mediaType == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	default:
		return KindUnsupported
	}
}

type PageUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

type PageAnalysisResult struct {
	PageNumber int               `json:"pageNumber"`
	Analysis   *DocumentAnalysis `json:"analysis"`
	Usage      PageUsage         `json:"usage"`
}

type OverallUsage struct {
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
	TotalTokens  int    `json:"totalTokens"`
	InputCost    string `json:"inputCost"`
	OutputCost   string `json:"outputCost"`
	TotalCost    string `json:"totalCost"`
}

type Result struct {
	Analyses     []PageAnalysisResult `json:"analyses"`
	TotalPages   int                  `json:"totalPages"`
	OverallUsage OverallUsage         `json:"overallUsage"`
}

// Extractor runs one schema-constrained analysis call for a single page.
type Extractor interface {
	ExtractPage(ctx context.Context, image gemini.ImagePart, pageNumber, totalPages int) (*DocumentAnalysis, gemini.Usage, error)
}

const analysisSystemPrompt = `You are a specialized AI assistant for analyzing historical WWII documents. Your task is to analyze the provided image and generate a structured analysis in JSON format conforming to the configured schema.

Focus on:
1. Accurately transcribing handwritten text from the WWII era
2. Identifying key historical figures, locations, and organizations
3. Extracting dates and creating a timeline of events
4. Identifying important topics and themes
5. Analyzing the sentiment and emotional tone
6. Explaining historical terms and vocabulary
7. Mapping mentioned locations

Ensure that all text is transcribed as accurately as possible, maintaining the original language and terminology.
Ensure the output is ONLY the JSON object.`

// GeminiExtractor implements Extractor against the Gemini client.
type GeminiExtractor struct {
	Client *gemini.Client
}

func (e *GeminiExtractor) ExtractPage(ctx context.Context, image gemini.ImagePart, pageNumber, totalPages int) (*DocumentAnalysis, gemini.Usage, error) {
	prompt := "Analyze this WWII document and extract all relevant information following the schema."
	if totalPages > 1 {
		prompt = fmt.Sprintf("Analyze this WWII document (Page %d of %d) and extract all relevant information following the schema.", pageNumber, totalPages)
	}

	var analysis DocumentAnalysis
	usage, err := e.Client.GenerateObject(ctx, analysisSystemPrompt, prompt,
		[]gemini.ImagePart{image}, ResponseSchema(), gemini.GenerateOptions{Temperature: 0}, &analysis)
	if err != nil {
		return nil, gemini.Usage{}, err
	}
	if err := analysis.Validate(); err != nil {
		return nil, gemini.Usage{}, fmt.Errorf("gemini: response does not match schema: %w", err)
	}
	return &analysis, usage, nil
}

// Processor is the document-analysis pipeline.
type Processor struct {
	Extractor Extractor
}

// Process resolves the upload variant and runs the matching pipeline.
func (p *Processor) Process(ctx context.Context, data []byte, contentType string) (*Result, error) {
	switch Classify(contentType) {
	case KindPDF:
		return p.processPDF(ctx, data)
	case KindImage:
		return p.processImage(ctx, data, contentType)
	default:
		return nil, ErrUnsupportedType
	}
}

func (p *Processor) processImage(ctx context.Context, data []byte, contentType string) (*Result, error) {
	util.LogInfo("Analyzing single image (%d bytes, %s)", len(data), contentType)

	analysis, usage, err := p.Extractor.ExtractPage(ctx, gemini.ImagePart{MIMEType: contentType, Data: data}, 1, 1)
	if err != nil {
		return nil, err
	}

	pages := []PageAnalysisResult{{
		PageNumber: 1,
		Analysis:   analysis,
		Usage:      PageUsage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens},
	}}
	return aggregate(pages, 1), nil
}

func (p *Processor) processPDF(ctx context.Context, data []byte) (*Result, error) {
	tmp, err := os.CreateTemp("", "sintgpt-ocr-*.pdf")
	if err != nil {
		return nil, &ProcessingError{Stage: "temp file", Err: err}
	}
	tmpPath := tmp.Name()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			util.LogWarn("Failed to remove temp PDF %s: %v", tmpPath, err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, &ProcessingError{Stage: "temp file", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return nil, &ProcessingError{Stage: "temp file", Err: err}
	}

	images, err := rasterizePDF(tmpPath)
	if err != nil {
		return nil, err
	}
	totalPages := len(images)
	if totalPages == 0 {
		return nil, ErrEmptyDocument
	}
	util.LogInfo("Rasterized PDF into %d page(s), analyzing in parallel", totalPages)

	pages, err := p.analyzePages(ctx, images)
	if err != nil {
		return nil, err
	}
	return aggregate(pages, totalPages), nil
}

// analyzePages runs one extraction per page image concurrently, indexed by
// page number. One failed page fails the whole document.
func (p *Processor) analyzePages(ctx context.Context, images []gemini.ImagePart) ([]PageAnalysisResult, error) {
	totalPages := len(images)
	pages := make([]PageAnalysisResult, totalPages)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < totalPages; i++ {
		pageNumber := i + 1
		pageImage := images[i]
		g.Go(func() error {
			analysis, usage, err := p.Extractor.ExtractPage(gctx, pageImage, pageNumber, totalPages)
			if err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			pages[pageNumber-1] = PageAnalysisResult{
				PageNumber: pageNumber,
				Analysis:   analysis,
				Usage:      PageUsage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &ProcessingError{Stage: "page extraction", Err: err}
	}
	return pages, nil
}

// rasterizePDF renders every page of the PDF at tmpPath to a PNG image part.
func rasterizePDF(tmpPath string) ([]gemini.ImagePart, error) {
	doc, err := fitz.New(tmpPath)
	if err != nil {
		return nil, &ProcessingError{Stage: "PDF rasterization", Err: err}
	}
	defer doc.Close()

	images := make([]gemini.ImagePart, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.ImageDPI(i, rasterDPI)
		if err != nil {
			return nil, &ProcessingError{Stage: "PDF rasterization", Err: fmt.Errorf("page %d: %w", i+1, err)}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, &ProcessingError{Stage: "PDF rasterization", Err: fmt.Errorf("page %d: %w", i+1, err)}
		}
		images = append(images, gemini.ImagePart{MIMEType: "image/png", Data: buf.Bytes()})
	}
	return images, nil
}

// aggregate orders pages by page number and totals usage and cost.
func aggregate(pages []PageAnalysisResult, totalPages int) *Result {
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })

	inputTokens := lo.SumBy(pages, func(p PageAnalysisResult) int { return p.Usage.PromptTokens })
	outputTokens := lo.SumBy(pages, func(p PageAnalysisResult) int { return p.Usage.CompletionTokens })

	inputCost, outputCost, totalCost := gemini.EstimateCost(
		gemini.Usage{PromptTokens: inputTokens, CompletionTokens: outputTokens},
		InputTokenCost, OutputTokenCost)

	util.LogInfo("Overall token usage: pages=%d input=%d output=%d total=%d cost=$%.4f",
		totalPages, inputTokens, outputTokens, inputTokens+outputTokens, totalCost)

	return &Result{
		Analyses:   pages,
		TotalPages: totalPages,
		OverallUsage: OverallUsage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
			InputCost:    fmt.Sprintf("$%.4f", inputCost),
			OutputCost:   fmt.Sprintf("$%.4f", outputCost),
			TotalCost:    fmt.Sprintf("$%.4f", totalCost),
		},
	}
}
