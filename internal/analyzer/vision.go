package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"billextract/internal/billerr"
	"billextract/internal/logger"
)

// MaxPagesPerRequest is the page limit of a synchronous Vision file request.
const MaxPagesPerRequest = 5

// annotateClient is the part of *vision.ImageAnnotatorClient the analyzer needs.
type annotateClient interface {
	BatchAnnotateFiles(ctx context.Context, req *visionpb.BatchAnnotateFilesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateFilesResponse, error)
}

// Vision extracts bill text with Cloud Vision document text detection.
// It reports no fields; classification then relies on the text itself.
type Vision struct {
	client annotateClient
	closer func() error
	config GoogleConfig
	log    zerolog.Logger
}

// NewVision creates a Vision analyzer. Without explicit credentials it uses
// application default credentials.
func NewVision(ctx context.Context, config GoogleConfig) (*Vision, error) {
	const op = "NewVision"

	client, err := vision.NewImageAnnotatorClient(ctx, config.clientOptions()...)
	if err != nil {
		return nil, billerr.New(op, billerr.ErrConfiguration, fmt.Sprintf("failed to create Vision client: %v", err))
	}

	v := NewVisionWithClient(client, config)
	v.closer = client.Close
	return v, nil
}

// NewVisionWithClient creates a Vision analyzer with an explicit client (for testing).
func NewVisionWithClient(client annotateClient, config GoogleConfig) *Vision {
	return &Vision{
		client: client,
		config: config,
		log:    logger.WithComponent("vision"),
	}
}

// Analyze implements Analyzer. Pages are requested in batches of
// MaxPagesPerRequest until the reported page total is reached.
func (v *Vision) Analyze(ctx context.Context, path string) (*Result, error) {
	const op = "Vision.Analyze"

	pdfBytes, err := ValidateDocument(path)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var text strings.Builder
	totalPages := 0

	for first := int32(1); ; first += MaxPagesPerRequest {
		pages := make([]int32, 0, MaxPagesPerRequest)
		for p := first; p < first+MaxPagesPerRequest; p++ {
			if totalPages > 0 && int(p) > totalPages {
				break
			}
			pages = append(pages, p)
		}
		if len(pages) == 0 {
			break
		}

		fileResp, err := v.annotate(ctx, op, pdfBytes, pages)
		if err != nil {
			return nil, err
		}
		totalPages = int(fileResp.GetTotalPages())

		for i, page := range fileResp.GetResponses() {
			if page.GetError() != nil {
				return nil, billerr.New(op, fmt.Errorf("page %d: %s", int(pages[0])+i, page.GetError().GetMessage()), "Vision page error")
			}
			if page.GetFullTextAnnotation() == nil {
				continue
			}
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(page.GetFullTextAnnotation().GetText())
		}

		if totalPages == 0 || int(pages[len(pages)-1]) >= totalPages {
			break
		}
	}

	result := &Result{
		Content:            text.String(),
		Fields:             map[string]string{},
		PageCount:          totalPages,
		Backend:            "vision",
		ProcessingDuration: time.Since(start),
	}

	v.log.Info().
		Int("pages", result.PageCount).
		Int("content_length", len(result.Content)).
		Dur("duration", result.ProcessingDuration).
		Msg("Vision analysis completed")

	return result, nil
}

func (v *Vision) annotate(ctx context.Context, op string, pdfBytes []byte, pages []int32) (*visionpb.AnnotateFileResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, v.config.timeout())
	defer cancel()

	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  pdfBytes,
					MimeType: pdfMimeType,
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				Pages: pages,
			},
		},
	}

	resp, err := v.client.BatchAnnotateFiles(callCtx, req)
	if err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return nil, billerr.Transient(op, err, "Vision API temporarily unavailable")
		case codes.InvalidArgument:
			return nil, billerr.New(op, fmt.Errorf("%w: %w", billerr.ErrInput, err), "document rejected by Vision API")
		}
		if isContextTimeout(err) {
			return nil, billerr.Transient(op, err, "Vision API timeout")
		}
		return nil, billerr.New(op, err, "Vision API call failed")
	}

	if len(resp.GetResponses()) == 0 {
		return nil, billerr.Transient(op, fmt.Errorf("no response from Vision API"), "empty Vision response")
	}
	fileResp := resp.GetResponses()[0]
	if fileResp.GetError() != nil {
		return nil, billerr.New(op, fmt.Errorf("%s", fileResp.GetError().GetMessage()), "Vision API error")
	}
	return fileResp, nil
}

// Close closes the underlying Vision client.
func (v *Vision) Close() error {
	if v.closer != nil {
		return v.closer()
	}
	return nil
}
