package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dslipak/pdf"
	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
)

const (
	fetchTimeout = 30 * time.Second
	// Some hosts reject requests without a browser user agent.
	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Extractor pulls text out of source documents: PDFs and plain files fetched
// from storage, and readable articles fetched from the web.
type Extractor struct {
	client *http.Client
}

func NewExtractor() *Extractor {
	return &Extractor{
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// PDFFromURL downloads a PDF and returns its plain text, page by page.
// Pages that fail to decode are skipped with a log, not fatal.
func (e *Extractor) PDFFromURL(ctx context.Context, fileURL string) (string, error) {
	data, err := e.fetch(ctx, fileURL)
	if err != nil {
		return "", err
	}
	return ExtractPDF(data)
}

// ExtractPDF reads the PDF from memory and concatenates page text.
func ExtractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var buf strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Warn().Err(err).Int("page", i).Msg("skipping unreadable pdf page")
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

// PlainFromURL downloads a text or markdown file and returns its body.
func (e *Extractor) PlainFromURL(ctx context.Context, fileURL string) (string, error) {
	data, err := e.fetch(ctx, fileURL)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ArticleFromURL fetches a web page and extracts its readable title and
// text. Only http and https URLs are accepted.
func (e *Extractor) ArticleFromURL(ctx context.Context, rawURL string) (title, text string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", "", apperrors.NewValidation("URL must use http or https")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", "", apperrors.NewExternalService("url_fetch", "Failed to fetch URL").WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", "", apperrors.NewValidation("URL not found (404)")
	case resp.StatusCode == http.StatusForbidden:
		return "", "", apperrors.NewValidation("Access to URL is forbidden (403)")
	case resp.StatusCode >= 400:
		return "", "", apperrors.NewValidation(fmt.Sprintf("URL returned status %d", resp.StatusCode))
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", "", apperrors.NewValidation("Could not extract readable content from URL").WithCause(err)
	}

	title = strings.TrimSpace(article.Title)
	if title == "" {
		title = parsed.Host
	}
	return title, article.TextContent, nil
}

func (e *Extractor) fetch(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.NewExternalService("storage_fetch", "Failed to download file").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewExternalService("storage_fetch",
			fmt.Sprintf("File download returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
