package export

import (
	"fmt"
	"html/template"

	"rfphub/api/internal/store"
)

// Service renders collateral outputs to PDF.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// ExportCollateral renders a collateral output and its customer
// context into a PDF.
func (s *Service) ExportCollateral(output store.CollateralOutput, customerName string) (*Result, error) {
	contentHTML := MarkdownToHTML(output.Body)

	data := TemplateData{
		Title:        output.Title,
		CustomerName: customerName,
		Author:       output.OwnerName,
		Status:       output.ReviewStatus,
		UpdatedAt:    output.UpdatedAt,
		ContentHTML:  template.HTML(contentHTML),
	}

	html, err := RenderCollateralHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render collateral html: %w", err)
	}

	return exportPDF(html, output.Title)
}
