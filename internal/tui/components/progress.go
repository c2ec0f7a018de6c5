package components

import (
	"fmt"
	"math"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// Progress renders how far a run has advanced.
type Progress struct {
	bar   progress.Model
	total int
}

// NewProgress creates a progress component for a run of total steps.
func NewProgress(total, width int) Progress {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	if width <= 0 {
		width = 30
	}
	bar.Width = width
	return Progress{bar: bar, total: total}
}

// View renders the bar for the number of finished steps.
func (p Progress) View(finished int) string {
	ratio := 0.0
	if p.total > 0 {
		ratio = math.Min(1.0, float64(finished)/float64(p.total))
	}
	label := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d/%d", finished, p.total))
	return lipgloss.JoinHorizontal(lipgloss.Left, label, " ", p.bar.ViewAs(ratio))
}
