// Package output provides utilities for formatting and displaying optimization results.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/format"
	"github.com/iwvelando/portfolio-optimizer/pkg/optimization"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// WriteSummary renders s in the named output format.
func WriteSummary(w io.Writer, outputFormat string, s optimization.Summary) error {
	switch outputFormat {
	case constants.OutputFormatPretty:
		PrettyFormat(w, s)
	case constants.OutputFormatCSV:
		CsvFormat(w, s)
	case constants.OutputFormatJSON:
		return JSONFormat(w, s)
	default:
		return fmt.Errorf("unsupported output format %q", outputFormat)
	}
	return nil
}

// WriteFrontier renders frontier points in the named output format.
func WriteFrontier(w io.Writer, outputFormat string, assets []optimization.Asset, points []optimization.FrontierPoint) error {
	switch outputFormat {
	case constants.OutputFormatPretty:
		PrettyFrontier(w, assets, points)
	case constants.OutputFormatCSV:
		CsvFrontier(w, assets, points)
	case constants.OutputFormatJSON:
		return JSONFormat(w, points)
	default:
		return fmt.Errorf("unsupported output format %q", outputFormat)
	}
	return nil
}

// PrettyFormat outputs a human-readable rather than machine-readable table.
func PrettyFormat(w io.Writer, s optimization.Summary) {
	p := message.NewPrinter(language.English)
	_, _ = fmt.Fprintf(w, "--- Minimum-variance allocation for target %s ---\n", format.Percent(s.Target))
	_, _ = fmt.Fprintf(w, "Asset                | Weight | Exp. Return | Contribution | Bound\n")
	_, _ = fmt.Fprintf(w, "_____                | ______ | ___________ | ____________ | _____\n")
	for _, a := range s.Allocations {
		name := a.Name
		if a.Symbol != "" && a.Symbol != a.Name {
			name = fmt.Sprintf("%s (%s)", a.Name, a.Symbol)
		}
		bound := ""
		if a.Binding != "free" {
			bound = a.Binding
		}
		_, _ = fmt.Fprintf(w, "%-20s | %6s | %11s | %12s | %s\n",
			name, format.Weight(a.Weight), format.Percent(a.ExpectedReturn), format.Percent(a.Contribution), bound)
	}
	_, _ = fmt.Fprintf(w, "\nExpected return: %s\n", format.Percent(s.ExpectedReturn))
	_, _ = fmt.Fprintf(w, "Volatility: %s\n", format.Percent(s.Volatility))
	_, _ = fmt.Fprintf(w, "Achievable range: %s to %s\n", format.Percent(s.AchievableMin), format.Percent(s.AchievableMax))
	if s.Observations > 0 {
		_, _ = p.Fprintf(w, "Estimated from %d daily returns\n", s.Observations)
	}
	if len(s.Warnings) > 0 {
		_, _ = fmt.Fprintf(w, "\nWarnings:\n")
		for _, warning := range s.Warnings {
			_, _ = fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}

// CsvFormat outputs the allocation table in comma-separated value format.
func CsvFormat(w io.Writer, s optimization.Summary) {
	_, _ = fmt.Fprintf(w, `"asset","symbol","weight","expected return","contribution","bound"`+"\n")
	for _, a := range s.Allocations {
		_, _ = fmt.Fprintf(w, `"%s","%s","%.6f","%.6f","%.6f","%s"`+"\n",
			a.Name, a.Symbol, a.Weight, a.ExpectedReturn, a.Contribution, a.Binding)
	}
	_, _ = fmt.Fprintf(w, `"portfolio","","%.6f","%.6f","%.6f",""`+"\n", 1.0, s.ExpectedReturn, s.Volatility)
}

// CsvString renders CsvFormat into a string.
func CsvString(s optimization.Summary) string {
	var buf bytes.Buffer
	CsvFormat(&buf, s)
	return buf.String()
}

// JSONFormat writes v as indented JSON.
func JSONFormat(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrettyFrontier outputs the efficient frontier as a table, one row per target.
func PrettyFrontier(w io.Writer, assets []optimization.Asset, points []optimization.FrontierPoint) {
	_, _ = fmt.Fprintf(w, "--- Efficient frontier (%d points) ---\n", len(points))
	_, _ = fmt.Fprintf(w, "Target   | Volatility | Weights\n")
	_, _ = fmt.Fprintf(w, "______   | __________ | _______\n")
	for _, pt := range points {
		if pt.Error != "" {
			_, _ = fmt.Fprintf(w, "%8s | %10s | %s\n", format.Percent(pt.Target), "-", pt.Error)
			continue
		}
		_, _ = fmt.Fprintf(w, "%8s | %10s | %s\n", format.Percent(pt.Target), format.Percent(pt.Volatility), weightList(assets, pt.Weights))
	}
}

// CsvFrontier outputs the efficient frontier in comma-separated value format.
func CsvFrontier(w io.Writer, assets []optimization.Asset, points []optimization.FrontierPoint) {
	_, _ = fmt.Fprintf(w, `"target","return","volatility"`)
	for _, a := range assets {
		_, _ = fmt.Fprintf(w, `,"weight (%s)"`, a.Name)
	}
	_, _ = fmt.Fprintf(w, `,"error"`+"\n")
	for _, pt := range points {
		_, _ = fmt.Fprintf(w, `"%.6f","%.6f","%.6f"`, pt.Target, pt.Return, pt.Volatility)
		for i := range assets {
			weight := 0.0
			if i < len(pt.Weights) {
				weight = pt.Weights[i]
			}
			_, _ = fmt.Fprintf(w, `,"%.6f"`, weight)
		}
		_, _ = fmt.Fprintf(w, `,"%s"`+"\n", pt.Error)
	}
}

func weightList(assets []optimization.Asset, weights []float64) string {
	var buf bytes.Buffer
	for i, weight := range weights {
		if i > 0 {
			buf.WriteString(", ")
		}
		name := fmt.Sprintf("#%d", i+1)
		if i < len(assets) {
			name = assets[i].Name
		}
		fmt.Fprintf(&buf, "%s %s", name, format.Weight(weight))
	}
	return buf.String()
}
