package simulate

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// WriteSummary prints the per-timer fire counts of res in schedule order.
func WriteSummary(w io.Writer, s *Schedule, res *Result) error {
	if _, err := fmt.Fprintf(w, "advanced to tick %d, %d callbacks pending\n", res.Now, res.Pending); err != nil {
		return err
	}
	for _, t := range s.Timers {
		line := fmt.Sprintf("%-20s %-8s delay=%-6d fired=%d", t.Name, t.Kind, t.Delay, res.Counts[t.Name])
		if t.ClearAt > 0 && t.ClearAt <= s.Ticks {
			line += fmt.Sprintf(" cleared_at=%d", t.ClearAt)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// WriteMetrics gathers g and prints one line per sample.
func WriteMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if _, err := fmt.Fprintf(w, "%s%s %s\n", mf.GetName(), labels(m), value(mf.GetType(), m)); err != nil {
				return err
			}
		}
	}
	return nil
}

func labels(m *dto.Metric) string {
	pairs := m.GetLabel()
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, lp := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

func value(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%g", h.GetSampleCount(), h.GetSampleSum())
	case dto.MetricType_SUMMARY:
		s := m.GetSummary()
		return fmt.Sprintf("count=%d sum=%g", s.GetSampleCount(), s.GetSampleSum())
	default:
		return fmt.Sprintf("%g", m.GetUntyped().GetValue())
	}
}
