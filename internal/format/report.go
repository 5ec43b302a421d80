package format

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"github.com/russross/blackfriday/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SideReport extends the statistics of one side with the figures the human
// readable report shows
type SideReport struct {
	Side          domain.Side
	Stats         domain.ExportStatistics
	MinKeypoints  int
	MaxKeypoints  int
	Distribution  map[int]int
	AverageWidth  float64
	AverageHeight float64
}

type Report struct {
	GeneratedAt time.Time
	Definition  *domain.KeypointDefinition
	Sides       []SideReport
}

func BuildSideReport(side domain.Side, totalImages int, anns []*domain.ImageAnnotation) SideReport {
	ret := SideReport{
		Side:         side,
		Stats:        ComputeStatistics(totalImages, anns),
		Distribution: map[int]int{},
	}
	var counts, widths, heights []float64
	for _, ann := range anns {
		if ann.Orphaned {
			continue
		}
		if ann.Width > 0 && ann.Height > 0 {
			widths = append(widths, float64(ann.Width))
			heights = append(heights, float64(ann.Height))
		}
		n := ann.LabeledCount()
		if n == 0 {
			continue
		}
		ret.Distribution[n]++
		counts = append(counts, float64(n))
	}
	if len(counts) > 0 {
		ret.MinKeypoints = int(floats.Min(counts))
		ret.MaxKeypoints = int(floats.Max(counts))
	}
	if len(widths) > 0 {
		ret.AverageWidth = stat.Mean(widths, nil)
		ret.AverageHeight = stat.Mean(heights, nil)
	}
	return ret
}

// Statistics returns the per-side statistics keyed by side, the JSON export layout
func (r *Report) Statistics() map[domain.Side]domain.ExportStatistics {
	ret := make(map[domain.Side]domain.ExportStatistics, len(r.Sides))
	for _, s := range r.Sides {
		ret[s.Side] = s.Stats
	}
	return ret
}

func WriteText(w io.Writer, r *Report) error {
	rule := strings.Repeat("=", 60)
	sub := strings.Repeat("-", 60)
	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "KEYPOINT ANNOTATION STATISTICS REPORT")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))

	for _, s := range r.Sides {
		st := s.Stats
		fmt.Fprintf(&b, "OVERVIEW (%s)\n%s\n", strings.ToUpper(string(s.Side)), sub)
		fmt.Fprintf(&b, "Total Images: %d\n", st.TotalImages)
		fmt.Fprintf(&b, "Annotated Images: %d (%.1f%%)\n", st.AnnotatedImages, st.CompletionPercentage)
		fmt.Fprintf(&b, "Unannotated Images: %d\n\n", st.TotalImages-st.AnnotatedImages)

		if st.AnnotatedImages > 0 {
			fmt.Fprintf(&b, "KEYPOINT STATISTICS\n%s\n", sub)
			fmt.Fprintf(&b, "Average Keypoints per Image: %.2f\n", st.AverageKeypointsPerImage)
			fmt.Fprintf(&b, "Maximum Keypoints: %d\n", s.MaxKeypoints)
			fmt.Fprintf(&b, "Minimum Keypoints: %d\n", s.MinKeypoints)
			fmt.Fprintf(&b, "Total Keypoints: %d\n", st.TotalKeypoints)
			fmt.Fprintf(&b, "Visibility: not labeled %d, occluded %d, visible %d\n\n",
				st.VisibilityCounts[domain.NotLabeled], st.VisibilityCounts[domain.LabeledHidden], st.VisibilityCounts[domain.LabeledVisible])

			fmt.Fprintf(&b, "KEYPOINT DISTRIBUTION\n%s\n", sub)
			for _, n := range sortedKeys(s.Distribution) {
				count := s.Distribution[n]
				fmt.Fprintf(&b, "  %d keypoints: %d images (%.1f%%)\n", n, count, float64(count)/float64(st.AnnotatedImages)*100)
			}
			fmt.Fprintln(&b)
		}
		if s.AverageWidth > 0 {
			fmt.Fprintf(&b, "IMAGE DIMENSIONS\n%s\n", sub)
			fmt.Fprintf(&b, "Average Width: %.0fpx\n", s.AverageWidth)
			fmt.Fprintf(&b, "Average Height: %.0fpx\n\n", s.AverageHeight)
		}
	}

	if r.Definition != nil {
		fmt.Fprintf(&b, "KEYPOINT NAMES\n%s\n", sub)
		for i, name := range r.Definition.Names {
			fmt.Fprintf(&b, "  %d: %s\n", i, name)
		}
		fmt.Fprintf(&b, "\nSKELETON CONNECTIONS\n%s\n", sub)
		for _, edge := range r.Definition.Skeleton {
			fmt.Fprintf(&b, "  %s <-> %s\n", r.Definition.Name(edge[0]), r.Definition.Name(edge[1]))
		}
		fmt.Fprintln(&b)
	}
	fmt.Fprintln(&b, rule)
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteCSV writes one side,metric,value row per statistic
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	rows := [][]string{{"side", "metric", "value"}}
	for _, s := range r.Sides {
		st := s.Stats
		side := string(s.Side)
		rows = append(rows,
			[]string{side, "total_images", strconv.Itoa(st.TotalImages)},
			[]string{side, "annotated_images", strconv.Itoa(st.AnnotatedImages)},
			[]string{side, "total_keypoints", strconv.Itoa(st.TotalKeypoints)},
			[]string{side, "average_keypoints_per_image", strconv.FormatFloat(st.AverageKeypointsPerImage, 'f', 2, 64)},
			[]string{side, "visibility_0", strconv.Itoa(st.VisibilityCounts[domain.NotLabeled])},
			[]string{side, "visibility_1", strconv.Itoa(st.VisibilityCounts[domain.LabeledHidden])},
			[]string{side, "visibility_2", strconv.Itoa(st.VisibilityCounts[domain.LabeledVisible])},
			[]string{side, "completion_percentage", strconv.FormatFloat(st.CompletionPercentage, 'f', 1, 64)},
		)
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// Markdown renders the report as a markdown document
func Markdown(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Keypoint annotation statistics\n\n")
	fmt.Fprintf(&b, "_Generated %s_\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "| Side | Images | Annotated | Keypoints | Avg/image | Completion |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	for _, s := range r.Sides {
		st := s.Stats
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %.2f | %.1f%% |\n",
			s.Side, st.TotalImages, st.AnnotatedImages, st.TotalKeypoints, st.AverageKeypointsPerImage, st.CompletionPercentage)
	}
	if r.Definition != nil {
		fmt.Fprintf(&b, "\n## Keypoints\n\n")
		for i, name := range r.Definition.Names {
			fmt.Fprintf(&b, "%d. `%s`\n", i+1, name)
		}
	}
	return b.String()
}

func RenderHTML(r *Report) []byte {
	body := blackfriday.Run([]byte(Markdown(r)), blackfriday.WithExtensions(blackfriday.CommonExtensions))
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Keypoint annotation statistics</title></head><body>\n")
	b.Write(body)
	b.WriteString("</body></html>\n")
	return []byte(b.String())
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
