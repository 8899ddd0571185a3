// Package cli provides output formatting and an HTTP client for the kagami command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes similarity hits to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, response)
	case OutputCompact:
		for _, hit := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\n", hit.Rank, hit.Score, hit.ID)
		}
		return nil
	default:
		fmt.Fprintf(w, "\nFound %d similar images in %dms (k=%d)\n\n", response.Total, response.QueryTime, response.K)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tSCORE\tID\tFOLDER\tCUSTOMER")
		for _, hit := range response.Results {
			folder, customer := "-", "-"
			if hit.Image != nil {
				folder = hit.Image.Folder
				if hit.Image.Customer != "" {
					customer = hit.Image.Customer
				}
			}
			fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\t%s\n", hit.Rank, hit.Score, utils.Truncate(hit.ID, 48), folder, customer)
		}
		return tw.Flush()
	}
}

// WriteLookupResults writes name lookup hits.
func WriteLookupResults(w io.Writer, results []*models.LookupResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, results)
	case OutputCompact:
		for _, r := range results {
			fmt.Fprintln(w, r.ID)
		}
		return nil
	default:
		fmt.Fprintf(w, "\nFound %d images\n\n", len(results))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SCORE\tID\tFOLDER")
		for _, r := range results {
			folder := "-"
			if r.Image != nil {
				folder = r.Image.Folder
			}
			fmt.Fprintf(tw, "%.3f\t%s\t%s\n", r.Score, utils.Truncate(r.ID, 48), folder)
		}
		return tw.Flush()
	}
}

// WriteRebuild summarizes a rebuild or sync.
func WriteRebuild(w io.Writer, op string, res *models.RebuildResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	fmt.Fprintf(w, "%s: %d processed, %d errored, %d indexed (%dms)\n", op, res.Processed, res.Errored, res.Total, res.ElapsedMS)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s: %s\n", e.ID, e.Error)
	}
	writeWarning(w, res.Durable, res.Warning)
	return nil
}

// WriteStatus prints the service status.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "index_size:       %d\n", st.IndexSize)
	fmt.Fprintf(w, "state:            %s\n", st.State)
	fmt.Fprintf(w, "dimensions:       %d\n", st.Dimensions)
	fmt.Fprintf(w, "store_type:       %s\n", st.StoreType)
	fmt.Fprintf(w, "generation:       %d\n", st.Generation)
	fmt.Fprintf(w, "dirty:            %t\n", st.Dirty)
	if !st.LastFlush.IsZero() {
		fmt.Fprintf(w, "last_flush:       %s\n", st.LastFlush.Format("2006-01-02 15:04:05"))
	}
	if st.LastFlushError != "" {
		fmt.Fprintf(w, "last_flush_error: %s\n", st.LastFlushError)
	}
	fmt.Fprintf(w, "models_ready:     %t\n", st.ModelsReady)
	fmt.Fprintf(w, "cached_features:  %d\n", st.CachedFeatures)
	fmt.Fprintf(w, "catalog_images:   %d\n", st.CatalogImages)
	fmt.Fprintf(w, "name_index_docs:  %d\n", st.NameIndexDocs)
	fmt.Fprintf(w, "image_backend:    %s\n", st.ImageBackend)
	if st.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "disk_usage:       %s\n", utils.HumanBytes(st.DiskUsageBytes))
	}
	return nil
}

func writeWarning(w io.Writer, durable bool, warning string) {
	if !durable {
		fmt.Fprintln(w, "warning: change is not yet persisted")
	}
	if warning != "" {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

// WriteAdd reports an added image.
func WriteAdd(w io.Writer, res *models.AddResponse) {
	fmt.Fprintf(w, "Image indexed: %s (index size %d)\n", res.ID, res.Size)
	writeWarning(w, res.Durable, res.Warning)
}

// WriteBatch reports a batch add.
func WriteBatch(w io.Writer, res *models.BatchResponse) {
	fmt.Fprintf(w, "Indexed %d image(s), %d failed (index size %d)\n", res.Added, res.Errored, res.Size)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s: %s\n", e.ID, e.Error)
	}
	writeWarning(w, res.Durable, res.Warning)
}

// WriteDelete reports a deleted image.
func WriteDelete(w io.Writer, res *models.DeleteResponse) {
	fmt.Fprintf(w, "Image deleted: %s (%d remaining)\n", res.ID, res.Remaining)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s: %s\n", e.ID, e.Error)
	}
	writeWarning(w, res.Durable, res.Warning)
}
