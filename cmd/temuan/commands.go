package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/temuan/internal/cli"
	"github.com/hyperjump/temuan/internal/indexer"
	"github.com/hyperjump/temuan/internal/models"
)

// stringSlice is a repeatable string flag.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// argsReorder moves flags (and their values) before positional arguments so
// "temuan match dompet hitam --limit 5" parses like "temuan match --limit 5 dompet hitam".
// boolFlags lists flags that take no value.
func argsReorder(args []string, boolFlags map[string]bool) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		name := strings.TrimLeft(a, "-")
		if strings.Contains(name, "=") || boolFlags[name] {
			continue
		}
		if i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	out := make([]string, 0, len(args))
	out = append(out, flags...)
	return append(out, positional...)
}

// buildQuery joins positional arguments into one query string.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// floatPtr returns nil for negative values, which mark an unset override.
func floatPtr(v float64) *float64 {
	if v < 0 {
		return nil
	}
	return &v
}

func readImages(paths []string) ([][]byte, error) {
	images := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", p, err)
		}
		images = append(images, data)
	}
	return images, nil
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// apiClient talks to a running temuan server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

// do sends body as JSON and decodes the response into out when out is non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runMatch() {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL; empty to match directly against storage")
	collection := fs.String("collection", "", "collection to search: found_items or lost_items")
	limit := fs.Int("limit", 0, "maximum results (0 = configured default)")
	imageThreshold := fs.Float64("image-threshold", -1, "image threshold override")
	textThreshold := fs.Float64("text-threshold", -1, "text threshold override")
	imageWeight := fs.Float64("image-weight", -1, "image weight override")
	textWeight := fs.Float64("text-weight", -1, "text weight override")
	output := fs.String("output", "text", "output format: text or json")
	var imagePaths stringSlice
	fs.Var(&imagePaths, "image", "photo to match (repeatable)")
	_ = fs.Parse(argsReorder(os.Args[2:], nil))

	format, err := cli.ParseFormat(*output)
	exitOnError(err)
	images, err := readImages(imagePaths)
	exitOnError(err)

	req := &models.MatchRequest{
		Text:           buildQuery(fs.Args()),
		Images:         images,
		Collection:     models.Collection(*collection),
		ImageThreshold: floatPtr(*imageThreshold),
		TextThreshold:  floatPtr(*textThreshold),
		ImageWeight:    floatPtr(*imageWeight),
		TextWeight:     floatPtr(*textWeight),
	}
	if *limit > 0 {
		req.MaxResults = limit
	}
	if req.Text == "" && len(req.Images) == 0 {
		fmt.Println("Usage: temuan match [flags] <text>  (text, --image, or both)")
		os.Exit(1)
	}

	ctx := context.Background()
	var result *models.MatchResult
	if *serverURL == "" {
		components, _, cleanup := directComponents(*configPath)
		result, err = components.Engine.Match(ctx, req)
		cleanup()
	} else {
		result = &models.MatchResult{}
		err = newAPIClient(*serverURL).do(ctx, http.MethodPost, "/api/v1/match", req, result)
	}
	exitOnError(err)
	exitOnError(cli.WriteMatchResult(os.Stdout, result, format))
}

func runFeedback() {
	fs := flag.NewFlagSet("feedback", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	matchID := fs.String("match-id", "", "matched item ID")
	correct := fs.Bool("correct", false, "the match was correct")
	matchType := fs.String("type", "", "match type: image, text or hybrid")
	score := fs.Float64("score", 0, "score the match was returned with")
	category := fs.String("category", "", "item category")
	userID := fs.String("user", "", "submitting user ID")
	_ = fs.Parse(os.Args[2:])

	rec := &models.FeedbackRecord{
		MatchID:      *matchID,
		IsCorrect:    *correct,
		MatchType:    models.MatchType(*matchType),
		MatchScore:   *score,
		ItemCategory: *category,
		UserID:       *userID,
	}
	exitOnError(rec.Validate())

	var resp map[string]string
	exitOnError(newAPIClient(*serverURL).do(context.Background(), http.MethodPost, "/api/v1/feedback", rec, &resp))
	fmt.Printf("Feedback recorded: %s\n", resp["id"])
}

func runThresholds() {
	fs := flag.NewFlagSet("thresholds", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	recompute := fs.Bool("recompute", false, "recompute from recent feedback before printing")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*output)
	exitOnError(err)

	method, path := http.MethodGet, "/api/v1/thresholds"
	if *recompute {
		method, path = http.MethodPost, "/api/v1/thresholds/recompute"
	}
	var resp struct {
		Thresholds *models.ThresholdConfig `json:"thresholds"`
	}
	exitOnError(newAPIClient(*serverURL).do(context.Background(), method, path, nil, &resp))
	exitOnError(cli.WriteThresholds(os.Stdout, resp.Thresholds, format))
}

func runItem() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: temuan item <add|get|list|search|status|delete> [flags]")
		os.Exit(1)
	}
	sub, args := os.Args[2], os.Args[3:]
	fs := flag.NewFlagSet("item "+sub, flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	output := fs.String("output", "text", "output format: text or json")
	client := func() *apiClient { return newAPIClient(*serverURL) }
	ctx := context.Background()

	switch sub {
	case "add":
		collection := fs.String("collection", string(models.FoundItems), "found_items or lost_items")
		name := fs.String("name", "", "item name")
		description := fs.String("description", "", "item description")
		category := fs.String("category", "", "item category")
		location := fs.String("location", "", "where the item was lost or found")
		var imagePaths, refs stringSlice
		fs.Var(&imagePaths, "image", "photo file (repeatable)")
		fs.Var(&refs, "image-ref", "photo already in the image store (repeatable)")
		_ = fs.Parse(args)

		images, err := readImages(imagePaths)
		exitOnError(err)
		input := &models.ItemInput{
			Collection:  models.Collection(*collection),
			Name:        *name,
			Description: *description,
			Category:    *category,
			Location:    *location,
			ImageRefs:   refs,
			Images:      images,
		}
		exitOnError(input.Validate())
		item := &models.Item{}
		exitOnError(client().do(ctx, http.MethodPost, "/api/v1/items", input, item))
		writeItem(item, *output)

	case "get":
		_ = fs.Parse(argsReorder(args, nil))
		id := requireArgs(fs, 1, "temuan item get <id>")[0]
		item := &models.Item{}
		exitOnError(client().do(ctx, http.MethodGet, "/api/v1/items/"+url.PathEscape(id), nil, item))
		writeItem(item, *output)

	case "list", "search":
		collection := fs.String("collection", "", "found_items or lost_items")
		limit := fs.Int("limit", 20, "maximum items")
		offset := fs.Int("offset", 0, "items to skip (list only)")
		status := fs.String("status", "", "only items with this status (search only)")
		_ = fs.Parse(argsReorder(args, nil))

		q := url.Values{}
		q.Set("limit", strconv.Itoa(*limit))
		if *collection != "" {
			q.Set("collection", *collection)
		}
		if sub == "search" {
			query := buildQuery(requireArgs(fs, 1, "temuan item search [flags] <query>"))
			q.Set("q", query)
			if *status != "" {
				q.Set("status", *status)
			}
		} else {
			q.Set("offset", strconv.Itoa(*offset))
		}
		var resp struct {
			Items []*models.Item `json:"items"`
		}
		exitOnError(client().do(ctx, http.MethodGet, "/api/v1/items?"+q.Encode(), nil, &resp))
		format, err := cli.ParseFormat(*output)
		exitOnError(err)
		exitOnError(cli.WriteItems(os.Stdout, resp.Items, format))

	case "status":
		claimedBy := fs.String("claimed-by", "", "claimant, required for claimed")
		_ = fs.Parse(argsReorder(args, nil))
		rest := requireArgs(fs, 2, "temuan item status [--claimed-by who] <id> <status>")
		update := &models.StatusUpdate{Status: models.Status(rest[1]), ClaimedBy: *claimedBy}
		item := &models.Item{}
		exitOnError(client().do(ctx, http.MethodPut, "/api/v1/items/"+url.PathEscape(rest[0])+"/status", update, item))
		writeItem(item, *output)

	case "delete":
		_ = fs.Parse(argsReorder(args, nil))
		id := requireArgs(fs, 1, "temuan item delete <id>")[0]
		exitOnError(client().do(ctx, http.MethodDelete, "/api/v1/items/"+url.PathEscape(id), nil, nil))
		fmt.Printf("Deleted %s\n", id)

	default:
		fmt.Printf("Unknown item command: %s\n", sub)
		os.Exit(1)
	}
}

func requireArgs(fs *flag.FlagSet, n int, usage string) []string {
	if fs.NArg() < n {
		fmt.Println("Usage: " + usage)
		os.Exit(1)
	}
	return fs.Args()
}

func writeItem(item *models.Item, output string) {
	format, err := cli.ParseFormat(output)
	exitOnError(err)
	if format == cli.OutputJSON {
		exitOnError(cli.WriteJSON(os.Stdout, item))
		return
	}
	cli.WriteItem(os.Stdout, item)
}

func runRetrain() {
	fs := flag.NewFlagSet("retrain", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL; empty to retrain directly against storage")
	_ = fs.Parse(os.Args[2:])

	ctx := context.Background()
	if *serverURL != "" {
		var resp struct {
			ModelVersion int64                  `json:"model_version"`
			Dimensions   int                    `json:"dimensions"`
			Documents    int                    `json:"documents"`
			Refresh      *indexer.RefreshResult `json:"refresh"`
		}
		exitOnError(newAPIClient(*serverURL).do(ctx, http.MethodPost, "/api/v1/admin/retrain", nil, &resp))
		printRetrain(resp.ModelVersion, resp.Dimensions, resp.Documents, resp.Refresh)
		return
	}

	components, logger, cleanup := directComponents(*configPath)
	model, res, err := components.Indexer.Retrain(ctx)
	if err != nil {
		logger.Error("retrain failed", zap.Error(err))
	}
	cleanup()
	exitOnError(err)
	printRetrain(model.Version, model.Dimensions(), model.DocCount, res)
}

func printRetrain(version int64, dims, docs int, res *indexer.RefreshResult) {
	fmt.Printf("Text model v%d: %d terms from %d documents\n", version, dims, docs)
	if res != nil {
		fmt.Printf("Embeddings: %d updated, %d failed, %d skipped\n", res.Updated, res.Failed, res.Skipped)
	}
}

func runRefresh() {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL; empty to refresh directly against storage")
	modality := fs.String("modality", "", "text or image (default both)")
	_ = fs.Parse(os.Args[2:])

	if *modality != "" && *modality != string(models.ModalityText) && *modality != string(models.ModalityImage) {
		exitOnError(fmt.Errorf("modality must be text or image"))
	}

	ctx := context.Background()
	results := map[string]*indexer.RefreshResult{}
	if *serverURL != "" {
		path := "/api/v1/admin/refresh"
		if *modality != "" {
			path += "?modality=" + url.QueryEscape(*modality)
		}
		exitOnError(newAPIClient(*serverURL).do(ctx, http.MethodPost, path, nil, &results))
	} else {
		components, _, cleanup := directComponents(*configPath)
		err := func() error {
			if *modality == "" || *modality == string(models.ModalityText) {
				res, err := components.Indexer.RefreshText(ctx)
				if err != nil {
					return err
				}
				results[string(models.ModalityText)] = res
			}
			if *modality == "" || *modality == string(models.ModalityImage) {
				res, err := components.Indexer.RefreshImages(ctx)
				if err != nil {
					return err
				}
				results[string(models.ModalityImage)] = res
			}
			return nil
		}()
		cleanup()
		exitOnError(err)
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := results[k]
		fmt.Printf("%s: %d updated, %d failed, %d skipped\n", k, r.Updated, r.Failed, r.Skipped)
	}
}

type statusResponse struct {
	Items      map[string]int64        `json:"items"`
	Feedback   int64                   `json:"feedback"`
	Thresholds *models.ThresholdConfig `json:"thresholds"`
	TextModel  *struct {
		Version    int64 `json:"version"`
		Dimensions int   `json:"dimensions"`
		Documents  int   `json:"documents"`
	} `json:"text_model"`
	CatalogItems   uint64 `json:"catalog_items"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*output)
	exitOnError(err)

	var resp statusResponse
	exitOnError(newAPIClient(*serverURL).do(context.Background(), http.MethodGet, "/api/v1/status", nil, &resp))
	if format == cli.OutputJSON {
		exitOnError(cli.WriteJSON(os.Stdout, resp))
		return
	}
	writeStatus(os.Stdout, &resp)
}

func writeStatus(w io.Writer, s *statusResponse) {
	fmt.Fprintf(w, "Found items:  %d\n", s.Items[string(models.FoundItems)])
	fmt.Fprintf(w, "Lost items:   %d\n", s.Items[string(models.LostItems)])
	fmt.Fprintf(w, "Catalog:      %d indexed\n", s.CatalogItems)
	fmt.Fprintf(w, "Feedback:     %d records\n", s.Feedback)
	if s.TextModel != nil {
		fmt.Fprintf(w, "Text model:   v%d, %d terms, %d documents\n", s.TextModel.Version, s.TextModel.Dimensions, s.TextModel.Documents)
	} else {
		fmt.Fprintln(w, "Text model:   not fitted")
	}
	if s.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "Disk usage:   %.1f MB\n", float64(s.DiskUsageBytes)/(1024*1024))
	}
	if s.Thresholds != nil {
		_ = cli.WriteThresholds(w, s.Thresholds, cli.OutputText)
	}
}
