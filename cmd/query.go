package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/imageops"
	"github.com/kozaktomas/face-search/internal/photo"
	"github.com/kozaktomas/face-search/internal/query"
	"github.com/kozaktomas/face-search/internal/regions"
)

var queryCmd = &cobra.Command{
	Use:   "query <image>",
	Short: "Find the stored faces most similar to a face of an image",
	Long: `Rank stored faces by chi-square distance to one face of the image.

The face is taken from the image's region sidecar (<image>.faces.json);
--face selects which of its faces to use. Alternatively --region gives the
face rectangle directly as x,y,width,height[,angle-degrees].

Example:
  face-search query photo.jpg --limit 5
  face-search query photo.jpg --region 120,80,96,96 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().Int("face", 0, "Index of the sidecar face to query with")
	queryCmd.Flags().String("region", "", "Face rectangle x,y,width,height[,angle-degrees] instead of the sidecar")
	queryCmd.Flags().Int("limit", -1, "Maximum number of results (default QUERY_LIMIT, 0 = all)")
	queryCmd.Flags().Float64("max-distance", -1, "Drop results farther than this (default QUERY_MAX_DISTANCE, 0 = no bound)")
	queryCmd.Flags().Bool("json", false, "Print results as JSON")
}

// parseRegionFlag parses x,y,width,height[,angle-degrees].
func parseRegionFlag(s string) (database.FaceRegion, error) {
	var r database.FaceRegion
	var deg float64
	n, _ := fmt.Sscanf(s, "%d,%d,%d,%d,%g", &r.X, &r.Y, &r.Width, &r.Height, &deg)
	if n < 4 {
		return r, fmt.Errorf("invalid --region %q, want x,y,width,height[,angle]", s)
	}
	r.Angle = imageops.DegreesToRadians(deg)
	return r, r.Validate()
}

// queryRegion resolves the probe face from the flags or the image's sidecar.
func queryRegion(cmd *cobra.Command, path string, width, height int) (database.FaceRegion, error) {
	if raw := mustGetString(cmd, "region"); raw != "" {
		return parseRegionFlag(raw)
	}
	sidecar, err := regions.ReadSidecar(path)
	if err != nil {
		if errors.Is(err, regions.ErrNoSidecar) {
			return database.FaceRegion{}, fmt.Errorf("%s has no %s file; use --region", path, regions.SidecarSuffix)
		}
		return database.FaceRegion{}, err
	}
	faces := sidecar.Regions(width, height)
	face := mustGetInt(cmd, "face")
	if face < 0 || face >= len(faces) {
		return database.FaceRegion{}, fmt.Errorf("face %d out of range, the sidecar has %d usable face(s)", face, len(faces))
	}
	return faces[face], nil
}

type queryMatch struct {
	Rank     int                 `json:"rank"`
	Distance float64             `json:"distance"`
	OwnerID  string              `json:"owner_id"`
	RecordID string              `json:"record_id"`
	FaceID   string              `json:"face_id"`
	Region   database.FaceRegion `json:"region"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	path := args[0]
	img, err := photo.Load(path)
	if err != nil {
		return err
	}
	size := img.Bounds().Size()
	region, err := queryRegion(cmd, path, size.X, size.Y)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	limit := a.cfg.Query.Limit
	if l := mustGetInt(cmd, "limit"); l >= 0 {
		limit = l
	}
	maxDistance := a.cfg.Query.MaxDistance
	if d := mustGetFloat64(cmd, "max-distance"); d >= 0 {
		maxDistance = d
	}

	q := query.New(img, region, a.pipeline,
		query.WithLimit(limit),
		query.WithMaxDistance(maxDistance),
		query.WithCandidates(a.cfg.Query.Candidates),
	)
	if err := a.engine.RunQuery(ctx, q); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, constants.QueryWaitTimeout)
	defer cancel()
	select {
	case <-q.Done():
	case <-waitCtx.Done():
		q.Cancel()
		return fmt.Errorf("waiting for query: %w", waitCtx.Err())
	}
	if state := q.State(); state != query.StateCompleted {
		return fmt.Errorf("query %s: %w", state, q.Err())
	}

	var matches []queryMatch
	for {
		r, ok := q.Dequeue()
		if !ok {
			break
		}
		matches = append(matches, queryMatch{
			Rank:     len(matches) + 1,
			Distance: r.Distance,
			OwnerID:  r.Record.OwnerID,
			RecordID: r.Record.ID,
			FaceID:   r.Record.FaceID,
			Region:   r.Record.Region,
		})
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}

	fmt.Printf("Scanned %d face(s), %d match(es)\n", q.Scanned(), len(matches))
	for _, m := range matches {
		fmt.Printf("%3d. %10.4f  %s  (record %s, face %d,%d %dx%d)\n",
			m.Rank, m.Distance, m.OwnerID, m.RecordID, m.Region.X, m.Region.Y, m.Region.Width, m.Region.Height)
	}
	return nil
}
