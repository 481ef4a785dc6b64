package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-search/internal/indexer"
	"github.com/kozaktomas/face-search/internal/photo"
	"github.com/kozaktomas/face-search/internal/regions"
)

var indexCmd = &cobra.Command{
	Use:   "index <folder-path> [folder-path...]",
	Short: "Index the faces of photos in folders",
	Long: `Index every photo in the given folders that has a face region sidecar
(<image>.faces.json) next to it. Each photo is stored under its path relative
to the folder argument, so re-indexing a photo after "remove" keeps its ID.

By default, only files in the specified folders are indexed (non-recursive).
Use -r to search recursively in subdirectories.

Example:
  face-search index /path/to/photos
  face-search index -r /path/to/photos`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolP("recursive", "r", false, "Search for photos recursively in subdirectories")
	indexCmd.Flags().Bool("replace", false, "Remove existing records of each photo before indexing it")
}

// collectImages lists the image files of folder, keyed by path.
func collectImages(folder string, recursive bool) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("cannot access folder %s: %w", folder, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", folder)
	}

	var paths []string
	err = filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != folder && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if photo.IsImageFile(d.Name()) && !regions.IsSidecar(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot walk folder %s: %w", folder, err)
	}
	slices.Sort(paths)
	return paths, nil
}

// loadDocument reads an image and its region sidecar. The owner ID is the
// slash-separated path relative to root.
func loadDocument(root, path string) (indexer.Document, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return indexer.Document{}, err
	}
	img, err := photo.Load(path)
	if err != nil {
		return indexer.Document{}, err
	}
	sidecar, err := regions.ReadSidecar(path)
	if err != nil {
		return indexer.Document{}, err
	}
	size := img.Bounds().Size()
	return indexer.Document{
		OwnerID: filepath.ToSlash(rel),
		Image:   img,
		Regions: sidecar.Regions(size.X, size.Y),
	}, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	recursive := mustGetBool(cmd, "recursive")
	replace := mustGetBool(cmd, "replace")

	// Items are "<root>\x00<path>" so the loader knows which folder argument a
	// photo belongs to.
	var items []string
	for _, folder := range args {
		paths, err := collectImages(folder, recursive)
		if err != nil {
			return err
		}
		for _, p := range paths {
			items = append(items, folder+"\x00"+p)
		}
	}
	if len(items) == 0 {
		fmt.Println("No image files found in the specified folders.")
		return nil
	}
	fmt.Printf("Found %d image(s) in %d folder(s)\n", len(items), len(args))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	load := func(ctx context.Context, item string) (indexer.Document, error) {
		root, path, _ := cutItem(item)
		doc, err := loadDocument(root, path)
		if err != nil {
			return doc, err
		}
		if replace {
			if res := <-a.engine.RemoveOwner(ctx, doc.OwnerID); res.Err != nil {
				return doc, fmt.Errorf("removing previous records: %w", res.Err)
			}
		}
		return doc, nil
	}

	bar := progressbar.NewOptions(len(items),
		progressbar.OptionSetDescription("Indexing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	batch := indexer.NewBatch(items, load, a.engine)
	batch.OnProgress(func(p indexer.Progress) {
		_ = bar.Set(p.Done)
	})

	sum, runErr := batch.Run(ctx)
	_ = bar.Finish()
	fmt.Println()

	fmt.Printf("Indexed %d of %d photo(s), %d face(s)\n", sum.Indexed, sum.Total, sum.Faces)
	if sum.Failed > 0 {
		fmt.Printf("%d photo(s) failed:\n", sum.Failed)
		failed := make([]string, 0, len(sum.Errors))
		for item := range sum.Errors {
			failed = append(failed, item)
		}
		slices.Sort(failed)
		for _, item := range failed {
			_, path, _ := cutItem(item)
			reason := sum.Errors[item]
			if errors.Is(reason, regions.ErrNoSidecar) {
				fmt.Printf("  %s: no %s file\n", path, regions.SidecarSuffix)
				continue
			}
			fmt.Printf("  %s: %v\n", path, reason)
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func cutItem(item string) (root, path string, ok bool) {
	return strings.Cut(item, "\x00")
}
