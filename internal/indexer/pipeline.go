// Package indexer turns source images and face regions into index records.
package indexer

import (
	"fmt"
	"image"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/descriptor"
	"github.com/kozaktomas/face-search/internal/imageops"
	"github.com/kozaktomas/face-search/internal/lbp"
)

// Pipeline runs the extraction stages shared by indexing and querying:
// orientation normalization, crop, optional difference-of-Gaussians, LBP, histogram.
type Pipeline struct {
	builder *descriptor.Builder
	lbp     lbp.Options
	dog     bool
	sigma1  float64
	sigma2  float64
}

// Face is the outcome of running the pipeline on one region.
type Face struct {
	Region     database.FaceRegion
	Crop       *image.Gray // normalized face crop, before filtering
	Descriptor descriptor.Descriptor
}

// NewPipeline creates a pipeline from the descriptor configuration.
func NewPipeline(cfg config.DescriptorConfig) (*Pipeline, error) {
	builder, err := descriptor.NewBuilder(cfg.Layout())
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		builder: builder,
		lbp:     lbp.Options{BitDepth: cfg.BitDepth},
		dog:     cfg.DoG,
		sigma1:  cfg.DoGSigma1,
		sigma2:  cfg.DoGSigma2,
	}, nil
}

// Layout returns the layout of descriptors produced by the pipeline.
func (p *Pipeline) Layout() descriptor.Layout {
	return p.builder.Layout()
}

// Extract rotates img by the region's angle, crops the region and describes it.
func (p *Pipeline) Extract(img image.Image, region database.FaceRegion) (Face, error) {
	if err := region.Validate(); err != nil {
		return Face{}, fmt.Errorf("%w: %v", imageops.ErrInvalidGeometry, err)
	}
	upright, err := imageops.NormalizeOrientation(img, region.Angle)
	if err != nil {
		return Face{}, err
	}
	return p.extractUpright(upright, region)
}

// extractUpright describes region of an image already rotated by region.Angle.
func (p *Pipeline) extractUpright(upright *image.Gray, region database.FaceRegion) (Face, error) {
	crop, err := imageops.Crop(upright, region.Rect())
	if err != nil {
		return Face{}, fmt.Errorf("cropping face %v: %w", region.Rect(), err)
	}

	filtered := crop
	if p.dog {
		filtered, err = imageops.DifferenceOfGaussians(crop, p.sigma1, p.sigma2)
		if err != nil {
			return Face{}, fmt.Errorf("illumination filter: %w", err)
		}
	}

	codes, err := lbp.Transform(filtered, p.lbp)
	if err != nil {
		return Face{}, err
	}
	d, err := p.builder.Build(codes, codes.Bounds())
	if err != nil {
		return Face{}, err
	}
	return Face{Region: region, Crop: crop, Descriptor: d}, nil
}

// Describe returns only the descriptor of region.
func (p *Pipeline) Describe(img image.Image, region database.FaceRegion) (descriptor.Descriptor, error) {
	face, err := p.Extract(img, region)
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	return face.Descriptor, nil
}
