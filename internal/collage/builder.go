package collage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// GroupSize is the number of photographs combined into one collage.
	GroupSize = 3
	// JPEGQuality matches the default quality of common imaging libraries.
	JPEGQuality = 75

	collageNamePattern      = "c_%s_%d.jpg"
	firstCollageNamePattern = "%s_1.jpg"

	errorMessageOpenImage   = "collage: open image"
	errorMessageDecodeImage = "collage: decode image"
	errorMessageWriteImage  = "collage: write collage"
	errorMessageGroup       = "collage: group %d"

	logEventGroupFailed  = "collage_group_failed"
	logEventRenameFailed = "collage_rename_failed"
	logEventCreated      = "collage_created"
)

// Builder turns uploaded photographs into collages written to a directory.
type Builder struct {
	outputDirectory string
	logger          *zap.Logger
}

// NewBuilder creates a Builder writing into outputDirectory.
func NewBuilder(outputDirectory string, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{outputDirectory: outputDirectory, logger: logger}
}

// FileStem turns a client name into the stem used for file names.
func FileStem(clientName string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_")
	return replacer.Replace(strings.TrimSpace(clientName))
}

// BuildAll groups the photographs by GroupSize in order and writes one collage per group.
// Groups that cannot be decoded are skipped; their errors are returned alongside the collages
// that were written. The first collage is renamed to <client>_1.jpg.
func (builder *Builder) BuildAll(ctx context.Context, filePaths []string, clientName string) ([]string, error) {
	stem := FileStem(clientName)
	var collages []string
	var groupErrors *multierror.Error

	for start := 0; start < len(filePaths); start += GroupSize {
		end := start + GroupSize
		if end > len(filePaths) {
			end = len(filePaths)
		}
		groupNumber := start / GroupSize

		outputPath := filepath.Join(builder.outputDirectory, fmt.Sprintf(collageNamePattern, stem, len(collages)+1))
		if buildErr := builder.buildGroup(ctx, filePaths[start:end], outputPath); buildErr != nil {
			builder.logger.Warn(logEventGroupFailed, zap.Int("group", groupNumber), zap.Error(buildErr))
			groupErrors = multierror.Append(groupErrors, fmt.Errorf(errorMessageGroup+": %w", groupNumber, buildErr))
			continue
		}
		builder.logger.Debug(logEventCreated, zap.String("path", outputPath), zap.Int("photos", end-start))
		collages = append(collages, outputPath)
	}

	if len(collages) > 0 {
		collages[0] = builder.renameFirst(collages[0], stem)
	}
	return collages, groupErrors.ErrorOrNil()
}

func (builder *Builder) buildGroup(ctx context.Context, filePaths []string, outputPath string) error {
	images := make([]image.Image, len(filePaths))
	group, groupCtx := errgroup.WithContext(ctx)
	for index, filePath := range filePaths {
		index, filePath := index, filePath
		group.Go(func() error {
			if ctxErr := groupCtx.Err(); ctxErr != nil {
				return ctxErr
			}
			decoded, decodeErr := decodeFile(filePath)
			if decodeErr != nil {
				return decodeErr
			}
			images[index] = decoded
			return nil
		})
	}
	if waitErr := group.Wait(); waitErr != nil {
		return waitErr
	}

	composed, composeErr := Compose(images)
	if composeErr != nil {
		return composeErr
	}
	return writeJPEG(outputPath, composed)
}

func (builder *Builder) renameFirst(collagePath string, stem string) string {
	renamedPath := filepath.Join(filepath.Dir(collagePath), fmt.Sprintf(firstCollageNamePattern, stem))
	if removeErr := os.Remove(renamedPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		builder.logger.Warn(logEventRenameFailed, zap.String("path", renamedPath), zap.Error(removeErr))
		return collagePath
	}
	if renameErr := os.Rename(collagePath, renamedPath); renameErr != nil {
		builder.logger.Warn(logEventRenameFailed, zap.String("path", collagePath), zap.Error(renameErr))
		return collagePath
	}
	return renamedPath
}

func decodeFile(filePath string) (image.Image, error) {
	file, openErr := os.Open(filePath)
	if openErr != nil {
		return nil, fmt.Errorf("%s %s: %w", errorMessageOpenImage, filepath.Base(filePath), openErr)
	}
	defer file.Close()

	decoded, _, decodeErr := image.Decode(file)
	if decodeErr != nil {
		return nil, fmt.Errorf("%s %s: %w", errorMessageDecodeImage, filepath.Base(filePath), decodeErr)
	}
	return decoded, nil
}

func writeJPEG(outputPath string, composed image.Image) error {
	file, createErr := os.Create(outputPath)
	if createErr != nil {
		return fmt.Errorf("%s: %w", errorMessageWriteImage, createErr)
	}
	encodeErr := jpeg.Encode(file, composed, &jpeg.Options{Quality: JPEGQuality})
	closeErr := file.Close()
	if encodeErr != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("%s: %w", errorMessageWriteImage, encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%s: %w", errorMessageWriteImage, closeErr)
	}
	return nil
}
