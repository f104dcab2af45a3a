package collage_test

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/collage"
)

const testClientName = "Jean Dupont"

func writePhoto(testingT *testing.T, directory string, name string, width int, height int) string {
	testingT.Helper()
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			canvas.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	path := filepath.Join(directory, name)
	file, createErr := os.Create(path)
	require.NoError(testingT, createErr)
	defer file.Close()
	if filepath.Ext(name) == ".png" {
		require.NoError(testingT, png.Encode(file, canvas))
	} else {
		require.NoError(testingT, jpeg.Encode(file, canvas, nil))
	}
	return path
}

func decodeJPEG(testingT *testing.T, path string) image.Image {
	testingT.Helper()
	file, openErr := os.Open(path)
	require.NoError(testingT, openErr)
	defer file.Close()
	decoded, decodeErr := jpeg.Decode(file)
	require.NoError(testingT, decodeErr)
	return decoded
}

func TestBuildAllGroupsPhotosByThree(testingT *testing.T) {
	inputDirectory := testingT.TempDir()
	outputDirectory := testingT.TempDir()
	var photos []string
	for index := 1; index <= 4; index++ {
		photos = append(photos, writePhoto(testingT, inputDirectory, "photo"+strconv.Itoa(index)+".jpg", 40, 30))
	}

	builder := collage.NewBuilder(outputDirectory, zap.NewNop())
	collages, buildErr := builder.BuildAll(context.Background(), photos, testClientName)
	require.NoError(testingT, buildErr)
	require.Equal(testingT, []string{
		filepath.Join(outputDirectory, "Jean_Dupont_1.jpg"),
		filepath.Join(outputDirectory, "c_Jean_Dupont_2.jpg"),
	}, collages)

	first := decodeJPEG(testingT, collages[0])
	require.Equal(testingT, 3*40+2*collage.Gap+2*collage.Margin, first.Bounds().Dx())
	require.Equal(testingT, 30+2*collage.Margin, first.Bounds().Dy())

	second := decodeJPEG(testingT, collages[1])
	require.Equal(testingT, 40+2*collage.Margin, second.Bounds().Dx())

	_, statErr := os.Stat(filepath.Join(outputDirectory, "c_Jean_Dupont_1.jpg"))
	require.ErrorIs(testingT, statErr, os.ErrNotExist)
}

func TestBuildAllSkipsUndecodableGroups(testingT *testing.T) {
	inputDirectory := testingT.TempDir()
	outputDirectory := testingT.TempDir()
	corrupt := filepath.Join(inputDirectory, "corrupt.jpg")
	require.NoError(testingT, os.WriteFile(corrupt, []byte("not an image"), 0o600))

	photos := []string{
		corrupt,
		writePhoto(testingT, inputDirectory, "a.png", 20, 20),
		writePhoto(testingT, inputDirectory, "b.jpg", 20, 20),
		writePhoto(testingT, inputDirectory, "c.png", 20, 10),
	}

	builder := collage.NewBuilder(outputDirectory, zap.NewNop())
	collages, buildErr := builder.BuildAll(context.Background(), photos, testClientName)
	require.Error(testingT, buildErr)
	require.Contains(testingT, buildErr.Error(), "corrupt.jpg")
	require.Equal(testingT, []string{filepath.Join(outputDirectory, "Jean_Dupont_1.jpg")}, collages)

	single := decodeJPEG(testingT, collages[0])
	require.Equal(testingT, 10+2*collage.Margin, single.Bounds().Dy())
}

func TestBuildAllReplacesExistingFirstCollage(testingT *testing.T) {
	inputDirectory := testingT.TempDir()
	outputDirectory := testingT.TempDir()
	stale := filepath.Join(outputDirectory, "Jean_Dupont_1.jpg")
	require.NoError(testingT, os.WriteFile(stale, []byte("stale"), 0o600))

	photos := []string{writePhoto(testingT, inputDirectory, "a.jpg", 16, 16)}
	builder := collage.NewBuilder(outputDirectory, nil)
	collages, buildErr := builder.BuildAll(context.Background(), photos, testClientName)
	require.NoError(testingT, buildErr)
	require.Equal(testingT, []string{stale}, collages)
	decodeJPEG(testingT, stale)
}

func TestBuildAllWithoutPhotosReturnsNothing(testingT *testing.T) {
	builder := collage.NewBuilder(testingT.TempDir(), zap.NewNop())
	collages, buildErr := builder.BuildAll(context.Background(), nil, testClientName)
	require.NoError(testingT, buildErr)
	require.Empty(testingT, collages)
}

func TestFileStemReplacesSeparators(testingT *testing.T) {
	require.Equal(testingT, "Jean_Dupont", collage.FileStem(" Jean Dupont "))
	require.Equal(testingT, "a_b_c", collage.FileStem("a/b\\c"))
	require.Equal(testingT, "__etc", collage.FileStem("../etc"))
}
