package collage

import (
	"errors"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

const (
	// Margin is the white border around the strip of photographs.
	Margin = 25
	// Gap is the white space between two neighbouring photographs.
	Gap = 20

	errorMessageNoImages    = "collage: no images"
	errorMessageEmptyImage  = "collage: image has no pixels"
	backgroundChannelMaxima = 0xff
)

var (
	// ErrNoImages indicates Compose was called without images.
	ErrNoImages = errors.New(errorMessageNoImages)
	// ErrEmptyImage indicates an image with a zero width or height.
	ErrEmptyImage = errors.New(errorMessageEmptyImage)

	backgroundColor = color.RGBA{R: backgroundChannelMaxima, G: backgroundChannelMaxima, B: backgroundChannelMaxima, A: backgroundChannelMaxima}
)

// Compose lays the images out left to right on a white canvas.
// Every image is scaled to the height of the shortest one, keeping its aspect ratio.
func Compose(images []image.Image) (*image.RGBA, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	minimumHeight := 0
	for index, source := range images {
		bounds := source.Bounds()
		if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
			return nil, ErrEmptyImage
		}
		if index == 0 || bounds.Dy() < minimumHeight {
			minimumHeight = bounds.Dy()
		}
	}

	targetWidths := make([]int, len(images))
	totalWidth := 2*Margin + (len(images)-1)*Gap
	for index, source := range images {
		bounds := source.Bounds()
		width := bounds.Dx() * minimumHeight / bounds.Dy()
		if width < 1 {
			width = 1
		}
		targetWidths[index] = width
		totalWidth += width
	}

	canvas := image.NewRGBA(image.Rect(0, 0, totalWidth, minimumHeight+2*Margin))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	offsetX := Margin
	for index, source := range images {
		target := image.Rect(offsetX, Margin, offsetX+targetWidths[index], Margin+minimumHeight)
		draw.CatmullRom.Scale(canvas, target, source, fitCrop(source.Bounds(), target.Dx(), target.Dy()), draw.Over, nil)
		offsetX += targetWidths[index] + Gap
	}
	return canvas, nil
}

// fitCrop returns the centred part of bounds that has the aspect ratio of width x height.
func fitCrop(bounds image.Rectangle, width int, height int) image.Rectangle {
	sourceWidth := bounds.Dx()
	sourceHeight := bounds.Dy()

	if sourceWidth*height > width*sourceHeight {
		croppedWidth := (sourceHeight*width + height/2) / height
		if croppedWidth < 1 {
			croppedWidth = 1
		}
		left := bounds.Min.X + (sourceWidth-croppedWidth)/2
		return image.Rect(left, bounds.Min.Y, left+croppedWidth, bounds.Max.Y)
	}

	croppedHeight := (sourceWidth*height + width/2) / width
	if croppedHeight < 1 {
		croppedHeight = 1
	}
	top := bounds.Min.Y + (sourceHeight-croppedHeight)/2
	return image.Rect(bounds.Min.X, top, bounds.Max.X, top+croppedHeight)
}
