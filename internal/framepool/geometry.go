package framepool

import (
	"errors"
	"fmt"
)

// ScanType is the scan format of a frame.
type ScanType string

// Scan types.
const (
	Progressive ScanType = "progressive"
	Interlaced  ScanType = "interlaced"
)

// FieldType is the polarity of an interlaced field.
type FieldType string

// Field polarities.
const (
	TopField    FieldType = "top"
	BottomField FieldType = "bottom"
)

// ColorSpace identifies the color encoding of a frame.
type ColorSpace string

// Color spaces understood by the color converter.
const (
	ColorSpaceRGB    ColorSpace = "rgb"
	ColorSpaceBT601  ColorSpace = "bt601"
	ColorSpaceBT709  ColorSpace = "bt709"
	ColorSpaceBT2020 ColorSpace = "bt2020"
)

// Sampling is the chroma sampling of a frame.
type Sampling string

// Chroma samplings.
const (
	Sampling420 Sampling = "420"
	Sampling422 Sampling = "422"
	Sampling444 Sampling = "444"
)

// VideoInfo describes the raster of one side of a scaling job.
type VideoInfo struct {
	Width      uint32     `json:"width" toml:"width"`
	Height     uint32     `json:"height" toml:"height"`
	Scan       ScanType   `json:"scan" toml:"scan"`
	Field      FieldType  `json:"field,omitempty" toml:"field"`
	ColorSpace ColorSpace `json:"color_space,omitempty" toml:"color_space"`
	Sampling   Sampling   `json:"sampling,omitempty" toml:"sampling"`
}

// Interlaced reports whether the raster carries fields.
func (v VideoInfo) Interlaced() bool {
	return v.Scan == Interlaced
}

// Window is a rectangle inside a raster. The zero Window means "whole raster".
type Window struct {
	HStart uint32 `json:"h_start" toml:"h_start"`
	VStart uint32 `json:"v_start" toml:"v_start"`
	Width  uint32 `json:"width" toml:"width"`
	Height uint32 `json:"height" toml:"height"`
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w == Window{}
}

// Geometry is everything about a frame the engine needs besides its buffers.
type Geometry struct {
	Input  VideoInfo `json:"input"`
	Output VideoInfo `json:"output"`
	// Crop selects the part of the input that is scaled.
	Crop Window `json:"crop"`
	// Active is the output active window; the remainder of the output is border.
	Active Window `json:"active"`
}

// ErrGeometry is wrapped by every error returned from Validate.
var ErrGeometry = errors.New("invalid geometry")

// Validate checks that crop and output windows are consistent with the rasters.
func (g Geometry) Validate() error {
	if err := validateInfo("input", g.Input); err != nil {
		return err
	}
	if err := validateInfo("output", g.Output); err != nil {
		return err
	}

	if !g.Crop.IsZero() {
		if g.Crop.Width == 0 || g.Crop.Height == 0 {
			return fmt.Errorf("%w: empty crop window %dx%d", ErrGeometry, g.Crop.Width, g.Crop.Height)
		}
		if !fits(g.Crop, g.Input) {
			return fmt.Errorf("%w: crop window %+v outside input %dx%d",
				ErrGeometry, g.Crop, g.Input.Width, g.Input.Height)
		}
	}

	// A zero active window disables the border block.
	if !g.Active.IsZero() {
		if g.Active.Width == 0 || g.Active.Height == 0 {
			return fmt.Errorf("%w: empty active window %dx%d", ErrGeometry, g.Active.Width, g.Active.Height)
		}
		if !fits(g.Active, g.Output) {
			return fmt.Errorf("%w: active window %+v outside output %dx%d",
				ErrGeometry, g.Active, g.Output.Width, g.Output.Height)
		}
	}
	return nil
}

// CropOrFull returns the crop window, or the whole input when no crop is set.
func (g Geometry) CropOrFull() Window {
	if g.Crop.IsZero() {
		return Window{Width: g.Input.Width, Height: g.Input.Height}
	}
	return g.Crop
}

func validateInfo(side string, v VideoInfo) error {
	if v.Width == 0 || v.Height == 0 {
		return fmt.Errorf("%w: %s size %dx%d", ErrGeometry, side, v.Width, v.Height)
	}
	switch v.Scan {
	case Progressive:
	case Interlaced:
		if v.Field != TopField && v.Field != BottomField {
			return fmt.Errorf("%w: %s is interlaced but field polarity is %q", ErrGeometry, side, v.Field)
		}
	default:
		return fmt.Errorf("%w: %s scan type %q", ErrGeometry, side, v.Scan)
	}
	switch v.Sampling {
	case "", Sampling420, Sampling422, Sampling444:
	default:
		return fmt.Errorf("%w: %s sampling %q", ErrGeometry, side, v.Sampling)
	}
	return nil
}

// fits uses 64-bit sums so start+size cannot wrap.
func fits(w Window, v VideoInfo) bool {
	return uint64(w.HStart)+uint64(w.Width) <= uint64(v.Width) &&
		uint64(w.VStart)+uint64(w.Height) <= uint64(v.Height)
}
