package cutout

import (
	"strconv"
	"strings"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// Stencil is a geometric selector for a cutout. Variants are tagged by Type
// rather than modeled as separate structs so they serialize uniformly into
// dispatch payloads.
type Stencil struct {
	Type string `json:"type"`
	// Center and Radius are set for circles.
	Center []float64 `json:"center,omitempty"`
	Radius float64   `json:"radius,omitempty"`
	// Vertices holds flattened ra/dec pairs for polygons.
	Vertices []float64 `json:"vertices,omitempty"`
	// Ra and Dec are min/max pairs for ranges.
	Ra  []float64 `json:"ra,omitempty"`
	Dec []float64 `json:"dec,omitempty"`
}

const (
	StencilCircle  = "circle"
	StencilPolygon = "polygon"
	StencilRange   = "range"
)

func parseFloats(value string) ([]float64, error) {
	fields := strings.Fields(value)
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, uws.NewParameterError("invalid number %q in stencil", f)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseCircle(value string) (*Stencil, error) {
	nums, err := parseFloats(value)
	if err != nil {
		return nil, err
	}
	if len(nums) != 3 {
		return nil, uws.NewParameterError("circle requires ra, dec, and radius, got %q", value)
	}
	if nums[2] <= 0 {
		return nil, uws.NewParameterError("circle radius must be positive, got %g", nums[2])
	}
	return &Stencil{Type: StencilCircle, Center: nums[:2], Radius: nums[2]}, nil
}

func parsePolygon(value string) (*Stencil, error) {
	nums, err := parseFloats(value)
	if err != nil {
		return nil, err
	}
	if len(nums) < 6 || len(nums)%2 != 0 {
		return nil, uws.NewParameterError("polygon requires at least three ra/dec pairs, got %q", value)
	}
	return &Stencil{Type: StencilPolygon, Vertices: nums}, nil
}

func parseRange(value string) (*Stencil, error) {
	nums, err := parseFloats(value)
	if err != nil {
		return nil, err
	}
	if len(nums) != 4 {
		return nil, uws.NewParameterError("range requires ra1, ra2, dec1, dec2, got %q", value)
	}
	return &Stencil{Type: StencilRange, Ra: nums[:2], Dec: nums[2:]}, nil
}

// ParseStencil interprets a single stencil parameter. The pos parameter
// carries its shape as a leading token; the circle and polygon parameters
// imply theirs.
func ParseStencil(paramID, value string) (*Stencil, error) {
	value = strings.TrimSpace(value)
	switch paramID {
	case "circle":
		return parseCircle(value)
	case "polygon":
		return parsePolygon(value)
	case "pos":
		shape, rest, _ := strings.Cut(value, " ")
		switch strings.ToUpper(shape) {
		case "CIRCLE":
			return parseCircle(rest)
		case "POLYGON":
			return parsePolygon(rest)
		case "RANGE":
			return parseRange(rest)
		default:
			return nil, uws.NewParameterError("unknown pos shape %q", shape)
		}
	default:
		return nil, uws.NewParameterError("parameter %q is not a stencil", paramID)
	}
}

func isStencilParam(paramID string) bool {
	switch paramID {
	case "pos", "circle", "polygon":
		return true
	}
	return false
}
