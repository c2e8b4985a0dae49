package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every region file validation failure.
var ErrInvalidConfig = errors.New("invalid region config")

// regionFile mirrors the YAML region layout file.
type regionFile struct {
	Timestamp   *regionEntry  `yaml:"timestamp_region"`
	RegionOrder []string      `yaml:"region_order"`
	Regions     []regionEntry `yaml:"regions"`
}

type regionEntry struct {
	Name              string             `yaml:"name"`
	X                 int                `yaml:"x"`
	Y                 int                `yaml:"y"`
	Width             int                `yaml:"width"`
	Height            int                `yaml:"height"`
	Scale             float64            `yaml:"scale"`
	Transform         *transformEntry    `yaml:"transform"`
	Points            []pointEntry       `yaml:"points"`
	TransparentWindow *transparentWindow `yaml:"transparent_window"`
}

type transformEntry struct {
	Kind string `yaml:"kind"`
	Low  *int   `yaml:"low"`
	High *int   `yaml:"high"`
}

type pointEntry struct {
	X     int       `yaml:"x"`
	Y     int       `yaml:"y"`
	Color yamlColor `yaml:"color"`
}

type transparentWindow struct {
	Clear       Box     `yaml:"clear"`
	Translucent Box     `yaml:"translucent"`
	Difference  float64 `yaml:"difference"`
}

// yamlColor accepts either a "#rrggbb" string or an integer 0xRRGGBB.
type yamlColor RGB

func (c *yamlColor) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: colour must be a scalar", value.Line)
	}

	if value.Tag == "!!int" {
		n, err := strconv.ParseInt(value.Value, 0, 64)
		if err != nil {
			return fmt.Errorf("line %d: parse colour %q: %w", value.Line, value.Value, err)
		}
		if n < 0 || n > 0xffffff {
			return fmt.Errorf("line %d: colour %q out of range", value.Line, value.Value)
		}
		*c = yamlColor{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}
		return nil
	}

	s := value.Value
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	parsed, err := colorful.Hex(s)
	if err != nil {
		return fmt.Errorf("line %d: parse colour %q: %w", value.Line, value.Value, err)
	}
	r, g, b := parsed.RGB255()
	*c = yamlColor{R: r, G: g, B: b}
	return nil
}

// LoadRegionFile reads and validates a YAML region layout for frames of the
// given size.
func LoadRegionFile(path string, frameWidth, frameHeight int) (*RegionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read region file: %w", err)
	}
	return ParseRegions(data, frameWidth, frameHeight)
}

// ParseRegions decodes and validates a YAML region layout.
func ParseRegions(data []byte, frameWidth, frameHeight int) (*RegionSet, error) {
	var file regionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	v := validator{frame: Box{Width: frameWidth, Height: frameHeight}}

	if file.Timestamp == nil {
		return nil, fmt.Errorf("%w: timestamp_region is required", ErrInvalidConfig)
	}
	if len(file.Timestamp.Points) > 0 || file.Timestamp.TransparentWindow != nil {
		return nil, fmt.Errorf("%w: timestamp_region must not declare a match criterion", ErrInvalidConfig)
	}
	timestamp, err := v.region(*file.Timestamp, false)
	if err != nil {
		return nil, err
	}
	if timestamp.Name == "" {
		timestamp.Name = "timestamp"
	}

	if len(file.Regions) == 0 {
		return nil, fmt.Errorf("%w: at least one region is required", ErrInvalidConfig)
	}

	byName := make(map[string]Region, len(file.Regions))
	declared := make([]Region, 0, len(file.Regions))
	for _, entry := range file.Regions {
		region, err := v.region(entry, true)
		if err != nil {
			return nil, err
		}
		if _, dup := byName[region.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate region name %q", ErrInvalidConfig, region.Name)
		}
		byName[region.Name] = region
		declared = append(declared, region)
	}

	regions := declared
	if len(file.RegionOrder) > 0 {
		regions = make([]Region, 0, len(file.RegionOrder))
		seen := make(map[string]bool, len(file.RegionOrder))
		for _, name := range file.RegionOrder {
			region, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("%w: region_order references unknown region %q", ErrInvalidConfig, name)
			}
			if seen[name] {
				return nil, fmt.Errorf("%w: region_order lists %q twice", ErrInvalidConfig, name)
			}
			seen[name] = true
			regions = append(regions, region)
		}
	}

	return &RegionSet{Regions: regions, Timestamp: timestamp}, nil
}

type validator struct {
	frame Box
}

func (v validator) region(entry regionEntry, needCriterion bool) (Region, error) {
	region := Region{
		Name:  strings.TrimSpace(entry.Name),
		Box:   Box{X: entry.X, Y: entry.Y, Width: entry.Width, Height: entry.Height},
		Scale: entry.Scale,
	}
	if needCriterion && region.Name == "" {
		return Region{}, fmt.Errorf("%w: region without name", ErrInvalidConfig)
	}
	if err := v.box(region.Name, "box", region.Box); err != nil {
		return Region{}, err
	}

	if region.Scale == 0 {
		region.Scale = 1.0
	}
	if region.Scale < 0 {
		return Region{}, fmt.Errorf("%w: region %q: scale must be positive", ErrInvalidConfig, region.Name)
	}

	transform, err := parseTransform(region.Name, entry.Transform)
	if err != nil {
		return Region{}, err
	}
	region.Transform = transform

	if !needCriterion {
		return region, nil
	}

	hasPoints := len(entry.Points) > 0
	hasWindow := entry.TransparentWindow != nil
	switch {
	case hasPoints && hasWindow:
		return Region{}, fmt.Errorf("%w: region %q declares both points and transparent_window", ErrInvalidConfig, region.Name)
	case hasPoints:
		match := PointMatch{Points: make([]ColorPoint, 0, len(entry.Points))}
		for _, p := range entry.Points {
			if p.X < 0 || p.Y < 0 || p.X >= v.frame.Width || p.Y >= v.frame.Height {
				return Region{}, fmt.Errorf("%w: region %q: point (%d,%d) outside %dx%d frame",
					ErrInvalidConfig, region.Name, p.X, p.Y, v.frame.Width, v.frame.Height)
			}
			match.Points = append(match.Points, ColorPoint{X: p.X, Y: p.Y, Color: RGB(p.Color)})
		}
		region.Criterion = match
	case hasWindow:
		w := entry.TransparentWindow
		if err := v.box(region.Name, "clear", w.Clear); err != nil {
			return Region{}, err
		}
		if err := v.box(region.Name, "translucent", w.Translucent); err != nil {
			return Region{}, err
		}
		if w.Difference < 0 || w.Difference > 1 {
			return Region{}, fmt.Errorf("%w: region %q: difference %v outside [0,1]", ErrInvalidConfig, region.Name, w.Difference)
		}
		region.Criterion = TransparentWindowMatch{Clear: w.Clear, Translucent: w.Translucent, Difference: w.Difference}
	default:
		return Region{}, fmt.Errorf("%w: region %q: %v", ErrInvalidConfig, region.Name, ErrNoCriterion)
	}

	return region, nil
}

func (v validator) box(region, what string, b Box) error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: region %q: %s must have a positive size", ErrInvalidConfig, region, what)
	}
	if !b.Rect().In(v.frame.Rect()) {
		return fmt.Errorf("%w: region %q: %s %v outside %dx%d frame",
			ErrInvalidConfig, region, what, b, v.frame.Width, v.frame.Height)
	}
	return nil
}

func parseTransform(region string, entry *transformEntry) (Transform, error) {
	if entry == nil {
		return Transform{}, nil
	}

	switch entry.Kind {
	case "", "none":
		return Transform{}, nil
	case "contrast_stretch":
		low, high := 127, 255
		if entry.Low != nil {
			low = *entry.Low
		}
		if entry.High != nil {
			high = *entry.High
		}
		if low < 0 || high > 255 || low >= high {
			return Transform{}, fmt.Errorf("%w: region %q: contrast_stretch needs 0 <= low < high <= 255", ErrInvalidConfig, region)
		}
		return ContrastStretch(uint8(low), uint8(high)), nil
	default:
		return Transform{}, fmt.Errorf("%w: region %q: unknown transform %q", ErrInvalidConfig, region, entry.Kind)
	}
}
