package annotation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"github.com/lewtec/rotulador-keypoints/internal/format"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Meta struct {
		Description string `yaml:"description" toml:"description"`
	} `yaml:"meta" toml:"meta"`
	Keypoints ConfigKeypoints       `yaml:"keypoints" toml:"keypoints"`
	Sides     map[string]*ConfigSide `yaml:"sides" toml:"sides"`
	Database  struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"database" toml:"database"`
	Edit     ConfigEdit     `yaml:"edit" toml:"edit"`
	Autosave ConfigAutosave `yaml:"autosave" toml:"autosave"`
	Language string         `yaml:"language" toml:"language"`

	filename string
}

type ConfigKeypoints struct {
	Names    []string             `yaml:"names" toml:"names"`
	Skeleton []domain.SkeletonEdge `yaml:"skeleton" toml:"skeleton"`
}

type ConfigSide struct {
	Images      string `yaml:"images" toml:"images"`
	Annotations string `yaml:"annotations" toml:"annotations"`
}

type ConfigEdit struct {
	SelectRadius      float64 `yaml:"select_radius" toml:"select_radius"`
	HistoryDepth      int     `yaml:"history_depth" toml:"history_depth"`
	Format            string  `yaml:"format" toml:"format"`
	DefaultVisibility int     `yaml:"default_visibility" toml:"default_visibility"`
}

type ConfigAutosave struct {
	Enabled  *bool `yaml:"enabled" toml:"enabled"`
	Interval int   `yaml:"interval" toml:"interval"`
}

const DefaultAutosaveInterval = 30 * time.Second

func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data, filename)
}

// ParseConfig decodes a config. TOML is used when filename ends in .toml,
// YAML otherwise. Relative paths are resolved against the directory of filename.
func ParseConfig(data []byte, filename string) (*Config, error) {
	var ret Config
	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		if _, err := toml.Decode(string(data), &ret); err != nil {
			return nil, domain.Validationf("while parsing %s: %s", filename, err)
		}
	} else if err := yaml.Unmarshal(data, &ret); err != nil {
		return nil, domain.Validationf("while parsing %s: %s", filename, err)
	}
	ret.filename = filename
	if err := ret.normalize(); err != nil {
		return nil, fmt.Errorf("while validating %s: %w", filename, err)
	}
	return &ret, nil
}

func (c *Config) normalize() error {
	if len(c.Keypoints.Names) == 0 {
		def := domain.DefaultDefinition()
		c.Keypoints.Names = def.Names
		if c.Keypoints.Skeleton == nil {
			c.Keypoints.Skeleton = def.Skeleton
		}
	}
	if _, err := c.Definition(); err != nil {
		return err
	}
	if len(c.Sides) == 0 {
		return domain.Validationf("no sides specified")
	}
	for name, side := range c.Sides {
		if _, err := domain.ParseSide(name); err != nil {
			return err
		}
		if side == nil || side.Images == "" {
			return domain.Validationf("side %s does not have an images folder", name)
		}
	}
	if c.Database.Path == "" {
		c.Database.Path = "annotations.db"
	}
	if c.Edit.SelectRadius <= 0 {
		c.Edit.SelectRadius = DefaultSelectRadius
	}
	if c.Edit.HistoryDepth <= 0 {
		c.Edit.HistoryDepth = DefaultHistoryDepth
	}
	switch format.Kind(c.Edit.Format) {
	case "":
		c.Edit.Format = string(format.KindStandard)
	case format.KindStandard, format.KindCOCO:
	default:
		return domain.Validationf("unknown annotation format %q", c.Edit.Format)
	}
	if c.Edit.DefaultVisibility == 0 {
		c.Edit.DefaultVisibility = int(domain.LabeledVisible)
	}
	if v := domain.Visibility(c.Edit.DefaultVisibility); v == domain.NotLabeled || !v.Valid() {
		return domain.Validationf("default visibility must be 1 or 2, got %d", c.Edit.DefaultVisibility)
	}
	if c.Autosave.Interval <= 0 {
		c.Autosave.Interval = int(DefaultAutosaveInterval / time.Second)
	}
	return nil
}

func (c *Config) Definition() (*domain.KeypointDefinition, error) {
	def := &domain.KeypointDefinition{
		Names:    append([]string(nil), c.Keypoints.Names...),
		Skeleton: append([]domain.SkeletonEdge(nil), c.Keypoints.Skeleton...),
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// SideList returns the configured sides in display order
func (c *Config) SideList() []domain.Side {
	var ret []domain.Side
	for _, side := range domain.Sides {
		if _, ok := c.Sides[string(side)]; ok {
			ret = append(ret, side)
		}
	}
	return ret
}

func (c *Config) Side(side domain.Side) *ConfigSide {
	return c.Sides[string(side)]
}

// ResolvePath makes p absolute relative to the config directory
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.filename == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.filename), p)
}

func (c *Config) Filename() string {
	return c.filename
}

func (c *Config) AutosaveEnabled() bool {
	return c.Autosave.Enabled == nil || *c.Autosave.Enabled
}

func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Autosave.Interval) * time.Second
}

func (c *Config) SessionOptions() SessionOptions {
	return SessionOptions{
		SelectRadius:      c.Edit.SelectRadius,
		HistoryDepth:      c.Edit.HistoryDepth,
		DefaultVisibility: domain.Visibility(c.Edit.DefaultVisibility),
	}
}

// WriteSampleConfig writes a commented config for a dual-side project
func WriteSampleConfig(filename, leftImages, rightImages string) error {
	if leftImages == "" {
		leftImages = "images/left"
	}
	if rightImages == "" {
		rightImages = "images/right"
	}
	def := domain.DefaultDefinition()
	var names strings.Builder
	for _, name := range def.Names {
		fmt.Fprintf(&names, "    - %s\n", name)
	}
	var skeleton strings.Builder
	for _, edge := range def.Skeleton {
		fmt.Fprintf(&skeleton, "    - [%d, %d]\n", edge[0], edge[1])
	}
	sampleConfig := fmt.Sprintf(`# rotulador-keypoints configuration file
# This file defines your keypoint annotation project

meta:
  description: |
    Sample keypoint project.
    Edit this description to explain what you're annotating.

# Keypoint names in slot order and the 0-indexed pairs drawn as a skeleton
keypoints:
  names:
%s  skeleton:
%s
# One entry per camera angle. Annotation files are read on start and written on save
sides:
  left:
    images: %s
    annotations: annotations/left.json
  right:
    images: %s
    annotations: annotations/right.json

database:
  path: annotations.db

edit:
  select_radius: 30  # pixels in image space
  history_depth: 50  # undo steps per side
  format: standard   # standard or coco
  default_visibility: 2

autosave:
  enabled: true
  interval: 30  # seconds

# language: pt-BR
`, names.String(), skeleton.String(), leftImages, rightImages)

	return os.WriteFile(filename, []byte(sampleConfig), 0644)
}
