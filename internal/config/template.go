package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/dcsf/internal/model"
)

// DefaultTemplateName is used when no template is configured.
const DefaultTemplateName = "default"

// ErrTemplateNotFound is returned when a named template has no file.
var ErrTemplateNotFound = errors.New("template not found")

// templateFile is the on-disk template. Absent fields take the defaults of
// DefaultBasic and DefaultModule.
type templateFile struct {
	Basic   basicFile    `toml:"basic" yaml:"basic"`
	Modules []moduleFile `toml:"modules" yaml:"modules"`
}

type basicFile struct {
	Name            *string  `toml:"name" yaml:"name"`
	BgRGB           *string  `toml:"bg-rgb" yaml:"bg-rgb"`
	BgLuminance     *float64 `toml:"bg-luminance" yaml:"bg-luminance"`
	GratingSizeDeg  *float64 `toml:"grating-size" yaml:"grating-size"`
	Orientation     *string  `toml:"orientation" yaml:"orientation"`
	GratingGray     *int     `toml:"grating-gray" yaml:"grating-gray"`
	AvgLuminance    *float64 `toml:"avg-luminance" yaml:"avg-luminance"`
	DistanceCm      *float64 `toml:"distance" yaml:"distance"`
	ScreenWCm       *float64 `toml:"screen-w" yaml:"screen-w"`
	ScreenHCm       *float64 `toml:"screen-h" yaml:"screen-h"`
	ModuleGapSec    *float64 `toml:"module-gap" yaml:"module-gap"`
	Order           *string  `toml:"order" yaml:"order"`
	ResultReversalN *int     `toml:"result-reversals" yaml:"result-reversals"`
	ShowParams      *bool    `toml:"show-params" yaml:"show-params"`
	Mode            *string  `toml:"mode" yaml:"mode"`
}

type moduleFile struct {
	ID              *int64   `toml:"id" yaml:"id"`
	Name            *string  `toml:"name" yaml:"name"`
	SpatialFreq     *float64 `toml:"spatial" yaml:"spatial"`
	TemporalFreq    *float64 `toml:"temporal" yaml:"temporal"`
	IntervalSec     *float64 `toml:"interval" yaml:"interval"`
	DurationSec     *float64 `toml:"duration" yaml:"duration"`
	InitialContrast *float64 `toml:"initial-contrast" yaml:"initial-contrast"`
	UpRule          *int     `toml:"up" yaml:"up"`
	DownRule        *int     `toml:"down" yaml:"down"`
	ReversalTarget  *int     `toml:"reversal" yaml:"reversal"`
	StepCorrect     *float64 `toml:"step-correct" yaml:"step-correct"`
	StepWrong       *float64 `toml:"step-wrong" yaml:"step-wrong"`
}

// DefaultBasic returns the session defaults of a new template.
func DefaultBasic() model.BasicConfig {
	return model.BasicConfig{
		Name:            DefaultTemplateName,
		BgRGB:           "128,128,128",
		BgLuminance:     50,
		GratingSizeDeg:  5,
		Orientation:     model.OrientationVertical,
		GratingGray:     128,
		AvgLuminance:    50,
		DistanceCm:      60,
		ScreenWCm:       50,
		ScreenHCm:       30,
		ModuleGapSec:    1,
		Order:           model.OrderFixed,
		ResultReversalN: 6,
		ShowParams:      true,
		Mode:            model.ModeAuto,
	}
}

// DefaultModule returns the defaults of the n-th (1-based) module.
func DefaultModule(n int) model.ModuleSpec {
	return model.ModuleSpec{
		ID:              int64(n),
		Name:            fmt.Sprintf("Module %d", n),
		SpatialFreq:     4,
		TemporalFreq:    2,
		IntervalSec:     1,
		DurationSec:     1,
		InitialContrast: 50,
		UpRule:          1,
		DownRule:        1,
		ReversalTarget:  10,
		StepCorrect:     80,
		StepWrong:       120,
	}
}

// DefaultTemplate returns a one-module template built from the defaults.
func DefaultTemplate() model.Template {
	return model.Template{
		Basic:   DefaultBasic(),
		Modules: []model.ModuleSpec{DefaultModule(1)},
	}
}

// ResolveTemplatePath maps a template name or path to a file. A value with a
// path separator or a known extension is used as is; otherwise the template
// directory is searched for name.toml, name.yaml and name.yml.
func ResolveTemplatePath(dir, name string) (string, error) {
	if name == "" {
		name = DefaultTemplateName
	}
	if strings.ContainsRune(name, os.PathSeparator) || templateExt(name) != "" {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("failed to stat template: %w", err)
		}
		return name, nil
	}
	for _, ext := range []string{".toml", ".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

// LoadNamedTemplate resolves and loads a template. The default template
// falls back to the built-in defaults when no file exists.
func LoadNamedTemplate(dir, name string) (model.Template, error) {
	path, err := ResolveTemplatePath(dir, name)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) && (name == "" || name == DefaultTemplateName) {
			return DefaultTemplate(), nil
		}
		return model.Template{}, err
	}
	return LoadTemplate(path)
}

// LoadTemplate reads a TOML or YAML template, applies defaults and validates it.
func LoadTemplate(path string) (model.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Template{}, fmt.Errorf("failed to read template: %w", err)
	}
	var tf templateFile
	switch templateExt(path) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&tf); err != nil {
			return model.Template{}, fmt.Errorf("failed to decode template: %w", err)
		}
	default:
		md, err := toml.Decode(string(data), &tf)
		if err != nil {
			return model.Template{}, fmt.Errorf("failed to decode template: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return model.Template{}, fmt.Errorf("unknown template key %q", undecoded[0].String())
		}
	}
	tpl := tf.template()
	if tpl.Basic.Name == DefaultTemplateName && tf.Basic.Name == nil {
		tpl.Basic.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := ValidateTemplate(tpl); err != nil {
		return model.Template{}, fmt.Errorf("invalid template %s: %w", path, err)
	}
	return tpl, nil
}

// ValidateTemplate checks ranges and enums of a template.
func ValidateTemplate(tpl model.Template) error {
	return model.Validate(tpl)
}

func templateExt(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml", ".yaml", ".yml":
		return ext
	default:
		return ""
	}
}

func (tf templateFile) template() model.Template {
	b := DefaultBasic()
	fb := tf.Basic
	setString(&b.Name, fb.Name)
	setString(&b.BgRGB, fb.BgRGB)
	setFloat(&b.BgLuminance, fb.BgLuminance)
	setFloat(&b.GratingSizeDeg, fb.GratingSizeDeg)
	if fb.Orientation != nil {
		b.Orientation = model.Orientation(*fb.Orientation)
	}
	setInt(&b.GratingGray, fb.GratingGray)
	setFloat(&b.AvgLuminance, fb.AvgLuminance)
	setFloat(&b.DistanceCm, fb.DistanceCm)
	setFloat(&b.ScreenWCm, fb.ScreenWCm)
	setFloat(&b.ScreenHCm, fb.ScreenHCm)
	setFloat(&b.ModuleGapSec, fb.ModuleGapSec)
	if fb.Order != nil {
		b.Order = model.Order(*fb.Order)
	}
	setInt(&b.ResultReversalN, fb.ResultReversalN)
	if fb.ShowParams != nil {
		b.ShowParams = *fb.ShowParams
	}
	if fb.Mode != nil {
		b.Mode = model.Mode(*fb.Mode)
	}

	modules := make([]model.ModuleSpec, 0, len(tf.Modules))
	for i, fm := range tf.Modules {
		m := DefaultModule(i + 1)
		if fm.ID != nil {
			m.ID = *fm.ID
		}
		setString(&m.Name, fm.Name)
		setFloat(&m.SpatialFreq, fm.SpatialFreq)
		setFloat(&m.TemporalFreq, fm.TemporalFreq)
		setFloat(&m.IntervalSec, fm.IntervalSec)
		setFloat(&m.DurationSec, fm.DurationSec)
		setFloat(&m.InitialContrast, fm.InitialContrast)
		setInt(&m.UpRule, fm.UpRule)
		setInt(&m.DownRule, fm.DownRule)
		setInt(&m.ReversalTarget, fm.ReversalTarget)
		setFloat(&m.StepCorrect, fm.StepCorrect)
		setFloat(&m.StepWrong, fm.StepWrong)
		modules = append(modules, m)
	}
	return model.Template{Basic: b, Modules: modules}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// DefaultTemplateTOML is written by `dcsf config --template`.
const DefaultTemplateTOML = `# dcsf test template
# Every key is optional; absent keys use the values shown.

[basic]
name = "default"
bg-rgb = "128,128,128"
bg-luminance = 50.0
grating-size = 5.0     # degrees of visual angle
orientation = "vertical"  # vertical | horizontal
grating-gray = 128
avg-luminance = 50.0
distance = 60.0        # cm
screen-w = 50.0        # cm
screen-h = 30.0        # cm
module-gap = 1.0       # seconds between modules
order = "ordered"      # ordered | random
result-reversals = 6   # reversals averaged into the threshold, 0 = all
show-params = true
mode = "auto"          # auto | manual

[[modules]]
name = "Module 1"
spatial = 4.0          # cycles per degree
temporal = 2.0         # Hz
interval = 1.0         # seconds a response is still accepted after the stimulus
duration = 1.0         # seconds the stimulus is shown
initial-contrast = 50.0
up = 1                 # wrong answers in a row before contrast rises
down = 1               # correct answers in a row before contrast drops
reversal = 10          # reversals that end the module
step-correct = 80.0    # percent applied after a down step
step-wrong = 120.0     # percent applied after an up step
`

// WriteDefaultTemplate creates the default template at path unless it exists.
func WriteDefaultTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat template: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create template dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultTemplateTOML), 0o644); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}
