package graphapi

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Control is one of the fixed, user-facing parameters the panel exposes
type Control string

const (
	ControlPositivePrompt Control = "positive_prompt"
	ControlNegativePrompt Control = "negative_prompt"
	ControlSeed           Control = "seed"
	ControlSteps          Control = "steps"
	ControlCFG            Control = "cfg"
	ControlSamplerName    Control = "sampler_name"
	ControlScheduler      Control = "scheduler"
	ControlWidth          Control = "width"
	ControlHeight         Control = "height"
	ControlBatchSize      Control = "batch_size"
	ControlModel          Control = "ckpt_name"
)

// ValueType is the declared type of a Control, used for coercion on injection
type ValueType string

const (
	StringValue  ValueType = "STRING"
	IntegerValue ValueType = "INT"
	FloatValue   ValueType = "FLOAT"
)

type controlInfo struct {
	label     string
	valueType ValueType
}

var controlInfos = map[Control]controlInfo{
	ControlPositivePrompt: {"Positive Prompt", StringValue},
	ControlNegativePrompt: {"Negative Prompt", StringValue},
	ControlSeed:           {"Seed", IntegerValue},
	ControlSteps:          {"Steps", IntegerValue},
	ControlCFG:            {"CFG Scale", FloatValue},
	ControlSamplerName:    {"Sampler", StringValue},
	ControlScheduler:      {"Scheduler", StringValue},
	ControlWidth:          {"Width", IntegerValue},
	ControlHeight:         {"Height", IntegerValue},
	ControlBatchSize:      {"Batch Size", IntegerValue},
	ControlModel:          {"Checkpoint Model", StringValue},
}

// AllControls returns every Control in display order
func AllControls() []Control {
	return []Control{
		ControlPositivePrompt,
		ControlNegativePrompt,
		ControlSeed,
		ControlSteps,
		ControlCFG,
		ControlSamplerName,
		ControlScheduler,
		ControlWidth,
		ControlHeight,
		ControlBatchSize,
		ControlModel,
	}
}

// ParseControl converts a control name into a Control
func ParseControl(name string) (Control, error) {
	c := Control(name)
	if _, ok := controlInfos[c]; !ok {
		return "", fmt.Errorf("unknown control %q", name)
	}
	return c, nil
}

func (c Control) Label() string {
	return controlInfos[c].label
}

func (c Control) ValueType() ValueType {
	return controlInfos[c].valueType
}

// IsNumeric reports whether injected values for c are coerced to numbers
func (c Control) IsNumeric() bool {
	t := c.ValueType()
	return t == IntegerValue || t == FloatValue
}

var (
	samplerOptions   = []string{"euler", "euler_ancestral", "heun", "dpm_2", "dpm_2_ancestral", "lms", "dpm_fast", "dpm_adaptive", "ddim", "uni_pc"}
	schedulerOptions = []string{"normal", "karras", "exponential", "sgm_uniform", "simple", "ddim_uniform"}
)

// FieldOptions returns the fixed choices for combo-style controls, or nil for free input.
// Without the backend's object_info these lists are a static best guess.
func FieldOptions(c Control) []string {
	switch c {
	case ControlSamplerName:
		return append([]string(nil), samplerOptions...)
	case ControlScheduler:
		return append([]string(nil), schedulerOptions...)
	}
	return nil
}

// ControlValues is the live value of each Control
type ControlValues map[Control]interface{}

// DefaultControlValues returns the built-in defaults every panel starts with
func DefaultControlValues() ControlValues {
	return ControlValues{
		ControlPositivePrompt: "A futuristic city with flying cars in a cyberpunk style, neon lights, rain reflections, cinematic lighting...",
		ControlNegativePrompt: "blur, low quality, watermark, text, deformed",
		ControlSeed:           int64(-1),
		ControlSteps:          int64(25),
		ControlCFG:            7.0,
		ControlSamplerName:    "euler",
		ControlScheduler:      "normal",
		ControlWidth:          int64(544),
		ControlHeight:         int64(960),
		ControlBatchSize:      int64(1),
		ControlModel:          "",
	}
}

// Copy returns a shallow copy; values are scalars so this is enough to isolate callers
func (v ControlValues) Copy() ControlValues {
	retv := make(ControlValues, len(v))
	for k, val := range v {
		retv[k] = val
	}
	return retv
}

// Merge overwrites the controls present in partial and leaves the others alone
func (v ControlValues) Merge(partial ControlValues) {
	for k, val := range partial {
		v[k] = val
	}
}

// String returns the value of c as a string, or "" when unset
func (v ControlValues) String(c Control) string {
	switch s := v[c].(type) {
	case nil:
		return ""
	case string:
		return s
	case FieldValue:
		if sc, ok := s.Scalar(); ok && sc != nil {
			return fmt.Sprint(sc)
		}
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

// Validate checks every numeric control holds something that coerces to a finite number.
// Inject does not reject garbage; callers run this before submitting.
func (v ControlValues) Validate() error {
	for _, c := range AllControls() {
		if !c.IsNumeric() {
			continue
		}
		val, ok := v[c]
		if !ok {
			continue
		}
		if fv, isField := val.(FieldValue); isField && (fv.Kind() != KindScalar || fv.IsNull()) {
			continue
		}
		if !IsNumber(Coerce(val)) {
			return fmt.Errorf("%s: %q is not a number", c.Label(), fmt.Sprint(val))
		}
	}
	return nil
}

// Coerce converts v into a numeric FieldValue the way a browser's Number() would.
// Strings are trimmed and parsed (empty string is 0), bools become 1 or 0 and
// anything unparseable becomes NaN. The result is stored as-is; see Validate.
func Coerce(v interface{}) FieldValue {
	nan := ScalarValue(math.NaN())
	switch n := v.(type) {
	case nil:
		return nan
	case FieldValue:
		sc, ok := n.Scalar()
		if !ok {
			return nan
		}
		if sc == nil {
			return ScalarValue(json.Number("0"))
		}
		return Coerce(sc)
	case json.Number:
		// keep the original text so extracted values re-inject byte for byte
		if f, err := strconv.ParseFloat(n.String(), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return ScalarValue(n)
		}
		return Coerce(n.String())
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return ScalarValue(json.Number("0"))
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ScalarValue(json.Number(strconv.FormatInt(i, 10)))
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nan
		}
		return ScalarValue(json.Number(strconv.FormatFloat(f, 'f', -1, 64)))
	case bool:
		if n {
			return ScalarValue(json.Number("1"))
		}
		return ScalarValue(json.Number("0"))
	case int:
		return ScalarValue(json.Number(strconv.Itoa(n)))
	case int32:
		return ScalarValue(json.Number(strconv.FormatInt(int64(n), 10)))
	case int64:
		return ScalarValue(json.Number(strconv.FormatInt(n, 10)))
	case uint64:
		return ScalarValue(json.Number(strconv.FormatUint(n, 10)))
	case float32:
		return Coerce(float64(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nan
		}
		return ScalarValue(json.Number(strconv.FormatFloat(n, 'f', -1, 64)))
	}
	return nan
}

// IsNumber reports whether v is a finite numeric scalar
func IsNumber(v FieldValue) bool {
	sc, ok := v.Scalar()
	if !ok {
		return false
	}
	switch n := sc.(type) {
	case json.Number:
		return true
	case float64:
		return !math.IsNaN(n) && !math.IsInf(n, 0)
	}
	return false
}
