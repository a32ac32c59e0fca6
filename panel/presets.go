package panel

import (
	"math/rand"
	"strings"
)

// AspectCustom is reported when width and height match no preset
const AspectCustom = "custom"

type AspectRatio struct {
	ID     string `json:"id"`
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
}

var aspectRatios = []AspectRatio{
	{ID: "9:16", Width: 544, Height: 960},
	{ID: "16:9", Width: 1216, Height: 832},
	{ID: "1:1", Width: 1024, Height: 1024},
	{ID: "4:3", Width: 1152, Height: 864},
}

// unknown ids fall back to a square image
var squareAspect = AspectRatio{ID: "1:1", Width: 1024, Height: 1024}

// AspectRatios returns the presets in display order
func AspectRatios() []AspectRatio {
	return append([]AspectRatio(nil), aspectRatios...)
}

func lookupAspectRatio(id string) (AspectRatio, bool) {
	for _, ar := range aspectRatios {
		if ar.ID == id {
			return ar, true
		}
	}
	return squareAspect, false
}

// matchAspectRatio names the preset with exactly these dimensions
func matchAspectRatio(width, height float64) string {
	for _, ar := range aspectRatios {
		if float64(ar.Width) == width && float64(ar.Height) == height {
			return ar.ID
		}
	}
	return AspectCustom
}

// Style is an art style; applying it appends Keywords to the positive prompt
type Style struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Keywords string `json:"keywords"`
}

var styles = []Style{
	{ID: "Realistic", Label: "Realistic", Keywords: "photorealistic, cinematic lighting, 8k, detailed texture"},
	{ID: "Anime", Label: "Anime", Keywords: "anime style, vibrant colors, studio ghibli style, cel shaded"},
	{ID: "3D Render", Label: "3D Render", Keywords: "3d render, blender cycles, clay material, isometric, cute"},
	{ID: "Oil Paint", Label: "Oil", Keywords: "oil painting, impasto, classical art, heavy brushstrokes"},
	{ID: "Sketch", Label: "Sketch", Keywords: "charcoal sketch, rough lines, graphite texture, monochrome"},
	{ID: "Watercolor", Label: "Watercolor", Keywords: "watercolor painting, wet-on-wet, pastel colors, paper texture"},
}

func Styles() []Style {
	return append([]Style(nil), styles...)
}

func lookupStyle(id string) (Style, bool) {
	for _, s := range styles {
		if s.ID == id {
			return s, true
		}
	}
	return Style{}, false
}

// appendKeywords adds keywords to prompt unless the prompt already contains them
func appendKeywords(prompt string, keywords string) string {
	if strings.Contains(prompt, keywords) {
		return prompt
	}
	sep := ""
	if prompt != "" && !strings.HasSuffix(prompt, ",") {
		sep = ", "
	}
	return prompt + sep + keywords
}

var randomPrompts = []string{
	"A hyper-realistic portrait of a woman in a rainstorm, cinematic lighting, 8k resolution, detailed skin texture",
	"Studio Ghibli style, lush green magical forest with glowing spirits, serene atmosphere",
	"Isometric 3D render of a cozy gamer room, neon lighting, cute props",
	"A dramatic oil painting of a ship in a stormy sea, heavy brushstrokes, golden age style",
	"Cyberpunk street food vendor, neon signs, rain reflections, futuristic attire",
	"A steampunk clockwork owl, brass gears, intricate mechanism, technical drawing",
}

func pickRandomPrompt() string {
	return randomPrompts[rand.Intn(len(randomPrompts))]
}
