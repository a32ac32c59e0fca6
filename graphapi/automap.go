package graphapi

// Node class names the auto-mapper recognises
const (
	ClassKSampler               = "KSampler"
	ClassKSamplerAdvanced       = "KSamplerAdvanced"
	ClassCLIPTextEncode         = "CLIPTextEncode"
	ClassCLIPTextEncodeSDXL     = "CLIPTextEncodeSDXL"
	ClassCheckpointLoaderSimple = "CheckpointLoaderSimple"
	ClassCheckpointLoader       = "CheckpointLoader"
	ClassEmptyLatentImage       = "EmptyLatentImage"
)

func classIn(classes ...string) func(*Node) bool {
	return func(n *Node) bool {
		for _, c := range classes {
			if n.ClassType == c {
				return true
			}
		}
		return false
	}
}

var (
	isSampler          = classIn(ClassKSampler, ClassKSamplerAdvanced)
	isTextEncoder      = classIn(ClassCLIPTextEncode, ClassCLIPTextEncodeSDXL)
	isCheckpointLoader = classIn(ClassCheckpointLoaderSimple, ClassCheckpointLoader)
	isEmptyLatent      = classIn(ClassEmptyLatentImage)
)

// AutoMap guesses which node fields correspond to which Controls.
//
// The sampler is the anchor: its seed/steps/cfg/sampler_name/scheduler are bound as a
// block and its positive/negative inputs are traced exactly one hop back to a text
// encoder. Checkpoint and latent-image nodes are found independently. Every lookup
// takes the first match in document order; ambiguity is not resolved.
func AutoMap(g *Graph) MappingTable {
	m := make(MappingTable)

	if sampler := g.FindFirstNode(isSampler); sampler != nil {
		m.Set(ControlSeed, sampler.ID, "seed")
		m.Set(ControlSteps, sampler.ID, "steps")
		m.Set(ControlCFG, sampler.ID, "cfg")
		m.Set(ControlSamplerName, sampler.ID, "sampler_name")
		m.Set(ControlScheduler, sampler.ID, "scheduler")

		if id, ok := traceTextEncoder(g, sampler, "positive"); ok {
			m.Set(ControlPositivePrompt, id, "text")
		}
		if id, ok := traceTextEncoder(g, sampler, "negative"); ok {
			m.Set(ControlNegativePrompt, id, "text")
		}
	}

	if loader := g.FindFirstNode(isCheckpointLoader); loader != nil {
		m.Set(ControlModel, loader.ID, "ckpt_name")
	}

	if latent := g.FindFirstNode(isEmptyLatent); latent != nil {
		m.Set(ControlWidth, latent.ID, "width")
		m.Set(ControlHeight, latent.ID, "height")
		if _, ok := latent.GetInput("batch_size"); ok {
			m.Set(ControlBatchSize, latent.ID, "batch_size")
		}
	}

	return m
}

// traceTextEncoder follows one link from the sampler input back to its source node
func traceTextEncoder(g *Graph, sampler *Node, input string) (string, bool) {
	v, ok := sampler.GetInput(input)
	if !ok {
		return "", false
	}

	switch v.Kind() {
	case KindLink:
		l, _ := v.Link()
		src := g.GetNodeById(l.SourceID)
		if src == nil || !isTextEncoder(src) {
			return "", false
		}
		return src.ID, true
	case KindScalar, KindOpaque:
		return "", false
	}
	return "", false
}
