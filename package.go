// Comfypanel is a control panel for ComfyUI. It takes a workflow saved in ComfyUI's API
// format, binds a fixed set of controls (prompts, seed, steps, cfg, sampler, scheduler,
// size, batch and checkpoint) to fields of that workflow, and submits filled-in copies to
// the backend, polling until the images are ready. The panel is driven through a small
// JSON API served by cmd/comfypanel, which can also run a single generation from the
// command line.
package comfypanel
