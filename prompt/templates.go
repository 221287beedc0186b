package prompt

import "strings"

const (
	TemplateGeneral    = "general"
	TemplateSDXL       = "sdxl"
	TemplateMidjourney = "midjourney"
	TemplateVideo      = "video"
)

const (
	DefaultGoal     = "Write the best prompt based on the content of this video."
	DefaultLanguage = "en"
	DefaultStyle    = "concise, clear, ready to copy-paste"
)

func SystemInstruction() string {
	return strings.Join([]string{
		"You are a Prompt Maker.",
		"Input: several frames (images) taken from one video.",
		"Output: VALID JSON following the requested schema.",
		"Do not use markdown. Do not use code fences.",
		"If the video contains on-screen text, include it in the summary and the prompt.",
	}, "\n")
}

func OutputSchemaHint() string {
	return strings.Join([]string{
		"Output JSON with exactly this shape:",
		"{",
		`  "summary": "string",`,
		`  "prompt": "string",`,
		`  "negative_prompt": "string",`,
		`  "tags": ["string"],`,
		`  "notes": "string"`,
		"}",
	}, "\n")
}

// TemplateGuide returns the target-specific instructions. Unknown names get
// the general guide.
func TemplateGuide(name string) string {
	switch name {
	case TemplateSDXL:
		return strings.Join([]string{
			"Template: SDXL (image generation).",
			"- Prompt: detail the subject, environment, lighting, style, camera and composition.",
			"- Negative prompt: artifacts, low quality, watermark, text, blur, deformed, extra limbs, etc.",
			"- Tags: the main keywords.",
			"- Notes: optional parameter suggestions (steps, cfg, aspect ratio), kept in the notes field.",
		}, "\n")
	case TemplateMidjourney:
		return strings.Join([]string{
			"Template: Midjourney.",
			"- Prompt: natural language with style cues.",
			"- Notes: parameter recommendations such as --ar 16:9, --stylize 200, --quality 1 (write them in notes).",
			"- negative_prompt may list things to avoid (Midjourney has no official negative prompt, fill it anyway).",
		}, "\n")
	case TemplateVideo:
		return strings.Join([]string{
			"Template: Video prompt (generative video).",
			"- Prompt: describe the scene, subject, action, emotion, environment, time of day and lighting.",
			"- Add camera movement (pan, dolly, handheld), lens, depth of field and pacing.",
			"- Negative prompt: flicker, jitter, morphing faces, text artifacts, watermark, etc.",
			"- Notes: recommended duration, fps and aspect ratio.",
		}, "\n")
	default:
		return strings.Join([]string{
			"Template: General.",
			"- Prompt: as universal as possible, usable for image or video models depending on the goal.",
			"- Negative prompt: things to avoid.",
			"- Tags: the main keywords.",
		}, "\n")
	}
}

// InstructionText is the text block sent ahead of the frames.
func InstructionText(req Request) string {
	return strings.Join([]string{
		SystemInstruction(),
		"",
		"Prompt goal: " + req.Goal,
		"Output language: " + req.Language,
		"Style: " + req.Style,
		"",
		TemplateGuide(req.Template),
		"",
		OutputSchemaHint(),
	}, "\n")
}
