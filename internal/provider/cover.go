package provider

import (
	"fmt"
	"strings"
)

var genreStyles = map[string]string{
	"trap":    "urban street art, neon colors, dark atmosphere, modern typography",
	"phonk":   "retro vhs aesthetic, purple and pink neon, 80s synthwave, glitch effects",
	"drill":   "dark urban landscape, concrete textures, dramatic lighting, industrial elements",
	"lofi":    "cozy aesthetic, warm colors, vintage textures, minimalist design",
	"boombap": "classic hip hop vibes, vinyl records, graffiti art, golden hour lighting",
}

var moodAdjectives = map[string]string{
	"energetic":  "dynamic, vibrant, high-energy",
	"dark":       "moody, mysterious, dramatic shadows",
	"chill":      "relaxed, peaceful, soft lighting",
	"aggressive": "intense, powerful, bold contrasts",
	"emotional":  "expressive, atmospheric, depth",
}

var genreInstruments = map[string][]string{
	"trap":    {"808 drums", "hi-hats", "snare", "synth bass", "lead synth"},
	"phonk":   {"808 drums", "cowbell", "vinyl crackle", "distorted bass", "dark synth"},
	"drill":   {"808 drums", "hi-hats", "snare rolls", "dark piano", "strings"},
	"lofi":    {"vinyl crackle", "soft drums", "jazz piano", "bass guitar", "ambient pads"},
	"boombap": {"kick drum", "snare", "vinyl scratch", "jazz samples", "bass"},
}

// CoverPrompt builds an album cover prompt from the track's genre, mood and title
func CoverPrompt(genre, mood, title string) string {
	base, ok := genreStyles[strings.ToLower(genre)]
	if !ok {
		base = "modern music artwork"
	}
	style, ok := moodAdjectives[strings.ToLower(mood)]
	if !ok {
		style = "artistic"
	}

	prompt := base + ", " + style + ", professional album cover design, high quality digital art"
	if title != "" {
		prompt += fmt.Sprintf(", inspired by %q", title)
	}
	return prompt + ", 4k resolution, trending on artstation"
}

// InstrumentsFor returns the typical instrumentation of a genre
func InstrumentsFor(genre string) []string {
	if inst, ok := genreInstruments[strings.ToLower(genre)]; ok {
		return append([]string(nil), inst...)
	}
	return []string{"drums", "bass", "synth", "pad"}
}
