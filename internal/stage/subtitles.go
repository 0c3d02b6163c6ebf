package stage

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/model"
)

// Cue is one subtitle entry.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// SubtitlesStage writes an SRT file timed by the final scene durations.
type SubtitlesStage struct {
	storage client.StorageClient
}

func NewSubtitlesStage(storage client.StorageClient) *SubtitlesStage {
	return &SubtitlesStage{storage: storage}
}

func (s *SubtitlesStage) Stage() model.Stage           { return model.StageSubtitles }
func (s *SubtitlesStage) Artifact() model.ArtifactKind { return model.ArtifactSubtitle }

func (s *SubtitlesStage) Execute(ctx context.Context, job *model.Job) (*Result, error) {
	cues := BuildCues(job.Plan.Scenes, SceneDurations(job))
	url, err := s.storage.Upload(ctx, SubtitleKey(job.ID), strings.NewReader(FormatSRT(cues)), "application/x-subrip")
	if err != nil {
		return nil, err
	}
	return &Result{Locations: []string{url}, Meta: map[string]any{"cues": len(cues)}}, nil
}

func (s *SubtitlesStage) HealthCheck(ctx context.Context) Health {
	return Healthy(string(model.StageSubtitles))
}

// BuildCues splits each scene's narration into sentences and spreads the
// scene's duration across them in proportion to their length.
func BuildCues(scenes []model.Scene, durations []float64) []Cue {
	var cues []Cue
	var offset float64
	for i, scene := range scenes {
		dur := scene.DurationSec
		if i < len(durations) {
			dur = durations[i]
		}
		sentences := SplitSentences(scene.Narration)
		total := 0
		for _, s := range sentences {
			total += utf8.RuneCountInString(s)
		}
		start := offset
		for j, s := range sentences {
			share := dur * float64(utf8.RuneCountInString(s)) / float64(total)
			end := start + share
			if j == len(sentences)-1 {
				end = offset + dur
			}
			cues = append(cues, Cue{Start: start, End: end, Text: s})
			start = end
		}
		offset += dur
	}
	return cues
}

// SplitSentences breaks text after sentence-final punctuation, including the
// Devanagari danda.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		if !isSentenceEnd(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) && !isSentenceEnd(runes[i+1]) {
			continue
		}
		flush()
	}
	flush()
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '।', '॥', '。', '！', '？':
		return true
	}
	return false
}

// FormatSRT renders cues in SubRip format.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(c.Start), srtTimestamp(c.End), c.Text)
	}
	return b.String()
}

func srtTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	ms := int64(sec*1000 + 0.5)
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
