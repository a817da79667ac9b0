package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Simulated answers every provider call locally. It is used when no
// upstream is configured so the pipeline can run end to end in development.
type Simulated struct {
	// Latency is how long each generation call takes
	Latency time.Duration
	// AssetBaseURL prefixes the generated asset URLs
	AssetBaseURL string

	now func() time.Time
}

var (
	_ AudioGenerator = (*Simulated)(nil)
	_ ImageGenerator = (*Simulated)(nil)
	_ TrendProvider  = (*Simulated)(nil)
)

func NewSimulated(latency time.Duration) *Simulated {
	return &Simulated{Latency: latency, AssetBaseURL: "https://assets.trackgen.local", now: time.Now}
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return nil
	}
	t := time.NewTimer(s.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Simulated) GenerateAudio(ctx context.Context, req AudioRequest) (*AudioResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty audio prompt", ErrRejected)
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	duration := req.Duration
	if duration <= 0 {
		duration = 60
	}
	genre := req.Genre
	if genre == "" {
		genre = "trap"
	}
	bpm := req.BPM
	if bpm <= 0 {
		bpm = 140
	}
	key := req.Key
	if key == "" {
		key = "C"
	}
	mood := req.Mood
	if mood == "" {
		mood = "energetic"
	}

	return &AudioResult{
		AudioURL: fmt.Sprintf("%s/generated/%d-%s-beat.mp3", s.AssetBaseURL, s.now().UnixMilli(), genre),
		Duration: duration,
		Format:   "mp3",
		Size:     int64(duration) * 128 * 1024 / 8,
		BPM:      bpm,
		Key:      key,
		Model:    "simulated",
		Extra: map[string]any{
			"mood":        mood,
			"instruments": InstrumentsFor(genre),
		},
	}, nil
}

var aspectDimensions = map[string][2]int{
	"1:1":  {1024, 1024},
	"16:9": {1344, 768},
	"9:16": {768, 1344},
	"4:3":  {1152, 864},
	"3:4":  {864, 1152},
}

func (s *Simulated) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty image prompt", ErrRejected)
	}
	applyImageDefaults(&req)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	dim, ok := aspectDimensions[req.AspectRatio]
	if !ok {
		dim = aspectDimensions["1:1"]
	}
	ts := s.now().UnixMilli()
	return &ImageResult{
		ImageURL:     fmt.Sprintf("%s/covers/%d-%s-cover.jpg", s.AssetBaseURL, ts, req.Style),
		ThumbnailURL: fmt.Sprintf("%s/covers/thumbs/%d-%s-cover-thumb.jpg", s.AssetBaseURL, ts, req.Style),
		Width:        dim[0],
		Height:       dim[1],
		Format:       "jpeg",
		Size:         int64(dim[0]*dim[1]) / 4,
		AspectRatio:  req.AspectRatio,
	}, nil
}

var simulatedTrends = []TrendData{
	{Hashtag: "phonkmusic", Title: "Phonk Music Vibes", Description: "Dark electronic music with aggressive beats",
		VideoCount: 15420, ViewCount: 2_500_000, Category: "music",
		RelatedHashtags: []string{"phonk", "darkmusic", "electronic"}, EngagementRate: 8.5, AverageViews: 162},
	{Hashtag: "aimusic", Title: "AI Generated Music", Description: "Music created with artificial intelligence",
		VideoCount: 8940, ViewCount: 1_800_000, Category: "music",
		RelatedHashtags: []string{"ai", "artificialintelligence", "generated"}, EngagementRate: 12.3, AverageViews: 201},
	{Hashtag: "beatmaker", Title: "Beat Making", Description: "Producers sharing their beats",
		VideoCount: 12350, ViewCount: 3_200_000, Category: "music",
		RelatedHashtags: []string{"producer", "beats", "music"}, EngagementRate: 9.1, AverageViews: 259},
	{Hashtag: "lofi", Title: "Lofi Beats", Description: "Chill beats to study and relax",
		VideoCount: 20100, ViewCount: 4_100_000, Category: "music",
		RelatedHashtags: []string{"chill", "study", "relax"}, EngagementRate: 6.4, AverageViews: 204},
}

func (s *Simulated) GetTrendingHashtags(_ context.Context, region string, count int) ([]TrendData, error) {
	if region == "" {
		region = "global"
	}
	out := make([]TrendData, 0, len(simulatedTrends))
	for _, t := range simulatedTrends {
		t.Region = region
		out = append(out, t)
	}
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

// seed derives stable pseudo-random figures from the hashtag
func seed(tag string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(tag))
	return h.Sum32()
}

func (s *Simulated) GetHashtagData(_ context.Context, hashtag, region string) (*TrendData, error) {
	tag := strings.TrimPrefix(strings.TrimSpace(hashtag), "#")
	if tag == "" {
		return nil, nil
	}
	if region == "" {
		region = "global"
	}
	n := seed(tag)
	return &TrendData{
		Hashtag:         tag,
		Title:           tag + " Trend",
		Description:     "Trending content for " + tag,
		VideoCount:      int64(n%10000) + 1000,
		ViewCount:       int64(n%1_000_000) + 100_000,
		Category:        "general",
		Region:          region,
		RelatedHashtags: []string{tag + "music", tag + "trend", tag + "viral"},
		EngagementRate:  float64(n%100)/10 + 2,
		AverageViews:    float64(n%300) + 50,
	}, nil
}

func (s *Simulated) AnalyzeHashtagEngagement(_ context.Context, hashtag string) (*Engagement, error) {
	n := seed(strings.TrimPrefix(strings.TrimSpace(hashtag), "#"))
	videos := int64(n%10000) + 1000
	views := videos * (int64(n%500) + 100)
	return &Engagement{
		TotalViews:     views,
		AverageViews:   float64(views / videos),
		TotalVideos:    videos,
		EngagementRate: float64(n%100)/10 + 2,
		GrowthRate:     float64(n%500)/10 - 10,
		PeakHours:      []int{19, 20, 21, 22},
	}, nil
}
