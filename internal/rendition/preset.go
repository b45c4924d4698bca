package rendition

type (
	// Preset describes one quality/resolution variant the transcoder should
	// produce. Width/Height are the bounding box the source is fitted
	// within; Quality is the encoder quality marker (1-100) and Bitrate is
	// advisory for video-capable backends.
	Preset struct {
		Name    string `yaml:"name"`
		Width   int    `yaml:"width"`
		Height  int    `yaml:"height"`
		Quality int    `yaml:"quality"`
		Bitrate int    `yaml:"bitrate"`
	}

	// ThumbSize is one entry of the fixed thumbnail ladder. Unlike presets,
	// thumbnails are cropped to exactly these dimensions.
	ThumbSize struct {
		Tag    string
		Width  int
		Height int
	}
)

// DefaultPresets is the quality ladder used when the configuration does
// not supply its own.
func DefaultPresets() []Preset {
	return []Preset{
		{Name: "low", Width: 854, Height: 480, Quality: 60, Bitrate: 800_000},
		{Name: "medium", Width: 1280, Height: 720, Quality: 75, Bitrate: 2_500_000},
		{Name: "high", Width: 1920, Height: 1080, Quality: 90, Bitrate: 6_000_000},
	}
}

// ThumbnailSizes is the fixed set of thumbnail variants generated for
// every item alongside its primary renditions.
func ThumbnailSizes() []ThumbSize {
	return []ThumbSize{
		{Tag: "small", Width: 160, Height: 160},
		{Tag: "medium", Width: 320, Height: 320},
		{Tag: "large", Width: 640, Height: 640},
	}
}
