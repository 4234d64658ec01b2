package domain

const (
	SettingAudioDelay    = "audioDelay"
	SettingNetworkDelay  = "networkDelay"
	SettingVideoQuality  = "videoQuality"
	SettingPlaylistURL   = "playlistUrl"
	SettingYouTubeCookie = "youtubeCookie"
)

// ClientSettingKeys are the settings clients may read and write.
var ClientSettingKeys = []string{
	SettingAudioDelay,
	SettingNetworkDelay,
	SettingVideoQuality,
	SettingPlaylistURL,
	SettingYouTubeCookie,
}

// DefaultSettings returns a fresh map of defaults on every call.
func DefaultSettings() map[string]string {
	return map[string]string{
		SettingAudioDelay:    "0",
		SettingNetworkDelay:  "0",
		SettingVideoQuality:  string(Quality1440),
		SettingPlaylistURL:   "https://",
		SettingYouTubeCookie: "",
	}
}

type PlayerStatus int

const (
	PlayerStopped PlayerStatus = iota + 1
	PlayerPaused
	PlayerPlaying
	PlayerEnded
)

// PlayerState is the shared playback state mirrored to every client.
type PlayerState struct {
	Time    float64      `json:"time"`
	VideoID int64        `json:"videoId"`
	Status  PlayerStatus `json:"status"`
}
