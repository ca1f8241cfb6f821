package messenger

// thread is one message_N.json file of a Messenger or Instagram export.
type thread struct {
	Participants []participant `json:"participants"`
	Messages     []message     `json:"messages"`
	Title        string        `json:"title"`
	ThreadPath   string        `json:"thread_path"`
}

type participant struct {
	Name string `json:"name"`
}

type message struct {
	SenderName  string  `json:"sender_name"`
	TimestampMS int64   `json:"timestamp_ms"`
	Content     string  `json:"content"`
	Photos      []media `json:"photos"`
	Videos      []media `json:"videos"`
	Files       []media `json:"files"`
	AudioFiles  []media `json:"audio_files"`
	Gifs        []media `json:"gifs"`
	Sticker     *media  `json:"sticker"`
	Share       *share  `json:"share"`
	IsUnsent    bool    `json:"is_unsent"`
}

type media struct {
	URI               string `json:"uri"`
	CreationTimestamp int64  `json:"creation_timestamp"`
}

type share struct {
	Link      string `json:"link"`
	ShareText string `json:"share_text"`
}

// attachments returns the message's media in priority order.
func (m *message) attachments() []media {
	var out []media
	out = append(out, m.Photos...)
	out = append(out, m.Videos...)
	out = append(out, m.Files...)
	out = append(out, m.AudioFiles...)
	out = append(out, m.Gifs...)
	if m.Sticker != nil && m.Sticker.URI != "" {
		out = append(out, *m.Sticker)
	}
	return out
}
