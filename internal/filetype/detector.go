package filetype

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Class routes an upload to the right extraction backend.
type Class string

const (
	ClassDocument    Class = "document"
	ClassAudio       Class = "audio"
	ClassUnsupported Class = "unsupported"
)

// Info contains the detected file type and its routing class.
type Info struct {
	MIMEType    string
	Extension   string
	Class       Class
	IsPDF       bool
	Description string
}

// Detector classifies uploads by magic bytes, never by filename.
type Detector struct{}

func New() *Detector {
	return &Detector{}
}

// Detect inspects the content and classifies it. The filename is used only
// for logging.
func (d *Detector) Detect(fileName string, data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file: %s", fileName)
	}
	mtype := mimetype.Detect(data)
	info := &Info{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
	}
	d.classify(info)
	log.Debug().Str("file", fileName).Str("mime", info.MIMEType).
		Str("class", string(info.Class)).Msg("detected file type")
	return info, nil
}

func (d *Detector) classify(info *Info) {
	mimeType := info.MIMEType
	switch {
	case mimeType == "application/pdf":
		info.Class = ClassDocument
		info.IsPDF = true
		info.Description = "PDF document"

	case strings.HasPrefix(mimeType, "image/"):
		info.Class = ClassDocument
		info.Description = "Image file"

	case strings.HasPrefix(mimeType, "audio/"),
		mimeType == "video/mp4",
		mimeType == "video/webm",
		mimeType == "application/ogg":
		// Transcription backends accept common audio-bearing containers.
		info.Class = ClassAudio
		info.Description = "Audio file"

	default:
		info.Class = ClassUnsupported
		info.Description = fmt.Sprintf("Unsupported file type: %s", mimeType)
	}
}
